package clientbuilder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/archive"
	"github.com/park285/cheese-live/internal/authtoken"
	"github.com/park285/cheese-live/internal/config"
	"github.com/park285/cheese-live/internal/domain"
	"github.com/park285/cheese-live/internal/gameapi"
	"github.com/park285/cheese-live/internal/livews"
	"github.com/park285/cheese-live/internal/msgcat"
	"github.com/park285/cheese-live/internal/presenter"
	"github.com/park285/cheese-live/internal/session"
	"github.com/park285/cheese-live/internal/snapstore"
	"github.com/park285/cheese-live/pkg/liveproto"
)

type Deps struct {
	Config    *config.AppConfig
	Logger    *zap.Logger
	API       *gameapi.Client
	Store     *snapstore.Store
	Archive   *archive.Repository
	Catalog   *msgcat.Catalog
	Formatter *presenter.Formatter
	// Claims is nil when the token is not a readable JWT.
	Claims *authtoken.Claims
}

// New wires the REST client, message catalog and the optional Redis cache
// and Postgres archive. An optional backend that cannot be reached is logged
// and left out.
func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	var fopts []presenter.Option
	if cfg.UnicodeBoard {
		fopts = append(fopts, presenter.WithUnicodePieces())
	}

	token := cfg.Token
	api := gameapi.NewClient(cfg.ServerURL,
		gameapi.WithToken(func() string { return token }),
		gameapi.WithTimeout(cfg.HTTPTimeout),
		gameapi.WithRetry(cfg.HTTPRetryMax),
	)

	d := &Deps{
		Config:    cfg,
		Logger:    logger,
		API:       api,
		Catalog:   cat,
		Formatter: presenter.NewFormatter(cat, fopts...),
	}

	if claims, err := authtoken.Inspect(cfg.Token); err != nil {
		logger.Debug("token_not_inspectable", zap.Error(err))
	} else {
		d.Claims = claims
		if claims.Expired(time.Now()) {
			logger.Warn("token_expired", zap.Time("expires_at", claims.ExpiresAt.Time))
		}
		if claims.Type == authtoken.TypeRefresh {
			logger.Warn("token_is_refresh_token")
		}
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		store, err := snapstore.Open(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.Warn("snapshot_store_unavailable", zap.Error(err))
		} else {
			d.Store = store
		}
	}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("archive_unavailable", zap.Error(err))
		} else {
			d.Archive = repo
		}
	}
	return d, nil
}

func (d *Deps) Close() {
	if d == nil {
		return
	}
	if err := d.Store.Close(); err != nil {
		d.Logger.Warn("snapshot_store_close", zap.Error(err))
	}
	if err := d.Archive.Close(); err != nil {
		d.Logger.Warn("archive_close", zap.Error(err))
	}
}

// Live is one open game view: its session and the connection it drives.
type Live struct {
	Session *session.Session
	Manager *livews.Manager
	Game    *domain.Game
	Side    session.Side
	Cached  bool
}

// Close tears the session down, then waits for the connection to finish.
func (l *Live) Close(ctx context.Context) error {
	l.Session.Close()
	return l.Manager.Close(ctx)
}

// OpenGame loads the initial state over REST, falling back to the Redis
// cache, and starts a live session for it.
func (d *Deps) OpenGame(ctx context.Context, gameID string) (*Live, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, fmt.Errorf("game id required")
	}
	logger := d.Logger.With(zap.String("game_id", gameID))

	var (
		game   *domain.Game
		snap   *liveproto.Snapshot
		side   = session.SideObserver
		cached bool
	)
	seed, err := d.API.LoadSeed(ctx, gameID)
	switch {
	case err == nil:
		game, snap = seed.Game, seed.Snapshot
		if me, merr := d.API.Me(ctx); merr == nil {
			side = session.ParseSide(gameapi.SideFor(game, me.ID))
		} else if d.Claims != nil {
			logger.Warn("profile_fetch_error_using_token", zap.Error(merr))
			side = session.ParseSide(gameapi.SideFor(game, d.Claims.UserID))
		} else {
			logger.Warn("profile_fetch_error", zap.Error(merr))
		}
	case d.Store != nil:
		rec, lerr := d.Store.Load(ctx, gameID)
		if lerr != nil || rec == nil {
			return nil, fmt.Errorf("load game %s: %w", gameID, err)
		}
		logger.Warn("game_fetch_error_using_cache", zap.Error(err))
		snap = snapstore.Snapshot(rec)
		side = session.ParseSide(rec.Side)
		cached = true
	default:
		return nil, fmt.Errorf("load game %s: %w", gameID, err)
	}

	wsURL, err := livews.GameURL(d.Config.ServerURL, d.Config.WSURL, gameID, d.Config.Token)
	if err != nil {
		return nil, err
	}
	token := d.Config.Token
	dialer := &livews.WSDialer{
		URL:     wsURL,
		Headers: func() map[string]string { return map[string]string{"Authorization": "Bearer " + token} },
	}
	mgr := livews.NewManager(dialer, livews.Options{
		MaxAttempts:  d.Config.ReconnectMaxAttempts,
		BaseDelay:    d.Config.ReconnectBaseDelay,
		DialTimeout:  d.Config.DialTimeout,
		WriteTimeout: d.Config.WriteTimeout,
		PingInterval: d.Config.PingInterval,
		Logger:       logger,
	})

	scfg := session.Config{
		GameID:    gameID,
		Side:      side,
		NoticeTTL: d.Config.NoticeTTL,
		IOTimeout: d.Config.HTTPTimeout,
		Logger:    logger,
	}
	if game != nil {
		scfg.White = username(game.WhitePlayer)
		scfg.Black = username(game.BlackPlayer)
		scfg.StartedAt = game.CreatedAt
	}
	deps := session.Deps{History: d.API}
	if d.Store != nil {
		deps.Store = d.Store
	}
	if d.Archive != nil {
		deps.Archive = d.Archive
	}

	sess := session.New(scfg, mgr, deps)
	if err := sess.Seed(snap, cached); err != nil {
		_ = mgr.Close(ctx)
		return nil, fmt.Errorf("seed game %s: %w", gameID, err)
	}
	sess.Start()
	logger.Info("live_game_open", zap.String("side", string(side)), zap.Bool("cached", cached), zap.String("session_id", sess.ID()))
	return &Live{Session: sess, Manager: mgr, Game: game, Side: side, Cached: cached}, nil
}

func username(u *domain.User) string {
	if u == nil {
		return ""
	}
	return u.Username
}
