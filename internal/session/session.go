package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/domain"
	"github.com/park285/cheese-live/internal/livews"
	"github.com/park285/cheese-live/pkg/liveproto"
)

// Conn is the part of the connection manager a session drives.
type Conn interface {
	Connect()
	Disconnect()
	Send(ctx context.Context, v any) error
	OnMessage(func(liveproto.Message))
	OnEvent(func(livews.Event))
}

// Store keeps the last authoritative state of a game.
type Store interface {
	Save(ctx context.Context, g domain.LiveGame) error
}

// Archiver records a finished game.
type Archiver interface {
	SaveFinished(ctx context.Context, g domain.LiveGame) error
}

// HistoryFetcher returns the UCI move list of a game.
type HistoryFetcher interface {
	History(ctx context.Context, gameID string) ([]string, error)
}

type Config struct {
	GameID       string
	Side         Side
	White        string
	Black        string
	StartedAt    time.Time
	NoticeTTL    time.Duration
	TickInterval time.Duration
	IOTimeout    time.Duration
	Clock        clockwork.Clock
	Logger       *zap.Logger
}

type Deps struct {
	Store   Store
	Archive Archiver
	History HistoryFetcher
}

type (
	evMessage     struct{ msg liveproto.Message }
	evConn        struct{ ev livews.Event }
	evClearNotice struct{ seq uint64 }
	evHistory     struct {
		moves []string
		err   error
	}
	evSubmit struct {
		ctx   context.Context
		move  string
		reply chan submitResult
	}
	evSent struct {
		pending Pending
		err     error
		reply   chan submitResult
	}
)

type submitResult struct {
	pending Pending
	err     error
}

// Session owns one Reconciler and serializes everything that touches it on a
// single goroutine. Readers get View copies.
type Session struct {
	cfg    Config
	id     string
	conn   Conn
	deps   Deps
	clock  clockwork.Clock
	logger *zap.Logger

	rec    *Reconciler
	inbox  chan any
	saveC  chan domain.LiveGame
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	ticker       clockwork.Ticker
	noticeTimer  clockwork.Timer
	scheduledSeq uint64
	archived     bool
	fetching     bool
	lastStatus   liveproto.Status

	viewMu  sync.RWMutex
	view    View
	updates chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	loopWG    sync.WaitGroup
	bgWG      sync.WaitGroup
}

func New(cfg Config, conn Conn, deps Deps) *Session {
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = 5 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		id:      id,
		conn:    conn,
		deps:    deps,
		clock:   cfg.Clock,
		logger:  cfg.Logger.With(zap.String("session_id", id), zap.String("game_id", cfg.GameID)),
		rec:     NewReconciler(cfg.GameID, cfg.Side),
		inbox:   make(chan any, 64),
		saveC:   make(chan domain.LiveGame, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		updates: make(chan struct{}, 1),
	}
	s.view = s.rec.View()
	return s
}

// ID is the correlation id used in this session's log lines.
func (s *Session) ID() string { return s.id }

// Seed installs an initial snapshot before Start. A snapshot that came from a
// local cache rather than the server keeps move submission closed until the
// server sends a fresh one.
func (s *Session) Seed(snap *liveproto.Snapshot, fromCache bool) error {
	if err := s.rec.Apply(snap); err != nil {
		return err
	}
	if fromCache {
		s.rec.RequireSnapshot()
	}
	s.lastStatus = s.rec.Status()
	s.publish()
	return nil
}

// Start wires the connection handlers, starts the event loop and connects.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.conn.OnMessage(func(m liveproto.Message) { s.post(evMessage{msg: m}) })
		s.conn.OnEvent(func(ev livews.Event) { s.post(evConn{ev: ev}) })

		s.bgWG.Add(1)
		go s.writer()

		s.loopWG.Add(1)
		go s.loop()

		s.logger.Info("session_start", zap.String("side", string(s.cfg.Side)))
		s.conn.Connect()
	})
}

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.conn.Disconnect()
		close(s.done)
		s.loopWG.Wait()
		close(s.saveC)
		s.cancel()
		s.bgWG.Wait()
		s.logger.Info("session_close")
	})
}

// View returns the latest published copy of the session state.
func (s *Session) View() View {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

// Updates signals after each published change. Signals coalesce.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// SubmitMove validates and optimistically applies a move, then sends it.
// A move the connection cannot carry is rolled back and ErrNotSent is returned.
func (s *Session) SubmitMove(ctx context.Context, move string) (Pending, error) {
	reply := make(chan submitResult, 1)
	if !s.post(evSubmit{ctx: ctx, move: move, reply: reply}) {
		return Pending{}, ErrClosed
	}
	select {
	case r := <-reply:
		return r.pending, r.err
	case <-ctx.Done():
		return Pending{}, ctx.Err()
	case <-s.done:
		return Pending{}, ErrClosed
	}
}

func (s *Session) post(ev any) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) loop() {
	defer s.loopWG.Done()
	defer s.stopTicker()
	defer s.stopNoticeTimer()
	s.syncTicker()
	s.maybeFetchHistory()
	for {
		var tickC <-chan time.Time
		if s.ticker != nil {
			tickC = s.ticker.Chan()
		}
		select {
		case <-s.done:
			return
		case <-tickC:
			s.rec.Tick()
			s.publish()
		case ev := <-s.inbox:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev any) {
	switch e := ev.(type) {
	case evMessage:
		s.onMessage(e.msg)
	case evConn:
		s.onConn(e.ev)
	case evSubmit:
		p, err := s.rec.Submit(e.move)
		if err != nil {
			e.reply <- submitResult{err: err}
			return
		}
		s.afterChange()
		s.sendMove(e.ctx, p, e.reply)
		return
	case evSent:
		if e.err != nil {
			s.rec.RollbackUnsent(e.pending.UCI)
			s.logger.Info("session_move_not_sent", zap.String("uci", e.pending.UCI), zap.Error(e.err))
			s.afterChange()
			e.reply <- submitResult{err: fmt.Errorf("%w: %v", ErrNotSent, e.err)}
			return
		}
		s.logger.Debug("session_move_sent", zap.String("uci", e.pending.UCI))
		e.reply <- submitResult{pending: e.pending}
		return
	case evClearNotice:
		if !s.rec.ClearNotice(e.seq) {
			return
		}
	case evHistory:
		s.fetching = false
		if e.err != nil {
			s.logger.Warn("session_history_error", zap.Error(e.err))
			return
		}
		if !s.rec.AdoptHistory(e.moves) {
			s.logger.Warn("session_history_mismatch", zap.Int("moves", len(e.moves)))
			return
		}
	}
	s.afterChange()
}

func (s *Session) onMessage(msg liveproto.Message) {
	pending := s.rec.Pending()
	err := s.rec.Apply(msg)
	switch {
	case errors.Is(err, ErrIgnored):
		s.logger.Debug("session_message_ignored", zap.String("type", string(msg.Kind())), zap.Error(err))
		return
	case errors.Is(err, ErrDesync):
		s.logger.Warn("session_desync", zap.Error(err))
		s.requestSync()
		return
	case err != nil:
		s.logger.Warn("session_message_error", zap.String("type", string(msg.Kind())), zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case *liveproto.Snapshot:
		s.persist()
		s.maybeFetchHistory()
	case *liveproto.MoveApplied:
		s.persist()
	case *liveproto.Rejected:
		s.logger.Info("session_move_rejected", zap.String("reason", m.Reason), zap.String("uci", m.UCI))
	case *liveproto.ServerError:
		s.logger.Warn("session_server_error", zap.String("message", m.Message))
		if pending != nil {
			s.logger.Info("session_move_refused", zap.String("uci", pending.UCI))
			s.requestSync()
		}
	}
}

func (s *Session) onConn(ev livews.Event) {
	s.rec.OnConnectivity(ev)
	switch ev.Kind {
	case livews.EventOpened:
		if ev.Reconnected {
			s.logger.Info("session_resync")
			s.requestSync()
		}
	case livews.EventFatal:
		s.logger.Warn("session_connection_lost", zap.Int("attempt", ev.Attempt), zap.Error(ev.Err))
	}
}

// sendMove writes the optimistic move off the loop; the outcome comes back as
// evSent.
func (s *Session) sendMove(ctx context.Context, p Pending, reply chan submitResult) {
	if ctx == nil {
		ctx = s.ctx
	}
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		err := s.conn.Send(ctx, liveproto.NewMoveRequest(p.UCI))
		if !s.post(evSent{pending: p, err: err, reply: reply}) {
			reply <- submitResult{err: ErrClosed}
		}
	}()
}

func (s *Session) requestSync() {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.conn.Send(s.ctx, liveproto.NewSyncRequest()); err != nil {
			s.logger.Debug("session_sync_not_sent", zap.Error(err))
		}
	}()
}

// afterChange runs after every handled event: game-over bookkeeping, ticker,
// notice expiry and publication.
func (s *Session) afterChange() {
	status := s.rec.Status()
	if status != s.lastStatus {
		s.logger.Info("session_status", zap.String("from", string(s.lastStatus)), zap.String("to", string(status)))
		if status == liveproto.StatusFinished {
			s.rec.NoteGameOver()
			s.archiveOnce()
		}
		s.lastStatus = status
	}
	s.syncTicker()
	if n := s.rec.Notice(); n != nil && !n.Sticky && n.Seq != s.scheduledSeq {
		s.scheduledSeq = n.Seq
		seq := n.Seq
		s.stopNoticeTimer()
		s.noticeTimer = s.clock.AfterFunc(s.cfg.NoticeTTL, func() { s.post(evClearNotice{seq: seq}) })
	}
	s.publish()
}

func (s *Session) syncTicker() {
	active := s.rec.Status() == liveproto.StatusActive
	switch {
	case active && s.ticker == nil:
		s.ticker = s.clock.NewTicker(s.cfg.TickInterval)
	case !active && s.ticker != nil:
		s.stopTicker()
	}
}

func (s *Session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) stopNoticeTimer() {
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
		s.noticeTimer = nil
	}
}

func (s *Session) publish() {
	v := s.rec.View()
	s.viewMu.Lock()
	s.view = v
	s.viewMu.Unlock()
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// persist hands the latest record to the writer, replacing an unwritten one.
func (s *Session) persist() {
	if s.deps.Store == nil {
		return
	}
	rec := s.record()
	select {
	case s.saveC <- rec:
		return
	default:
	}
	select {
	case <-s.saveC:
	default:
	}
	s.saveC <- rec
}

func (s *Session) writer() {
	defer s.bgWG.Done()
	for rec := range s.saveC {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.IOTimeout)
		if err := s.deps.Store.Save(ctx, rec); err != nil {
			s.logger.Warn("session_snapshot_save_error", zap.Error(err))
		}
		cancel()
	}
}

func (s *Session) archiveOnce() {
	if s.archived || s.deps.Archive == nil {
		return
	}
	s.archived = true
	rec := s.record()
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.IOTimeout)
		defer cancel()
		if err := s.deps.Archive.SaveFinished(ctx, rec); err != nil {
			s.logger.Warn("session_archive_error", zap.Error(err))
			return
		}
		s.logger.Info("session_archived", zap.String("result", rec.Result), zap.Int("plies", len(rec.Moves)))
	}()
}

func (s *Session) record() domain.LiveGame {
	rec := s.rec.Record()
	rec.White, rec.Black = s.cfg.White, s.cfg.Black
	rec.StartedAt = s.cfg.StartedAt
	rec.UpdatedAt = s.clock.Now().UTC()
	return rec
}

func (s *Session) maybeFetchHistory() {
	if s.deps.History == nil || s.fetching || !s.rec.LogStale() {
		return
	}
	s.fetching = true
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.IOTimeout)
		defer cancel()
		moves, err := s.deps.History.History(ctx, s.cfg.GameID)
		s.post(evHistory{moves: moves, err: err})
	}()
}
