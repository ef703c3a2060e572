package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-live/internal/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS live_games (
    game_id      TEXT PRIMARY KEY,
    local_side   TEXT NOT NULL,
    white_name   TEXT NOT NULL DEFAULT '',
    black_name   TEXT NOT NULL DEFAULT '',
    time_control INTEGER NOT NULL DEFAULT 0,
    result       TEXT NOT NULL DEFAULT '',
    termination  TEXT NOT NULL DEFAULT '',
    final_fen    TEXT NOT NULL,
    moves_uci    JSONB NOT NULL,
    moves_san    JSONB NOT NULL,
    pgn          TEXT NOT NULL,
    started_at   TIMESTAMPTZ,
    ended_at     TIMESTAMPTZ NOT NULL,
    duration_ms  BIGINT NOT NULL DEFAULT 0
)`

// Repository archives finished games observed by live sessions.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveFinished upserts the final state of a game.
func (r *Repository) SaveFinished(ctx context.Context, g domain.LiveGame) error {
	if r == nil || r.db == nil {
		return nil
	}
	pgnResult := mapResultToPGN(g.Result)
	pgn := buildPGN(g, pgnResult)

	movesUCIRaw, _ := json.Marshal(g.MovesUCI())
	movesSANRaw, _ := json.Marshal(g.MovesSAN())
	ended := g.UpdatedAt
	if ended.IsZero() {
		ended = time.Now().UTC()
	}
	var started any
	duration := int64(0)
	if !g.StartedAt.IsZero() {
		started = g.StartedAt
		duration = ended.Sub(g.StartedAt).Milliseconds()
		if duration < 0 {
			duration = 0
		}
	}

	q := `INSERT INTO live_games (
        game_id, local_side, white_name, black_name, time_control,
        result, termination, final_fen, moves_uci, moves_san, pgn,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
      ) ON CONFLICT (game_id) DO UPDATE SET
        local_side=EXCLUDED.local_side,
        white_name=EXCLUDED.white_name,
        black_name=EXCLUDED.black_name,
        time_control=EXCLUDED.time_control,
        result=EXCLUDED.result,
        termination=EXCLUDED.termination,
        final_fen=EXCLUDED.final_fen,
        moves_uci=EXCLUDED.moves_uci,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		g.GameID, g.Side, g.White, g.Black, g.TimeControl,
		g.Result, g.Termination, g.FEN, string(movesUCIRaw), string(movesSANRaw), pgn,
		started, ended, duration,
	)
	if err != nil {
		return fmt.Errorf("archive game %s: %w", g.GameID, err)
	}
	return nil
}

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white_wins":
		return "1-0"
	case "black_wins":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(g domain.LiveGame, pgnResult string) string {
	var b strings.Builder
	date := g.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Live Chess\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"game %s\"]\n", sanitizePGN(g.GameID)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", orUnknown(sanitizePGN(g.White))))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", orUnknown(sanitizePGN(g.Black))))
	if g.TimeControl > 0 {
		b.WriteString(fmt.Sprintf("[TimeControl \"%d\"]\n", g.TimeControl))
	}
	if t := strings.TrimSpace(g.Termination); t != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(t))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	san := g.MovesSAN()
	for i := 0; i < len(san); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(san[i])))
		if i+1 < len(san) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(san[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
