package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/clientbuilder"
	"github.com/park285/cheese-live/internal/domain"
	"github.com/park285/cheese-live/internal/gameapi"
	"github.com/park285/cheese-live/internal/presenter"
	"github.com/park285/cheese-live/internal/rules"
	"github.com/park285/cheese-live/internal/session"
)

// play opens a live view of one game and runs the read-render loop until the
// input ends, the user quits or ctx is cancelled.
func play(ctx context.Context, deps *clientbuilder.Deps, in io.Reader, out io.Writer, gameID string) error {
	live, err := deps.OpenGame(ctx, gameID)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = live.Close(cctx)
	}()

	if live.Cached {
		fmt.Fprintln(out, "Server unreachable; showing the last cached position.")
	}

	lines := make(chan string)
	go readLines(in, lines)

	f := deps.Formatter
	render(out, f, live.Session.View())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-live.Session.Updates():
			render(out, f, live.Session.View())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, out, f, live.Session, line); quit {
				return nil
			}
		}
	}
}

func render(out io.Writer, f *presenter.Formatter, v session.View) {
	fmt.Fprint(out, "\n"+f.View(v))
	fmt.Fprint(out, f.Prompt(v))
}

func readLines(in io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

// handleLine runs one line of in-game input and reports whether to leave.
func handleLine(ctx context.Context, out io.Writer, f *presenter.Formatter, s *session.Session, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		render(out, f, s.View())
		return false
	}
	if strings.HasPrefix(line, "/") {
		parts := strings.Fields(line)
		switch strings.ToLower(parts[0]) {
		case "/quit", "/exit", "/q":
			return true
		case "/moves":
			if len(parts) < 2 {
				fmt.Fprintln(out, "usage: /moves <square>")
				return false
			}
			fmt.Fprintln(out, targetsLine(s.View(), parts[1]))
		case "/help":
			fmt.Fprint(out, helpText())
		default:
			fmt.Fprintf(out, "unknown command %s\n", parts[0])
		}
		return false
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.SubmitMove(sctx, line); err != nil {
		fmt.Fprintln(out, f.SubmitError(err, line))
	}
	return false
}

// targetsLine lists legal destinations from a square in the displayed position.
func targetsLine(v session.View, square string) string {
	pos, err := rules.ParsePosition(v.FEN)
	if err != nil {
		return "no position"
	}
	targets, err := pos.LegalTargets(square)
	if err != nil {
		return fmt.Sprintf("invalid square %q", square)
	}
	if len(targets) == 0 {
		return fmt.Sprintf("%s: no legal moves", strings.ToLower(square))
	}
	return fmt.Sprintf("%s: %s", strings.ToLower(square), strings.Join(targets, " "))
}

// findMatch queues for an opponent and polls until the server seats us.
func findMatch(ctx context.Context, deps *clientbuilder.Deps, out io.Writer, every time.Duration) (string, error) {
	api := deps.API
	res, err := api.FindMatch(ctx)
	if err != nil {
		return "", fmt.Errorf("find match: %w", err)
	}
	if res.Matched && res.Game != nil {
		return fmt.Sprint(res.Game.ID), nil
	}
	me, err := api.Me(ctx)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	fmt.Fprintf(out, "Queued at position %d. Ctrl-C to cancel.\n", max(res.Position, 1))

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_ = api.CancelMatch(cctx)
			cancel()
			return "", ctx.Err()
		case <-ticker.C:
		}
		st, err := api.MatchStatus(ctx)
		if err != nil {
			deps.Logger.Warn("matchmaking_status_error", zap.Error(err))
			continue
		}
		if st.InQueue {
			continue
		}
		games, err := api.ListGames(ctx)
		if err != nil {
			return "", fmt.Errorf("list games: %w", err)
		}
		if g := newestSeatedGame(games, me.ID); g != nil {
			return fmt.Sprint(g.ID), nil
		}
		return "", fmt.Errorf("left the queue without a game")
	}
}

// newestSeatedGame picks the most recent unfinished game with userID in a seat.
func newestSeatedGame(games []domain.Game, userID uint) *domain.Game {
	var best *domain.Game
	for i := range games {
		g := &games[i]
		if strings.EqualFold(g.Status, "finished") || gameapi.SideFor(g, userID) == "observer" {
			continue
		}
		if best == nil || g.CreatedAt.After(best.CreatedAt) || (g.CreatedAt.Equal(best.CreatedAt) && g.ID > best.ID) {
			best = g
		}
	}
	return best
}
