package gameapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/park285/cheese-live/internal/domain"
	"github.com/park285/cheese-live/pkg/liveproto"
)

// Seed is the REST view of a game used to start a live session.
type Seed struct {
	Game     *domain.Game
	Snapshot *liveproto.Snapshot
}

// LoadSeed fetches a game and its history and folds them into a snapshot.
// A failed history fetch still yields a snapshot, without a move list.
func (c *Client) LoadSeed(ctx context.Context, gameID string) (*Seed, error) {
	g, err := c.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", gameID, err)
	}
	hist, herr := c.GetHistory(ctx, gameID)
	if herr != nil {
		hist = nil
	}
	return &Seed{Game: g, Snapshot: SnapshotFromREST(g, hist, herr == nil)}, nil
}

// SnapshotFromREST converts a REST game into the snapshot shape the live
// channel sends. withMoves controls whether the history is authoritative.
func SnapshotFromREST(g *domain.Game, history []domain.MoveRecord, withMoves bool) *liveproto.Snapshot {
	snap := &liveproto.Snapshot{
		FEN:         g.CurrentFEN,
		Status:      liveproto.Status(strings.ToLower(g.Status)),
		Result:      liveproto.Result(g.Result),
		Clocks:      &liveproto.Clocks{White: nonNegative(g.WhiteTimeLeft), Black: nonNegative(g.BlackTimeLeft)},
		TimeControl: g.TimeControl,
	}
	if !snap.Status.Valid() {
		snap.Status = liveproto.StatusWaiting
	}
	if withMoves {
		sorted := append([]domain.MoveRecord(nil), history...)
		sortByPly(sorted)
		snap.Moves = notations(sorted)
	}
	return snap
}

// SideFor reports the seat a user holds in a game: "white", "black" or "observer".
func SideFor(g *domain.Game, userID uint) string {
	switch {
	case g.WhitePlayerID != nil && *g.WhitePlayerID == userID:
		return "white"
	case g.BlackPlayerID != nil && *g.BlackPlayerID == userID:
		return "black"
	default:
		return "observer"
	}
}

func sortByPly(moves []domain.MoveRecord) {
	sort.SliceStable(moves, func(i, j int) bool { return moves[i].PlyNumber < moves[j].PlyNumber })
}

func notations(moves []domain.MoveRecord) []string {
	out := make([]string, 0, len(moves))
	for _, m := range moves {
		if n := strings.TrimSpace(m.MoveNotation); n != "" {
			out = append(out, strings.ToLower(n))
		}
	}
	return out
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
