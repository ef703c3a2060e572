package snapstore

import (
	"github.com/park285/cheese-live/internal/domain"
	"github.com/park285/cheese-live/pkg/liveproto"
)

// Snapshot turns a cached record back into the snapshot shape a session seeds from.
func Snapshot(g *domain.LiveGame) *liveproto.Snapshot {
	status := liveproto.Status(g.Status)
	if !status.Valid() {
		status = liveproto.StatusWaiting
	}
	return &liveproto.Snapshot{
		FEN:         g.FEN,
		Status:      status,
		Result:      liveproto.Result(g.Result),
		Clocks:      &liveproto.Clocks{White: g.WhiteTimeLeft, Black: g.BlackTimeLeft},
		TimeControl: g.TimeControl,
		Moves:       g.MovesUCI(),
	}
}
