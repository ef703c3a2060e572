package session

import (
	"errors"
	"testing"

	"github.com/park285/cheese-live/internal/livews"
	"github.com/park285/cheese-live/internal/rules"
	"github.com/park285/cheese-live/pkg/liveproto"
)

func activeSnapshot(white, black int) *liveproto.Snapshot {
	return &liveproto.Snapshot{
		FEN:         rules.StartFEN,
		Status:      liveproto.StatusActive,
		Clocks:      &liveproto.Clocks{White: white, Black: black},
		TimeControl: 300,
	}
}

func fenAfter(t *testing.T, moves ...string) string {
	t.Helper()
	p, _, err := rules.MustStart().Replay(moves)
	if err != nil {
		t.Fatalf("Replay %v: %v", moves, err)
	}
	return p.FEN()
}

func newActive(t *testing.T, side Side) *Reconciler {
	t.Helper()
	r := NewReconciler("g1", side)
	if err := r.Apply(activeSnapshot(300, 300)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return r
}

func TestReconciler_ConfirmOptimisticMove(t *testing.T) {
	r := newActive(t, SideWhite)
	p, err := r.Submit("e2e4")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if p.UCI != "e2e4" || p.SAN != "e4" {
		t.Fatalf("unexpected pending %+v", p)
	}
	v := r.View()
	if v.FEN != fenAfter(t, "e2e4") {
		t.Fatalf("display should show the optimistic move, got %s", v.FEN)
	}
	if v.Pending == nil || len(v.Moves) != 1 || v.Moves[0] != "e4" {
		t.Fatalf("expected provisional e4, got pending=%v moves=%v", v.Pending, v.Moves)
	}
	if v.Clocks.White != 300 || v.Clocks.Black != 300 {
		t.Fatalf("optimistic move must not touch clocks: %+v", v.Clocks)
	}
	if v.LastFrom != "e2" || v.LastTo != "e4" {
		t.Fatalf("last move = %s-%s", v.LastFrom, v.LastTo)
	}

	err = r.Apply(&liveproto.MoveApplied{
		UCI:    "e2e4",
		SAN:    "e4",
		FEN:    fenAfter(t, "e2e4"),
		Clocks: &liveproto.Clocks{White: 298, Black: 300},
		Status: liveproto.StatusActive,
	})
	if err != nil {
		t.Fatalf("moveApplied: %v", err)
	}
	v = r.View()
	if v.Pending != nil {
		t.Fatalf("pending should be confirmed")
	}
	if len(v.Moves) != 1 || v.Moves[0] != "e4" {
		t.Fatalf("moves = %v", v.Moves)
	}
	if v.Clocks.White != 298 || v.Clocks.Black != 300 {
		t.Fatalf("clocks = %+v", v.Clocks)
	}
	if v.Turn != rules.Black {
		t.Fatalf("expected black to move")
	}
	if v.Notice != nil {
		t.Fatalf("confirmation should not raise a notice: %+v", v.Notice)
	}
}

func TestReconciler_ConfirmBySAN(t *testing.T) {
	r := newActive(t, SideWhite)
	if _, err := r.Submit("Nf3"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := r.Apply(&liveproto.MoveApplied{SAN: "Nf3+"}); err != nil {
		t.Fatalf("moveApplied: %v", err)
	}
	v := r.View()
	if v.Pending != nil || v.Notice != nil {
		t.Fatalf("SAN match should confirm quietly, pending=%v notice=%v", v.Pending, v.Notice)
	}
	if v.FEN != fenAfter(t, "g1f3") {
		t.Fatalf("fen = %s", v.FEN)
	}
}

func TestReconciler_RejectionRollsBack(t *testing.T) {
	r := newActive(t, SideWhite)
	before := r.View().FEN
	if _, err := r.Submit("e2e4"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := r.Apply(&liveproto.Rejected{Reason: "not your turn"}); err != nil {
		t.Fatalf("rejected: %v", err)
	}
	v := r.View()
	if v.FEN != before {
		t.Fatalf("expected rollback to %s, got %s", before, v.FEN)
	}
	if v.Pending != nil || len(v.Moves) != 0 {
		t.Fatalf("pending=%v moves=%v", v.Pending, v.Moves)
	}
	if v.Notice == nil || v.Notice.Kind != NoticeRejected || v.Notice.Detail != "not your turn" {
		t.Fatalf("unexpected notice %+v", v.Notice)
	}
	if !r.ClearNotice(v.Notice.Seq) || r.View().Notice != nil {
		t.Fatalf("notice should clear by seq")
	}
	if _, err := r.Submit("d2d4"); err != nil {
		t.Fatalf("submission should reopen after rollback: %v", err)
	}
}

func TestReconciler_CorrectionAdoptsServerMove(t *testing.T) {
	r := newActive(t, SideWhite)
	if _, err := r.Submit("e2e4"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := r.Apply(&liveproto.MoveApplied{UCI: "d2d4", SAN: "d4"}); err != nil {
		t.Fatalf("moveApplied: %v", err)
	}
	v := r.View()
	if v.FEN != fenAfter(t, "d2d4") {
		t.Fatalf("authoritative move should win, got %s", v.FEN)
	}
	if v.Notice == nil || v.Notice.Kind != NoticeCorrected {
		t.Fatalf("expected corrected notice, got %+v", v.Notice)
	}
	if len(v.Moves) != 1 || v.Moves[0] != "d4" {
		t.Fatalf("moves = %v", v.Moves)
	}
}

func TestReconciler_FoldMatchesServerPositions(t *testing.T) {
	line := []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5", "a7a6"}
	r := newActive(t, SideObserver)
	for i, m := range line {
		if err := r.Apply(&liveproto.MoveApplied{UCI: m}); err != nil {
			t.Fatalf("ply %d: %v", i+1, err)
		}
		if got, want := r.View().FEN, fenAfter(t, line[:i+1]...); got != want {
			t.Fatalf("ply %d: fen %s want %s", i+1, got, want)
		}
	}
	if got := r.View().Moves; len(got) != len(line) || got[4] != "Bb5" {
		t.Fatalf("moves = %v", got)
	}
	if r.LogStale() {
		t.Fatalf("log should match the position")
	}
}

func TestReconciler_SinglePendingMove(t *testing.T) {
	r := newActive(t, SideWhite)
	if _, err := r.Submit("e2e4"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := r.Submit("d2d4"); !errors.Is(err, ErrMovePending) {
		t.Fatalf("expected ErrMovePending, got %v", err)
	}
	if p := r.Pending(); p == nil || p.UCI != "e2e4" {
		t.Fatalf("pending = %v", p)
	}
}

func TestReconciler_SubmitPreconditions(t *testing.T) {
	obs := newActive(t, SideObserver)
	if _, err := obs.Submit("e2e4"); !errors.Is(err, ErrObserver) {
		t.Fatalf("observer: %v", err)
	}
	black := newActive(t, SideBlack)
	if _, err := black.Submit("e7e5"); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("black on white's turn: %v", err)
	}
	waiting := NewReconciler("g", SideWhite)
	if _, err := waiting.Submit("e2e4"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("waiting: %v", err)
	}
	white := newActive(t, SideWhite)
	if _, err := white.Submit("e2e5"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("illegal: %v", err)
	}
	if white.Pending() != nil {
		t.Fatalf("failed precheck must not leave a pending move")
	}
}

func TestReconciler_TickSideToMoveWithFloor(t *testing.T) {
	r := NewReconciler("g", SideWhite)
	if err := r.Apply(activeSnapshot(2, 10)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if _, err := r.Submit("e2e4"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// white still moves under the authoritative position
	for i := 0; i < 5; i++ {
		r.Tick()
	}
	c := r.View().Clocks
	if c.White != 0 || c.Black != 10 {
		t.Fatalf("clocks = %+v", c)
	}
	if r.Status() != liveproto.StatusActive {
		t.Fatalf("ticking must never finish the game")
	}

	if err := r.Apply(&liveproto.MoveApplied{UCI: "e2e4"}); err != nil {
		t.Fatalf("moveApplied: %v", err)
	}
	r.Tick()
	if c := r.View().Clocks; c.White != 0 || c.Black != 9 {
		t.Fatalf("black should tick after white's move: %+v", c)
	}

	done := NewReconciler("g", SideWhite)
	_ = done.Apply(&liveproto.Snapshot{FEN: rules.StartFEN, Status: liveproto.StatusFinished, Clocks: &liveproto.Clocks{White: 5, Black: 5}})
	done.Tick()
	if c := done.View().Clocks; c.White != 5 {
		t.Fatalf("finished game must not tick: %+v", c)
	}
}

func TestReconciler_ReconnectRequiresSnapshot(t *testing.T) {
	r := newActive(t, SideWhite)
	r.OnConnectivity(livews.Event{Kind: livews.EventDegraded, Attempt: 1})
	if v := r.View(); v.Connection != ConnReconnecting || v.Notice == nil || v.Notice.Kind != NoticeReconnecting {
		t.Fatalf("degraded view: %+v", v)
	}
	r.OnConnectivity(livews.Event{Kind: livews.EventOpened, Reconnected: true})
	if !r.AwaitingSnapshot() {
		t.Fatalf("reconnect should require a snapshot")
	}
	if _, err := r.Submit("e2e4"); !errors.Is(err, ErrAwaitingSync) {
		t.Fatalf("submit while awaiting: %v", err)
	}
	if err := r.Apply(&liveproto.MoveApplied{UCI: "e2e4"}); !errors.Is(err, ErrIgnored) {
		t.Fatalf("moveApplied before snapshot should be ignored, got %v", err)
	}
	if r.View().FEN != rules.StartFEN {
		t.Fatalf("ignored move changed the board")
	}

	snap := activeSnapshot(290, 295)
	snap.FEN = fenAfter(t, "e2e4")
	snap.Moves = []string{"e2e4"}
	if err := r.Apply(snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	v := r.View()
	if v.AwaitingSync || len(v.Moves) != 1 || v.Moves[0] != "e4" {
		t.Fatalf("after snapshot: %+v", v)
	}
	if v.Notice == nil || v.Notice.Kind != NoticeResynced {
		t.Fatalf("expected resynced notice, got %+v", v.Notice)
	}
}

func TestReconciler_SnapshotDiscardsPendingAndKeepsLog(t *testing.T) {
	r := newActive(t, SideWhite)
	if err := r.Apply(&liveproto.MoveApplied{UCI: "e2e4"}); err != nil {
		t.Fatalf("moveApplied: %v", err)
	}
	if err := r.Apply(&liveproto.MoveApplied{UCI: "e7e5"}); err != nil {
		t.Fatalf("moveApplied: %v", err)
	}
	if _, err := r.Submit("g1f3"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	snap := &liveproto.Snapshot{FEN: fenAfter(t, "e2e4", "e7e5"), Status: liveproto.StatusActive}
	if err := r.Apply(snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	v := r.View()
	if v.Pending != nil {
		t.Fatalf("snapshot should discard the pending move")
	}
	if len(v.Moves) != 2 {
		t.Fatalf("log without moves field should be kept, got %v", v.Moves)
	}
	if v.Clocks.White != 300 {
		t.Fatalf("clocks absent from snapshot should be kept: %+v", v.Clocks)
	}
}

func TestReconciler_RollbackUnsent(t *testing.T) {
	r := newActive(t, SideWhite)
	if _, err := r.Submit("e2e4"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.RollbackUnsent("d2d4") {
		t.Fatalf("rollback of a different move must be refused")
	}
	if !r.RollbackUnsent("e2e4") {
		t.Fatalf("rollback should succeed")
	}
	v := r.View()
	if v.FEN != rules.StartFEN || v.Pending != nil {
		t.Fatalf("after rollback: fen=%s pending=%v", v.FEN, v.Pending)
	}
	if v.Notice == nil || v.Notice.Kind != NoticeNotConnected {
		t.Fatalf("notice = %+v", v.Notice)
	}
}

func TestReconciler_DesyncWithoutFEN(t *testing.T) {
	r := newActive(t, SideWhite)
	if err := r.Apply(&liveproto.MoveApplied{UCI: "e7e5"}); !errors.Is(err, ErrDesync) {
		t.Fatalf("expected ErrDesync, got %v", err)
	}
	if !r.AwaitingSnapshot() {
		t.Fatalf("desync should wait for a snapshot")
	}
}

func TestReconciler_ServerErrorKeepsState(t *testing.T) {
	r := newActive(t, SideWhite)
	if err := r.Apply(&liveproto.ServerError{Message: "boom"}); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	v := r.View()
	if v.FEN != rules.StartFEN || v.Status != liveproto.StatusActive || v.Clocks.White != 300 {
		t.Fatalf("error must not change state: %+v", v)
	}
	if v.Notice == nil || v.Notice.Kind != NoticeServerError || v.Notice.Detail != "boom" {
		t.Fatalf("notice = %+v", v.Notice)
	}
}

func TestReconciler_ServerErrorRefusesPendingMove(t *testing.T) {
	r := newActive(t, SideWhite)
	if _, err := r.Submit("e2e4"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	msg, err := liveproto.Decode([]byte(`{"type":"error","error":"invalid move"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := r.Apply(msg); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	v := r.View()
	if v.Pending != nil || v.FEN != rules.StartFEN || len(v.Moves) != 0 {
		t.Fatalf("refused move should roll back: %+v", v)
	}
	if v.Notice == nil || v.Notice.Kind != NoticeServerError || v.Notice.Detail != "invalid move" {
		t.Fatalf("notice = %+v", v.Notice)
	}
	if _, err := r.Submit("d2d4"); err != nil {
		t.Fatalf("submission should reopen after a refused move: %v", err)
	}
}

func TestReconciler_FatalNoticeIsSticky(t *testing.T) {
	r := newActive(t, SideWhite)
	r.OnConnectivity(livews.Event{Kind: livews.EventFatal, Attempt: 5})
	n := r.Notice()
	if n == nil || !n.Sticky || n.Kind != NoticeConnLost {
		t.Fatalf("notice = %+v", n)
	}
	if r.ClearNotice(n.Seq) {
		t.Fatalf("sticky notice must not auto-clear")
	}
	if r.View().Connection != ConnOffline {
		t.Fatalf("connection = %s", r.View().Connection)
	}
}

func TestReconciler_AdoptHistory(t *testing.T) {
	r := NewReconciler("g", SideObserver)
	snap := activeSnapshot(60, 60)
	snap.FEN = fenAfter(t, "d2d4", "d7d5")
	if err := r.Apply(snap); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !r.LogStale() {
		t.Fatalf("empty log at ply 2 should be stale")
	}
	if r.AdoptHistory([]string{"e2e4", "e7e5"}) {
		t.Fatalf("history leading elsewhere must be refused")
	}
	if !r.AdoptHistory([]string{"d2d4", "d7d5"}) {
		t.Fatalf("matching history should be adopted")
	}
	rec := r.Record()
	if len(rec.Moves) != 2 || rec.Moves[1].SAN != "d5" || rec.Status != "active" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestReconciler_CheckmateRecordsTermination(t *testing.T) {
	r := newActive(t, SideBlack)
	for _, m := range []string{"f2f3", "e7e5", "g2g4"} {
		if err := r.Apply(&liveproto.MoveApplied{UCI: m}); err != nil {
			t.Fatalf("%s: %v", m, err)
		}
	}
	if _, err := r.Submit("d8h4"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := r.Apply(&liveproto.MoveApplied{UCI: "d8h4", Status: liveproto.StatusFinished, Result: liveproto.ResultBlackWins}); err != nil {
		t.Fatalf("moveApplied: %v", err)
	}
	v := r.View()
	if !v.Terminal || v.TerminalReason != "checkmate" || !v.InCheck {
		t.Fatalf("view = %+v", v)
	}
	rec := r.Record()
	if rec.Result != "black_wins" || rec.Termination != "checkmate" || rec.Moves[3].SAN != "Qh4#" {
		t.Fatalf("record = %+v", rec)
	}
}
