package session

import (
	"fmt"
	"strings"

	"github.com/park285/cheese-live/internal/domain"
	"github.com/park285/cheese-live/internal/livews"
	"github.com/park285/cheese-live/internal/rules"
	"github.com/park285/cheese-live/pkg/liveproto"
)

// Reconciler merges server-pushed authoritative state with the one optimistic
// local move. It performs no I/O and is driven by a single goroutine.
//
// The displayed position is always the authoritative position with the
// pending move, if any, applied on top.
type Reconciler struct {
	gameID string
	side   Side

	auth     *rules.Position
	authLog  []domain.Ply
	authLast *rules.Move

	display     *rules.Position
	pending     *Pending
	pendingMove *rules.Move

	status      liveproto.Status
	result      liveproto.Result
	clocks      liveproto.Clocks
	timeControl int

	awaitingSnapshot bool
	conn             Connectivity
	notice           *Notice
	noticeSeq        uint64
}

func NewReconciler(gameID string, side Side) *Reconciler {
	start := rules.MustStart()
	return &Reconciler{
		gameID:  gameID,
		side:    side,
		auth:    start,
		display: start,
		status:  liveproto.StatusWaiting,
		conn:    ConnConnecting,
	}
}

func (r *Reconciler) Status() liveproto.Status { return r.status }
func (r *Reconciler) AwaitingSnapshot() bool    { return r.awaitingSnapshot }
func (r *Reconciler) NoticeSeq() uint64         { return r.noticeSeq }

func (r *Reconciler) Pending() *Pending {
	if r.pending == nil {
		return nil
	}
	p := *r.pending
	return &p
}

// Notice returns a copy of the current notice, or nil.
func (r *Reconciler) Notice() *Notice {
	if r.notice == nil {
		return nil
	}
	n := *r.notice
	return &n
}

// RequireSnapshot makes the reconciler ignore moveApplied until the next snapshot.
func (r *Reconciler) RequireSnapshot() { r.awaitingSnapshot = true }

// Submit validates a local move and applies it optimistically.
func (r *Reconciler) Submit(move string) (Pending, error) {
	mine := r.side.color()
	switch {
	case mine == rules.NoColor:
		return Pending{}, ErrObserver
	case r.status != liveproto.StatusActive:
		return Pending{}, ErrNotActive
	case r.pending != nil:
		return Pending{}, ErrMovePending
	case r.awaitingSnapshot:
		return Pending{}, ErrAwaitingSync
	case r.auth.Turn() != mine:
		return Pending{}, ErrNotYourTurn
	}
	next, mv, err := r.auth.Apply(move)
	if err != nil {
		return Pending{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	r.display = next
	r.pending = &Pending{UCI: mv.UCI, SAN: mv.SAN}
	r.pendingMove = &mv
	return *r.pending, nil
}

// Apply folds one inbound message into the state.
func (r *Reconciler) Apply(msg liveproto.Message) error {
	switch m := msg.(type) {
	case *liveproto.Snapshot:
		return r.applySnapshot(m)
	case *liveproto.MoveApplied:
		return r.applyMove(m)
	case *liveproto.Rejected:
		r.rollback()
		r.setNotice(NoticeRejected, m.Reason, 0, false)
		return nil
	case *liveproto.ServerError:
		// The server answers a refused move with a plain error frame.
		if r.pending != nil {
			r.rollback()
		}
		r.setNotice(NoticeServerError, m.Message, 0, false)
		return nil
	default:
		return fmt.Errorf("%w: unsupported message %T", ErrIgnored, msg)
	}
}

func (r *Reconciler) applySnapshot(s *liveproto.Snapshot) error {
	pos, err := rules.ParsePosition(s.FEN)
	if err != nil {
		r.setNotice(NoticeProtocolError, err.Error(), 0, false)
		return err
	}
	if s.Moves != nil {
		log, last, rerr := replayLog(s.Moves)
		if rerr == nil {
			r.authLog = log
			r.authLast = last
		} else {
			r.authLog = nil
			r.authLast = nil
		}
	}
	wasAwaiting := r.awaitingSnapshot
	r.auth = pos
	r.display = pos
	r.pending = nil
	r.pendingMove = nil
	r.status = s.Status
	r.result = s.Result
	if s.Clocks != nil {
		r.clocks = *s.Clocks
	}
	if s.TimeControl > 0 {
		r.timeControl = s.TimeControl
	}
	r.awaitingSnapshot = false
	if wasAwaiting && r.notice != nil && r.notice.Kind == NoticeReconnecting {
		r.setNotice(NoticeResynced, "", 0, false)
	}
	return nil
}

func (r *Reconciler) applyMove(m *liveproto.MoveApplied) error {
	if r.awaitingSnapshot {
		return fmt.Errorf("%w: moveApplied before snapshot", ErrIgnored)
	}

	if r.pending != nil && matchesPending(r.pending, m) {
		ply := domain.Ply{UCI: r.pending.UCI, SAN: r.pending.SAN}
		if m.SAN != "" {
			ply.SAN = m.SAN
		}
		next := r.display
		if m.FEN != "" {
			if pos, err := rules.ParsePosition(m.FEN); err == nil {
				next = pos
			}
		}
		r.auth = next
		r.authLog = append(r.authLog, ply)
		r.authLast = r.pendingMove
		r.clearPending()
		r.adoptServerFields(m)
		return nil
	}

	corrected := r.pending != nil
	r.clearPending()

	notation := m.UCI
	if notation == "" {
		notation = m.SAN
	}
	next, mv, applyErr := r.auth.Apply(notation)
	switch {
	case m.FEN != "":
		pos, err := rules.ParsePosition(m.FEN)
		if err != nil {
			r.awaitingSnapshot = true
			return fmt.Errorf("%w: %v", ErrDesync, err)
		}
		next = pos
		if applyErr != nil {
			mv = rules.Move{UCI: m.UCI, SAN: m.SAN}
		}
	case applyErr != nil:
		r.display = r.auth
		r.awaitingSnapshot = true
		return fmt.Errorf("%w: %v", ErrDesync, applyErr)
	}

	ply := domain.Ply{UCI: mv.UCI, SAN: mv.SAN}
	if m.SAN != "" {
		ply.SAN = m.SAN
	}
	if ply.SAN == "" {
		ply.SAN = ply.UCI
	}
	r.auth = next
	r.display = next
	r.authLog = append(r.authLog, ply)
	if mv.From != "" {
		last := mv
		r.authLast = &last
	} else {
		r.authLast = nil
	}
	r.adoptServerFields(m)
	if corrected {
		r.setNotice(NoticeCorrected, ply.SAN, 0, false)
	}
	return nil
}

// adoptServerFields takes clocks, status and result from an authoritative move.
func (r *Reconciler) adoptServerFields(m *liveproto.MoveApplied) {
	if m.Clocks != nil {
		r.clocks = *m.Clocks
	}
	if m.Status != "" {
		r.status = m.Status
	}
	if m.Result != "" || m.Status == liveproto.StatusFinished {
		r.result = m.Result
	}
}

// RollbackUnsent undoes an optimistic move the connection refused to carry.
func (r *Reconciler) RollbackUnsent(uci string) bool {
	if r.pending == nil || r.pending.UCI != uci {
		return false
	}
	r.rollback()
	r.setNotice(NoticeNotConnected, "", 0, false)
	return true
}

func (r *Reconciler) rollback() {
	r.clearPending()
	r.display = r.auth
}

func (r *Reconciler) clearPending() {
	r.pending = nil
	r.pendingMove = nil
}

// Tick decrements the clock of the side to move in the authoritative position
// by one second. It never finishes the game; only the server does.
func (r *Reconciler) Tick() {
	if r.status != liveproto.StatusActive {
		return
	}
	switch r.auth.Turn() {
	case rules.White:
		if r.clocks.White > 0 {
			r.clocks.White--
		}
	case rules.Black:
		if r.clocks.Black > 0 {
			r.clocks.Black--
		}
	}
}

// OnConnectivity records a connection event. A genuine reconnect makes the
// reconciler distrust moveApplied until a fresh snapshot arrives.
func (r *Reconciler) OnConnectivity(ev livews.Event) {
	switch ev.Kind {
	case livews.EventOpened:
		r.conn = ConnOnline
		if ev.Reconnected {
			r.awaitingSnapshot = true
		}
		if r.notice != nil && (r.notice.Kind == NoticeConnLost || r.notice.Kind == NoticeReconnecting) && !ev.Reconnected {
			r.clearNotice()
		}
	case livews.EventDegraded:
		r.conn = ConnReconnecting
		r.setNotice(NoticeReconnecting, errText(ev.Err), ev.Attempt, true)
	case livews.EventFatal:
		r.conn = ConnOffline
		r.setNotice(NoticeConnLost, errText(ev.Err), ev.Attempt, true)
	case livews.EventIdle:
		r.conn = ConnClosed
	case livews.EventProtocolError:
		r.setNotice(NoticeProtocolError, errText(ev.Err), 0, false)
	}
}

// ClearNotice removes the notice if it is still the one identified by seq.
func (r *Reconciler) ClearNotice(seq uint64) bool {
	if r.notice == nil || r.notice.Seq != seq || r.notice.Sticky {
		return false
	}
	r.notice = nil
	return true
}

func (r *Reconciler) setNotice(kind NoticeKind, detail string, attempt int, sticky bool) {
	r.noticeSeq++
	r.notice = &Notice{Kind: kind, Detail: detail, Attempt: attempt, Sticky: sticky, Seq: r.noticeSeq}
}

func (r *Reconciler) clearNotice() {
	r.noticeSeq++
	r.notice = nil
}

// NoteGameOver shows the final result once the server finishes the game.
func (r *Reconciler) NoteGameOver() {
	r.setNotice(NoticeGameOver, string(r.result), 0, true)
}

// LogStale reports whether the move log is shorter or longer than the
// authoritative position implies.
func (r *Reconciler) LogStale() bool {
	return r.auth.Ply() != len(r.authLog)
}

// AdoptHistory replaces the move log with a server history when it leads to
// the current authoritative position.
func (r *Reconciler) AdoptHistory(ucis []string) bool {
	log, last, err := replayLog(ucis)
	if err != nil {
		return false
	}
	end, _, err := rules.MustStart().Replay(ucis)
	if err != nil || !end.SameBoard(r.auth) {
		return false
	}
	r.authLog = log
	r.authLast = last
	return true
}

// Record is the authoritative state in storable form.
func (r *Reconciler) Record() domain.LiveGame {
	g := domain.LiveGame{
		GameID:        r.gameID,
		Side:          string(r.side),
		FEN:           r.auth.FEN(),
		Status:        string(r.status),
		Result:        string(r.result),
		WhiteTimeLeft: r.clocks.White,
		BlackTimeLeft: r.clocks.Black,
		TimeControl:   r.timeControl,
		Moves:         append([]domain.Ply(nil), r.authLog...),
	}
	if done, reason := r.auth.Terminal(); done {
		g.Termination = reason
	}
	return g
}

// View builds an immutable copy for rendering.
func (r *Reconciler) View() View {
	moves := make([]string, 0, len(r.authLog)+1)
	for _, p := range r.authLog {
		moves = append(moves, p.SAN)
	}
	v := View{
		GameID:       r.gameID,
		Side:         r.side,
		FEN:          r.display.FEN(),
		Rows:         r.display.Rows(),
		Turn:         r.display.Turn(),
		InCheck:      r.display.InCheck(),
		Status:       r.status,
		Result:       r.result,
		Clocks:       r.clocks,
		TimeControl:  r.timeControl,
		Notice:       r.Notice(),
		Connection:   r.conn,
		AwaitingSync: r.awaitingSnapshot,
	}
	last := r.authLast
	if r.pending != nil {
		moves = append(moves, r.pending.SAN)
		v.Pending = r.Pending()
		last = r.pendingMove
	}
	v.Moves = moves
	if last != nil {
		v.LastFrom, v.LastTo = last.From, last.To
	}
	v.Terminal, v.TerminalReason = r.display.Terminal()
	return v
}

func replayLog(ucis []string) ([]domain.Ply, *rules.Move, error) {
	_, moves, err := rules.MustStart().Replay(ucis)
	if err != nil {
		return nil, nil, err
	}
	log := make([]domain.Ply, 0, len(moves))
	for _, mv := range moves {
		log = append(log, domain.Ply{UCI: mv.UCI, SAN: mv.SAN})
	}
	var last *rules.Move
	if n := len(moves); n > 0 {
		lm := moves[n-1]
		last = &lm
	}
	return log, last, nil
}

// matchesPending compares by UCI when both sides have it, otherwise by SAN
// with check and annotation marks ignored.
func matchesPending(p *Pending, m *liveproto.MoveApplied) bool {
	if m.UCI != "" && p.UCI != "" {
		return strings.EqualFold(m.UCI, p.UCI) || (len(p.UCI) == 5 && strings.EqualFold(m.UCI, p.UCI[:4]))
	}
	if m.SAN != "" {
		return normalizeSAN(m.SAN) == normalizeSAN(p.SAN)
	}
	return false
}

func normalizeSAN(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "+#!?")
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
