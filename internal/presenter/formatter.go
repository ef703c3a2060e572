package presenter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-live/internal/domain"
	"github.com/park285/cheese-live/internal/msgcat"
	"github.com/park285/cheese-live/internal/rules"
	"github.com/park285/cheese-live/internal/session"
	"github.com/park285/cheese-live/pkg/liveproto"
)

const (
	recentMovesLimit = 12
	files            = "abcdefgh"
)

// Formatter renders session views and REST records as terminal text.
type Formatter struct {
	cat     *msgcat.Catalog
	unicode bool
}

type Option func(*Formatter)

// WithUnicodePieces draws chess symbols instead of FEN letters.
func WithUnicodePieces() Option {
	return func(f *Formatter) { f.unicode = true }
}

func NewFormatter(cat *msgcat.Catalog, opts ...Option) *Formatter {
	f := &Formatter{cat: cat}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// View renders the full screen for one session state.
func (f *Formatter) View(v session.View) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Game %s  [%s]  you: %s\n", v.GameID, f.connection(v.Connection), v.Side))
	sb.WriteString(f.clockLine(v, rules.Black))
	sb.WriteString(f.Board(v))
	sb.WriteString(f.clockLine(v, rules.White))
	sb.WriteString(f.Status(v))
	sb.WriteByte('\n')
	sb.WriteString("Moves: ")
	sb.WriteString(FormatMoves(v.Moves, recentMovesLimit))
	if v.Pending != nil {
		sb.WriteString(" (pending)")
	}
	sb.WriteByte('\n')
	if n := f.Notice(v.Notice); n != "" {
		sb.WriteString("! ")
		sb.WriteString(n)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Board draws the position from the local side's perspective. The squares of
// the last move are bracketed.
func (f *Formatter) Board(v session.View) string {
	flip := v.Side == session.SideBlack
	var sb strings.Builder
	for i := 0; i < 8; i++ {
		r := i
		if flip {
			r = 7 - i
		}
		rank := 8 - r
		sb.WriteString(fmt.Sprintf(" %d ", rank))
		for j := 0; j < 8; j++ {
			file := j
			if flip {
				file = 7 - j
			}
			sq := fmt.Sprintf("%c%d", files[file], rank)
			cell := f.piece(v.Rows[r][file])
			if sq == v.LastFrom || sq == v.LastTo {
				sb.WriteString("[" + cell + "]")
			} else {
				sb.WriteString(" " + cell + " ")
			}
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("   ")
	for j := 0; j < 8; j++ {
		file := j
		if flip {
			file = 7 - j
		}
		sb.WriteString(fmt.Sprintf(" %c ", files[file]))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func (f *Formatter) piece(c byte) string {
	if c == 0 || c == '.' {
		return "."
	}
	if !f.unicode {
		return string(c)
	}
	switch c {
	case 'K':
		return "♔"
	case 'Q':
		return "♕"
	case 'R':
		return "♖"
	case 'B':
		return "♗"
	case 'N':
		return "♘"
	case 'P':
		return "♙"
	case 'k':
		return "♚"
	case 'q':
		return "♛"
	case 'r':
		return "♜"
	case 'b':
		return "♝"
	case 'n':
		return "♞"
	case 'p':
		return "♟"
	default:
		return string(c)
	}
}

func (f *Formatter) clockLine(v session.View, c rules.Color) string {
	secs := v.Clocks.White
	if c == rules.Black {
		secs = v.Clocks.Black
	}
	marker := " "
	if v.Status == liveproto.StatusActive && v.Turn == c {
		marker = "*"
	}
	return fmt.Sprintf("%s %-5s %s\n", marker, c.String(), FormatClock(secs))
}

// Status is the one-line game state.
func (f *Formatter) Status(v session.View) string {
	switch v.Status {
	case liveproto.StatusActive:
		turn := capitalize(v.Turn.String())
		if v.InCheck {
			return f.cat.Text("status.active_check", map[string]any{"Turn": turn}, turn+" to move, check!")
		}
		return f.cat.Text("status.active", map[string]any{"Turn": turn}, turn+" to move")
	case liveproto.StatusFinished:
		out := f.cat.Text("status.finished", nil, "Finished")
		if r := f.Result(v.Result); r != "" {
			out += ": " + r
		}
		if v.Terminal && v.TerminalReason != "" {
			out += " (" + v.TerminalReason + ")"
		}
		return out
	default:
		return f.cat.Text("status.waiting", nil, "Waiting for opponent")
	}
}

func (f *Formatter) Result(r liveproto.Result) string {
	if r == liveproto.ResultNone {
		return ""
	}
	return f.cat.Text("result."+string(r), nil, string(r))
}

// Notice renders a notice through the catalog, or "" for nil.
func (f *Formatter) Notice(n *session.Notice) string {
	if n == nil {
		return ""
	}
	detail := n.Detail
	if n.Kind == session.NoticeGameOver {
		if r := f.Result(liveproto.Result(detail)); r != "" {
			detail = r
		}
	}
	data := map[string]any{"Detail": detail, "Attempt": n.Attempt}
	fallback := string(n.Kind)
	if detail != "" {
		fallback += ": " + detail
	}
	return f.cat.Text("notice."+string(n.Kind), data, fallback)
}

func (f *Formatter) connection(c session.Connectivity) string {
	return f.cat.Text("connection."+string(c), nil, string(c))
}

// Prompt is shown before reading the next command.
func (f *Formatter) Prompt(v session.View) string {
	switch {
	case v.AwaitingSync:
		return f.cat.Text("prompt.awaiting_sync", nil, "Waiting for a fresh snapshot...") + "\n> "
	case v.Pending != nil:
		return f.cat.Text("prompt.pending", map[string]any{"SAN": v.Pending.SAN}, "Sent "+v.Pending.SAN) + "\n> "
	case v.CanMove():
		return f.cat.Text("prompt.your_move", map[string]any{"Side": string(v.Side)}, "Your move: ")
	default:
		return f.cat.Text("prompt.waiting_move", nil, "> ")
	}
}

// SubmitError explains why a move was not played.
func (f *Formatter) SubmitError(err error, move string) string {
	key := ""
	switch {
	case errors.Is(err, session.ErrObserver):
		key = "error.observer"
	case errors.Is(err, session.ErrNotActive):
		key = "error.not_active"
	case errors.Is(err, session.ErrNotYourTurn):
		key = "error.not_your_turn"
	case errors.Is(err, session.ErrMovePending):
		key = "error.move_pending"
	case errors.Is(err, session.ErrAwaitingSync):
		key = "error.awaiting_sync"
	case errors.Is(err, session.ErrIllegalMove):
		key = "error.illegal_move"
	case errors.Is(err, session.ErrNotSent):
		key = "error.not_sent"
	case errors.Is(err, session.ErrClosed):
		key = "error.closed"
	default:
		return err.Error()
	}
	return f.cat.Text(key, map[string]any{"Move": move}, err.Error())
}

// Games lists REST games one per line.
func (f *Formatter) Games(games []domain.Game) string {
	if len(games) == 0 {
		return "No games.\n"
	}
	var sb strings.Builder
	for _, g := range games {
		line := fmt.Sprintf("#%d  %-8s %s vs %s", g.ID, g.Status, playerName(g.WhitePlayer, g.WhitePlayerID), playerName(g.BlackPlayer, g.BlackPlayerID))
		if r := f.Result(liveproto.Result(g.Result)); r != "" {
			line += "  " + r
		}
		if !g.CreatedAt.IsZero() {
			line += "  " + FormatShortTime(g.CreatedAt)
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// History prints a REST move history as numbered SAN.
func (f *Formatter) History(game *domain.Game, san []string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Game #%d  %s", game.ID, game.Status))
	if r := f.Result(liveproto.Result(game.Result)); r != "" {
		sb.WriteString("  " + r)
	}
	sb.WriteByte('\n')
	sb.WriteString(FormatMoves(san, 0))
	sb.WriteByte('\n')
	return sb.String()
}

func (f *Formatter) Profile(u *domain.User) string {
	if u == nil {
		return "No profile.\n"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s (#%d)\n", u.Username, u.ID))
	sb.WriteString(fmt.Sprintf("Rating: %d\n", u.ELORating))
	sb.WriteString(fmt.Sprintf("Record: %dW %dL %dD (%d games)\n", u.Wins, u.Losses, u.Draws, u.GamesPlayed))
	if !u.CreatedAt.IsZero() {
		sb.WriteString("Member since " + FormatShortTime(u.CreatedAt) + "\n")
	}
	return sb.String()
}

// FormatClock renders whole seconds as m:ss, or h:mm:ss from one hour.
func FormatClock(secs int) string {
	if secs < 0 {
		secs = 0
	}
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatMoves numbers SAN moves in pairs. With limit > 0 only the last limit
// plies are shown, keeping move numbers correct.
func FormatMoves(san []string, limit int) string {
	if len(san) == 0 {
		return "-"
	}
	start := 0
	if limit > 0 && len(san) > limit {
		start = len(san) - limit
	}
	var parts []string
	if start > 0 {
		parts = append(parts, "…")
	}
	for i := start; i < len(san); i++ {
		if i%2 == 0 {
			parts = append(parts, fmt.Sprintf("%d. %s", i/2+1, san[i]))
		} else if i == start {
			parts = append(parts, fmt.Sprintf("%d... %s", i/2+1, san[i]))
		} else {
			parts = append(parts, san[i])
		}
	}
	return strings.Join(parts, " ")
}

func FormatShortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func playerName(u *domain.User, id *uint) string {
	if u != nil && u.Username != "" {
		return u.Username
	}
	if id != nil {
		return fmt.Sprintf("#%d", *id)
	}
	return "?"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
