package session

import (
	"strings"

	"github.com/park285/cheese-live/internal/rules"
	"github.com/park285/cheese-live/pkg/liveproto"
)

// Side is the local participant's role in a game.
type Side string

const (
	SideWhite    Side = "white"
	SideBlack    Side = "black"
	SideObserver Side = "observer"
)

func ParseSide(s string) Side {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return SideWhite
	case "black", "b":
		return SideBlack
	default:
		return SideObserver
	}
}

func (s Side) color() rules.Color {
	switch s {
	case SideWhite:
		return rules.White
	case SideBlack:
		return rules.Black
	default:
		return rules.NoColor
	}
}

// Connectivity is the session's view of its connection.
type Connectivity string

const (
	ConnConnecting   Connectivity = "connecting"
	ConnOnline       Connectivity = "online"
	ConnReconnecting Connectivity = "reconnecting"
	ConnOffline      Connectivity = "offline"
	ConnClosed       Connectivity = "closed"
)

// NoticeKind selects the message template for a notice.
type NoticeKind string

const (
	NoticeRejected      NoticeKind = "rejected"
	NoticeServerError   NoticeKind = "server_error"
	NoticeProtocolError NoticeKind = "protocol_error"
	NoticeCorrected     NoticeKind = "corrected"
	NoticeNotConnected  NoticeKind = "not_connected"
	NoticeReconnecting  NoticeKind = "reconnecting"
	NoticeConnLost      NoticeKind = "connection_lost"
	NoticeResynced      NoticeKind = "resynced"
	NoticeGameOver      NoticeKind = "game_over"
)

// Notice is the single transient message shown to the player. Sticky notices
// stay until replaced; others are cleared after the notice TTL.
type Notice struct {
	Kind    NoticeKind
	Detail  string
	Attempt int
	Sticky  bool
	Seq     uint64
}

// Pending is the one locally submitted move awaiting confirmation.
type Pending struct {
	UCI string
	SAN string
}

// View is an immutable copy of everything the UI renders.
type View struct {
	GameID         string
	Side           Side
	FEN            string
	Rows           [8]string
	Turn           rules.Color
	InCheck        bool
	Moves          []string
	Pending        *Pending
	LastFrom       string
	LastTo         string
	Status         liveproto.Status
	Result         liveproto.Result
	Clocks         liveproto.Clocks
	TimeControl    int
	Notice         *Notice
	Connection     Connectivity
	AwaitingSync   bool
	Terminal       bool
	TerminalReason string
}

// CanMove reports whether a submission would currently pass the turn checks.
func (v View) CanMove() bool {
	return v.Status == liveproto.StatusActive &&
		v.Pending == nil &&
		!v.AwaitingSync &&
		v.Side.color() != rules.NoColor &&
		v.Turn == v.Side.color()
}
