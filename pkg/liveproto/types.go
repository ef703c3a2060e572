package liveproto

// Type is the discriminator carried in every frame under "type".
type Type string

const (
	TypeSnapshot    Type = "snapshot"
	TypeMoveApplied Type = "moveApplied"
	TypeRejected    Type = "rejected"
	TypeError       Type = "error"

	// legacy server names
	TypeGameState Type = "game_state"
	TypeMove      Type = "move"

	// outbound only
	TypeSync Type = "sync"
)

// Status is the server-owned lifecycle of a game.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusFinished:
		return true
	default:
		return false
	}
}

// Result mirrors the server's result column. Empty while the game is running.
type Result string

const (
	ResultNone      Result = ""
	ResultWhiteWins Result = "white_wins"
	ResultBlackWins Result = "black_wins"
	ResultDraw      Result = "draw"
)

// Clocks are whole seconds remaining per side.
type Clocks struct {
	White int `json:"whiteTimeLeft"`
	Black int `json:"blackTimeLeft"`
}

// Message is any decoded inbound frame.
type Message interface {
	Kind() Type
}

// Snapshot replaces the session's authoritative state wholesale.
// Clocks is nil when the server omitted both time fields.
// Moves is nil when the server did not include the move list.
type Snapshot struct {
	FEN         string
	Status      Status
	Result      Result
	Clocks      *Clocks
	TimeControl int
	Moves       []string
}

func (*Snapshot) Kind() Type { return TypeSnapshot }

// MoveApplied announces one authoritative move. At least one of UCI or SAN is set.
// FEN is empty when the server did not send the resulting position.
type MoveApplied struct {
	UCI    string
	SAN    string
	FEN    string
	Clocks *Clocks
	Status Status
	Result Result
}

func (*MoveApplied) Kind() Type { return TypeMoveApplied }

// Rejected tells the submitter its move was refused.
type Rejected struct {
	Reason string
	UCI    string
}

func (*Rejected) Kind() Type { return TypeRejected }

// ServerError is a generic server-side failure notice.
type ServerError struct {
	Message string
}

func (*ServerError) Kind() Type { return TypeError }

// MoveRequest is the outbound move frame.
type MoveRequest struct {
	Type Type   `json:"type"`
	UCI  string `json:"uci"`
}

func NewMoveRequest(uci string) MoveRequest {
	return MoveRequest{Type: TypeMove, UCI: uci}
}

// SyncRequest asks the server to push a fresh snapshot.
type SyncRequest struct {
	Type Type `json:"type"`
}

func NewSyncRequest() SyncRequest {
	return SyncRequest{Type: TypeSync}
}
