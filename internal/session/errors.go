package session

var (
	ErrObserver      = errf("observers cannot move")
	ErrNotActive     = errf("game is not active")
	ErrNotYourTurn   = errf("not your turn")
	ErrMovePending   = errf("a move is already awaiting confirmation")
	ErrAwaitingSync  = errf("waiting for a fresh snapshot")
	ErrIllegalMove   = errf("illegal move")
	ErrNotSent       = errf("move not sent")
	ErrIgnored       = errf("message ignored")
	ErrDesync        = errf("local state diverged from server")
	ErrClosed        = errf("session closed")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
