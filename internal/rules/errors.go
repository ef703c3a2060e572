package rules

var (
	ErrInvalidFEN    = errf("invalid position")
	ErrInvalidSquare = errf("invalid square")
	ErrIllegalMove   = errf("illegal move")
	ErrEmptyMove     = errf("empty move")
	ErrNoPosition    = errf("no position")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
