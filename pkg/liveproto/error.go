package liveproto

import "fmt"

var (
	ErrMalformed   = errf("malformed frame")
	ErrUnknownType = errf("unknown frame type")
)

// ProtocolError reports a frame that could not be turned into a Message.
// It never implies the transport is broken.
type ProtocolError struct {
	Type string
	Raw  string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("protocol error (type=%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
