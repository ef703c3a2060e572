package liveproto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const rawPreviewLimit = 256

// frame is the union of every inbound field the server is known to send.
type frame struct {
	Type          string          `json:"type"`
	FEN           string          `json:"fen"`
	Status        string          `json:"status"`
	Result        string          `json:"result"`
	WhiteTimeLeft *int            `json:"whiteTimeLeft"`
	BlackTimeLeft *int            `json:"blackTimeLeft"`
	TimeControl   int             `json:"timeControl"`
	Moves         []string        `json:"moves"`
	Move          json.RawMessage `json:"move"`
	UCI           string          `json:"uci"`
	SAN           string          `json:"san"`
	Reason        string          `json:"reason"`
	Error         string          `json:"error"`
	Message       string          `json:"message"`
}

// moveBody covers both the compact {uci,san} shape and the stored move record
// ({moveNotation, boardState}) pushed by older servers.
type moveBody struct {
	UCI          string `json:"uci"`
	SAN          string `json:"san"`
	MoveNotation string `json:"moveNotation"`
	BoardState   string `json:"boardState"`
}

// Decode turns one text frame into a typed Message.
// Every failure is a *ProtocolError wrapping ErrMalformed or ErrUnknownType.
func Decode(raw []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, protoErr("", raw, fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	t := strings.TrimSpace(f.Type)
	switch Type(t) {
	case TypeSnapshot, TypeGameState:
		return decodeSnapshot(t, raw, &f)
	case TypeMoveApplied, TypeMove:
		return decodeMoveApplied(t, raw, &f)
	case TypeRejected:
		reason := strings.TrimSpace(f.Reason)
		if reason == "" {
			reason = strings.TrimSpace(f.Error)
		}
		return &Rejected{Reason: reason, UCI: strings.ToLower(strings.TrimSpace(f.UCI))}, nil
	case TypeError:
		msg := strings.TrimSpace(f.Error)
		if msg == "" {
			msg = strings.TrimSpace(f.Message)
		}
		return &ServerError{Message: msg}, nil
	case "":
		return nil, protoErr("", raw, fmt.Errorf("%w: missing type", ErrMalformed))
	default:
		return nil, protoErr(t, raw, ErrUnknownType)
	}
}

func decodeSnapshot(t string, raw []byte, f *frame) (Message, error) {
	fen := strings.TrimSpace(f.FEN)
	if fen == "" {
		return nil, protoErr(t, raw, fmt.Errorf("%w: fen missing", ErrMalformed))
	}
	status := Status(strings.TrimSpace(f.Status))
	if !status.Valid() {
		return nil, protoErr(t, raw, fmt.Errorf("%w: status %q", ErrMalformed, f.Status))
	}
	clocks, err := decodeClocks(f)
	if err != nil {
		return nil, protoErr(t, raw, err)
	}
	var moves []string
	if f.Moves != nil {
		moves = make([]string, 0, len(f.Moves))
		for _, m := range f.Moves {
			if s := strings.TrimSpace(m); s != "" {
				moves = append(moves, s)
			}
		}
	}
	return &Snapshot{
		FEN:         fen,
		Status:      status,
		Result:      Result(strings.TrimSpace(f.Result)),
		Clocks:      clocks,
		TimeControl: f.TimeControl,
		Moves:       moves,
	}, nil
}

func decodeMoveApplied(t string, raw []byte, f *frame) (Message, error) {
	out := &MoveApplied{
		UCI:    strings.TrimSpace(f.UCI),
		SAN:    strings.TrimSpace(f.SAN),
		FEN:    strings.TrimSpace(f.FEN),
		Result: Result(strings.TrimSpace(f.Result)),
	}
	if body := bytes.TrimSpace(f.Move); len(body) > 0 && !bytes.Equal(body, []byte("null")) {
		switch body[0] {
		case '"':
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return nil, protoErr(t, raw, fmt.Errorf("%w: move: %v", ErrMalformed, err))
			}
			if out.UCI == "" {
				out.UCI = strings.TrimSpace(s)
			}
		case '{':
			var mb moveBody
			if err := json.Unmarshal(body, &mb); err != nil {
				return nil, protoErr(t, raw, fmt.Errorf("%w: move: %v", ErrMalformed, err))
			}
			if out.UCI == "" {
				out.UCI = strings.TrimSpace(mb.UCI)
			}
			if out.UCI == "" {
				out.UCI = strings.TrimSpace(mb.MoveNotation)
			}
			if out.SAN == "" {
				out.SAN = strings.TrimSpace(mb.SAN)
			}
			if out.FEN == "" {
				out.FEN = strings.TrimSpace(mb.BoardState)
			}
		default:
			return nil, protoErr(t, raw, fmt.Errorf("%w: move has unexpected shape", ErrMalformed))
		}
	}
	out.UCI = strings.ToLower(out.UCI)
	if out.UCI == "" && out.SAN == "" {
		return nil, protoErr(t, raw, fmt.Errorf("%w: move notation missing", ErrMalformed))
	}
	if s := strings.TrimSpace(f.Status); s != "" {
		out.Status = Status(s)
		if !out.Status.Valid() {
			return nil, protoErr(t, raw, fmt.Errorf("%w: status %q", ErrMalformed, s))
		}
	}
	clocks, err := decodeClocks(f)
	if err != nil {
		return nil, protoErr(t, raw, err)
	}
	out.Clocks = clocks
	return out, nil
}

// decodeClocks requires both sides or neither.
func decodeClocks(f *frame) (*Clocks, error) {
	switch {
	case f.WhiteTimeLeft == nil && f.BlackTimeLeft == nil:
		return nil, nil
	case f.WhiteTimeLeft == nil || f.BlackTimeLeft == nil:
		return nil, fmt.Errorf("%w: clocks incomplete", ErrMalformed)
	}
	c := &Clocks{White: *f.WhiteTimeLeft, Black: *f.BlackTimeLeft}
	if c.White < 0 {
		c.White = 0
	}
	if c.Black < 0 {
		c.Black = 0
	}
	return c, nil
}

func protoErr(t string, raw []byte, err error) *ProtocolError {
	preview := string(raw)
	if len(preview) > rawPreviewLimit {
		preview = preview[:rawPreviewLimit]
	}
	return &ProtocolError{Type: t, Raw: preview, Err: err}
}
