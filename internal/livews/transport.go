package livews

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// HeaderProvider allows injecting headers into the handshake.
type HeaderProvider func() map[string]string

// Transport is one established connection.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, v any) error
	Ping(ctx context.Context) error
	Close(normal bool, reason string) error
}

// Dialer opens a Transport. It must honor ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// CloseError is returned by Transport.Read when the peer closed the connection.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code=%d reason=%s", e.Code, e.Reason)
}

// IsNormalClosure reports whether err is a close with 1000 (normal) or 1001 (going away).
func IsNormalClosure(err error) bool {
	var ce *CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == int(websocket.StatusNormalClosure) || ce.Code == int(websocket.StatusGoingAway)
}

// WSDialer dials with nhooyr.io/websocket.
type WSDialer struct {
	URL     string
	Headers HeaderProvider
}

func (d *WSDialer) Dial(ctx context.Context) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      d.buildHeaders(),
	})
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

func (d *WSDialer) buildHeaders() http.Header {
	hdr := http.Header{}
	if d.Headers == nil {
		return hdr
	}
	for k, v := range d.Headers() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		if code := websocket.CloseStatus(err); code != -1 {
			var ce websocket.CloseError
			reason := ""
			if errors.As(err, &ce) {
				reason = ce.Reason
			}
			return nil, &CloseError{Code: int(code), Reason: reason}
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Write(ctx context.Context, v any) error {
	return wsjson.Write(ctx, t.conn, v)
}

func (t *wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *wsTransport) Close(normal bool, reason string) error {
	code := websocket.StatusGoingAway
	if normal {
		code = websocket.StatusNormalClosure
	}
	return t.conn.Close(code, reason)
}

// GameURL derives the live endpoint for a game from the REST base URL.
// An explicit wsBase wins over the derived one. The server reads the token from the query.
func GameURL(serverURL, wsBase, gameID, token string) (string, error) {
	base := strings.TrimSpace(wsBase)
	if base == "" {
		u, err := url.Parse(strings.TrimSpace(serverURL))
		if err != nil {
			return "", fmt.Errorf("parse server url: %w", err)
		}
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		case "http":
			u.Scheme = "ws"
		case "ws", "wss":
		default:
			return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
		}
		u.Path = strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/api") + "/api/ws/games"
		base = u.String()
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + url.PathEscape(strings.TrimSpace(gameID)))
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}
	if strings.TrimSpace(token) != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
