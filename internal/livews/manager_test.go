package livews

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/park285/cheese-live/pkg/liveproto"
)

const waitTimeout = 2 * time.Second

type fakeTransport struct {
	in     chan []byte
	sent   chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	code int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		sent:   make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case <-f.closed:
		f.mu.Lock()
		defer f.mu.Unlock()
		return nil, &CloseError{Code: f.code}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(_ context.Context, v any) error {
	select {
	case <-f.closed:
		return errors.New("closed")
	default:
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.sent <- b
	return nil
}

func (f *fakeTransport) Ping(context.Context) error { return nil }

func (f *fakeTransport) Close(normal bool, _ string) error {
	code := 1001
	if normal {
		code = 1000
	}
	f.drop(code)
	return nil
}

// drop simulates the peer closing with code.
func (f *fakeTransport) drop(code int) {
	f.once.Do(func() {
		f.mu.Lock()
		f.code = code
		f.mu.Unlock()
		close(f.closed)
	})
}

func (f *fakeTransport) closeCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

type dialResult struct {
	t   Transport
	err error
}

type fakeDialer struct {
	next    chan dialResult
	started chan struct{}
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{next: make(chan dialResult, 8), started: make(chan struct{}, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context) (Transport, error) {
	d.started <- struct{}{}
	select {
	case r := <-d.next:
		return r.t, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type harness struct {
	m      *Manager
	clock  *clockwork.FakeClock
	dialer *fakeDialer
	events chan Event
	msgs   chan liveproto.Message
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()
	h := &harness{
		clock:  clockwork.NewFakeClock(),
		dialer: newFakeDialer(),
		events: make(chan Event, 32),
		msgs:   make(chan liveproto.Message, 32),
	}
	h.m = NewManager(h.dialer, Options{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		DialTimeout: 10 * time.Second,
		Clock:       h.clock,
	})
	h.m.OnEvent(func(e Event) { h.events <- e })
	h.m.OnMessage(func(m liveproto.Message) { h.msgs <- m })
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = h.m.Close(ctx)
	})
	return h
}

func (h *harness) waitEvent(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-h.events:
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func (h *harness) waitDial(t *testing.T) {
	t.Helper()
	select {
	case <-h.dialer.started:
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for dial")
	}
}

func (h *harness) expectNoDial(t *testing.T) {
	t.Helper()
	select {
	case <-h.dialer.started:
		t.Fatalf("unexpected dial")
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) open(t *testing.T, reconnected bool) *fakeTransport {
	t.Helper()
	tr := newFakeTransport()
	h.dialer.next <- dialResult{t: tr}
	e := h.waitEvent(t, EventOpened)
	if e.Reconnected != reconnected {
		t.Fatalf("reconnected=%v want %v", e.Reconnected, reconnected)
	}
	return tr
}

func TestManager_DeliversMessagesAndProtocolErrors(t *testing.T) {
	h := newHarness(t, 5)
	h.m.Connect()
	h.waitDial(t)
	tr := h.open(t, false)

	tr.in <- []byte(`{"type":"error","error":"nope"}`)
	tr.in <- []byte(`{"type":`)
	tr.in <- []byte(`{"type":"rejected","reason":"late"}`)

	select {
	case msg := <-h.msgs:
		if e, ok := msg.(*liveproto.ServerError); !ok || e.Message != "nope" {
			t.Fatalf("unexpected first message: %#v", msg)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("no message delivered")
	}
	pe := h.waitEvent(t, EventProtocolError)
	if !errors.Is(pe.Err, liveproto.ErrMalformed) {
		t.Fatalf("unexpected protocol error: %v", pe.Err)
	}
	select {
	case msg := <-h.msgs:
		if _, ok := msg.(*liveproto.Rejected); !ok {
			t.Fatalf("unexpected second message: %#v", msg)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("frame after protocol error not delivered")
	}
	if h.m.State() != StateOpen {
		t.Fatalf("protocol error must not drop the connection, state=%s", h.m.State())
	}
}

func TestManager_AbnormalCloseRetriesOnceAfterBackoff(t *testing.T) {
	h := newHarness(t, 5)
	h.m.Connect()
	h.waitDial(t)
	tr := h.open(t, false)

	tr.drop(1006)
	deg := h.waitEvent(t, EventDegraded)
	if deg.Attempt != 1 || deg.Delay != time.Second {
		t.Fatalf("unexpected degraded event: %+v", deg)
	}
	if h.m.State() != StateClosed {
		t.Fatalf("state=%s", h.m.State())
	}

	h.clock.Advance(999 * time.Millisecond)
	h.expectNoDial(t)
	h.clock.Advance(time.Millisecond)
	h.waitDial(t)
	h.expectNoDial(t)

	h.open(t, true)
	if h.m.Attempt() != 0 {
		t.Fatalf("attempt should reset on open, got %d", h.m.Attempt())
	}
}

func TestManager_NormalCloseStaysIdle(t *testing.T) {
	h := newHarness(t, 5)
	h.m.Connect()
	h.waitDial(t)
	tr := h.open(t, false)

	tr.drop(1001)
	h.waitEvent(t, EventIdle)
	h.clock.Advance(10 * time.Second)
	h.expectNoDial(t)
	if h.m.State() != StateIdle {
		t.Fatalf("state=%s", h.m.State())
	}
}

func TestManager_DisconnectCancelsRetry(t *testing.T) {
	h := newHarness(t, 5)
	h.m.Connect()
	h.waitDial(t)
	tr := h.open(t, false)

	tr.drop(1011)
	h.waitEvent(t, EventDegraded)
	h.m.Disconnect()
	h.waitEvent(t, EventIdle)
	h.m.Disconnect()

	h.clock.Advance(30 * time.Second)
	h.expectNoDial(t)
	if h.m.State() != StateIdle {
		t.Fatalf("state=%s", h.m.State())
	}
}

func TestManager_DisconnectClosesNormally(t *testing.T) {
	h := newHarness(t, 5)
	h.m.Connect()
	h.waitDial(t)
	tr := h.open(t, false)

	h.m.Disconnect()
	h.waitEvent(t, EventIdle)
	if tr.closeCode() != 1000 {
		t.Fatalf("expected normal closure, got %d", tr.closeCode())
	}
	if err := h.m.Send(context.Background(), liveproto.NewSyncRequest()); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after disconnect, got %v", err)
	}
}

func TestManager_SendOnlyWhenOpen(t *testing.T) {
	h := newHarness(t, 5)
	if err := h.m.Send(context.Background(), liveproto.NewMoveRequest("e2e4")); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	h.m.Connect()
	h.waitDial(t)
	tr := h.open(t, false)
	if err := h.m.Send(context.Background(), liveproto.NewMoveRequest("e2e4")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case b := <-tr.sent:
		if string(b) != `{"type":"move","uci":"e2e4"}` {
			t.Fatalf("unexpected frame %s", b)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("frame not written")
	}
}

func TestManager_DialTimeoutCountsAsFailure(t *testing.T) {
	h := newHarness(t, 5)
	h.m.Connect()
	h.waitDial(t)
	h.clock.Advance(10 * time.Second)
	deg := h.waitEvent(t, EventDegraded)
	if deg.Attempt != 1 {
		t.Fatalf("unexpected attempt %d", deg.Attempt)
	}
}

func TestManager_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, 1)
	refused := errors.New("refused")
	h.m.Connect()
	h.waitDial(t)
	h.dialer.next <- dialResult{err: refused}
	h.waitEvent(t, EventDegraded)

	h.clock.Advance(time.Second)
	h.waitDial(t)
	h.dialer.next <- dialResult{err: refused}
	fatal := h.waitEvent(t, EventFatal)
	if !errors.Is(fatal.Err, refused) {
		t.Fatalf("unexpected fatal error: %v", fatal.Err)
	}
	h.clock.Advance(time.Minute)
	h.expectNoDial(t)
}
