package livews

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/park285/cheese-live/pkg/liveproto"
)

var ErrNotOpen = errf("connection not open")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// EventKind classifies connectivity notifications.
type EventKind int

const (
	EventOpened EventKind = iota
	EventDegraded
	EventFatal
	EventIdle
	EventProtocolError
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventDegraded:
		return "degraded"
	case EventFatal:
		return "fatal"
	case EventIdle:
		return "idle"
	case EventProtocolError:
		return "protocol_error"
	default:
		return "unknown"
	}
}

// Event is a connectivity notification. Reconnected is set on EventOpened when
// an earlier connection of this manager had been open.
type Event struct {
	Kind        EventKind
	Reconnected bool
	Attempt     int
	Delay       time.Duration
	Err         error
}

type Options struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	Clock        clockwork.Clock
	Logger       *zap.Logger
}

func (o *Options) withDefaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Manager runs the connection state machine against a real Dialer.
// Messages and events reach the handlers one at a time, in arrival order.
type Manager struct {
	dialer Dialer
	opts   Options
	clock  clockwork.Clock
	logger *zap.Logger

	mu         sync.Mutex
	fsm        Machine
	gen        uint64
	conn       Transport
	connCancel context.CancelFunc
	retry      clockwork.Timer
	retryGen   uint64

	writeMu sync.Mutex

	hMu       sync.RWMutex
	onMessage func(liveproto.Message)
	onEvent   func(Event)

	queue *dispatchQueue
	wg    sync.WaitGroup
}

func NewManager(dialer Dialer, opts Options) *Manager {
	opts.withDefaults()
	m := &Manager{
		dialer: dialer,
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger,
		fsm:    NewMachine(opts.MaxAttempts, opts.BaseDelay),
		queue:  newDispatchQueue(),
	}
	go m.queue.run(m.dispatch)
	return m
}

// OnMessage installs the single inbound message handler, replacing any previous one.
func (m *Manager) OnMessage(h func(liveproto.Message)) {
	m.hMu.Lock()
	m.onMessage = h
	m.hMu.Unlock()
}

// OnEvent installs the single connectivity handler, replacing any previous one.
func (m *Manager) OnEvent(h func(Event)) {
	m.hMu.Lock()
	m.onEvent = h
	m.hMu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.State
}

// Attempt returns the current reconnect attempt counter.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.Attempt
}

// Connect starts connecting. Calling it while connecting or open does nothing.
func (m *Manager) Connect() {
	m.step(Input{Kind: InConnect})
}

// Disconnect stops the manager from reconnecting, cancels a pending retry and
// closes the connection with a normal closure. It is idempotent.
func (m *Manager) Disconnect() {
	m.step(Input{Kind: InDisconnect})
}

// Close disconnects and waits for connection goroutines to exit.
func (m *Manager) Close(ctx context.Context) error {
	m.Disconnect()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		m.queue.close()
		return nil
	}
}

// Send writes v as one JSON frame. When the connection is not open the frame is
// dropped and ErrNotOpen is returned; nothing is queued for later.
func (m *Manager) Send(ctx context.Context, v any) error {
	m.mu.Lock()
	conn := m.conn
	open := m.fsm.State == StateOpen
	m.mu.Unlock()
	if !open || conn == nil {
		return ErrNotOpen
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	wctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, m.opts.WriteTimeout)
		defer cancel()
	}
	if err := conn.Write(wctx, v); err != nil {
		m.logger.Warn("live_ws_write_error", zap.Error(err))
		return err
	}
	return nil
}

func (m *Manager) step(in Input) {
	m.mu.Lock()
	closers := m.applyLocked(in)
	m.mu.Unlock()
	runClosers(closers)
}

// onTransport feeds an input produced by the connection of generation g.
func (m *Manager) onTransport(g uint64, in Input) {
	m.mu.Lock()
	if g != m.gen {
		m.mu.Unlock()
		return
	}
	closers := m.applyLocked(in)
	m.mu.Unlock()
	runClosers(closers)
}

func (m *Manager) onRetry(rg uint64) {
	m.mu.Lock()
	if rg != m.retryGen {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	closers := m.applyLocked(Input{Kind: InRetryFire})
	m.mu.Unlock()
	runClosers(closers)
}

// applyLocked advances the machine and performs its effects. Transport closes
// may block on the close handshake, so they are returned to run without the lock.
func (m *Manager) applyLocked(in Input) []func() {
	prev := m.fsm.State
	next, effects := m.fsm.Step(in)
	m.fsm = next
	if prev != next.State {
		m.logger.Debug("live_ws_state", zap.String("from", prev.String()), zap.String("to", next.State.String()))
	}

	var closers []func()
	for _, eff := range effects {
		switch eff.Kind {
		case EffDial:
			m.gen++
			ctx, cancel := context.WithCancel(context.Background())
			m.connCancel = cancel
			m.wg.Add(1)
			go m.run(ctx, m.gen)
		case EffAbortDial:
			if m.connCancel != nil {
				m.connCancel()
			}
		case EffScheduleRetry:
			m.retryGen++
			rg := m.retryGen
			m.retry = m.clock.AfterFunc(eff.Delay, func() { m.onRetry(rg) })
		case EffCancelRetry:
			m.retryGen++
			if m.retry != nil {
				m.retry.Stop()
				m.retry = nil
			}
		case EffCloseTransport:
			conn, cancel := m.conn, m.connCancel
			m.conn = nil
			normal := eff.Normal
			closers = append(closers, func() {
				if conn != nil {
					reason := "reconnect"
					if normal {
						reason = "close"
					}
					_ = conn.Close(normal, reason)
				}
				if cancel != nil {
					cancel()
				}
			})
		case EffNotifyOpen:
			m.logger.Info("live_ws_open", zap.Bool("reconnected", eff.Reconnected))
			m.queue.push(delivery{event: &Event{Kind: EventOpened, Reconnected: eff.Reconnected}})
		case EffNotifyDegraded:
			m.logger.Warn("live_ws_retry",
				zap.Int("attempt", eff.Attempt),
				zap.Duration("delay", eff.Delay),
				zap.Error(eff.Err),
			)
			m.queue.push(delivery{event: &Event{Kind: EventDegraded, Attempt: eff.Attempt, Delay: eff.Delay, Err: eff.Err}})
		case EffNotifyFatal:
			m.logger.Error("live_ws_gave_up", zap.Int("attempt", eff.Attempt), zap.Error(eff.Err))
			m.queue.push(delivery{event: &Event{Kind: EventFatal, Attempt: eff.Attempt, Err: eff.Err}})
		case EffNotifyIdle:
			m.logger.Info("live_ws_idle")
			m.queue.push(delivery{event: &Event{Kind: EventIdle}})
		}
	}
	return closers
}

func runClosers(closers []func()) {
	for _, c := range closers {
		c()
	}
}

// run dials, then serves the connection until it fails or is closed.
func (m *Manager) run(ctx context.Context, g uint64) {
	defer m.wg.Done()

	dctx, cancel := clockwork.WithTimeout(ctx, m.clock, m.opts.DialTimeout)
	conn, err := m.dialer.Dial(dctx)
	cancel()
	if err != nil {
		m.onTransport(g, Input{Kind: InHandshakeFailed, Err: err})
		return
	}

	m.mu.Lock()
	if g != m.gen {
		m.mu.Unlock()
		_ = conn.Close(true, "stale")
		return
	}
	m.conn = conn
	closers := m.applyLocked(Input{Kind: InHandshakeOK})
	serve := m.fsm.State == StateOpen && m.conn == conn
	m.mu.Unlock()
	runClosers(closers)
	if !serve {
		return
	}

	if m.opts.PingInterval > 0 {
		m.wg.Add(1)
		go m.pingLoop(ctx, g, conn)
	}
	m.readLoop(ctx, g, conn)
}

func (m *Manager) readLoop(ctx context.Context, g uint64, conn Transport) {
	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			normal := IsNormalClosure(err)
			m.logger.Info("live_ws_read_end", zap.Bool("normal", normal), zap.Error(err))
			m.onTransport(g, Input{Kind: InClosed, Normal: normal, Err: err})
			return
		}
		msg, derr := liveproto.Decode(raw)

		// frames that arrive while closing are read and discarded so the
		// close is still observed
		m.mu.Lock()
		stale := g != m.gen
		if !stale && m.fsm.State == StateOpen {
			if derr != nil {
				m.queue.push(delivery{event: &Event{Kind: EventProtocolError, Err: derr}})
			} else {
				m.queue.push(delivery{msg: msg})
			}
		}
		m.mu.Unlock()
		if stale {
			return
		}
		if derr != nil {
			m.logger.Warn("live_ws_protocol_error", zap.Error(derr))
		}
	}
}

func (m *Manager) pingLoop(ctx context.Context, g uint64, conn Transport) {
	defer m.wg.Done()
	t := m.clock.NewTicker(m.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				m.logger.Warn("live_ws_ping_failure", zap.Error(err))
				m.onTransport(g, Input{Kind: InClosed, Err: err})
				return
			}
		}
	}
}

func (m *Manager) dispatch(d delivery) {
	m.hMu.RLock()
	onMessage, onEvent := m.onMessage, m.onEvent
	m.hMu.RUnlock()
	if d.msg != nil && onMessage != nil {
		onMessage(d.msg)
	}
	if d.event != nil && onEvent != nil {
		onEvent(*d.event)
	}
}
