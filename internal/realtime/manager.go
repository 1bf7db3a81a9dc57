// Package realtime owns the single websocket connection of a signed-in user.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatlink/internal/bus"
	"github.com/matheus3301/chatlink/internal/config"
	"github.com/matheus3301/chatlink/internal/logging"
	"github.com/matheus3301/chatlink/internal/metrics"
	"github.com/matheus3301/chatlink/internal/protocol"
	"github.com/matheus3301/chatlink/internal/status"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a frame to the server.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the server.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Snapshots can be large; this bounds a single inbound frame.
	maxFrameSize = 4 << 20
)

var (
	// ErrNoUser is returned when an operation needs a signed-in user.
	ErrNoUser = errors.New("no user signed in")
	// ErrNotConnected is returned when the transport is not open.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("manager closed")
	// ErrDial wraps failures to open the transport.
	ErrDial = errors.New("dial failed")

	errStale = errors.New("connection superseded")
)

// EndpointFunc maps a user id to the realtime URL.
type EndpointFunc func(userID int64) (string, error)

// Options configures a Manager.
type Options struct {
	Endpoint  EndpointFunc
	Reconnect config.ReconnectConfig
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Manager owns at most one transport per signed-in user and fans decoded
// inbound frames out on the bus as "frame.<type>" events.
type Manager struct {
	opts    Options
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	waiters waiters

	// setMu serializes SetUser so one call finishes installing its
	// transport before the next tears it down.
	setMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	userID int64
	gen    uint64
	cancel context.CancelFunc
	closed bool

	// gorilla/websocket allows one concurrent writer.
	writeMu sync.Mutex
}

// NewManager creates a disconnected manager.
func NewManager(opts Options, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Reconnect.Policy == "" {
		opts.Reconnect = config.Default().Reconnect
	}
	metrics.SetState(string(machine.Current()))
	return &Manager{
		opts:    opts,
		bus:     b,
		machine: machine,
		logger:  logging.OrNop(logger),
	}
}

// UserID returns the last user id passed to SetUser.
func (m *Manager) UserID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// IsConnected reports whether the transport is open.
func (m *Manager) IsConnected() bool {
	return m.machine.Is(status.Open)
}

// SetUser points the manager at a user. An unchanged user with an open
// transport keeps it; any other change closes the current transport first.
// User 0 means nobody is signed in and never opens a transport.
func (m *Manager) SetUser(ctx context.Context, userID int64) error {
	m.setMu.Lock()
	defer m.setMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if userID == m.userID && m.conn != nil && m.machine.Is(status.Open) {
		m.mu.Unlock()
		m.logger.Debug("connection already open", zap.Int64("user_id", userID))
		return nil
	}
	m.mu.Unlock()

	m.teardown()

	m.mu.Lock()
	m.userID = userID
	gen := m.gen
	m.mu.Unlock()

	if userID == 0 {
		m.logger.Info("no user signed in, skipping connection")
		return nil
	}

	endpoint, err := m.opts.Endpoint(userID)
	if err != nil {
		m.logger.Error("realtime endpoint unavailable", zap.Error(err))
		return fmt.Errorf("endpoint: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	if err := m.connect(ctx, gen, endpoint); err != nil {
		if !errors.Is(err, errStale) {
			m.closedUnclean(runCtx, gen, userID, endpoint, err)
		}
		return fmt.Errorf("connect: %w", err)
	}
	m.watch(runCtx, gen, userID, endpoint)
	return nil
}

// Close tears down the transport. The manager cannot be reused.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.teardown()
}

// Send writes a frame if the transport is open. Otherwise the frame is
// dropped and logged; Send never queues and never fails loudly.
func (m *Manager) Send(out protocol.Outbound) bool {
	return m.send(out, uuid.NewString())
}

// Request sends out and waits for the reply of type want. The reply is the
// inbound frame echoing the request id, or, when the server does not echo
// ids, the next frame of type want.
func (m *Manager) Request(ctx context.Context, out protocol.Outbound, want protocol.InboundType) (protocol.Inbound, error) {
	if m.UserID() == 0 {
		return nil, ErrNoUser
	}
	id := uuid.NewString()
	w := m.waiters.add(id, want)
	defer m.waiters.remove(w)

	if !m.send(out, id) {
		return nil, ErrNotConnected
	}
	select {
	case r := <-w.ch:
		return r.in, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) send(out protocol.Outbound, requestID string) bool {
	m.mu.Lock()
	conn, userID := m.conn, m.userID
	m.mu.Unlock()

	if conn == nil || !m.machine.Is(status.Open) {
		m.logger.Info("cannot send frame, socket not connected",
			zap.String("type", string(out.Type())),
			zap.String("state", string(m.machine.Current())))
		metrics.IncDropped(metrics.DropNotOpen)
		return false
	}

	raw, err := protocol.Encode(out, userID, requestID)
	if err != nil {
		m.logger.Error("failed to encode frame", zap.Error(err))
		return false
	}

	m.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, raw)
	m.writeMu.Unlock()
	if err != nil {
		m.logger.Warn("write frame failed", zap.String("type", string(out.Type())), zap.Error(err))
		return false
	}

	metrics.IncOutbound(string(out.Type()))
	m.logger.Debug("frame sent", zap.String("type", string(out.Type())), zap.String("request_id", requestID))
	return true
}

func (m *Manager) transition(to status.State) {
	if err := m.machine.Transition(to); err != nil {
		m.logger.Debug("state transition skipped", zap.Error(err))
		return
	}
	metrics.SetState(string(to))
}

// connect dials once. On success the transport is installed for generation gen.
func (m *Manager) connect(ctx context.Context, gen uint64, endpoint string) error {
	m.transition(status.Connecting)
	m.logger.Info("connecting", zap.String("endpoint", endpoint))

	conn, resp, err := m.opts.Dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		m.transition(status.Error)
		m.transition(status.Disconnected)
		return fmt.Errorf("%w: %w", ErrDial, err)
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = conn.Close()
		return errStale
	}
	m.conn = conn
	m.mu.Unlock()

	m.transition(status.Open)
	m.logger.Info("connected", zap.String("endpoint", endpoint))
	return nil
}

// watch starts the pumps for the installed transport.
func (m *Manager) watch(runCtx context.Context, gen uint64, userID int64, endpoint string) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	stop := make(chan struct{})
	go m.pingLoop(conn, stop)
	go func() {
		code, err := m.readPump(conn)
		close(stop)
		m.handleClosed(runCtx, conn, gen, userID, endpoint, code, err)
	}()
}

// readPump decodes frames until the transport fails and returns the close code.
func (m *Manager) readPump(conn *websocket.Conn) (int, error) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code, err
			}
			return websocket.CloseAbnormalClosure, err
		}
		m.dispatch(raw)
	}
}

// dispatch decodes one frame and publishes it. Bad frames are logged and dropped.
func (m *Manager) dispatch(raw []byte) {
	in, err := protocol.Decode(raw)
	if err != nil {
		m.logger.Warn("dropping inbound frame", zap.Error(err), zap.ByteString("raw", truncate(raw, 256)))
		metrics.IncDropped(metrics.DropDecode)
		return
	}
	metrics.IncInbound(string(in.Type()))
	m.logger.Debug("frame received", zap.String("type", string(in.Type())))

	m.waiters.resolve(in)
	m.bus.Emit(bus.FrameKind(string(in.Type())), in)
}

func (m *Manager) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			m.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (m *Manager) handleClosed(runCtx context.Context, conn *websocket.Conn, gen uint64, userID int64, endpoint string, code int, err error) {
	m.mu.Lock()
	stale := gen != m.gen
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()

	if stale {
		// teardown already settled the state machine.
		return
	}

	m.waiters.failAll(ErrNotConnected)
	if code == websocket.CloseNormalClosure {
		m.logger.Info("connection closed", zap.Int("code", code))
		m.transition(status.Closing)
		m.transition(status.Disconnected)
		return
	}

	m.logger.Warn("connection lost", zap.Int("code", code), zap.Int64("user_id", userID), zap.Error(err))
	m.transition(status.Error)
	m.transition(status.Disconnected)
	m.closedUnclean(runCtx, gen, userID, endpoint, err)
}

// closedUnclean applies the reconnect policy after a failed dial or an
// abnormal close.
func (m *Manager) closedUnclean(runCtx context.Context, gen uint64, userID int64, endpoint string, cause error) {
	rc := m.opts.Reconnect
	if userID == 0 {
		return
	}
	if rc.Policy == config.ReconnectNone {
		m.logger.Warn("reconnect disabled, staying disconnected",
			zap.Duration("would_retry_in", rc.InitialInterval.Duration), zap.Error(cause))
		m.bus.Emit(bus.KindReconnectPending, ReconnectNotice{UserID: userID, Attempt: 0, Delay: 0})
		return
	}
	go m.reconnect(runCtx, gen, userID, endpoint)
}

// ReconnectNotice is the payload of conn.reconnect_pending events.
type ReconnectNotice struct {
	UserID  int64
	Attempt int
	Delay   time.Duration
}

func (m *Manager) newBackOff(ctx context.Context) backoff.BackOff {
	rc := m.opts.Reconnect
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = rc.InitialInterval.Duration
	eb.MaxInterval = rc.MaxInterval.Duration
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	if rc.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, rc.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

func (m *Manager) reconnect(runCtx context.Context, gen uint64, userID int64, endpoint string) {
	attempt := 0
	op := func() error {
		m.mu.Lock()
		stale := gen != m.gen
		m.mu.Unlock()
		if stale {
			return backoff.Permanent(errStale)
		}
		attempt++
		metrics.IncReconnect()
		m.transition(status.Reconnecting)
		return m.connect(runCtx, gen, endpoint)
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Info("reconnect scheduled", zap.Int("attempt", attempt+1), zap.Duration("in", wait), zap.Error(err))
		m.bus.Emit(bus.KindReconnectPending, ReconnectNotice{UserID: userID, Attempt: attempt + 1, Delay: wait})
	}

	// RetryNotify dials immediately, so wait out the initial interval first.
	first := m.opts.Reconnect.InitialInterval.Duration
	notify(nil, first)
	timer := time.NewTimer(first)
	select {
	case <-timer.C:
	case <-runCtx.Done():
		timer.Stop()
		return
	}

	if err := backoff.RetryNotify(op, m.newBackOff(runCtx), notify); err != nil {
		if !errors.Is(err, errStale) && !errors.Is(err, context.Canceled) {
			m.logger.Error("giving up on reconnect", zap.Int("attempts", attempt), zap.Error(err))
		}
		return
	}
	m.logger.Info("reconnected", zap.Int("attempts", attempt))
	m.watch(runCtx, gen, userID, endpoint)
}

// teardown closes the current transport with a normal-closure frame and
// invalidates every goroutine started for it.
func (m *Manager) teardown() {
	m.mu.Lock()
	m.gen++
	conn := m.conn
	m.conn = nil
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		m.transition(status.Closing)
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		m.writeMu.Unlock()
		_ = conn.Close()
	}
	m.machine.Settle()
	metrics.SetState(string(m.machine.Current()))
	m.waiters.failAll(ErrNotConnected)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
