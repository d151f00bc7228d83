package casambi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/larkov/casambi-bridge/internal/clock"
)

// Default connection tuning. The watchdog allows a small grace beyond
// the probe interval before declaring the connection dead.
const (
	defaultKeepaliveInterval = 30 * time.Second
	defaultWatchdogGrace     = 2 * time.Second
	defaultReconnectDelay    = 5 * time.Second
)

// ConnState is the lifecycle state of the physical connection.
type ConnState int

// Connection lifecycle states.
const (
	StateAbsent ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateLost
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ConnectionStats holds operational statistics.
type ConnectionStats struct {
	State         ConnState
	FramesRx      uint64
	FramesTx      uint64
	FramesDropped uint64 // frames dropped due to decode failure
	Reconnects    uint64 // successful re-opens after a loss
	Timeouts      uint64 // keepalive watchdog expiries
	LastActivity  time.Time
}

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	// Dialer establishes the physical socket. Required.
	Dialer Dialer

	// Clock drives keepalive and reconnect timers. Defaults to the
	// real clock; tests inject a fake.
	Clock clock.Clock

	// Logger is optional structured logging.
	Logger Logger

	// KeepaliveInterval is the liveness probe period. Default 30s.
	KeepaliveInterval time.Duration

	// WatchdogTimeout declares the connection dead when no liveness
	// acknowledgment arrives within it. Default KeepaliveInterval+2s.
	WatchdogTimeout time.Duration

	// ReconnectDelay is the fixed delay before every reconnect
	// attempt. Default 5s. Retries are infinite: the gateway's own
	// connectivity is outside this system's control, so giving up
	// is never correct.
	ReconnectDelay time.Duration
}

// openResult resolves an awaited open handshake.
type openResult struct {
	wire int
	err  error
}

// pendingOpen tracks one in-flight open handshake keyed by its ref.
type pendingOpen struct {
	wire int
	ch   chan openResult
}

// Connection owns the physical socket, the keepalive watchdog and the
// reconnect loop. Sessions share one Connection and open logical
// wires on it.
//
// Thread Safety: all methods are safe for concurrent use. Frame
// subscribers are invoked sequentially on the read goroutine and must
// not block.
type Connection struct {
	dialer            Dialer
	clk               clock.Clock
	logger            Logger
	keepaliveInterval time.Duration
	watchdogTimeout   time.Duration
	reconnectDelay    time.Duration

	mu             sync.Mutex
	state          ConnState
	transport      Transport
	closed         bool
	managerStarted bool
	openedCh       chan struct{} // closed on each transition to Open, then replaced

	nextWire     int
	pendingOpens map[string]pendingOpen

	keepaliveTimer clock.Timer
	watchdogTimer  clock.Timer

	frameSubs map[int]func(*InboundFrame)
	openSubs  map[int]func()
	closeSubs map[int]func(error)
	subSeq    int

	done      chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	framesRx      atomic.Uint64
	framesTx      atomic.Uint64
	framesDropped atomic.Uint64
	reconnects    atomic.Uint64
	timeouts      atomic.Uint64
	everOpened    atomic.Bool
	lastActivity  atomic.Int64
}

// NewConnection creates a Connection. No socket is dialled until a
// caller needs one (EnsureOpen or OpenWire).
func NewConnection(opts ConnectionOptions) (*Connection, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.KeepaliveInterval == 0 {
		opts.KeepaliveInterval = defaultKeepaliveInterval
	}
	if opts.WatchdogTimeout == 0 {
		opts.WatchdogTimeout = opts.KeepaliveInterval + defaultWatchdogGrace
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	return &Connection{
		dialer:            opts.Dialer,
		clk:               opts.Clock,
		logger:            opts.Logger,
		keepaliveInterval: opts.KeepaliveInterval,
		watchdogTimeout:   opts.WatchdogTimeout,
		reconnectDelay:    opts.ReconnectDelay,
		state:             StateAbsent,
		openedCh:          make(chan struct{}),
		nextWire:          1,
		pendingOpens:      make(map[string]pendingOpen),
		frameSubs:         make(map[int]func(*InboundFrame)),
		openSubs:          make(map[int]func()),
		closeSubs:         make(map[int]func(error)),
		done:              make(chan struct{}),
		runCtx:            runCtx,
		runCancel:         runCancel,
	}, nil
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns operational statistics.
func (c *Connection) Stats() ConnectionStats {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	return ConnectionStats{
		State:         state,
		FramesRx:      c.framesRx.Load(),
		FramesTx:      c.framesTx.Load(),
		FramesDropped: c.framesDropped.Load(),
		Reconnects:    c.reconnects.Load(),
		Timeouts:      c.timeouts.Load(),
		LastActivity:  time.Unix(c.lastActivity.Load(), 0),
	}
}

// SubscribeFrames registers a handler for every decoded inbound frame,
// tagged with its wire field. Sessions filter on wire themselves.
// Returns an unsubscribe function.
func (c *Connection) SubscribeFrames(fn func(*InboundFrame)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.subSeq
	c.subSeq++
	c.frameSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.frameSubs, id)
	}
}

// SubscribeOpened registers a handler invoked after each transition to
// Open, including reconnects. Returns an unsubscribe function.
func (c *Connection) SubscribeOpened(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.subSeq
	c.subSeq++
	c.openSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.openSubs, id)
	}
}

// SubscribeClosed registers a handler invoked after each transport
// loss with the causing error. Returns an unsubscribe function.
func (c *Connection) SubscribeClosed(fn func(error)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.subSeq
	c.subSeq++
	c.closeSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.closeSubs, id)
	}
}

// EnsureOpen blocks until the connection is Open, the context is
// cancelled, or the Connection is closed. The first caller starts the
// connect loop; concurrent callers await the same attempt rather than
// dialling twice.
func (c *Connection) EnsureOpen(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrConnectionClosed
		}
		if c.state == StateOpen {
			c.mu.Unlock()
			return nil
		}
		c.startManagerLocked()
		opened := c.openedCh
		c.mu.Unlock()

		select {
		case <-opened:
			// Re-check: the connection may already be lost again.
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrConnectionClosed
		}
	}
}

// OpenWire ensures the connection is Open, allocates the next wire ID,
// sends an open handshake with a fresh correlation token and resolves
// when the matching wireStatus reply arrives.
//
// The wire ID counter is owned exclusively by the Connection; IDs are
// never reused while the process lives.
func (c *Connection) OpenWire(ctx context.Context, networkID, sessionToken string) (int, error) {
	if err := c.EnsureOpen(ctx); err != nil {
		return 0, err
	}

	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	transport := c.transport
	wire := c.nextWire
	c.nextWire++
	ref := uuid.NewString()
	ch := make(chan openResult, 1)
	c.pendingOpens[ref] = pendingOpen{wire: wire, ch: ch}
	c.mu.Unlock()

	frame := NewOpenFrame(networkID, sessionToken, ref, wire)
	data, err := EncodeFrame(frame)
	if err != nil {
		c.removePending(ref)
		return 0, err
	}
	if err := transport.WriteMessage(data); err != nil {
		c.removePending(ref)
		return 0, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	c.framesTx.Add(1)
	c.logDebug("open handshake sent", "network", networkID, "wire", wire)

	select {
	case res := <-ch:
		if res.err != nil {
			return 0, res.err
		}
		c.logInfo("wire opened", "network", networkID, "wire", res.wire)
		return res.wire, nil
	case <-ctx.Done():
		c.removePending(ref)
		return 0, ctx.Err()
	case <-c.done:
		c.removePending(ref)
		return 0, ErrConnectionClosed
	}
}

// CloseWire releases a wire. Best effort: a lost connection has
// already released every wire server-side.
func (c *Connection) CloseWire(wire int) error {
	return c.SendFrame(NewCloseFrame(wire))
}

// SendFrame encodes and transmits one outbound frame. Fire and
// forget: it fails only when the connection is not Open or the write
// itself fails.
func (c *Connection) SendFrame(frame any) error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	transport := c.transport
	c.mu.Unlock()

	data, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	if err := transport.WriteMessage(data); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	c.framesTx.Add(1)
	return nil
}

// Close shuts the connection down permanently. It never reconnects
// afterwards.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosing
	transport := c.transport
	c.stopTimersLocked()
	c.mu.Unlock()

	close(c.done)
	c.runCancel()
	if transport != nil {
		_ = transport.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateAbsent
	c.transport = nil
	c.mu.Unlock()

	c.logInfo("connection closed")
	return nil
}

// startManagerLocked launches the connect/reconnect loop once.
// Callers hold c.mu.
func (c *Connection) startManagerLocked() {
	if c.managerStarted || c.closed {
		return
	}
	c.managerStarted = true
	c.wg.Add(1)
	go c.run()
}

// run is the connect/reconnect loop. It exits only on Close. A failed
// attempt and a lost connection both funnel into the same fixed-delay
// retry; duplicate loops are prevented by managerStarted, not ad hoc
// flags on each trigger path.
func (c *Connection) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.setState(StateConnecting)
		c.logDebug("connecting")

		transport, err := c.dialer.DialContext(c.runCtx)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logWarn("connect failed", "error", err)
			c.setState(StateAbsent)
			if !c.waitReconnectDelay() {
				return
			}
			continue
		}

		c.installTransport(transport)
		readErr := c.readLoop(transport)
		c.teardownTransport(readErr)

		select {
		case <-c.done:
			return
		default:
		}
		if !c.waitReconnectDelay() {
			return
		}
	}
}

// waitReconnectDelay sleeps the fixed reconnect delay on the injected
// clock. Returns false when the Connection closed while waiting.
func (c *Connection) waitReconnectDelay() bool {
	wake := make(chan struct{})
	timer := c.clk.AfterFunc(c.reconnectDelay, func() { close(wake) })
	defer timer.Stop()

	select {
	case <-wake:
		return true
	case <-c.done:
		return false
	}
}

// installTransport publishes a freshly dialled transport as Open and
// arms the keepalive cycle.
func (c *Connection) installTransport(transport Transport) {
	transport.SetPongHandler(c.handlePong)

	c.mu.Lock()
	c.transport = transport
	c.state = StateOpen
	c.keepaliveTimer = c.clk.AfterFunc(c.keepaliveInterval, c.keepaliveTick)
	c.watchdogTimer = c.clk.AfterFunc(c.watchdogTimeout, c.watchdogExpired)
	opened := c.openedCh
	subs := make([]func(), 0, len(c.openSubs))
	for _, fn := range c.openSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	if c.everOpened.Swap(true) {
		c.reconnects.Add(1)
	}
	c.lastActivity.Store(c.clk.Now().Unix())
	close(opened)
	for _, fn := range subs {
		fn()
	}
	c.logInfo("connection open")
}

// teardownTransport handles any transport loss: peer close, network
// failure, or a force-close from the watchdog.
func (c *Connection) teardownTransport(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateLost
	transport := c.transport
	c.transport = nil
	c.stopTimersLocked()
	pending := c.pendingOpens
	c.pendingOpens = make(map[string]pendingOpen)
	c.openedCh = make(chan struct{})
	subs := make([]func(error), 0, len(c.closeSubs))
	for _, fn := range c.closeSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	if transport != nil {
		_ = transport.Close()
	}
	for _, p := range pending {
		p.ch <- openResult{err: ErrConnectionLost}
	}
	for _, fn := range subs {
		fn(cause)
	}
	c.logWarn("connection lost", "error", cause)
}

// stopTimersLocked stops and clears the keepalive timers. Callers
// hold c.mu.
func (c *Connection) stopTimersLocked() {
	if c.keepaliveTimer != nil {
		c.keepaliveTimer.Stop()
		c.keepaliveTimer = nil
	}
	if c.watchdogTimer != nil {
		c.watchdogTimer.Stop()
		c.watchdogTimer = nil
	}
}

// readLoop pumps inbound frames until the transport fails.
func (c *Connection) readLoop(transport Transport) error {
	for {
		data, err := transport.ReadMessage()
		if err != nil {
			return err
		}
		c.framesRx.Add(1)
		c.lastActivity.Store(c.clk.Now().Unix())

		frame, derr := DecodeFrame(data)
		if derr != nil {
			// Malformed frames are dropped, never fatal.
			c.framesDropped.Add(1)
			c.logWarn("dropping malformed frame", "error", derr)
			continue
		}
		c.dispatch(frame)
	}
}

// dispatch resolves wireStatus replies against pending opens and fans
// every frame out to subscribers.
func (c *Connection) dispatch(frame *InboundFrame) {
	if frame.WireStatus != "" && frame.Ref != "" {
		c.resolveOpen(frame)
	}

	c.mu.Lock()
	subs := make([]func(*InboundFrame), 0, len(c.frameSubs))
	for _, fn := range c.frameSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(frame)
	}
}

// resolveOpen completes the pending handshake matching the reply's
// correlation token. Unmatched replies are ignored: the pending entry
// may have timed out or been cleared by a loss.
func (c *Connection) resolveOpen(frame *InboundFrame) {
	c.mu.Lock()
	p, ok := c.pendingOpens[frame.Ref]
	if ok {
		delete(c.pendingOpens, frame.Ref)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if frame.WireStatus == WireStatusOpenSucceed {
		p.ch <- openResult{wire: p.wire}
		return
	}
	p.ch <- openResult{err: fmt.Errorf("%w: %s", ErrWireOpenRejected, frame.WireStatus)}
}

// removePending drops a pending open after a local failure.
func (c *Connection) removePending(ref string) {
	c.mu.Lock()
	delete(c.pendingOpens, ref)
	c.mu.Unlock()
}

// keepaliveTick sends a liveness probe and rearms itself.
func (c *Connection) keepaliveTick() {
	c.mu.Lock()
	transport := c.transport
	state := c.state
	timer := c.keepaliveTimer
	c.mu.Unlock()

	if state != StateOpen || transport == nil || timer == nil {
		return
	}
	if err := transport.WritePing(); err != nil {
		// The read loop notices the broken socket; nothing to do here.
		c.logDebug("liveness probe failed", "error", err)
	}
	timer.Reset(c.keepaliveInterval)
}

// handlePong rearms the watchdog on every liveness acknowledgment.
func (c *Connection) handlePong() {
	c.lastActivity.Store(c.clk.Now().Unix())
	c.mu.Lock()
	timer := c.watchdogTimer
	state := c.state
	c.mu.Unlock()

	if state == StateOpen && timer != nil {
		timer.Reset(c.watchdogTimeout)
	}
}

// watchdogExpired declares the connection dead when no acknowledgment
// arrived in time and forces the transport closed. The read loop then
// unblocks and the loss path runs as for any other failure.
func (c *Connection) watchdogExpired() {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	transport := c.transport
	c.mu.Unlock()

	c.timeouts.Add(1)
	c.logWarn("keepalive timeout, forcing close")
	if transport != nil {
		_ = transport.Close()
	}
}

func (c *Connection) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Connection) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Connection) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Connection) setState(state ConnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
