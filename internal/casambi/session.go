package casambi

import (
	"context"
	"sync"
	"time"
)

// openHandshakeTimeout bounds a background wire open, independent of
// the connection's own keepalive timeout, so callers never appear to
// hang on a socket that is about to be declared dead.
const openHandshakeTimeout = 30 * time.Second

// UnitEvent is a state push for one unit, scoped to the session's
// network.
type UnitEvent struct {
	NetworkID string
	UnitID    int
	State     UnitState
}

// PeerEvent reports a gateway peer appearing or disappearing on the
// network.
type PeerEvent struct {
	NetworkID string
	Online    bool
}

// NetworkEvent reports a network-level configuration update.
type NetworkEvent struct {
	NetworkID string
}

// Session represents one authenticated logical network sharing the
// common Connection. It memoizes its wire ID and re-emits inbound
// events filtered to that wire, so sessions sharing a socket never
// cross-deliver.
//
// Thread Safety: all methods are safe for concurrent use.
type Session struct {
	info   NetworkSession
	conn   *Connection
	rest   *RESTClient
	logger Logger

	mu          sync.Mutex
	wireID      int    // 0 = not open
	wireGen     uint64 // bumped on connection loss to discard stale opens
	opening     chan struct{}
	lastOpenErr error

	unitSubs    map[int]func(UnitEvent)
	peerSubs    map[int]func(PeerEvent)
	networkSubs map[int]func(NetworkEvent)
	subSeq      int

	unsubFrames func()
	unsubClosed func()
	closeOnce   sync.Once
}

// NewSession attaches a session for one network to the shared
// Connection. The wire is opened lazily on the first command or an
// explicit EnsureWireOpen.
func NewSession(info NetworkSession, conn *Connection, rest *RESTClient, logger Logger) *Session {
	s := &Session{
		info:        info,
		conn:        conn,
		rest:        rest,
		logger:      logger,
		unitSubs:    make(map[int]func(UnitEvent)),
		peerSubs:    make(map[int]func(PeerEvent)),
		networkSubs: make(map[int]func(NetworkEvent)),
	}
	s.unsubFrames = conn.SubscribeFrames(s.handleFrame)
	s.unsubClosed = conn.SubscribeClosed(s.handleConnClosed)
	return s
}

// Network returns the session's network identity.
func (s *Session) Network() NetworkSession {
	return s.info
}

// WireID returns the current wire ID, 0 when no wire is open.
func (s *Session) WireID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wireID
}

// EnsureWireOpen returns the memoized wire ID, opening a wire first
// when none is open. Concurrent callers share a single in-flight
// handshake and all resolve with the same wire ID or the same error.
func (s *Session) EnsureWireOpen(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.wireID != 0 {
		wire := s.wireID
		s.mu.Unlock()
		return wire, nil
	}
	if s.opening == nil {
		s.opening = make(chan struct{})
		go s.openWire(s.wireGen)
	}
	pending := s.opening
	s.mu.Unlock()

	select {
	case <-pending:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wireID != 0 {
		return s.wireID, nil
	}
	return 0, s.lastOpenErr
}

// openWire performs the single in-flight open handshake on behalf of
// every waiting EnsureWireOpen caller. gen is the wire generation at
// the time the handshake started: if the connection dropped while the
// handshake was in flight, the wire died with it and the result is
// discarded rather than memoized.
func (s *Session) openWire(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), openHandshakeTimeout)
	defer cancel()

	wire, err := s.conn.OpenWire(ctx, s.info.NetworkID, s.info.Token)

	s.mu.Lock()
	switch {
	case err != nil:
		s.lastOpenErr = err
	case gen != s.wireGen:
		err = ErrNotConnected
		s.lastOpenErr = err
	default:
		s.wireID = wire
		s.lastOpenErr = nil
	}
	pending := s.opening
	s.opening = nil
	s.mu.Unlock()

	if err != nil {
		s.logWarn("wire open failed", "network", s.info.NetworkID, "error", err)
	}
	close(pending)
}

// SendControlUnit ensures a wire is open and transmits a controlUnit
// frame for the unit. It resolves when transmission succeeds; device
// confirmation arrives later as an ordinary unitChanged event.
func (s *Session) SendControlUnit(ctx context.Context, unitID int, targets TargetControls) error {
	wire, err := s.EnsureWireOpen(ctx)
	if err != nil {
		return err
	}
	return s.conn.SendFrame(NewControlFrame(wire, unitID, targets))
}

// RequestUnitList fetches the network's unit list over REST.
func (s *Session) RequestUnitList(ctx context.Context) ([]Unit, error) {
	return s.rest.Units(ctx, s.info)
}

// RequestUnitState fetches one unit's state snapshot over REST.
func (s *Session) RequestUnitState(ctx context.Context, unitID int) (UnitState, error) {
	return s.rest.UnitState(ctx, s.info, unitID)
}

// RequestFullState fetches the whole network's state snapshot over REST.
func (s *Session) RequestFullState(ctx context.Context) (map[int]UnitState, error) {
	return s.rest.NetworkState(ctx, s.info)
}

// RequestFixture fetches a fixture's capability metadata over REST.
func (s *Session) RequestFixture(ctx context.Context, fixtureID int) (Fixture, error) {
	return s.rest.Fixture(ctx, s.info, fixtureID)
}

// SubscribeUnitChanged registers a handler for unit state pushes on
// this session's wire. Returns an unsubscribe function.
func (s *Session) SubscribeUnitChanged(fn func(UnitEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.subSeq
	s.subSeq++
	s.unitSubs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.unitSubs, id)
	}
}

// SubscribePeerChanged registers a handler for gateway peer events.
// Returns an unsubscribe function.
func (s *Session) SubscribePeerChanged(fn func(PeerEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.subSeq
	s.subSeq++
	s.peerSubs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.peerSubs, id)
	}
}

// SubscribeNetworkUpdated registers a handler for network-level
// updates. Returns an unsubscribe function.
func (s *Session) SubscribeNetworkUpdated(fn func(NetworkEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.subSeq
	s.subSeq++
	s.networkSubs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.networkSubs, id)
	}
}

// Close detaches the session from the Connection and releases its
// wire. The shared Connection itself stays up for sibling sessions.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.unsubFrames()
		s.unsubClosed()

		s.mu.Lock()
		wire := s.wireID
		s.wireID = 0
		s.mu.Unlock()

		if wire != 0 {
			if err := s.conn.CloseWire(wire); err != nil {
				s.logDebug("close wire failed", "wire", wire, "error", err)
			}
		}
	})
}

// handleFrame filters inbound frames to this session's wire and fans
// them out as typed events.
func (s *Session) handleFrame(frame *InboundFrame) {
	if frame.WireStatus != "" {
		// Handshake replies are resolved by the Connection.
		return
	}

	s.mu.Lock()
	wire := s.wireID
	s.mu.Unlock()
	if wire == 0 || frame.Wire != wire {
		return
	}

	switch frame.Method {
	case MethodUnitChanged:
		event := UnitEvent{
			NetworkID: s.info.NetworkID,
			UnitID:    frame.ID,
			State:     UnitStateFromFrame(s.info.NetworkID, frame),
		}
		for _, fn := range s.snapshotUnitSubs() {
			fn(event)
		}
	case MethodPeerChanged:
		event := PeerEvent{
			NetworkID: s.info.NetworkID,
			Online:    frame.Online == nil || *frame.Online,
		}
		for _, fn := range s.snapshotPeerSubs() {
			fn(event)
		}
	case MethodNetworkUpdated:
		event := NetworkEvent{NetworkID: s.info.NetworkID}
		for _, fn := range s.snapshotNetworkSubs() {
			fn(event)
		}
	default:
		s.logDebug("ignoring frame", "method", frame.Method, "wire", frame.Wire)
	}
}

// handleConnClosed resets the memoized wire so the next command
// transparently reopens one.
func (s *Session) handleConnClosed(error) {
	s.mu.Lock()
	s.wireID = 0
	s.wireGen++
	s.mu.Unlock()
}

func (s *Session) snapshotUnitSubs() []func(UnitEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]func(UnitEvent), 0, len(s.unitSubs))
	for _, fn := range s.unitSubs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Session) snapshotPeerSubs() []func(PeerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]func(PeerEvent), 0, len(s.peerSubs))
	for _, fn := range s.peerSubs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Session) snapshotNetworkSubs() []func(NetworkEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]func(NetworkEvent), 0, len(s.networkSubs))
	for _, fn := range s.networkSubs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Session) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Session) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
