package casambi

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/larkov/casambi-bridge/internal/clock"
)

// AddressedUnit pairs a unit with its globally unique address.
type AddressedUnit struct {
	Address UnitAddress
	Unit    Unit
}

// RegistryOptions configures Login and LoginWithRetry.
type RegistryOptions struct {
	Connection *Connection
	REST       *RESTClient
	Logger     Logger
	Clock      clock.Clock // nil = wall clock
}

// Registry holds one Session per accessible network, all multiplexed
// over the shared Connection, and routes commands and events by unit
// address.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	conn   *Connection
	rest   *RESTClient
	logger Logger

	sessions  []*Session
	byNetwork map[string]*Session

	mu       sync.RWMutex
	units    map[UnitAddress]Unit
	fixtures map[int]Fixture
}

// Login authenticates once and builds a session for every network the
// credentials grant. Authentication failures surface ErrAuthRejected;
// an account with zero networks surfaces ErrNoNetworks.
func Login(ctx context.Context, creds Credentials, opts RegistryOptions) (*Registry, error) {
	infos, err := opts.REST.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNoNetworks
	}

	r := &Registry{
		conn:      opts.Connection,
		rest:      opts.REST,
		logger:    opts.Logger,
		byNetwork: make(map[string]*Session, len(infos)),
		units:     make(map[UnitAddress]Unit),
		fixtures:  make(map[int]Fixture),
	}
	for _, info := range infos {
		sess := NewSession(info, opts.Connection, opts.REST, opts.Logger)
		r.sessions = append(r.sessions, sess)
		r.byNetwork[info.NetworkID] = sess
	}
	if opts.Logger != nil {
		opts.Logger.Info("logged in", "networks", len(infos))
	}
	return r, nil
}

// LoginWithRetry calls Login and, on transient failure, retries after
// the cooldown until it succeeds or ctx is cancelled. ErrAuthRejected
// aborts immediately: bad credentials never get better by waiting.
func LoginWithRetry(ctx context.Context, creds Credentials, cooldown time.Duration, opts RegistryOptions) (*Registry, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	for {
		r, err := Login(ctx, creds, opts)
		if err == nil {
			return r, nil
		}
		if errors.Is(err, ErrAuthRejected) {
			return nil, err
		}
		if opts.Logger != nil {
			opts.Logger.Warn("login failed, retrying", "cooldown", cooldown, "error", err)
		}

		wake := make(chan struct{})
		timer := clk.AfterFunc(cooldown, func() { close(wake) })
		select {
		case <-wake:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Sessions returns all sessions sorted by network ID.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Session returns the session owning the network, if any.
func (r *Registry) Session(networkID string) (*Session, bool) {
	sess, ok := r.byNetwork[networkID]
	return sess, ok
}

// EnsureWiresOpen opens a wire on every session that lacks one. The
// first error is returned after all sessions were attempted, so one
// refused network does not block the others.
func (r *Registry) EnsureWiresOpen(ctx context.Context) error {
	var firstErr error
	for _, sess := range r.sessions {
		if _, err := sess.EnsureWireOpen(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DiscoverUnits fetches every network's unit list, refreshes the
// registry's unit namespace, and resolves fixture metadata for the
// discovered units.
func (r *Registry) DiscoverUnits(ctx context.Context) ([]AddressedUnit, error) {
	discovered := make(map[UnitAddress]Unit)
	for _, sess := range r.sessions {
		units, err := sess.RequestUnitList(ctx)
		if err != nil {
			return nil, err
		}
		for _, unit := range units {
			addr := UnitAddress{NetworkID: sess.Network().NetworkID, UnitID: unit.ID}
			discovered[addr] = unit
		}
	}

	r.mu.Lock()
	r.units = discovered
	r.mu.Unlock()

	r.resolveFixtures(ctx, discovered)

	return r.Units(), nil
}

// resolveFixtures fetches capability metadata for every fixture ID
// referenced by the discovered units. Failures are logged and skipped:
// a unit without fixture bounds still bridges, just without clamping.
func (r *Registry) resolveFixtures(ctx context.Context, units map[UnitAddress]Unit) {
	wanted := make(map[int]UnitAddress)
	for addr, unit := range units {
		if unit.FixtureID != 0 {
			wanted[unit.FixtureID] = addr
		}
	}

	for fixtureID, addr := range wanted {
		r.mu.RLock()
		_, cached := r.fixtures[fixtureID]
		r.mu.RUnlock()
		if cached {
			continue
		}

		sess, ok := r.byNetwork[addr.NetworkID]
		if !ok {
			continue
		}
		fixture, err := sess.RequestFixture(ctx, fixtureID)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("fixture lookup failed", "fixture", fixtureID, "error", err)
			}
			continue
		}
		r.mu.Lock()
		r.fixtures[fixtureID] = fixture
		r.mu.Unlock()
	}
}

// Units returns a snapshot of the unit namespace sorted by address.
func (r *Registry) Units() []AddressedUnit {
	r.mu.RLock()
	out := make([]AddressedUnit, 0, len(r.units))
	for addr, unit := range r.units {
		out = append(out, AddressedUnit{Address: addr, Unit: unit})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Address.NetworkID != out[j].Address.NetworkID {
			return out[i].Address.NetworkID < out[j].Address.NetworkID
		}
		return out[i].Address.UnitID < out[j].Address.UnitID
	})
	return out
}

// Unit returns the cached unit for an address, if discovered.
func (r *Registry) Unit(addr UnitAddress) (Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	unit, ok := r.units[addr]
	return unit, ok
}

// Fixture returns cached fixture metadata for a unit address, if both
// the unit and its fixture were resolved.
func (r *Registry) Fixture(addr UnitAddress) (Fixture, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	unit, ok := r.units[addr]
	if !ok || unit.FixtureID == 0 {
		return Fixture{}, false
	}
	fixture, ok := r.fixtures[unit.FixtureID]
	return fixture, ok
}

// SendControlUnit routes a control command to the session owning the
// target unit's network.
func (r *Registry) SendControlUnit(ctx context.Context, addr UnitAddress, targets TargetControls) error {
	sess, ok := r.byNetwork[addr.NetworkID]
	if !ok {
		return ErrUnknownNetwork
	}
	return sess.SendControlUnit(ctx, addr.UnitID, targets)
}

// RequestUnitState fetches a single unit's snapshot from the session
// owning its network.
func (r *Registry) RequestUnitState(ctx context.Context, addr UnitAddress) (UnitState, error) {
	sess, ok := r.byNetwork[addr.NetworkID]
	if !ok {
		return UnitState{}, ErrUnknownNetwork
	}
	return sess.RequestUnitState(ctx, addr.UnitID)
}

// RequestAllStates fetches every network's full state snapshot.
func (r *Registry) RequestAllStates(ctx context.Context) (map[UnitAddress]UnitState, error) {
	out := make(map[UnitAddress]UnitState)
	for _, sess := range r.sessions {
		states, err := sess.RequestFullState(ctx)
		if err != nil {
			return nil, err
		}
		for unitID, state := range states {
			out[UnitAddress{NetworkID: sess.Network().NetworkID, UnitID: unitID}] = state
		}
	}
	return out, nil
}

// SubscribeUnitEvents registers a handler for unit state pushes across
// every session. Returns an aggregate unsubscribe function.
func (r *Registry) SubscribeUnitEvents(fn func(UnitEvent)) func() {
	unsubs := make([]func(), 0, len(r.sessions))
	for _, sess := range r.sessions {
		unsubs = append(unsubs, sess.SubscribeUnitChanged(fn))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// SubscribeNetworkEvents registers a handler for network-level updates
// across every session. Returns an aggregate unsubscribe function.
func (r *Registry) SubscribeNetworkEvents(fn func(NetworkEvent)) func() {
	unsubs := make([]func(), 0, len(r.sessions))
	for _, sess := range r.sessions {
		unsubs = append(unsubs, sess.SubscribeNetworkUpdated(fn))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Close detaches every session. The shared Connection is owned by the
// caller and is not closed here.
func (r *Registry) Close() {
	for _, sess := range r.sessions {
		sess.Close()
	}
}
