package reconcile

import (
	"fmt"
	"sync"
	"time"

	"github.com/larkov/casambi-bridge/internal/casambi"
	"github.com/larkov/casambi-bridge/internal/clock"
)

// Default windows. Debounce coalesces push bursts; suppress covers the
// cloud's round trip for a command echo.
const (
	defaultDebounceWindow = 500 * time.Millisecond
	defaultSuppressWindow = 3 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// Options configures a Reconciler.
type Options struct {
	// OnUpdate receives every externally visible state transition.
	// Required. Invoked outside the reconciler lock; it may call back
	// into the Reconciler.
	OnUpdate func(casambi.UnitState)

	// Clock drives the windows. Defaults to the real clock.
	Clock clock.Clock

	// Logger is optional structured logging.
	Logger Logger

	// DebounceWindow is the trailing coalescing window for inbound
	// pushes. Default 500ms.
	DebounceWindow time.Duration

	// SuppressWindow is how long after a command its echo is
	// swallowed. Default 3s.
	SuppressWindow time.Duration
}

// Reconciler maintains one cell per unit and decides what state the
// rest of the system gets to see.
//
// Thread Safety: all methods are safe for concurrent use.
type Reconciler struct {
	onUpdate func(casambi.UnitState)
	clk      clock.Clock
	logger   Logger
	debounce time.Duration
	suppress time.Duration

	mu      sync.Mutex
	cells   map[casambi.UnitAddress]*cell
	stopped bool
}

// New creates a Reconciler.
func New(opts Options) (*Reconciler, error) {
	if opts.OnUpdate == nil {
		return nil, fmt.Errorf("OnUpdate callback is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.DebounceWindow == 0 {
		opts.DebounceWindow = defaultDebounceWindow
	}
	if opts.SuppressWindow == 0 {
		opts.SuppressWindow = defaultSuppressWindow
	}
	return &Reconciler{
		onUpdate: opts.OnUpdate,
		clk:      opts.Clock,
		logger:   opts.Logger,
		debounce: opts.DebounceWindow,
		suppress: opts.SuppressWindow,
		cells:    make(map[casambi.UnitAddress]*cell),
	}, nil
}

// Seed installs an initial snapshot for a unit and publishes it
// immediately, bypassing the debounce.
func (r *Reconciler) Seed(addr casambi.UnitAddress, state casambi.UnitState) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	out := r.cellLocked(addr).seed(state)
	r.mu.Unlock()

	r.onUpdate(out)
}

// CommandSent records a command's predicted resulting state, publishes
// it optimistically and opens the echo suppression window.
func (r *Reconciler) CommandSent(addr casambi.UnitAddress, predicted casambi.UnitState) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	out := r.cellLocked(addr).commandSent(predicted)
	r.mu.Unlock()

	r.logDebug("optimistic state published", "unit", addr.String())
	r.onUpdate(out)
}

// Push feeds one inbound state report for a unit through the
// reconciliation pipeline. Duplicates and bursts are absorbed; the
// resulting publication, if any, happens when the debounce window
// closes.
func (r *Reconciler) Push(addr casambi.UnitAddress, state casambi.UnitState) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	echo := r.cellLocked(addr).push(state)
	r.mu.Unlock()

	if echo {
		r.logDebug("command echo suppressed", "unit", addr.String())
	}
}

// State returns the last externally published state for a unit.
func (r *Reconciler) State(addr casambi.UnitAddress) (casambi.UnitState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cells[addr]
	if !ok || !c.hasVisible {
		return casambi.UnitState{}, false
	}
	return c.visible.Clone(), true
}

// States returns the last published state of every known unit.
func (r *Reconciler) States() map[casambi.UnitAddress]casambi.UnitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[casambi.UnitAddress]casambi.UnitState, len(r.cells))
	for addr, c := range r.cells {
		if c.hasVisible {
			out[addr] = c.visible.Clone()
		}
	}
	return out
}

// Stop cancels every pending window. Further calls are no-ops.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	for _, c := range r.cells {
		c.stop()
	}
}

// cellLocked returns the unit's cell, creating it on first contact.
// Callers hold r.mu.
func (r *Reconciler) cellLocked(addr casambi.UnitAddress) *cell {
	if c, ok := r.cells[addr]; ok {
		return c
	}
	c := &cell{
		addr:     addr,
		clk:      r.clk,
		debounce: r.debounce,
		suppress: r.suppress,
	}
	c.onDebounce = func() { r.debounceFired(addr) }
	c.onSuppress = func() { r.suppressExpired(addr) }
	r.cells[addr] = c
	return c
}

// debounceFired is the timer re-entry point for a closed debounce
// window.
func (r *Reconciler) debounceFired(addr casambi.UnitAddress) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	c, ok := r.cells[addr]
	if !ok {
		r.mu.Unlock()
		return
	}
	out, fire := c.takeDebounced()
	r.mu.Unlock()

	if fire {
		r.onUpdate(out)
	}
}

// suppressExpired is the timer re-entry point for a closed suppression
// window.
func (r *Reconciler) suppressExpired(addr casambi.UnitAddress) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	c, ok := r.cells[addr]
	if !ok {
		r.mu.Unlock()
		return
	}
	silent := c.suppressExpired()
	r.mu.Unlock()

	if silent {
		// The command already counted as success on transmit; the
		// missing echo is logged and otherwise invisible.
		r.logDebug("command unconfirmed within window", "unit", addr.String())
	}
}

func (r *Reconciler) logDebug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
