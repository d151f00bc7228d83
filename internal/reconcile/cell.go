package reconcile

import (
	"math"
	"time"

	"github.com/larkov/casambi-bridge/internal/casambi"
	"github.com/larkov/casambi-bridge/internal/clock"
)

// echoTolerance absorbs float rounding between the value we sent and
// the value the cloud echoes back.
const echoTolerance = 1e-3

// cell is the reconciliation state for one unit: the last published
// state, the pending debounced push, and the open suppression window.
//
// All methods assume the owning Reconciler's lock is held. Timer
// expiry re-enters through the Reconciler, which relocks before
// touching the cell. Methods that publish return the state to emit
// (nil map check via second value) so the Reconciler can invoke the
// update callback outside the lock.
type cell struct {
	addr     casambi.UnitAddress
	clk      clock.Clock
	debounce time.Duration
	suppress time.Duration

	// onDebounce and onSuppress are the timer re-entry points,
	// installed by the Reconciler at cell creation.
	onDebounce func()
	onSuppress func()

	visible    casambi.UnitState
	hasVisible bool

	pending    casambi.UnitState
	hasPending bool
	debouncer  clock.Timer

	predicted     casambi.UnitState
	suppressUntil time.Time
	suppressTimer clock.Timer
	echoSeen      bool
}

// seed installs an initial snapshot for immediate publication.
// Startup state is not an external change burst; it needs no debounce.
func (c *cell) seed(state casambi.UnitState) casambi.UnitState {
	c.visible = state.Clone()
	c.hasVisible = true
	return c.visible.Clone()
}

// commandSent applies the predicted post-command state and opens the
// suppression window. Returns the optimistic state to publish. Any
// pending debounced push is stale pre-command data and is discarded.
func (c *cell) commandSent(predicted casambi.UnitState) casambi.UnitState {
	if c.debouncer != nil {
		c.debouncer.Stop()
	}
	c.hasPending = false

	if c.hasVisible {
		c.visible = c.visible.Merge(predicted)
	} else {
		c.visible = predicted.Clone()
		c.hasVisible = true
	}
	c.predicted = predicted.Clone()
	c.echoSeen = false
	c.suppressUntil = c.clk.Now().Add(c.suppress)
	if c.suppressTimer != nil {
		c.suppressTimer.Reset(c.suppress)
	} else {
		c.suppressTimer = c.clk.AfterFunc(c.suppress, c.onSuppress)
	}

	return c.visible.Clone()
}

// push feeds one inbound report through suppression first, then the
// trailing debounce. Reports whether the push was swallowed as an echo.
func (c *cell) push(state casambi.UnitState) (echo bool) {
	if c.suppressionActive() && c.matchesPredicted(state) {
		// The echo of our own command. The transition was already
		// published optimistically; swallow the duplicate but fold the
		// authoritative report in silently so bounds and online status
		// stay current.
		c.echoSeen = true
		c.visible = c.visible.Merge(state)
		return true
	}

	if c.hasPending {
		c.pending = c.pending.Merge(state)
	} else {
		c.pending = state.Clone()
		c.hasPending = true
	}
	if c.debouncer != nil {
		c.debouncer.Reset(c.debounce)
	} else {
		c.debouncer = c.clk.AfterFunc(c.debounce, c.onDebounce)
	}
	return false
}

// takeDebounced folds the pending push into the visible state and
// returns it for publication. ok is false when the window fired with
// nothing pending (a command cancelled it).
func (c *cell) takeDebounced() (casambi.UnitState, bool) {
	if !c.hasPending {
		return casambi.UnitState{}, false
	}
	if c.hasVisible {
		c.visible = c.visible.Merge(c.pending)
	} else {
		c.visible = c.pending.Clone()
		c.hasVisible = true
	}
	c.hasPending = false
	return c.visible.Clone(), true
}

// suppressExpired closes the suppression window. Reports whether the
// command went unconfirmed: success on transmit, cleared silently.
func (c *cell) suppressExpired() (silentNoOp bool) {
	c.suppressUntil = time.Time{}
	return !c.echoSeen
}

func (c *cell) suppressionActive() bool {
	return c.clk.Now().Before(c.suppressUntil)
}

// matchesPredicted reports whether a push restates the prediction:
// every control the command set is reported back within tolerance.
func (c *cell) matchesPredicted(state casambi.UnitState) bool {
	if len(c.predicted.Controls) == 0 {
		return false
	}
	for name, want := range c.predicted.Controls {
		got, ok := state.Controls[name]
		if !ok {
			// A partial echo omitting a commanded control is not a
			// confirmation of it.
			return false
		}
		if math.Abs(got.Value-want.Value) > echoTolerance {
			return false
		}
	}
	return true
}

// stop cancels the cell's timers.
func (c *cell) stop() {
	if c.debouncer != nil {
		c.debouncer.Stop()
	}
	if c.suppressTimer != nil {
		c.suppressTimer.Stop()
	}
}
