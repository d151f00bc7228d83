package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/larkov/casambi-bridge/internal/casambi"
	"github.com/larkov/casambi-bridge/internal/clock"
	"github.com/larkov/casambi-bridge/internal/infrastructure/config"
	"github.com/larkov/casambi-bridge/internal/infrastructure/mqtt"
	"github.com/larkov/casambi-bridge/internal/reconcile"
)

// Bridge operation timeouts.
const (
	// commandTimeout bounds a single command send to the cloud.
	commandTimeout = 5 * time.Second

	// seedTimeout bounds the startup state snapshot fetch.
	seedTimeout = 30 * time.Second
)

// Bridge orchestrates bidirectional translation between the Casambi
// cloud and MQTT. It handles:
//   - Receiving unit commands via MQTT and translating to control frames
//   - Receiving cloud state pushes and publishing settled state to MQTT
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg      *config.Config
	mqtt     MQTTClient
	registry CloudRegistry
	cloud    CloudStats
	health   *HealthReporter
	recon    *reconcile.Reconciler
	recorder CommandRecorder // optional command audit sink
	writer   StateWriter     // optional telemetry sink
	topics   mqtt.Topics
	qos      byte

	// Event subscriptions, released on Stop
	unsubUnit    func()
	unsubNetwork func()
	subMu        sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the structured logging interface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// CloudRegistry is the session-layer interface the bridge drives.
// This is satisfied by *casambi.Registry.
type CloudRegistry interface {
	// Units returns the discovered unit inventory.
	Units() []casambi.AddressedUnit

	// Unit looks up a single unit by address.
	Unit(addr casambi.UnitAddress) (casambi.Unit, bool)

	// Fixture returns the fixture metadata for a unit, when known.
	Fixture(addr casambi.UnitAddress) (casambi.Fixture, bool)

	// SendControlUnit routes a control frame to the unit's network wire.
	SendControlUnit(ctx context.Context, addr casambi.UnitAddress, targets casambi.TargetControls) error

	// RequestAllStates fetches a full state snapshot of every network.
	RequestAllStates(ctx context.Context) (map[casambi.UnitAddress]casambi.UnitState, error)

	// DiscoverUnits refreshes the unit inventory from the cloud.
	DiscoverUnits(ctx context.Context) ([]casambi.AddressedUnit, error)

	// SubscribeUnitEvents registers a handler for unit state pushes.
	SubscribeUnitEvents(fn func(casambi.UnitEvent)) func()

	// SubscribeNetworkEvents registers a handler for network config updates.
	SubscribeNetworkEvents(fn func(casambi.NetworkEvent)) func()
}

// CloudStats provides cloud connection statistics for health reporting.
// This is satisfied by *casambi.Connection.
type CloudStats interface {
	Stats() casambi.ConnectionStats
}

// CommandRecorder persists an audit record for every processed command.
// It is optional - if nil, the bridge operates without an audit trail.
type CommandRecorder interface {
	RecordCommand(ctx context.Context, rec CommandRecord) error
}

// CommandRecord is one audit trail row.
type CommandRecord struct {
	ID        string
	Network   string
	Unit      int
	Controls  CommandControls
	Source    string
	Outcome   string
	Timestamp time.Time
}

// Command outcomes recorded in the audit trail.
const (
	OutcomeSent           = "sent"
	OutcomeRejected       = "rejected"
	OutcomeTransmitFailed = "transmit_failed"
)

// StateWriter receives every published state transition for telemetry.
// It is optional - if nil, the bridge operates without telemetry.
type StateWriter interface {
	WriteUnitState(state casambi.UnitState)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded bridge configuration.
	Config *config.Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Registry is the logged-in cloud session registry.
	Registry CloudRegistry

	// Cloud provides connection statistics for health reporting.
	Cloud CloudStats

	// Version is the bridge software version reported in health messages.
	Version string

	// Clock is optional; defaults to the real clock.
	Clock clock.Clock

	// Logger is optional structured logger.
	Logger Logger

	// Recorder is optional command audit persistence.
	// If nil, the bridge operates without an audit trail.
	Recorder CommandRecorder

	// StateWriter is optional state telemetry.
	// If nil, the bridge operates without telemetry.
	StateWriter StateWriter
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("cloud registry is required")
	}

	// Create bridge-level context for command cancellation on shutdown
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       opts.Config,
		mqtt:      opts.MQTTClient,
		registry:  opts.Registry,
		cloud:     opts.Cloud,
		recorder:  opts.Recorder,
		writer:    opts.StateWriter,
		qos:       byte(opts.Config.MQTT.QoS),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	recon, err := reconcile.New(reconcile.Options{
		OnUpdate:       b.publishState,
		Clock:          opts.Clock,
		DebounceWindow: opts.Config.Reconcile.GetDebounceWindow(),
		SuppressWindow: opts.Config.Reconcile.GetSuppressWindow(),
	})
	if err != nil {
		ctxCancel()
		return nil, fmt.Errorf("create reconciler: %w", err)
	}
	b.recon = recon

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.Bridge.ID,
		Version:   opts.Version,
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTTClient,
		Cloud:     opts.Cloud,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
// This seeds retained state from a cloud snapshot, subscribes to MQTT
// command topics, hooks cloud events into the reconciler, and starts
// health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	// Publish starting status
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.health.SetUnitCount(len(b.registry.Units()))

	// Seed retained state before commands can arrive
	b.seedStates()

	// Hook cloud events into the reconciler
	b.subMu.Lock()
	b.unsubUnit = b.registry.SubscribeUnitEvents(b.handleUnitEvent)
	b.unsubNetwork = b.registry.SubscribeNetworkEvents(b.handleNetworkEvent)
	b.subMu.Unlock()

	// Subscribe to command topics
	commandTopic := b.topics.AllUnitCommands()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	// Start health reporting
	b.health.Start(ctx)

	// Publish initial healthy status
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"units", len(b.registry.Units()))

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight commands
		b.ctxCancel()

		// Detach from cloud events before tearing down the reconciler
		b.subMu.Lock()
		if b.unsubUnit != nil {
			b.unsubUnit()
		}
		if b.unsubNetwork != nil {
			b.unsubNetwork()
		}
		b.subMu.Unlock()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		// Cancel pending debounce and suppression windows
		b.recon.Stop()

		// Wait for pending operations
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// seedStates fetches a full state snapshot and feeds it through the
// reconciler so every unit has a retained state message at startup.
func (b *Bridge) seedStates() {
	ctx, cancel := context.WithTimeout(b.ctx, seedTimeout)
	defer cancel()

	states, err := b.registry.RequestAllStates(ctx)
	if err != nil {
		// Not fatal: state arrives incrementally via pushes.
		b.logError("failed to fetch state snapshot", err)
		return
	}

	for addr, state := range states {
		b.recon.Seed(addr, state)
	}

	b.logInfo("seeded unit states", "count", len(states))
}

// handleUnitEvent feeds a cloud state push into the reconciler.
// Publication happens after the debounce window settles.
func (b *Bridge) handleUnitEvent(ev casambi.UnitEvent) {
	addr := casambi.UnitAddress{NetworkID: ev.NetworkID, UnitID: ev.UnitID}
	b.recon.Push(addr, ev.State)
}

// handleNetworkEvent refreshes the unit inventory after a network
// configuration change (units added, renamed, or removed).
func (b *Bridge) handleNetworkEvent(ev casambi.NetworkEvent) {
	b.logInfo("network updated", "network", ev.NetworkID)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(b.ctx, seedTimeout)
		defer cancel()

		units, err := b.registry.DiscoverUnits(ctx)
		if err != nil {
			b.logError("unit rediscovery failed", err)
			return
		}
		b.health.SetUnitCount(len(units))
		b.logInfo("unit inventory refreshed", "count", len(units))
	}()
}

// handleCommandMessage processes a command from the local bus.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) {
	networkID, unitID, err := mqtt.ParseUnitCommandTopic(topic)
	if err != nil {
		b.logError("invalid command topic", err)
		return
	}
	addr := casambi.UnitAddress{NetworkID: networkID, UnitID: unitID}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"unit", addr.String(),
		"source", cmd.Source)

	if cmd.Command != "" && cmd.Command != "set" {
		b.rejectCommand(cmd, addr, ErrCodeInvalidPayload,
			fmt.Sprintf("unknown command: %s", cmd.Command))
		return
	}
	if cmd.Controls.IsEmpty() {
		b.rejectCommand(cmd, addr, ErrCodeInvalidPayload, "no control values given")
		return
	}

	if _, ok := b.registry.Unit(addr); !ok {
		b.rejectCommand(cmd, addr, ErrCodeUnknownUnit,
			fmt.Sprintf("unit %s not discovered", addr.String()))
		return
	}

	targets, predicted, err := b.buildTargets(addr, cmd.Controls)
	if err != nil {
		b.rejectCommand(cmd, addr, ErrCodeInvalidPayload, err.Error())
		return
	}

	// Derive timeout from bridge context so commands are cancelled on shutdown
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.registry.SendControlUnit(ctx, addr, targets); err != nil {
		code := ErrCodeTransmitFailed
		if errors.Is(err, casambi.ErrNotConnected) {
			code = ErrCodeNotConnected
		}
		b.publishAck(NewAckError(cmd.ID, addr, code, err.Error()))
		b.recordCommand(cmd, addr, OutcomeTransmitFailed)
		b.logError("command transmit failed", err)
		return
	}

	// Optimistic update: the echo from the cloud is suppressed, so the
	// predicted state is what subscribers see until a real change lands.
	b.recon.CommandSent(addr, predicted)

	b.publishAck(NewAckMessage(cmd.ID, addr, AckAccepted))
	b.recordCommand(cmd, addr, OutcomeSent)
}

// Control validates and transmits a control request on behalf of a
// local caller (the HTTP API). It follows the same path as bus
// commands: the ack is still published on the unit's ack topic, the
// reconciler receives the predicted state, and an audit row is
// written with the given source.
//
// Returns the command ID assigned to the request.
func (b *Bridge) Control(ctx context.Context, addr casambi.UnitAddress, controls CommandControls, source string) (string, error) {
	cmd := CommandMessage{ID: uuid.NewString(), Controls: controls, Source: source}

	if controls.IsEmpty() {
		b.rejectCommand(cmd, addr, ErrCodeInvalidPayload, "no control values given")
		return cmd.ID, fmt.Errorf("%w: no control values given", ErrInvalidControls)
	}
	if _, ok := b.registry.Unit(addr); !ok {
		b.rejectCommand(cmd, addr, ErrCodeUnknownUnit,
			fmt.Sprintf("unit %s not discovered", addr.String()))
		return cmd.ID, fmt.Errorf("%w: %s", ErrUnknownUnit, addr.String())
	}

	targets, predicted, err := b.buildTargets(addr, controls)
	if err != nil {
		b.rejectCommand(cmd, addr, ErrCodeInvalidPayload, err.Error())
		return cmd.ID, fmt.Errorf("%w: %s", ErrInvalidControls, err.Error())
	}

	sendCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := b.registry.SendControlUnit(sendCtx, addr, targets); err != nil {
		code := ErrCodeTransmitFailed
		if errors.Is(err, casambi.ErrNotConnected) {
			code = ErrCodeNotConnected
		}
		b.publishAck(NewAckError(cmd.ID, addr, code, err.Error()))
		b.recordCommand(cmd, addr, OutcomeTransmitFailed)
		return cmd.ID, fmt.Errorf("%w: %w", ErrTransmitFailed, err)
	}

	b.recon.CommandSent(addr, predicted)
	b.publishAck(NewAckMessage(cmd.ID, addr, AckAccepted))
	b.recordCommand(cmd, addr, OutcomeSent)
	return cmd.ID, nil
}

// buildTargets translates command controls into a cloud control frame
// and the state the unit is predicted to settle at.
func (b *Bridge) buildTargets(addr casambi.UnitAddress, controls CommandControls) (casambi.TargetControls, casambi.UnitState, error) {
	var targets casambi.TargetControls
	predicted := casambi.UnitState{
		NetworkID: addr.NetworkID,
		UnitID:    addr.UnitID,
		Online:    true,
		Controls:  make(map[string]casambi.ControlState),
	}

	switch {
	case controls.Brightness != nil:
		pct := *controls.Brightness
		if pct < 0 || pct > 100 {
			return targets, predicted, fmt.Errorf("brightness must be 0-100, got %.2f", pct)
		}
		level := casambi.BrightnessToLevel(pct)
		targets.Dimmer = &casambi.ValueTarget{Value: level}
		predicted.Controls[casambi.ControlDimmer] = casambi.ControlState{Value: level}
	case controls.On != nil:
		level := 0.0
		if *controls.On {
			level = 1.0
		}
		targets.Dimmer = &casambi.ValueTarget{Value: level}
		predicted.Controls[casambi.ControlDimmer] = casambi.ControlState{Value: level}
	}

	if controls.ColorTempMired != nil {
		mired := *controls.ColorTempMired
		if mired <= 0 {
			return targets, predicted, fmt.Errorf("color_temp_mired must be positive, got %.2f", mired)
		}
		kelvin := casambi.MiredToKelvin(mired)
		if fixture, ok := b.registry.Fixture(addr); ok {
			kelvin = casambi.ClampKelvin(kelvin, fixture.MinKelvin, fixture.MaxKelvin)
		}
		targets.ColorTemperature = &casambi.ValueTarget{Value: kelvin}
		predicted.Controls[casambi.ControlColorTemperature] = casambi.ControlState{Value: kelvin}
	}

	if controls.Vertical != nil {
		pct := *controls.Vertical
		if pct < 0 || pct > 100 {
			return targets, predicted, fmt.Errorf("vertical must be 0-100, got %.2f", pct)
		}
		targets.Vertical = &casambi.ValueTarget{Value: pct / 100}
		predicted.Controls[casambi.ControlVertical] = casambi.ControlState{Value: pct / 100}
	}

	return targets, predicted, nil
}

// rejectCommand publishes a failed ack and records the rejection.
func (b *Bridge) rejectCommand(cmd CommandMessage, addr casambi.UnitAddress, code, message string) {
	b.publishAck(NewAckError(cmd.ID, addr, code, message))
	b.recordCommand(cmd, addr, OutcomeRejected)
	b.logError("command rejected",
		fmt.Errorf("code=%s message=%s", code, message))
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	topic := b.topics.UnitAck(ack.Network, ack.Unit)
	if err := b.mqtt.Publish(topic, payload, b.qos, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// recordCommand writes an audit row if a recorder is configured.
func (b *Bridge) recordCommand(cmd CommandMessage, addr casambi.UnitAddress, outcome string) {
	if b.recorder == nil {
		return
	}

	rec := CommandRecord{
		ID:        cmd.ID,
		Network:   addr.NetworkID,
		Unit:      addr.UnitID,
		Controls:  cmd.Controls,
		Source:    cmd.Source,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	}
	if err := b.recorder.RecordCommand(b.ctx, rec); err != nil {
		b.logDebug("audit record skipped", "command_id", cmd.ID, "reason", err.Error())
	}
}

// publishState is the reconciler's output callback. Every settled state
// transition becomes a retained MQTT message.
func (b *Bridge) publishState(state casambi.UnitState) {
	addr := casambi.UnitAddress{NetworkID: state.NetworkID, UnitID: state.UnitID}
	msg := NewStateMessage(addr, state)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	topic := b.topics.UnitState(addr.NetworkID, addr.UnitID)
	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}

	if b.writer != nil {
		b.writer.WriteUnitState(state)
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Connected    bool
	Status       string
	FramesRx     uint64
	FramesTx     uint64
	Reconnects   uint64
	UnitsManaged int
}

// GetMetrics returns current bridge metrics for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	unitCount := len(b.registry.Units())

	connected := false
	status := "disconnected"
	var stats casambi.ConnectionStats

	if b.cloud != nil {
		stats = b.cloud.Stats()
		connected = stats.State == casambi.StateOpen
		if connected {
			status = "healthy"
		}
	}

	return BridgeMetrics{
		Connected:    connected,
		Status:       status,
		FramesRx:     stats.FramesRx,
		FramesTx:     stats.FramesTx,
		Reconnects:   stats.Reconnects,
		UnitsManaged: unitCount,
	}
}

// Units returns the discovered unit inventory across all networks.
// Used by the API unit endpoints.
func (b *Bridge) Units() []casambi.AddressedUnit {
	return b.registry.Units()
}

// States returns the reconciler's current visible state for every unit.
// Used by the API state endpoints.
func (b *Bridge) States() map[casambi.UnitAddress]casambi.UnitState {
	return b.recon.States()
}

// State returns the visible state of one unit.
func (b *Bridge) State(addr casambi.UnitAddress) (casambi.UnitState, bool) {
	return b.recon.State(addr)
}
