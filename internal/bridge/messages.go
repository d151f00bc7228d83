package bridge

import (
	"time"

	"github.com/larkov/casambi-bridge/internal/casambi"
)

// MQTT payload types for the local bus. Topics follow the flat
// casambi/{category}/{network}/{unit} scheme built by the mqtt package.

// CommandMessage is received on a unit command topic.
// Topic: casambi/command/{network}/{unit}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with
	// acknowledgments. Optional; an ID is generated when absent.
	ID string `json:"id,omitempty"`

	// Command is the command name. Only "set" is defined; an empty
	// command is treated as "set".
	Command string `json:"command,omitempty"`

	// Controls carries the target values. At least one field must be set.
	Controls CommandControls `json:"controls"`

	// Source indicates where the command originated (e.g. "api",
	// "automation"). Informational only.
	Source string `json:"source,omitempty"`
}

// CommandControls holds the target values of a set command. Nil fields
// are left untouched on the unit.
type CommandControls struct {
	// On switches the unit fully on or off. Ignored when Brightness
	// is also set.
	On *bool `json:"on,omitempty"`

	// Brightness is the dim level in percent (0-100).
	Brightness *float64 `json:"brightness,omitempty"`

	// ColorTempMired is the colour temperature in mireds. Converted to
	// Kelvin and clamped to the unit's fixture bounds before sending.
	ColorTempMired *float64 `json:"color_temp_mired,omitempty"`

	// Vertical is the up/down light balance in percent (0-100).
	Vertical *float64 `json:"vertical,omitempty"`
}

// IsEmpty reports whether no control value was given.
func (c CommandControls) IsEmpty() bool {
	return c.On == nil && c.Brightness == nil && c.ColorTempMired == nil && c.Vertical == nil
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was translated and sent to the cloud.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is published after every command.
// Topic: casambi/ack/{network}/{unit}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Network is the network the unit belongs to.
	Network string `json:"network"`

	// Unit is the unit ID within the network.
	Unit int `json:"unit"`

	// Status is "accepted" or "failed".
	Status AckStatus `json:"status"`

	// Error contains details when Status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g. "UNKNOWN_UNIT").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeUnknownUnit    = "UNKNOWN_UNIT"
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeTransmitFailed = "TRANSMIT_FAILED"
	ErrCodeNotConnected   = "NOT_CONNECTED"
)

// StateMessage reflects the settled state of one unit.
// Topic: casambi/state/{network}/{unit}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// Network is the network the unit belongs to.
	Network string `json:"network"`

	// Unit is the unit ID within the network.
	Unit int `json:"unit"`

	// Timestamp is when the state was published (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Online reports whether the unit is reachable from its network.
	Online bool `json:"online"`

	// On reports whether the unit emits any light.
	On *bool `json:"on,omitempty"`

	// Brightness is the dim level in percent (0-100).
	Brightness *float64 `json:"brightness,omitempty"`

	// ColorTempMired is the colour temperature in mireds.
	ColorTempMired *float64 `json:"color_temp_mired,omitempty"`

	// Vertical is the up/down balance in percent (0-100).
	Vertical *float64 `json:"vertical,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running but a backend
	// connection is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: casambi/bridge/{id}/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge instance identifier.
	Bridge string `json:"bridge"`

	// Timestamp is when the status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status is the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection describes the cloud websocket.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains operational counters.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// UnitsManaged is the number of discovered units.
	UnitsManaged int `json:"units_managed"`

	// Reason explains the status (especially for degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the cloud websocket state.
type ConnectionStatus struct {
	// Status is the connection lifecycle state ("open", "connecting", ...).
	Status string `json:"status"`

	// LastActivity is the last time a frame or pong arrived.
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains operational counters from the cloud connection.
type BridgeStatistics struct {
	// FramesReceived is the total number of frames decoded from the socket.
	FramesReceived uint64 `json:"frames_received"`

	// FramesSent is the total number of frames written to the socket.
	FramesSent uint64 `json:"frames_sent"`

	// FramesDropped is the number of inbound frames dropped as malformed.
	FramesDropped uint64 `json:"frames_dropped"`

	// Reconnects is the number of successful re-opens after a loss.
	Reconnects uint64 `json:"reconnects"`

	// Timeouts is the number of keepalive watchdog expiries.
	Timeouts uint64 `json:"timeouts"`
}

// NewAckMessage creates an accepted acknowledgment for a command.
func NewAckMessage(commandID string, addr casambi.UnitAddress, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		Network:   addr.NetworkID,
		Unit:      addr.UnitID,
		Status:    status,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(commandID string, addr casambi.UnitAddress, code, message string) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Timestamp: time.Now().UTC(),
		Network:   addr.NetworkID,
		Unit:      addr.UnitID,
		Status:    AckFailed,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage converts a unit state snapshot into the local bus
// representation. Dimmer level becomes brightness percent, colour
// temperature Kelvin becomes mireds.
func NewStateMessage(addr casambi.UnitAddress, state casambi.UnitState) StateMessage {
	msg := StateMessage{
		Network:   addr.NetworkID,
		Unit:      addr.UnitID,
		Timestamp: time.Now().UTC(),
		Online:    state.Online,
	}

	if dimmer, ok := state.Controls[casambi.ControlDimmer]; ok {
		on := dimmer.Value > 0
		pct := casambi.LevelToBrightness(dimmer.Value)
		msg.On = &on
		msg.Brightness = &pct
	}
	if cct, ok := state.Controls[casambi.ControlColorTemperature]; ok && cct.Value > 0 {
		mired := casambi.KelvinToMired(cct.Value)
		msg.ColorTempMired = &mired
	}
	if vert, ok := state.Controls[casambi.ControlVertical]; ok {
		pct := vert.Value * 100
		msg.Vertical = &pct
	}

	return msg
}

// NewHealthMessage creates a health status message from connection stats.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats casambi.ConnectionStats, unitCount int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		UnitsManaged:  unitCount,
	}

	conn := &ConnectionStatus{Status: stats.State.String()}
	if stats.LastActivity.Unix() > 0 {
		last := stats.LastActivity
		conn.LastActivity = &last
	}
	msg.Connection = conn

	msg.Statistics = &BridgeStatistics{
		FramesReceived: stats.FramesRx,
		FramesSent:     stats.FramesTx,
		FramesDropped:  stats.FramesDropped,
		Reconnects:     stats.Reconnects,
		Timeouts:       stats.Timeouts,
	}

	return msg
}
