package casambi

import (
	"encoding/json"
	"fmt"
)

// Outbound frame methods.
const (
	MethodOpen        = "open"
	MethodClose       = "close"
	MethodControlUnit = "controlUnit"
	MethodPing        = "ping"
)

// Inbound frame methods.
const (
	MethodUnitChanged    = "unitChanged"
	MethodPeerChanged    = "peerChanged"
	MethodNetworkUpdated = "networkUpdated"
)

// WireStatusOpenSucceed is the wireStatus value confirming an open handshake.
// Any other wireStatus paired with a known ref is a refusal.
const WireStatusOpenSucceed = "openWireSucceed"

// openFrameType is the fixed type discriminator the open handshake carries.
const openFrameType = 1

// OpenFrame requests a new wire on the shared socket. Ref is the
// caller-generated correlation token echoed back in the wireStatus
// reply; it is the only reliable way to match request to response.
type OpenFrame struct {
	Method  string `json:"method"`
	ID      string `json:"id"`
	Session string `json:"session"`
	Ref     string `json:"ref"`
	Wire    int    `json:"wire"`
	Type    int    `json:"type"`
}

// NewOpenFrame builds an open handshake frame for a network session.
func NewOpenFrame(networkID, sessionToken, ref string, wire int) OpenFrame {
	return OpenFrame{
		Method:  MethodOpen,
		ID:      networkID,
		Session: sessionToken,
		Ref:     ref,
		Wire:    wire,
		Type:    openFrameType,
	}
}

// CloseFrame releases a wire.
type CloseFrame struct {
	Method string `json:"method"`
	Wire   int    `json:"wire"`
}

// NewCloseFrame builds a close frame for a wire.
func NewCloseFrame(wire int) CloseFrame {
	return CloseFrame{Method: MethodClose, Wire: wire}
}

// ControlFrame carries a controlUnit command scoped to a wire.
type ControlFrame struct {
	Method         string         `json:"method"`
	Wire           int            `json:"wire"`
	ID             int            `json:"id"`
	TargetControls TargetControls `json:"targetControls"`
}

// NewControlFrame builds a controlUnit frame for a unit on a wire.
func NewControlFrame(wire, unitID int, targets TargetControls) ControlFrame {
	return ControlFrame{
		Method:         MethodControlUnit,
		Wire:           wire,
		ID:             unitID,
		TargetControls: targets,
	}
}

// TargetControls names the controls a command sets. Nil fields are
// omitted from the frame so untouched controls keep their value.
type TargetControls struct {
	Dimmer           *ValueTarget  `json:"Dimmer,omitempty"`
	ColorTemperature *ValueTarget  `json:"ColorTemperature,omitempty"`
	Colorsource      *SourceTarget `json:"Colorsource,omitempty"`
	Vertical         *ValueTarget  `json:"Vertical,omitempty"`
	OnOff            *ValueTarget  `json:"OnOff,omitempty"`
}

// IsEmpty reports whether the command sets no controls at all.
func (t TargetControls) IsEmpty() bool {
	return t.Dimmer == nil && t.ColorTemperature == nil &&
		t.Colorsource == nil && t.Vertical == nil && t.OnOff == nil
}

// ValueTarget is a numeric control target.
type ValueTarget struct {
	Value float64 `json:"value"`
}

// SourceTarget selects the active colour source on multi-channel fixtures.
type SourceTarget struct {
	Source string `json:"source"`
}

// InboundFrame is the decoded server-to-client envelope. Exactly one
// of Method and WireStatus is set.
type InboundFrame struct {
	Method     string          `json:"method,omitempty"`
	WireStatus string          `json:"wireStatus,omitempty"`
	Ref        string          `json:"ref,omitempty"`
	Wire       int             `json:"wire,omitempty"`
	ID         int             `json:"id,omitempty"`
	Online     *bool           `json:"online,omitempty"`
	Controls   []ControlReport `json:"controls,omitempty"`
}

// ControlReport is one control's reported value inside an event frame.
type ControlReport struct {
	Type  string   `json:"type"`
	Value float64  `json:"value"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// EncodeFrame serialises an outbound frame to its transport form.
func EncodeFrame(frame any) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses a transport frame into an InboundFrame.
//
// A frame with neither a method nor a wireStatus discriminator is an
// error; callers log and discard such frames rather than failing the
// connection.
func DecodeFrame(data []byte) (*InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	if frame.Method == "" && frame.WireStatus == "" {
		return nil, fmt.Errorf("%w: missing method or wireStatus discriminator", ErrDecodeFailed)
	}
	return &frame, nil
}

// UnitStateFromFrame converts a unitChanged frame into a UnitState
// snapshot scoped to the given network.
func UnitStateFromFrame(networkID string, frame *InboundFrame) UnitState {
	state := UnitState{
		NetworkID: networkID,
		UnitID:    frame.ID,
		Online:    frame.Online == nil || *frame.Online,
		Controls:  make(map[string]ControlState, len(frame.Controls)),
	}
	for _, c := range frame.Controls {
		cs := ControlState{Value: c.Value}
		if c.Min != nil {
			cs.Min = *c.Min
		}
		if c.Max != nil {
			cs.Max = *c.Max
		}
		state.Controls[c.Type] = cs
	}
	return state
}
