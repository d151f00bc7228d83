package casambi

import "fmt"

// Control type names as reported by the cloud service.
const (
	ControlOnOff            = "OnOff"
	ControlDimmer           = "Dimmer"
	ControlColorTemperature = "CCT"
	ControlColorsource      = "Colorsource"
	ControlVertical         = "Vertical"
)

// Brightness bounds for the external 0-100 representation.
const (
	brightnessMin = 0
	brightnessMax = 100
)

// miredScale converts between Kelvin and mired: mired = 1,000,000 / kelvin.
const miredScale = 1_000_000.0

// Credentials selects and authenticates a login flavour.
type Credentials struct {
	// Mode is "network" (credential owns one network) or "user"
	// (site login fanning out to every accessible network).
	Mode string

	// Identifier is the account email.
	Identifier string

	// Secret is the account password.
	Secret string
}

// NetworkSession is the result of a successful login for one network.
// The session token authorises all subsequent calls for that network.
type NetworkSession struct {
	NetworkID   string
	NetworkName string
	SiteName    string // empty for network-mode logins
	Token       string
}

// Unit is one controllable device inside a network.
type Unit struct {
	ID        int    `json:"id"`
	Address   string `json:"address"`
	Name      string `json:"name"`
	FixtureID int    `json:"fixtureId"`
	Type      string `json:"type"`
	Online    bool   `json:"online"`
}

// Fixture describes the capabilities of a unit's luminaire model,
// including the colour temperature bounds the hardware accepts.
type Fixture struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	MinKelvin float64
	MaxKelvin float64
}

// ControlState is the reported value of one control on one unit.
type ControlState struct {
	Value float64
	Min   float64
	Max   float64
}

// UnitState is the reported state of one unit, either from a REST
// snapshot or an incremental push over the wire.
type UnitState struct {
	NetworkID string
	UnitID    int
	Online    bool
	Controls  map[string]ControlState
}

// Clone returns a deep copy so callers can hold snapshots safely.
func (s UnitState) Clone() UnitState {
	out := s
	out.Controls = make(map[string]ControlState, len(s.Controls))
	for k, v := range s.Controls {
		out.Controls[k] = v
	}
	return out
}

// Merge applies the non-empty fields of an incremental push onto a
// previous state, last write wins per control.
func (s UnitState) Merge(push UnitState) UnitState {
	out := s.Clone()
	out.Online = push.Online
	for k, v := range push.Controls {
		out.Controls[k] = v
	}
	return out
}

// UnitAddress identifies a unit across networks. Unit IDs are only
// unique within a network, so the pair is the addressable key.
type UnitAddress struct {
	NetworkID string
	UnitID    int
}

// String renders the address as "networkID/unitID".
func (a UnitAddress) String() string {
	return fmt.Sprintf("%s/%d", a.NetworkID, a.UnitID)
}

// BrightnessToLevel converts an external 0-100 brightness to the
// internal 0.0-1.0 dimmer level, clamping out-of-range input.
func BrightnessToLevel(pct float64) float64 {
	if pct < brightnessMin {
		pct = brightnessMin
	}
	if pct > brightnessMax {
		pct = brightnessMax
	}
	return pct / brightnessMax
}

// LevelToBrightness converts an internal 0.0-1.0 dimmer level to the
// external 0-100 brightness, clamping out-of-range input.
func LevelToBrightness(level float64) float64 {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	return level * brightnessMax
}

// KelvinToMired converts a colour temperature in Kelvin to mired.
func KelvinToMired(kelvin float64) float64 {
	return miredScale / kelvin
}

// MiredToKelvin converts a colour temperature in mired to Kelvin.
func MiredToKelvin(mired float64) float64 {
	return miredScale / mired
}

// ClampKelvin bounds a Kelvin value to the fixture-reported range.
// Out-of-range values are rejected or silently clamped server-side
// inconsistently, so clamping happens here before transmission.
func ClampKelvin(kelvin, minK, maxK float64) float64 {
	if minK > 0 && kelvin < minK {
		return minK
	}
	if maxK > 0 && kelvin > maxK {
		return maxK
	}
	return kelvin
}
