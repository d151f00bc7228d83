package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrUnknownUnit is returned when a command addresses a unit that
	// has not been discovered on any authenticated network.
	ErrUnknownUnit = errors.New("bridge: unknown unit")

	// ErrInvalidControls is returned when a command carries no control
	// values or a value outside its allowed range.
	ErrInvalidControls = errors.New("bridge: invalid controls")

	// ErrTransmitFailed is returned when a validated command could not
	// be delivered to the cloud service.
	ErrTransmitFailed = errors.New("bridge: transmit failed")
)
