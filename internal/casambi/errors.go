package casambi

import "errors"

// Domain errors for the casambi package.
var (
	// ErrAuthRejected is returned when the cloud rejects the supplied
	// credentials. This is permanent: callers must not retry.
	ErrAuthRejected = errors.New("casambi: credentials rejected")

	// ErrRequestFailed is returned for transient REST failures
	// (network errors, server errors). Callers retry after a cooldown.
	ErrRequestFailed = errors.New("casambi: request failed")

	// ErrNotConnected is returned when a send requires an open socket
	// but the connection is not in the Open state.
	ErrNotConnected = errors.New("casambi: not connected")

	// ErrWireOpenRejected is returned when the server refuses an open
	// handshake. It affects only the caller awaiting that open.
	ErrWireOpenRejected = errors.New("casambi: wire open rejected")

	// ErrConnectionLost is returned to callers whose in-flight
	// handshake was cut short by a transport loss.
	ErrConnectionLost = errors.New("casambi: connection lost")

	// ErrConnectionClosed is returned after Close; the connection will
	// not reconnect.
	ErrConnectionClosed = errors.New("casambi: connection closed")

	// ErrSendFailed is returned when a frame write fails at the
	// transport level. Surfaced to the caller of the send.
	ErrSendFailed = errors.New("casambi: frame send failed")

	// ErrDecodeFailed is returned when an inbound frame cannot be
	// decoded. Frames failing decode are dropped, never fatal.
	ErrDecodeFailed = errors.New("casambi: frame decode failed")

	// ErrUnknownUnit is returned when a command targets a unit no
	// session owns.
	ErrUnknownUnit = errors.New("casambi: unknown unit")

	// ErrUnknownNetwork is returned when an operation addresses a
	// network the authenticated credentials have no session for.
	ErrUnknownNetwork = errors.New("casambi: unknown network")

	// ErrNoNetworks is returned when authentication succeeds but the
	// account exposes no networks to bridge.
	ErrNoNetworks = errors.New("casambi: no networks accessible")
)
