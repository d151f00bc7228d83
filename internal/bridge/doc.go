// Package bridge connects the Casambi cloud session layer to the local
// MQTT bus.
//
// # Architecture
//
// The bridge sits between two event sources and translates both ways:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   MQTT broker   │   MQTT   │  Casambi Bridge │  websocket
//	│  (local bus)    │◄────────►│   (this pkg)    │◄──────────► Cloud
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Subscribe to unit command topics and translate payloads into
//     cloud control frames, clamping colour temperature to the unit's
//     fixture bounds
//   - Acknowledge every command with an accepted/failed result
//   - Feed cloud state pushes through the reconciler so bursts are
//     debounced and command echoes are suppressed, then publish the
//     settled state as retained MQTT messages
//   - Seed retained state from a full cloud snapshot on startup
//   - Publish periodic health status for the bridge instance
//
// Units are addressed as {network}/{unit} in topics; the same unit ID
// can exist in several networks.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package bridge
