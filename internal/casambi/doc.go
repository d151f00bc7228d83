// Package casambi implements the session and wire-protocol layer for the
// Casambi cloud lighting service.
//
// The cloud is reachable two ways: plain authenticated REST calls
// (login, unit and fixture catalogues, state snapshots) and a single
// persistent websocket carrying multiplexed logical channels called
// wires. One wire scopes the traffic of one authenticated network;
// several networks share one socket.
//
// # Architecture
//
//   - RESTClient: request/response reads, no protocol state.
//   - Connection: owns the physical socket, the keepalive watchdog and
//     the reconnect loop; allocates wire IDs and correlates open
//     handshakes with their replies.
//   - Session: one authenticated network; memoizes its wire ID,
//     sends controlUnit frames and re-emits inbound events filtered
//     to its own wire.
//   - Registry: the result of login; creates and tracks N sessions
//     sharing one Connection and routes commands to the session
//     owning the target unit.
//
// Echo suppression and debouncing of pushed state live in the
// reconcile package, layered on top of a Session's event stream.
//
// # Protocol notes
//
// Open handshakes are correlated by a caller-generated ref token
// echoed back in the wireStatus reply; the wire ID alone cannot match
// a request to its response. Malformed inbound frames are logged and
// dropped, never fatal. Connection loss is never fatal either: the
// Connection retries forever at a fixed delay, and Sessions reopen
// their wires transparently on the next command.
package casambi
