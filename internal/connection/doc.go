// Package connection keeps the websocket sessions to the market data and
// trade servers.
//
// A Session:
//   - Dials the server, failing fatally only when the handshake is refused by policy
//   - Pumps requests up and server packs down without interpreting them
//   - Reconnects after any failure, waiting on a ReconnectTimer shared by all sessions
//   - Reports connected, reconnecting, reconnected and disconnected as notify diffs
package connection
