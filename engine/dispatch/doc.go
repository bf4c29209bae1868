// Package dispatch separates unsolicited server pushes from command replies
// and delivers them to their listeners.
//
// The classifier is a pure function over the decoded value's shape, the
// negotiated protocol version and the connection's subscribed state: RESP3
// marks pushes with an explicit frame type, RESP2 delivers them as ordinary
// arrays whose first element is a sentinel word. Keeping the classification
// here keeps the codec protocol-version-aware but semantics-free.
//
// Delivery is best-effort broadcast: every currently registered listener of
// the matching class receives each physical push frame at most once, and a
// slow or absent listener never blocks frame processing for other listeners
// or for the command-reply path (its message is dropped instead).
//
// The package also owns the process-wide subscription state (channels,
// patterns, tracking mode). The state survives reconnection; the
// reconnection manager replays it onto every fresh connection.
package dispatch
