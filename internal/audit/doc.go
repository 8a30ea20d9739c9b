// Package audit implements async event dispatching for security-relevant
// operations: logins, logouts, factor changes, session revocation.
//
// The [Dispatcher] is a buffered relay with drop-if-full or block-if-full
// semantics; [Sink] implementations consume events (channel, JSON writer,
// no-op, or a persistent sink supplied by the caller). Event selection is
// the engine's responsibility, not this package's.
package audit
