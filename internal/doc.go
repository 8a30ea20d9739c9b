// Package internal holds helpers that are private to the module,
// notably opaque token generation.
//
// # Sub-packages
//
//   - audit — async audit event dispatch (Dispatcher + Sink implementations)
//   - stores — Redis codecs and accessors for the volatile state
//     (token cache, challenges, references, snapshots)
package internal
