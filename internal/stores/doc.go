// Package stores implements the engine's volatile state on Redis:
// the access-token cache that gates authorization, MFA challenge
// records, reference-token records binding multi-step flows together,
// and the current-user snapshot cache.
//
// Challenge and reference records use a compact versioned binary codec;
// snapshots are stored as caller-provided JSON. Backend failures wrap a
// per-store sentinel so callers can fail closed with errors.Is.
package stores
