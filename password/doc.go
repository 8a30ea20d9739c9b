// Package password implements peppered credential hashing with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// A server-side pepper from [Config] is appended to every password before
// hashing, so hashes are only verifiable by a deployment holding the same
// pepper. [Hasher.Create] additionally stamps creation and expiry times on
// new credentials for the password-expiry policy.
//
// This package owns hashing and verification only. Attempt limiting and
// expiry enforcement live in the engine.
package password
