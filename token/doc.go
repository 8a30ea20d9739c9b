// Package token issues and parses the two token kinds of the engine.
//
// Access tokens are HS256-signed JWTs carrying issuer, audience, subject,
// nbf and exp, with the identity payload AES-GCM-encrypted into a single
// "data" claim so it is opaque to holders. Refresh tokens are not JWTs:
// they are AES-GCM blobs of the same payload plus an embedded absolute
// expiry.
//
// Expiry checks subtract the configured tolerance from the deadline, so
// a token within tolerance of its expiry is already rejected.
package token
