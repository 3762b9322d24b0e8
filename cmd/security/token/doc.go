// Package token is the token codec for login links and refresh sessions.
//
// Raw tokens are high-entropy hex strings returned to the client exactly once.
// Only their digest is ever persisted.
//
// Environment:
//   - AGRON_TOKEN_HMAC_KEY: when set, digests are HMAC-SHA256(token, key) instead of SHA-256(token).
//
// Policy:
//   - With AGRON_REQUIRE_TOKEN_HMAC=true the server refuses to start unless the key is
//     present and >= 32 bytes, so Digest never falls back to plain SHA-256.
package token
