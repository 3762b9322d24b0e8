// Package session implements refresh sessions.
//
// A session is an opaque 64-byte refresh token, stored only as its digest, that is
// exchanged for short-lived access tokens. Every refresh rotates the token: the
// presented row is deleted and a new one inserted in the same transaction, so a
// token works at most once.
//
// Unknown, expired and already-rotated tokens are indistinguishable to callers
// (ErrInvalidSession).
package session
