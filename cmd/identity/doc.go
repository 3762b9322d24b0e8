// Package identity is the user directory: lookup and auto-provisioning of
// AGRON identities keyed by normalized email.
//
// Two Directory variants exist: PostgresStore and NullStore (no database configured).
// The caller picks one at startup.
package identity
