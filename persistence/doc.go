// Package persistence saves and loads the whole ledger state: the node
// roster, the chain and the audit trail.
//
// Every save computes an integrity digest, the hex SHA-256 of the compact
// JSON encoding of the state. Load recomputes it and reports a mismatch
// through Loaded.IntegrityOK. A mismatch is a coarse early warning only; the
// chain's own validation is the authoritative tamper check.
//
// Two backends implement Store: FileStore writes a single JSON document
// atomically, BadgerStore keeps the state in a BadgerDB key/value store.
package persistence
