// Package identity holds the key material of ledger participants.
//
// Every registered node owns a signing key pair on the Ed25519 curve, used to
// sign the votes it casts in a consensus round, and an access token that API
// clients present to act on the node's behalf.
package identity
