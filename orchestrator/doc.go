// Package orchestrator sequences the ledger pipeline. A Pipeline owns the node
// roster, the chain, the consensus coordinator, the key material and the
// audit trail, and runs every operation on them under a single mutex.
//
// A resource request flows through these steps:
//  1. The transaction is checked for well-formedness. A malformed request is
//     a ValidationError and never reaches a vote.
//  2. A candidate block is built on the current tip and proposed to the
//     coordinator together with a snapshot of the roster.
//  3. On acceptance the block is sealed, appended to the chain, and only then
//     are the transactions applied to the roster. A rejected or cancelled
//     round changes nothing but the audit trail.
//
// HandleCommand exposes the same operations through a line-oriented text
// protocol shared by the interactive shell and the HTTP API.
package orchestrator
