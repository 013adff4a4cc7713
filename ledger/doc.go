// Package ledger implements the append-only, proof-of-work sealed chain that
// records every accepted resource-allocation decision.
//
// # Core Components
//
// Blockchain: An append-only sequence of sealed blocks linked by hash. Index 0
// is a sealed genesis block with no transactions and previous hash "0".
//
// Block: One sealed unit holding the transactions of a single accepted
// consensus round, its nonce, and its own content hash.
//
// # Security Properties
//
// The chain provides:
//   - Tamper evidence: a block's hash covers index, timestamp, transactions,
//     previous hash and nonce, so any edit changes the recomputed hash
//   - Linkage: every block stores its predecessor's hash
//   - Proof of work: every hash starts with Difficulty zero characters, so
//     forging a block means redoing the work for it and every later block
//
// # Usage
//
// Build a candidate with NewCandidate, let consensus decide on it, then Seal
// and Append. Validate can be called at any time; it reports the first
// failing block with every property of that block that failed.
//
// A Blockchain is not safe for concurrent use. Callers serialize access.
package ledger
