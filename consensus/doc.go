// Package consensus gates every change of the ledger behind a majority vote of
// the registered nodes.
//
// # Core Components
//
// Coordinator: runs one round per candidate block and returns a Decision.
//
// Vote: a single node's ACCEPT or REJECT, signed with the node's key.
//
// Signer: the key store the coordinator signs and verifies votes with.
//
// # Round Protocol
//
// Every round moves through PROPOSED, VOTING and then ACCEPTED or REJECTED:
//  1. The candidate is pre-validated: it must carry at least one transaction
//     and link to the current chain tip. A failure rejects the round before
//     any vote is cast.
//  2. Each node in the roster snapshot re-runs the allocation policy against
//     the candidate's transactions and signs its vote.
//  3. Signatures are verified and the ACCEPT votes are counted.
//  4. The round is accepted when the count reaches RequiredVotes.
//
// The coordinator never mutates allocation state or the chain. Applying an
// accepted block is the caller's job.
//
// # Threshold
//
// With n nodes and threshold fraction f the round needs ceil(n*f) ACCEPT
// votes, at least one. A tie at exactly half of an even roster is therefore
// accepted with the default fraction 0.5. An empty roster can never reach a
// threshold and is rejected with ErrEmptyRoster.
package consensus
