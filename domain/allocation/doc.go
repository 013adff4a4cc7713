// Package allocation implements the resource-quota policy engine: the nodes
// that own quotas, the transactions that move allocations, and the admission
// rules every voter evaluates.
//
// # Core Types
//
// Node: A participant with a quota and a current allocation per ResourceKind.
//
// Transaction: One allocate or release request for a single node and kind.
//
// Roster: The registry of nodes. It hands out Snapshots for consensus rounds
// and applies accepted transactions.
//
// # Admission Rules
//
// An allocation is admissible when the amount is positive, the node has a
// quota for the kind, and allocated+amount <= quota. A release is admissible
// when the amount is positive and does not exceed the current allocation.
// The rules are pure functions of the node state so every voter reaches the
// same verdict on the same snapshot.
package allocation
