package allocation

import "fmt"

// releaseEpsilon is the residue below which a released allocation snaps to zero.
const releaseEpsilon = 1e-12

// CanAllocate reports whether amount of kind fits in the node's remaining quota.
// The quota boundary itself is admissible.
func CanAllocate(node Node, kind ResourceKind, amount float64) bool {
	return checkAllocate(node, kind, amount) == nil
}

// CanRelease reports whether amount of kind is currently allocated to the node.
func CanRelease(node Node, kind ResourceKind, amount float64) bool {
	return checkRelease(node, kind, amount) == nil
}

// CheckPolicy is the error-returning form of the admission rules. Voters use the
// error text as the reason attached to a reject vote.
func CheckPolicy(node Node, tx Transaction) error {
	if node.ID != tx.NodeID {
		return fmt.Errorf("transaction for %s evaluated against node %s", tx.NodeID, node.ID)
	}
	switch tx.Op {
	case OpAllocate:
		return checkAllocate(node, tx.Kind, tx.Amount)
	case OpRelease:
		return checkRelease(node, tx.Kind, tx.Amount)
	default:
		return fmt.Errorf("unknown operation %q", tx.Op)
	}
}

func checkAllocate(node Node, kind ResourceKind, amount float64) error {
	if !finite(amount) || amount <= 0 {
		return fmt.Errorf("amount must be positive, got %g", amount)
	}
	if !node.HasKind(kind) {
		return fmt.Errorf("node %s has no quota for %s", node.ID, kind)
	}
	if node.Allocated[kind]+amount > node.Quota[kind] {
		return fmt.Errorf("quota exceeded for %s: allocated %g + %g > quota %g",
			kind, node.Allocated[kind], amount, node.Quota[kind])
	}
	return nil
}

func checkRelease(node Node, kind ResourceKind, amount float64) error {
	if !finite(amount) || amount <= 0 {
		return fmt.Errorf("amount must be positive, got %g", amount)
	}
	if amount > node.Allocated[kind] {
		return fmt.Errorf("cannot release %g %s: only %g allocated", amount, kind, node.Allocated[kind])
	}
	return nil
}

// Apply mutates the node's allocation by the transaction amount. It performs no
// validation: callers must have checked admissibility first.
func Apply(node *Node, tx Transaction) {
	if node.Allocated == nil {
		node.Allocated = make(map[ResourceKind]float64)
	}
	switch tx.Op {
	case OpAllocate:
		node.Allocated[tx.Kind] += tx.Amount
	case OpRelease:
		left := node.Allocated[tx.Kind] - tx.Amount
		if left < releaseEpsilon {
			left = 0
		}
		node.Allocated[tx.Kind] = left
	}
}
