package allocation

import (
	"fmt"
	"math"
	"strings"
)

// ResourceKind names a quota-managed resource such as CPU or Memory.
type ResourceKind string

const (
	CPU       ResourceKind = "CPU"
	Memory    ResourceKind = "Memory"
	Storage   ResourceKind = "Storage"
	Bandwidth ResourceKind = "Bandwidth"
)

// DefaultKinds is the positional order used by the add_node command.
var DefaultKinds = []ResourceKind{CPU, Memory, Storage, Bandwidth}

// ParseKind maps s onto one of DefaultKinds ignoring case. Other names are
// kept verbatim, so nodes may carry custom kinds.
func ParseKind(s string) ResourceKind {
	s = strings.TrimSpace(s)
	for _, k := range DefaultKinds {
		if strings.EqualFold(s, string(k)) {
			return k
		}
	}
	return ResourceKind(s)
}

// ParseOp maps s onto an OpType ignoring case.
func ParseOp(s string) (OpType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(OpAllocate):
		return OpAllocate, nil
	case string(OpRelease):
		return OpRelease, nil
	}
	return "", &ValidationError{Reason: fmt.Sprintf("unknown operation %q", s)}
}

// OpType is the operation carried by a Transaction.
type OpType string

const (
	OpAllocate OpType = "allocate"
	OpRelease  OpType = "release"
)

// Node is a participant with per-resource quotas and current allocations.
// For every kind, Allocated[kind] <= Quota[kind].
type Node struct {
	ID        string                   `json:"node_id"`
	Quota     map[ResourceKind]float64 `json:"quotas"`
	Allocated map[ResourceKind]float64 `json:"allocated"`
}

// NewNode builds a node with zero allocation for every quota kind.
func NewNode(id string, quota map[ResourceKind]float64) (Node, error) {
	if strings.TrimSpace(id) == "" {
		return Node{}, &ValidationError{Reason: "node id cannot be empty"}
	}
	n := Node{
		ID:        id,
		Quota:     make(map[ResourceKind]float64, len(quota)),
		Allocated: make(map[ResourceKind]float64, len(quota)),
	}
	for kind, q := range quota {
		if !finite(q) || q < 0 {
			return Node{}, &ValidationError{NodeID: id, Kind: kind, Amount: q, Reason: "quota must be a finite non-negative number"}
		}
		n.Quota[kind] = q
		n.Allocated[kind] = 0
	}
	return n, nil
}

// Clone returns a deep copy, so the copy's maps can be mutated freely.
func (n Node) Clone() Node {
	c := Node{
		ID:        n.ID,
		Quota:     make(map[ResourceKind]float64, len(n.Quota)),
		Allocated: make(map[ResourceKind]float64, len(n.Allocated)),
	}
	for k, v := range n.Quota {
		c.Quota[k] = v
	}
	for k, v := range n.Allocated {
		c.Allocated[k] = v
	}
	return c
}

// HasKind reports whether the node was configured with a quota for kind.
func (n Node) HasKind(kind ResourceKind) bool {
	_, ok := n.Quota[kind]
	return ok
}

// Transaction is one intended resource operation. It is never mutated once created.
type Transaction struct {
	NodeID string       `json:"node_id"`
	Op     OpType       `json:"op"`
	Kind   ResourceKind `json:"resource_type"`
	Amount float64      `json:"amount"`
}

// NewTransaction checks that the request is well formed. Admissibility against
// quotas is not checked here: that is decided by the voters.
func NewTransaction(nodeID string, op OpType, kind ResourceKind, amount float64) (Transaction, error) {
	tx := Transaction{NodeID: nodeID, Op: op, Kind: kind, Amount: amount}
	if strings.TrimSpace(nodeID) == "" {
		return Transaction{}, &ValidationError{Kind: kind, Amount: amount, Reason: "node id cannot be empty"}
	}
	if op != OpAllocate && op != OpRelease {
		return Transaction{}, &ValidationError{NodeID: nodeID, Kind: kind, Amount: amount, Reason: fmt.Sprintf("unknown operation %q", op)}
	}
	if strings.TrimSpace(string(kind)) == "" {
		return Transaction{}, &ValidationError{NodeID: nodeID, Amount: amount, Reason: "resource kind cannot be empty"}
	}
	if !finite(amount) {
		return Transaction{}, &ValidationError{NodeID: nodeID, Kind: kind, Amount: amount, Reason: "amount must be finite"}
	}
	return tx, nil
}

func (tx Transaction) String() string {
	return fmt.Sprintf("%s %g %s by %s", tx.Op, tx.Amount, tx.Kind, tx.NodeID)
}

// ValidationError reports a malformed or non-admissible transaction. No state
// is changed when it is returned.
type ValidationError struct {
	NodeID string
	Kind   ResourceKind
	Amount float64
	Reason string
}

func (e *ValidationError) Error() string {
	if e.NodeID == "" {
		return "validation: " + e.Reason
	}
	if e.Kind == "" {
		return fmt.Sprintf("validation: node %s: %s", e.NodeID, e.Reason)
	}
	return fmt.Sprintf("validation: node %s %s %g: %s", e.NodeID, e.Kind, e.Amount, e.Reason)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
