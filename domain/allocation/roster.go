package allocation

import (
	"fmt"
	"math"
	"sort"
)

// reconcileTolerance absorbs float drift from replaying many transactions.
const reconcileTolerance = 1e-9

// Snapshot is a frozen copy of every node's allocation state, keyed by node id.
type Snapshot map[string]Node

// IDs returns the node ids in ascending order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evaluate checks txs in order against a scratch copy of the snapshot, so that
// several operations on one node are judged cumulatively. The snapshot itself
// is never modified. It returns the first inadmissible transaction's error.
func (s Snapshot) Evaluate(txs []Transaction) error {
	scratch := make(map[string]Node, len(txs))
	for i, tx := range txs {
		node, ok := scratch[tx.NodeID]
		if !ok {
			orig, found := s[tx.NodeID]
			if !found {
				return fmt.Errorf("tx %d: unknown node %s", i, tx.NodeID)
			}
			node = orig.Clone()
		}
		if err := CheckPolicy(node, tx); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
		Apply(&node, tx)
		scratch[tx.NodeID] = node
	}
	return nil
}

// Roster is the registry of nodes and the only owner of their allocation state.
// It is not safe for concurrent use; the orchestrator serializes access.
type Roster struct {
	nodes map[string]*Node
}

func NewRoster() *Roster {
	return &Roster{nodes: make(map[string]*Node)}
}

// Register adds a node. Registering an id twice is a ValidationError.
func (r *Roster) Register(node Node) error {
	if _, ok := r.nodes[node.ID]; ok {
		return &ValidationError{NodeID: node.ID, Reason: "node already registered"}
	}
	n := node.Clone()
	r.nodes[n.ID] = &n
	return nil
}

// Get returns a copy of the node with the given id.
func (r *Roster) Get(id string) (Node, bool) {
	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.Clone(), true
}

func (r *Roster) Len() int {
	return len(r.nodes)
}

// Nodes returns copies of all nodes ordered by id.
func (r *Roster) Nodes() []Node {
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Node, len(ids))
	for i, id := range ids {
		out[i] = r.nodes[id].Clone()
	}
	return out
}

// Snapshot deep-copies the current state for a consensus round. Registrations
// made after the call are not visible in the returned snapshot.
func (r *Roster) Snapshot() Snapshot {
	s := make(Snapshot, len(r.nodes))
	for id, n := range r.nodes {
		s[id] = n.Clone()
	}
	return s
}

// ApplyAll applies accepted transactions in order. It is the only path through
// which allocation state changes after registration.
func (r *Roster) ApplyAll(txs []Transaction) error {
	for _, tx := range txs {
		if _, ok := r.nodes[tx.NodeID]; !ok {
			return &ValidationError{NodeID: tx.NodeID, Reason: "unknown node"}
		}
	}
	for _, tx := range txs {
		Apply(r.nodes[tx.NodeID], tx)
	}
	return nil
}

// Restore replaces the registry with previously persisted nodes. Every node
// must satisfy 0 <= Allocated[kind] <= Quota[kind]; otherwise the registry is
// left untouched and a ValidationError is returned.
func (r *Roster) Restore(nodes []Node) error {
	restored := make(map[string]*Node, len(nodes))
	for _, node := range nodes {
		if _, ok := restored[node.ID]; ok {
			return &ValidationError{NodeID: node.ID, Reason: "duplicate node in saved state"}
		}
		if err := checkRestored(node); err != nil {
			return err
		}
		n := node.Clone()
		for kind := range n.Quota {
			if _, ok := n.Allocated[kind]; !ok {
				n.Allocated[kind] = 0
			}
		}
		restored[n.ID] = &n
	}
	r.nodes = restored
	return nil
}

func checkRestored(n Node) error {
	if n.ID == "" {
		return &ValidationError{Reason: "node id cannot be empty"}
	}
	for kind, q := range n.Quota {
		if !finite(q) || q < 0 {
			return &ValidationError{NodeID: n.ID, Kind: kind, Amount: q, Reason: "saved quota must be a finite non-negative number"}
		}
	}
	for kind, a := range n.Allocated {
		switch {
		case !finite(a) || a < 0:
			return &ValidationError{NodeID: n.ID, Kind: kind, Amount: a, Reason: "saved allocation must be a finite non-negative number"}
		case !n.HasKind(kind):
			if a != 0 {
				return &ValidationError{NodeID: n.ID, Kind: kind, Amount: a, Reason: "saved allocation has no quota"}
			}
		case a > n.Quota[kind]:
			return &ValidationError{NodeID: n.ID, Kind: kind, Amount: a,
				Reason: fmt.Sprintf("saved allocation exceeds quota %g", n.Quota[kind])}
		}
	}
	return nil
}

// Reconcile replays txs over zero allocations with the roster's quotas and
// reports the first node whose replayed allocation differs from its current
// one. Transactions for unregistered nodes are errors too.
func (r *Roster) Reconcile(txs []Transaction) error {
	replayed := make(map[string]*Node, len(r.nodes))
	for id, n := range r.nodes {
		fresh, err := NewNode(id, n.Quota)
		if err != nil {
			return err
		}
		replayed[id] = &fresh
	}
	for i, tx := range txs {
		n, ok := replayed[tx.NodeID]
		if !ok {
			return &ValidationError{NodeID: tx.NodeID, Kind: tx.Kind, Amount: tx.Amount,
				Reason: fmt.Sprintf("transaction %d names an unregistered node", i)}
		}
		Apply(n, tx)
	}
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		got, want := r.nodes[id], replayed[id]
		for kind := range got.Quota {
			if math.Abs(got.Allocated[kind]-want.Allocated[kind]) > reconcileTolerance {
				return &ValidationError{NodeID: id, Kind: kind, Amount: got.Allocated[kind],
					Reason: fmt.Sprintf("allocation does not match the chain, which records %g", want.Allocated[kind])}
			}
		}
	}
	return nil
}
