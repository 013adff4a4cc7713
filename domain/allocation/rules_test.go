package allocation

import (
	"errors"
	"math"
	"testing"
)

func mustNode(t *testing.T, id string, quota map[ResourceKind]float64) Node {
	t.Helper()
	n, err := NewNode(id, quota)
	if err != nil {
		t.Fatalf("NewNode(%s) failed: %v", id, err)
	}
	return n
}

func TestCanAllocate_WithinQuota(t *testing.T) {
	n := mustNode(t, "A", map[ResourceKind]float64{CPU: 4})
	if !CanAllocate(n, CPU, 2) {
		t.Fatal("expected 2 CPU to fit in quota 4")
	}
}

func TestCanAllocate_BoundaryIsAdmissible(t *testing.T) {
	n := mustNode(t, "A", map[ResourceKind]float64{CPU: 4})
	n.Allocated[CPU] = 1.5
	if !CanAllocate(n, CPU, 2.5) {
		t.Fatal("allocated+amount == quota should be admissible")
	}
}

func TestCanAllocate_ExceedsQuota(t *testing.T) {
	n := mustNode(t, "A", map[ResourceKind]float64{CPU: 4})
	if CanAllocate(n, CPU, 5) {
		t.Fatal("expected 5 CPU to exceed quota 4")
	}
}

func TestCanAllocate_NonPositiveAmount(t *testing.T) {
	n := mustNode(t, "A", map[ResourceKind]float64{CPU: 4})
	for _, amount := range []float64{0, -1, math.NaN()} {
		if CanAllocate(n, CPU, amount) {
			t.Fatalf("amount %g should not be admissible", amount)
		}
	}
}

func TestCanAllocate_UnknownKind(t *testing.T) {
	n := mustNode(t, "A", map[ResourceKind]float64{CPU: 4})
	if CanAllocate(n, Memory, 1) {
		t.Fatal("node without a Memory quota must not allocate Memory")
	}
}

func TestCanRelease(t *testing.T) {
	n := mustNode(t, "A", map[ResourceKind]float64{CPU: 4})
	if CanRelease(n, CPU, 1) {
		t.Fatal("cannot release what was never allocated")
	}
	n.Allocated[CPU] = 2
	if !CanRelease(n, CPU, 2) {
		t.Fatal("releasing the full allocation should be admissible")
	}
	if CanRelease(n, CPU, 2.5) {
		t.Fatal("releasing more than allocated should fail")
	}
	if CanRelease(n, CPU, 0) {
		t.Fatal("zero release should fail")
	}
}

func TestApply_SnapsReleaseResidue(t *testing.T) {
	n := mustNode(t, "A", map[ResourceKind]float64{CPU: 1})
	Apply(&n, Transaction{NodeID: "A", Op: OpAllocate, Kind: CPU, Amount: 0.1})
	Apply(&n, Transaction{NodeID: "A", Op: OpAllocate, Kind: CPU, Amount: 0.2})
	Apply(&n, Transaction{NodeID: "A", Op: OpRelease, Kind: CPU, Amount: 0.3})
	if n.Allocated[CPU] != 0 {
		t.Fatalf("expected residue to snap to 0, got %g", n.Allocated[CPU])
	}
}

// TestAllocationInvariant runs a mixed sequence of requests, applying only the
// admissible ones, and checks 0 <= allocated <= quota after each step.
func TestAllocationInvariant(t *testing.T) {
	n := mustNode(t, "A", map[ResourceKind]float64{CPU: 4, Memory: 8})
	seq := []Transaction{
		{NodeID: "A", Op: OpAllocate, Kind: CPU, Amount: 3},
		{NodeID: "A", Op: OpAllocate, Kind: CPU, Amount: 2},
		{NodeID: "A", Op: OpRelease, Kind: CPU, Amount: 1},
		{NodeID: "A", Op: OpAllocate, Kind: CPU, Amount: 2},
		{NodeID: "A", Op: OpRelease, Kind: Memory, Amount: 1},
		{NodeID: "A", Op: OpAllocate, Kind: Memory, Amount: 8},
		{NodeID: "A", Op: OpRelease, Kind: Memory, Amount: 8},
		{NodeID: "A", Op: OpRelease, Kind: CPU, Amount: 4},
	}
	for i, tx := range seq {
		if CheckPolicy(n, tx) == nil {
			Apply(&n, tx)
		}
		for kind, q := range n.Quota {
			if n.Allocated[kind] < 0 || n.Allocated[kind] > q {
				t.Fatalf("step %d: %s allocated %g outside [0, %g]", i, kind, n.Allocated[kind], q)
			}
		}
	}
	if n.Allocated[CPU] != 0 || n.Allocated[Memory] != 0 {
		t.Fatalf("expected everything released, got %v", n.Allocated)
	}
}

func TestNewTransaction_Malformed(t *testing.T) {
	cases := []struct {
		name   string
		nodeID string
		op     OpType
		kind   ResourceKind
		amount float64
	}{
		{"empty node", "", OpAllocate, CPU, 1},
		{"unknown op", "A", OpType("transfer"), CPU, 1},
		{"empty kind", "A", OpAllocate, "", 1},
		{"nan", "A", OpAllocate, CPU, math.NaN()},
		{"inf", "A", OpRelease, CPU, math.Inf(1)},
	}
	for _, c := range cases {
		_, err := NewTransaction(c.nodeID, c.op, c.kind, c.amount)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %v", c.name, err)
		}
	}
}

func TestNewTransaction_NonPositiveIsWellFormed(t *testing.T) {
	// a non-positive amount is a policy failure decided by the voters
	if _, err := NewTransaction("A", OpAllocate, CPU, -2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseKind(t *testing.T) {
	if ParseKind(" cpu ") != CPU || ParseKind("BANDWIDTH") != Bandwidth {
		t.Fatal("default kinds should match case-insensitively")
	}
	if ParseKind("GPU") != ResourceKind("GPU") {
		t.Fatal("custom kinds should be kept verbatim")
	}
	if op, err := ParseOp("Release"); err != nil || op != OpRelease {
		t.Fatalf("ParseOp(Release) = %q, %v", op, err)
	}
	if _, err := ParseOp("transfer"); err == nil {
		t.Fatal("expected unknown op to fail")
	}
}
