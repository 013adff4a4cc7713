package consensus

import (
	"context"
	"errors"
	"testing"

	"github.com/luca-patrignani/quota-ledger/domain/allocation"
	"github.com/luca-patrignani/quota-ledger/identity"
	"github.com/luca-patrignani/quota-ledger/ledger"
)

// fixture is a three node roster {A, B, C} where A has a CPU quota of 4.
type fixture struct {
	roster  *allocation.Roster
	keyring *identity.Keyring
	chain   *ledger.Blockchain
	coord   *Coordinator
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	f := &fixture{roster: allocation.NewRoster(), keyring: identity.NewKeyring()}
	for _, id := range ids {
		n, err := allocation.NewNode(id, map[allocation.ResourceKind]float64{allocation.CPU: 4, allocation.Memory: 8})
		if err != nil {
			t.Fatalf("NewNode failed: %v", err)
		}
		if err := f.roster.Register(n); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		f.keyring.Generate(id)
	}
	chain, err := ledger.NewBlockchain(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("NewBlockchain failed: %v", err)
	}
	f.chain = chain
	coord, err := NewCoordinator(DefaultThreshold, f.keyring, nil)
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	f.coord = coord
	return f
}

func (f *fixture) propose(t *testing.T, txs ...allocation.Transaction) Decision {
	t.Helper()
	c := f.chain.NewCandidate(txs)
	d, err := f.coord.Propose(c, f.chain.Latest().Hash, f.roster.Snapshot())
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	return d
}

func tx(op allocation.OpType, amount float64) allocation.Transaction {
	return allocation.Transaction{NodeID: "A", Op: op, Kind: allocation.CPU, Amount: amount}
}

func TestRequiredVotes(t *testing.T) {
	cases := []struct {
		n        int
		fraction float64
		want     int
	}{
		{0, 0.5, 0},
		{1, 0.5, 1},
		{2, 0.5, 1},
		{3, 0.5, 2},
		{4, 0.5, 2},
		{5, 0.5, 3},
		{10, 0.3, 3},
		{5, 1, 5},
		{3, 0.01, 1},
	}
	for _, c := range cases {
		if got := RequiredVotes(c.n, c.fraction); got != c.want {
			t.Fatalf("RequiredVotes(%d, %g) = %d, want %d", c.n, c.fraction, got, c.want)
		}
	}
}

func TestNewCoordinator_RejectsBadThreshold(t *testing.T) {
	for _, th := range []float64{0, -0.5, 1.5} {
		if _, err := NewCoordinator(th, identity.NewKeyring(), nil); err == nil {
			t.Fatalf("expected threshold %g to be rejected", th)
		}
	}
}

// TestPropose_AllocateWithinQuota verifies that with roster {A, B, C} an
// allocation of 2 CPU for A collects three verified ACCEPT votes.
func TestPropose_AllocateWithinQuota(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	d := f.propose(t, tx(allocation.OpAllocate, 2))
	if !d.Accepted() {
		t.Fatalf("expected ACCEPTED, got %s", d.Summary())
	}
	if d.VotesFor != 3 || d.Required != 2 || d.TotalNodes != 3 {
		t.Fatalf("unexpected tally: %+v", d)
	}
	for _, v := range d.Votes {
		if !v.Verified || v.Value != VoteAccept {
			t.Fatalf("unexpected vote %+v", v)
		}
	}
	if err := d.Err(); err != nil {
		t.Fatalf("accepted decision should carry no error, got %v", err)
	}
}

// TestPropose_ExceedsQuota expects every voter to reject an allocation of 5
// CPU against a quota of 4.
func TestPropose_ExceedsQuota(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	d := f.propose(t, tx(allocation.OpAllocate, 5))
	if d.State != StateRejected {
		t.Fatalf("expected REJECTED, got %s", d.State)
	}
	if d.VotesFor != 0 || d.VotesAgainst != 3 {
		t.Fatalf("expected 0/3, got %d/%d", d.VotesFor, d.TotalNodes)
	}
	var rerr *RejectedError
	if !errors.As(d.Err(), &rerr) {
		t.Fatalf("expected RejectedError, got %v", d.Err())
	}
}

func TestPropose_ReleaseNothingAllocated(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	d := f.propose(t, tx(allocation.OpRelease, 1))
	if d.Accepted() {
		t.Fatal("release of an unallocated amount must be rejected")
	}
	for _, v := range d.Votes {
		if v.Value != VoteReject {
			t.Fatalf("voter %s should reject, got %s", v.VoterID, v.Value)
		}
	}
}

// TestPropose_DoesNotMutate checks the coordinator leaves the roster as it
// found it even when the round is accepted.
func TestPropose_DoesNotMutate(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	if d := f.propose(t, tx(allocation.OpAllocate, 2)); !d.Accepted() {
		t.Fatalf("expected ACCEPTED, got %s", d.Summary())
	}
	a, _ := f.roster.Get("A")
	if a.Allocated[allocation.CPU] != 0 {
		t.Fatalf("coordinator must not apply transactions, allocated is %g", a.Allocated[allocation.CPU])
	}
	if f.chain.Len() != 1 {
		t.Fatalf("coordinator must not append blocks, chain has %d", f.chain.Len())
	}
}

func TestPropose_EmptyRoster(t *testing.T) {
	f := newFixture(t)
	d := f.propose(t, tx(allocation.OpAllocate, 1))
	if d.State != StateRejected || len(d.Votes) != 0 {
		t.Fatalf("expected vacuous rejection, got %+v", d)
	}
	if !errors.Is(d.Err(), ErrEmptyRoster) {
		t.Fatalf("expected ErrEmptyRoster, got %v", d.Err())
	}
}

// TestPropose_PreValidation verifies that an empty candidate and a candidate
// built on a stale tip are rejected with no vote cast.
func TestPropose_PreValidation(t *testing.T) {
	f := newFixture(t, "A", "B", "C")

	empty := f.chain.NewCandidate(nil)
	d, err := f.coord.Propose(empty, f.chain.Latest().Hash, f.roster.Snapshot())
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if d.State != StateRejected || len(d.Votes) != 0 || !errors.Is(d.Err(), ErrPreValidation) {
		t.Fatalf("empty candidate: unexpected decision %+v", d)
	}

	stale := f.chain.NewCandidate([]allocation.Transaction{tx(allocation.OpAllocate, 1)})
	stale.PrevHash = "deadbeef"
	d, err = f.coord.Propose(stale, f.chain.Latest().Hash, f.roster.Snapshot())
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if d.State != StateRejected || len(d.Votes) != 0 || !errors.Is(d.Err(), ErrPreValidation) {
		t.Fatalf("stale candidate: unexpected decision %+v", d)
	}
}

// TestPropose_CumulativeTransactions puts two allocations for one node in a
// single candidate; together they exceed the quota and must be rejected.
func TestPropose_CumulativeTransactions(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	if d := f.propose(t, tx(allocation.OpAllocate, 3), tx(allocation.OpAllocate, 1)); !d.Accepted() {
		t.Fatalf("3+1 fits quota 4, got %s", d.Summary())
	}
	if d := f.propose(t, tx(allocation.OpAllocate, 3), tx(allocation.OpAllocate, 2)); d.Accepted() {
		t.Fatal("3+2 exceeds quota 4 and must be rejected")
	}
}

// TestPropose_RosterFrozenAtEntry registers a node after the snapshot is taken
// and checks it neither votes nor changes the required count.
func TestPropose_RosterFrozenAtEntry(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	snap := f.roster.Snapshot()
	d4, _ := allocation.NewNode("D", map[allocation.ResourceKind]float64{allocation.CPU: 1})
	_ = f.roster.Register(d4)
	f.keyring.Generate("D")

	c := f.chain.NewCandidate([]allocation.Transaction{tx(allocation.OpAllocate, 1)})
	d, err := f.coord.Propose(c, f.chain.Latest().Hash, snap)
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if d.TotalNodes != 3 || len(d.Votes) != 3 {
		t.Fatalf("late registration must not vote, got %d votes", len(d.Votes))
	}
}

// forgingSigner signs correctly but refuses to verify the listed voters,
// modelling votes whose signatures do not check out.
type forgingSigner struct {
	*identity.Keyring
	forged map[string]bool
}

func (s forgingSigner) Verify(id string, msg, sig []byte) error {
	if s.forged[id] {
		return errors.New("forged")
	}
	return s.Keyring.Verify(id, msg, sig)
}

// TestPropose_TieAccepted covers the tie policy: with four nodes and threshold
// 0.5 exactly two verified ACCEPT votes accept the round, one does not.
func TestPropose_TieAccepted(t *testing.T) {
	f := newFixture(t, "A", "B", "C", "D")

	tie, err := NewCoordinator(DefaultThreshold, forgingSigner{f.keyring, map[string]bool{"C": true, "D": true}}, nil)
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	c := f.chain.NewCandidate([]allocation.Transaction{tx(allocation.OpAllocate, 1)})
	d, err := tie.Propose(c, f.chain.Latest().Hash, f.roster.Snapshot())
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if !d.Accepted() || d.VotesFor != 2 || d.Required != 2 {
		t.Fatalf("2/4 should be accepted on a tie, got %s", d.Summary())
	}

	minority, err := NewCoordinator(DefaultThreshold, forgingSigner{f.keyring, map[string]bool{"B": true, "C": true, "D": true}}, nil)
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	d, err = minority.Propose(c, f.chain.Latest().Hash, f.roster.Snapshot())
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if d.Accepted() || d.VotesFor != 1 {
		t.Fatalf("1/4 must be rejected, got %s", d.Summary())
	}
	for _, v := range d.Votes {
		if v.VoterID != "A" && v.Verified {
			t.Fatalf("vote of %s should be unverified", v.VoterID)
		}
	}
}

func TestPropose_UnknownSignerFails(t *testing.T) {
	f := newFixture(t, "A", "B")
	coord, err := NewCoordinator(DefaultThreshold, identity.NewKeyring(), nil)
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	c := f.chain.NewCandidate([]allocation.Transaction{tx(allocation.OpAllocate, 1)})
	if _, err := coord.Propose(c, f.chain.Latest().Hash, f.roster.Snapshot()); err == nil {
		t.Fatal("expected signing failure for nodes without keys")
	}
}
