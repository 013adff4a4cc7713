package consensus

import (
	"encoding/json"
	"testing"

	"github.com/luca-patrignani/quota-ledger/identity"
)

// TestVoteSignVerify verifies that a signed vote verifies under its voter's key.
func TestVoteSignVerify(t *testing.T) {
	kr := identity.NewKeyring()
	kr.Generate("A")
	v := &Vote{ProposalID: "p1", VoterID: "A", Value: VoteAccept, Reason: "valid"}
	if err := v.Sign(kr); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	ok, err := v.VerifySignature(kr)
	if err != nil {
		t.Fatalf("Verify returned err: %v", err)
	}
	if !ok {
		t.Fatalf("signature verification failed")
	}
}

// TestVoteVerifyFailsIfTampered flips the vote value after signing. The value
// is part of the signed data, so verification must fail.
func TestVoteVerifyFailsIfTampered(t *testing.T) {
	kr := identity.NewKeyring()
	kr.Generate("A")
	v := &Vote{ProposalID: "p1", VoterID: "A", Value: VoteReject, Reason: "quota exceeded"}
	if err := v.Sign(kr); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	v.Value = VoteAccept
	ok, err := v.VerifySignature(kr)
	if err != nil {
		t.Fatalf("Verify returned err: %v", err)
	}
	if ok {
		t.Fatalf("tampered vote should not verify")
	}
}

func TestVoteVerifyMissingSignature(t *testing.T) {
	v := &Vote{ProposalID: "p1", VoterID: "A", Value: VoteAccept}
	if _, err := v.VerifySignature(identity.NewKeyring()); err == nil {
		t.Fatal("expected error for missing signature")
	}
}

// TestVoteVerifiedFlagNotSigned checks that the tally flag can be set after
// signing without invalidating the signature, also across a JSON round trip.
func TestVoteVerifiedFlagNotSigned(t *testing.T) {
	kr := identity.NewKeyring()
	kr.Generate("B")
	v := Vote{ProposalID: "p2", VoterID: "B", Value: VoteAccept}
	if err := v.Sign(kr); err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	v.Verified = true
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded Vote
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if ok, err := decoded.VerifySignature(kr); err != nil || !ok {
		t.Fatalf("decoded vote should verify, ok=%v err=%v", ok, err)
	}
}
