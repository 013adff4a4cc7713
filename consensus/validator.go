package consensus

import (
	"encoding/json"
	"errors"
)

// serialize returns the JSON form of the Vote with the Signature and Verified
// fields cleared, so neither is part of the signed data.
func (v *Vote) serialize() ([]byte, error) {
	tmp := *v
	tmp.Signature = nil
	tmp.Verified = false
	return json.Marshal(tmp)
}

// Sign signs the vote with the voter's key.
func (v *Vote) Sign(s Signer) error {
	b, err := v.serialize()
	if err != nil {
		return err
	}
	sig, err := s.Sign(v.VoterID, b)
	if err != nil {
		return err
	}
	v.Signature = sig
	return nil
}

// VerifySignature checks the vote's signature against the voter's key.
// Returns false if verification fails, or an error if the signature is
// missing or serialization fails.
func (v *Vote) VerifySignature(s Signer) (bool, error) {
	if len(v.Signature) == 0 {
		return false, errors.New("missing signature")
	}
	b, err := v.serialize()
	if err != nil {
		return false, err
	}
	return s.Verify(v.VoterID, b, v.Signature) == nil, nil
}
