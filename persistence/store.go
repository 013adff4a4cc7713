package persistence

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/luca-patrignani/quota-ledger/audit"
	"github.com/luca-patrignani/quota-ledger/domain/allocation"
	"github.com/luca-patrignani/quota-ledger/ledger"
)

// State is everything that survives a restart.
type State struct {
	Nodes       []allocation.Node `json:"nodes"`
	Chain       []ledger.Block    `json:"chain"`
	AuditEvents []audit.Event     `json:"audit_events"`
}

// Receipt identifies a completed save.
type Receipt struct {
	Location string
	Digest   string
}

// Loaded is the result of a load. Found is false when nothing was saved yet,
// in which case State is empty and IntegrityOK is true.
type Loaded struct {
	State       State
	Digest      string
	IntegrityOK bool
	Found       bool
}

// Store is a persistence backend.
type Store interface {
	Save(state State) (Receipt, error)
	Load() (Loaded, error)
	Close() error
}

// encodeState returns the compact JSON encoding the digest is computed over.
func encodeState(state State) ([]byte, error) {
	if state.Nodes == nil {
		state.Nodes = []allocation.Node{}
	}
	if state.Chain == nil {
		state.Chain = []ledger.Block{}
	}
	if state.AuditEvents == nil {
		state.AuditEvents = []audit.Event{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}

// Digest returns the integrity digest of an encoded state. Insignificant
// whitespace is ignored, so an indented copy has the same digest.
func Digest(raw []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", fmt.Errorf("failed to canonicalize state: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// decodeState parses raw and compares its digest with the stored one.
func decodeState(raw []byte, stored string) (Loaded, error) {
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return Loaded{}, fmt.Errorf("failed to decode state: %w", err)
	}
	digest, err := Digest(raw)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{
		State:       state,
		Digest:      digest,
		IntegrityOK: stored != "" && digest == stored,
		Found:       true,
	}, nil
}
