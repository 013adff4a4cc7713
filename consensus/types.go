package consensus

import (
	"errors"
	"fmt"
	"strings"
)

// RoundState is the phase of a consensus round.
type RoundState string

const (
	StateProposed RoundState = "PROPOSED"
	StateVoting   RoundState = "VOTING"
	StateAccepted RoundState = "ACCEPTED"
	StateRejected RoundState = "REJECTED"
)

// Terminal reports whether no further transition is possible.
func (s RoundState) Terminal() bool {
	return s == StateAccepted || s == StateRejected
}

type VoteValue string

const (
	VoteAccept VoteValue = "ACCEPT"
	VoteReject VoteValue = "REJECT"
)

// Vote is one node's signed opinion on a proposal.
type Vote struct {
	ProposalID string    `json:"proposal_id"`
	VoterID    string    `json:"voter_id"`
	Value      VoteValue `json:"value"`
	Reason     string    `json:"reason,omitempty"`
	Signature  []byte    `json:"sig,omitempty"`
	// Verified is set by the tally, never signed.
	Verified bool `json:"verified"`
}

// Decision is the outcome of a round, with the full voting record.
type Decision struct {
	ProposalID   string     `json:"proposal_id"`
	BlockIndex   int        `json:"block_index"`
	State        RoundState `json:"state"`
	Votes        []Vote     `json:"votes"`
	VotesFor     int        `json:"votes_for"`
	VotesAgainst int        `json:"votes_against"`
	Required     int        `json:"required"`
	TotalNodes   int        `json:"total_nodes"`
	Reason       string     `json:"reason,omitempty"`

	cause error
}

func (d Decision) Accepted() bool {
	return d.State == StateAccepted
}

// Summary is a one-line description of the tally, used in audit details.
func (d Decision) Summary() string {
	if d.Reason != "" && len(d.Votes) == 0 {
		return fmt.Sprintf("%s: %s", d.State, d.Reason)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d/%d votes for (required %d)", d.State, d.VotesFor, d.TotalNodes, d.Required)
	if d.Reason != "" {
		fmt.Fprintf(&b, ": %s", d.Reason)
	}
	return b.String()
}

// Err returns a RejectedError for a rejected decision and nil otherwise.
func (d Decision) Err() error {
	if d.State != StateRejected {
		return nil
	}
	return &RejectedError{Decision: d}
}

// ErrEmptyRoster is the cause of rounds proposed with no registered nodes.
var ErrEmptyRoster = errors.New("empty roster")

// ErrPreValidation is the cause of rounds rejected before voting.
var ErrPreValidation = errors.New("pre-validation failed")

// RejectedError reports that a proposal did not reach the required votes.
type RejectedError struct {
	Decision Decision
}

func (e *RejectedError) Error() string {
	return "consensus rejected: " + e.Decision.Summary()
}

func (e *RejectedError) Unwrap() error {
	return e.Decision.cause
}
