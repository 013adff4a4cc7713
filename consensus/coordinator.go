package consensus

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/luca-patrignani/quota-ledger/domain/allocation"
	"github.com/luca-patrignani/quota-ledger/ledger"
)

// DefaultThreshold is the fraction of the roster whose votes accept a round.
const DefaultThreshold = 0.5

// thresholdTolerance absorbs float noise in n*fraction, so 0.3*10 counts as 3.
const thresholdTolerance = 1e-9

// RequiredVotes returns ceil(n*fraction), at least 1 when n > 0. With no
// nodes it returns 0, and no round can be accepted.
func RequiredVotes(n int, fraction float64) int {
	if n <= 0 {
		return 0
	}
	required := int(math.Ceil(float64(n)*fraction - thresholdTolerance))
	if required < 1 {
		required = 1
	}
	if required > n {
		required = n
	}
	return required
}

// Coordinator runs consensus rounds. It holds no chain or allocation state:
// every round is a function of the candidate, the tip hash and the roster
// snapshot passed to Propose.
type Coordinator struct {
	threshold float64
	signer    Signer
	logger    *slog.Logger
}

// NewCoordinator returns a coordinator with the given threshold fraction,
// which must be in (0, 1].
func NewCoordinator(threshold float64, signer Signer, logger *slog.Logger) (*Coordinator, error) {
	if math.IsNaN(threshold) || threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %g", threshold)
	}
	if signer == nil {
		return nil, errors.New("signer cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{threshold: threshold, signer: signer, logger: logger}, nil
}

func (c *Coordinator) Threshold() float64 {
	return c.threshold
}

// round tracks the state of a single proposal.
type round struct {
	decision Decision
	logger   *slog.Logger
}

func (r *round) transition(to RoundState) {
	from := r.decision.State
	valid := (from == StateProposed && (to == StateVoting || to == StateRejected)) ||
		(from == StateVoting && to.Terminal())
	if !valid {
		panic(fmt.Sprintf("consensus: illegal round transition %s -> %s", from, to))
	}
	r.decision.State = to
	r.logger.Debug("round transition", "proposal", r.decision.ProposalID, "from", from, "to", to)
}

func (r *round) reject(cause error, reason string) Decision {
	r.decision.Reason = reason
	r.decision.cause = cause
	r.transition(StateRejected)
	return r.decision
}

// Propose runs one round for candidate. tipHash is the hash of the chain tip
// the candidate must extend and snapshot is the roster frozen at entry; nodes
// registered after the snapshot was taken do not vote.
//
// A rejected round is reported through the Decision, not the error. The error
// is non-nil only if a vote could not be signed.
func (c *Coordinator) Propose(candidate ledger.Block, tipHash string, snapshot allocation.Snapshot) (Decision, error) {
	proposalID, err := ledger.ComputeHash(candidate)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to identify proposal: %w", err)
	}
	ids := snapshot.IDs()
	r := &round{
		decision: Decision{
			ProposalID: proposalID,
			BlockIndex: candidate.Index,
			State:      StateProposed,
			Required:   RequiredVotes(len(ids), c.threshold),
			TotalNodes: len(ids),
		},
		logger: c.logger,
	}

	if d, rejected := c.preValidate(r, candidate, tipHash); rejected {
		c.logDecision(d)
		return d, nil
	}

	r.transition(StateVoting)
	votes := make([]Vote, 0, len(ids))
	for _, id := range ids {
		v := Vote{ProposalID: proposalID, VoterID: id, Value: VoteAccept, Reason: "valid"}
		// every voter evaluates against its own view; all views are the shared snapshot
		if err := snapshot.Evaluate(candidate.Transactions); err != nil {
			v.Value = VoteReject
			v.Reason = err.Error()
		}
		if err := v.Sign(c.signer); err != nil {
			return Decision{}, fmt.Errorf("node %s failed to sign vote: %w", id, err)
		}
		c.logger.Debug("vote cast", "proposal", proposalID, "voter", id, "value", v.Value, "reason", v.Reason)
		votes = append(votes, v)
	}

	d := c.tally(r, votes)
	c.logDecision(d)
	return d, nil
}

func (c *Coordinator) preValidate(r *round, candidate ledger.Block, tipHash string) (Decision, bool) {
	if len(candidate.Transactions) == 0 {
		return r.reject(ErrPreValidation, "candidate block has no transactions"), true
	}
	if candidate.PrevHash != tipHash {
		return r.reject(ErrPreValidation,
			fmt.Sprintf("candidate previous hash %s does not match tip %s", candidate.PrevHash, tipHash)), true
	}
	if r.decision.TotalNodes == 0 {
		return r.reject(ErrEmptyRoster, "no registered nodes to vote"), true
	}
	return Decision{}, false
}

// tally verifies every vote and counts the verified ACCEPT votes.
func (c *Coordinator) tally(r *round, votes []Vote) Decision {
	var firstReject string
	for i := range votes {
		v := &votes[i]
		ok, err := v.VerifySignature(c.signer)
		if err != nil || !ok {
			c.logger.Warn("discarding vote with bad signature", "proposal", v.ProposalID, "voter", v.VoterID)
		}
		v.Verified = ok
		if ok && v.Value == VoteAccept {
			r.decision.VotesFor++
		} else {
			r.decision.VotesAgainst++
			if firstReject == "" && v.Value == VoteReject {
				firstReject = v.Reason
			}
		}
	}
	r.decision.Votes = votes

	if r.decision.VotesFor >= r.decision.Required {
		r.transition(StateAccepted)
		return r.decision
	}
	if firstReject == "" {
		firstReject = "not enough verified votes"
	}
	return r.reject(nil, firstReject)
}

func (c *Coordinator) logDecision(d Decision) {
	c.logger.Info("consensus decision",
		"proposal", d.ProposalID,
		"block", d.BlockIndex,
		"state", d.State,
		"for", d.VotesFor,
		"against", d.VotesAgainst,
		"required", d.Required,
		"nodes", d.TotalNodes,
		"reason", d.Reason)
}
