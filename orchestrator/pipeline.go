package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/luca-patrignani/quota-ledger/audit"
	"github.com/luca-patrignani/quota-ledger/consensus"
	"github.com/luca-patrignani/quota-ledger/domain/allocation"
	"github.com/luca-patrignani/quota-ledger/identity"
	"github.com/luca-patrignani/quota-ledger/ledger"
	"github.com/luca-patrignani/quota-ledger/persistence"
)

// Audit action names.
const (
	ActionAddNode   = "add_node"
	ActionRequest   = "request_resource"
	ActionRelease   = "release_resource"
	ActionSubmit    = "submit"
	ActionValidate  = "validate_chain"
	ActionLoadState = "load_state"
)

// Pipeline is the single writer of the ledger. All exported methods are safe
// for concurrent use; they are serialized by one mutex, so a proposal is never
// interleaved with another proposal, a registration or a save.
type Pipeline struct {
	mu sync.Mutex

	cfg     Config
	roster  *allocation.Roster
	chain   *ledger.Blockchain
	coord   *consensus.Coordinator
	keyring *identity.Keyring
	tokens  *identity.Tokens
	audit   *audit.Log
	logger  *slog.Logger

	// loadErr is set when Load failed. Saving is refused from then on so the
	// unreadable state on disk is not overwritten by a fresh ledger.
	loadErr error
}

// New creates a pipeline with an empty roster and a freshly sealed genesis
// block. It does not load saved state; call Load for that.
func New(ctx context.Context, cfg Config) (*Pipeline, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = consensus.DefaultThreshold
	}
	keyring := identity.NewKeyring()
	coord, err := consensus.NewCoordinator(cfg.Threshold, keyring, cfg.Logger)
	if err != nil {
		return nil, err
	}
	sealCtx, cancel := cfg.sealContext(ctx)
	defer cancel()
	chain, err := ledger.NewBlockchain(sealCtx, cfg.Difficulty, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:     cfg,
		roster:  allocation.NewRoster(),
		chain:   chain,
		coord:   coord,
		keyring: keyring,
		tokens:  identity.NewTokens(cfg.TokenSecret),
		audit:   audit.NewLog(cfg.Logger),
		logger:  cfg.Logger,
	}, nil
}

func (c Config) sealContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.SealTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.SealTimeout)
}

// RegisterNode adds a node with the given quotas, creates its signing key and
// returns its access token.
func (p *Pipeline) RegisterNode(id string, quota map[allocation.ResourceKind]float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	node, err := allocation.NewNode(id, quota)
	if err == nil {
		err = p.roster.Register(node)
	}
	if err != nil {
		p.audit.Record(id, ActionAddNode, err.Error(), audit.OutcomeFailure)
		p.persist()
		return "", err
	}
	p.keyring.Generate(id)
	token := p.tokens.Issue(id)
	p.audit.Record(id, ActionAddNode, formatQuota(node.Quota), audit.OutcomeSuccess)
	p.logger.Info("node registered", "node", id, "quotas", node.Quota)
	p.persist()
	return token, nil
}

// Outcome is the result of a submitted proposal.
type Outcome struct {
	Decision consensus.Decision `json:"decision"`
	// Block is the appended block, nil unless the proposal was accepted.
	Block *ledger.Block `json:"block,omitempty"`
}

// RequestResource proposes allocating amount of kind to node id.
func (p *Pipeline) RequestResource(ctx context.Context, id string, kind allocation.ResourceKind, amount float64) (Outcome, error) {
	return p.submitOne(ctx, id, allocation.OpAllocate, kind, amount)
}

// ReleaseResource proposes releasing amount of kind from node id.
func (p *Pipeline) ReleaseResource(ctx context.Context, id string, kind allocation.ResourceKind, amount float64) (Outcome, error) {
	return p.submitOne(ctx, id, allocation.OpRelease, kind, amount)
}

func (p *Pipeline) submitOne(ctx context.Context, id string, op allocation.OpType, kind allocation.ResourceKind, amount float64) (Outcome, error) {
	tx, err := allocation.NewTransaction(id, op, kind, amount)
	if err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.audit.Record(id, actionFor([]allocation.Transaction{{NodeID: id, Op: op}}), err.Error(), audit.OutcomeFailure)
		p.persist()
		return Outcome{}, err
	}
	return p.Submit(ctx, tx)
}

// Submit proposes one block carrying txs. Transactions are judged in order, so
// several operations on the same node are evaluated cumulatively.
//
// A malformed transaction returns a *allocation.ValidationError, a rejected
// vote a *consensus.RejectedError, and a seal that ran out of time an error
// wrapping ledger.ErrSealCancelled. In all three cases no state changes.
func (p *Pipeline) Submit(ctx context.Context, txs ...allocation.Transaction) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	action := actionFor(txs)
	subject := subjectOf(txs)

	if err := p.checkWellFormed(txs); err != nil {
		p.audit.Record(subject, action, err.Error(), audit.OutcomeFailure)
		p.persist()
		return Outcome{}, err
	}

	candidate := p.chain.NewCandidate(txs)
	decision, err := p.coord.Propose(candidate, p.chain.Latest().Hash, p.roster.Snapshot())
	if err != nil {
		p.audit.Record(subject, action, err.Error(), audit.OutcomeFailure)
		p.persist()
		return Outcome{}, err
	}
	out := Outcome{Decision: decision}
	if !decision.Accepted() {
		p.audit.Record(subject, action, describe(txs)+": "+decision.Summary(), audit.OutcomeRejected)
		p.persist()
		return out, decision.Err()
	}

	sealCtx, cancel := p.cfg.sealContext(ctx)
	defer cancel()
	sealed, err := p.chain.Seal(sealCtx, candidate)
	if err != nil {
		p.audit.Record(subject, action, describe(txs)+": "+err.Error(), audit.OutcomeFailure)
		p.persist()
		return out, err
	}
	if err := p.chain.Append(sealed); err != nil {
		p.audit.Record(subject, action, err.Error(), audit.OutcomeFailure)
		p.persist()
		return out, err
	}
	if err := p.roster.ApplyAll(txs); err != nil {
		// the roster was checked under the same lock, so this is a broken invariant
		return out, fmt.Errorf("block %d appended but not applied: %w", sealed.Index, err)
	}
	out.Block = &sealed

	p.audit.Record(subject, action,
		fmt.Sprintf("%s: %s, block %d", describe(txs), decision.Summary(), sealed.Index),
		audit.OutcomeAccepted)
	p.logger.Info("block appended", "index", sealed.Index, "hash", sealed.Hash, "transactions", len(txs))
	p.persist()
	return out, nil
}

// checkWellFormed rejects malformed transactions and unknown nodes before any
// vote is cast.
func (p *Pipeline) checkWellFormed(txs []allocation.Transaction) error {
	if len(txs) == 0 {
		return &allocation.ValidationError{Reason: "no transactions to submit"}
	}
	for _, tx := range txs {
		if _, err := allocation.NewTransaction(tx.NodeID, tx.Op, tx.Kind, tx.Amount); err != nil {
			return err
		}
		if _, ok := p.roster.Get(tx.NodeID); !ok {
			return &allocation.ValidationError{NodeID: tx.NodeID, Reason: "unknown node"}
		}
	}
	return nil
}

// ValidateChain runs the full integrity check and records its result.
func (p *Pipeline) ValidateChain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.chain.Validate()
	if err != nil {
		p.audit.Record(audit.SystemNode, ActionValidate, err.Error(), audit.OutcomeInvalid)
	} else {
		p.audit.Record(audit.SystemNode, ActionValidate, fmt.Sprintf("%d blocks verified", p.chain.Len()), audit.OutcomeValid)
	}
	p.persist()
	return err
}

// ViewChain returns a copy of every block, genesis first.
func (p *Pipeline) ViewChain() []ledger.Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chain.Blocks()
}

// Block returns the block at index.
func (p *Pipeline) Block(index int) (ledger.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chain.GetByIndex(index)
}

// Node returns a copy of the node with the given id.
func (p *Pipeline) Node(id string) (allocation.Node, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roster.Get(id)
}

// Nodes returns copies of all nodes ordered by id.
func (p *Pipeline) Nodes() []allocation.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roster.Nodes()
}

// AuditEvents returns the audit trail in recording order.
func (p *Pipeline) AuditEvents() []audit.Event {
	return p.audit.Events()
}

// History returns the recorded transactions of a node in chain order.
func (p *Pipeline) History(id string) ([]ledger.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.roster.Get(id); !ok {
		return nil, &allocation.ValidationError{NodeID: id, Reason: "unknown node"}
	}
	return p.chain.TransactionsFor(id), nil
}

// VerifyToken checks an API caller's token for node id.
func (p *Pipeline) VerifyToken(id, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokens.Verify(id, token)
}

// Status is a summary of the pipeline.
type Status struct {
	Time          time.Time `json:"time"`
	Nodes         []string  `json:"nodes"`
	Blocks        int       `json:"blocks"`
	Difficulty    int       `json:"difficulty"`
	Threshold     float64   `json:"threshold"`
	RequiredVotes int       `json:"required_votes"`
	AuditEvents   int       `json:"audit_events"`
}

func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.roster.Snapshot().IDs()
	return Status{
		Time:          time.Now(),
		Nodes:         ids,
		Blocks:        p.chain.Len(),
		Difficulty:    p.chain.Difficulty(),
		Threshold:     p.coord.Threshold(),
		RequiredVotes: consensus.RequiredVotes(len(ids), p.coord.Threshold()),
		AuditEvents:   p.audit.Len(),
	}
}

// ErrSaveBlocked is returned by Save after a failed Load.
var ErrSaveBlocked = errors.New("saving is blocked because the saved state could not be loaded")

// Save writes the current state to the configured store.
func (p *Pipeline) Save() (persistence.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.Store == nil {
		return persistence.Receipt{}, errors.New("persistence is disabled")
	}
	if p.loadErr != nil {
		return persistence.Receipt{}, fmt.Errorf("%w: %v", ErrSaveBlocked, p.loadErr)
	}
	return p.cfg.Store.Save(p.state())
}

// PublicKey returns the hex encoded public signing key of node id.
func (p *Pipeline) PublicKey(id string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keyring.PublicKeyHex(id)
}

// LoadReport describes the state found by Load.
type LoadReport struct {
	Found       bool
	IntegrityOK bool
	Nodes       int
	Blocks      int
	// ChainErr is the result of validating the restored chain.
	ChainErr error
	// AllocationErr is set when replaying the chain does not reproduce the
	// saved allocations.
	AllocationErr error
}

// Load replaces the in-memory state with the saved one. A digest mismatch, an
// invalid chain or allocations that disagree with the chain are reported and
// audited but do not fail the load: the ledger stays readable for inspection.
//
// A store that cannot be read or a saved state that cannot be restored fails
// the load, leaves the in-memory state alone and blocks every later save.
func (p *Pipeline) Load() (LoadReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.Store == nil {
		return LoadReport{}, errors.New("persistence is disabled")
	}
	report, err := p.load()
	p.loadErr = err
	if err != nil {
		p.logger.Error("failed to load state, saving is disabled", "error", err)
	}
	return report, err
}

func (p *Pipeline) load() (LoadReport, error) {
	loaded, err := p.cfg.Store.Load()
	if err != nil {
		return LoadReport{}, err
	}
	if !loaded.Found {
		return LoadReport{IntegrityOK: true}, nil
	}

	chain, err := ledger.Restore(loaded.State.Chain, p.cfg.Difficulty, p.logger)
	if err != nil {
		return LoadReport{}, fmt.Errorf("failed to restore chain: %w", err)
	}
	roster := allocation.NewRoster()
	if err := roster.Restore(loaded.State.Nodes); err != nil {
		return LoadReport{}, fmt.Errorf("failed to restore nodes: %w", err)
	}

	for _, n := range p.roster.Nodes() {
		if _, ok := roster.Get(n.ID); !ok {
			p.tokens.Revoke(n.ID)
		}
	}
	p.chain = chain
	p.roster = roster
	p.audit.Replace(loaded.State.AuditEvents)
	for _, n := range roster.Nodes() {
		p.keyring.Ensure(n.ID)
		p.tokens.Issue(n.ID)
	}

	report := LoadReport{
		Found:         true,
		IntegrityOK:   loaded.IntegrityOK,
		Nodes:         roster.Len(),
		Blocks:        chain.Len(),
		ChainErr:      chain.Validate(),
		AllocationErr: roster.Reconcile(chainTransactions(chain)),
	}
	if !loaded.IntegrityOK {
		p.audit.Record(audit.SystemNode, ActionLoadState, "saved state digest mismatch", audit.OutcomeWarning)
	}
	if report.ChainErr != nil {
		p.audit.Record(audit.SystemNode, ActionValidate, report.ChainErr.Error(), audit.OutcomeInvalid)
	}
	if report.AllocationErr != nil {
		p.audit.Record(audit.SystemNode, ActionLoadState, report.AllocationErr.Error(), audit.OutcomeWarning)
	}
	p.logger.Info("state loaded", "nodes", report.Nodes, "blocks", report.Blocks,
		"integrity_ok", report.IntegrityOK, "chain_valid", report.ChainErr == nil,
		"allocations_match", report.AllocationErr == nil)
	return report, nil
}

// chainTransactions flattens every block's transactions in chain order.
func chainTransactions(chain *ledger.Blockchain) []allocation.Transaction {
	var txs []allocation.Transaction
	for _, b := range chain.Blocks() {
		txs = append(txs, b.Transactions...)
	}
	return txs
}

// Close releases the store.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.Store == nil {
		return nil
	}
	return p.cfg.Store.Close()
}

func (p *Pipeline) state() persistence.State {
	return persistence.State{
		Nodes:       p.roster.Nodes(),
		Chain:       p.chain.Blocks(),
		AuditEvents: p.audit.Events(),
	}
}

// persist saves after a change. Failures are logged and never undo the change.
func (p *Pipeline) persist() {
	if p.cfg.Store == nil {
		return
	}
	if p.loadErr != nil {
		p.logger.Warn("state not saved", "error", ErrSaveBlocked)
		return
	}
	if _, err := p.cfg.Store.Save(p.state()); err != nil {
		p.logger.Error("failed to save state", "error", err)
	}
}

func actionFor(txs []allocation.Transaction) string {
	if len(txs) != 1 {
		return ActionSubmit
	}
	if txs[0].Op == allocation.OpRelease {
		return ActionRelease
	}
	return ActionRequest
}

// subjectOf is the audit node id of a proposal: its node if all transactions
// share one, the system otherwise.
func subjectOf(txs []allocation.Transaction) string {
	if len(txs) == 0 {
		return audit.SystemNode
	}
	id := txs[0].NodeID
	for _, tx := range txs[1:] {
		if tx.NodeID != id {
			return audit.SystemNode
		}
	}
	return id
}

func describe(txs []allocation.Transaction) string {
	parts := make([]string, len(txs))
	for i, tx := range txs {
		parts[i] = fmt.Sprintf("%s %g %s", tx.Op, tx.Amount, tx.Kind)
		if len(txs) > 1 {
			parts[i] += " for " + tx.NodeID
		}
	}
	return strings.Join(parts, "; ")
}

func formatQuota(q map[allocation.ResourceKind]float64) string {
	parts := make([]string, 0, len(q))
	for _, k := range allocation.DefaultKinds {
		if v, ok := q[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%g", k, v))
		}
	}
	var custom []string
	for k := range q {
		if !isDefaultKind(k) {
			custom = append(custom, string(k))
		}
	}
	sort.Strings(custom)
	for _, k := range custom {
		parts = append(parts, fmt.Sprintf("%s=%g", k, q[allocation.ResourceKind(k)]))
	}
	return "quotas " + strings.Join(parts, " ")
}

func isDefaultKind(k allocation.ResourceKind) bool {
	for _, d := range allocation.DefaultKinds {
		if d == k {
			return true
		}
	}
	return false
}
