package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/luca-patrignani/quota-ledger/domain/allocation"
)

// MaxDifficulty is the length of a hex SHA-256 digest.
const MaxDifficulty = 64

// sealCheckInterval is how many nonces are tried between context checks.
const sealCheckInterval = 1024

// Blockchain maintains the append-only sequence of sealed blocks.
type Blockchain struct {
	blocks     []Block
	difficulty int
	logger     *slog.Logger
	now        func() time.Time
}

// NewBlockchain creates a chain whose genesis block is sealed with the given
// difficulty. ctx bounds the genesis proof-of-work.
func NewBlockchain(ctx context.Context, difficulty int, logger *slog.Logger) (*Blockchain, error) {
	if difficulty < 0 || difficulty > MaxDifficulty {
		return nil, fmt.Errorf("difficulty must be in [0, %d], got %d", MaxDifficulty, difficulty)
	}
	if logger == nil {
		logger = slog.Default()
	}
	bc := &Blockchain{
		blocks:     make([]Block, 0, 1),
		difficulty: difficulty,
		logger:     logger,
		now:        time.Now,
	}

	genesis := Block{
		Index:        0,
		Timestamp:    bc.now().UnixNano(),
		Transactions: []allocation.Transaction{},
		PrevHash:     GenesisPrevHash,
	}
	sealed, err := bc.Seal(ctx, genesis)
	if err != nil {
		return nil, fmt.Errorf("failed to seal genesis block: %w", err)
	}
	bc.blocks = append(bc.blocks, sealed)
	return bc, nil
}

// Restore rebuilds a chain from persisted blocks without re-mining them. The
// result is not validated; call Validate before trusting it.
func Restore(blocks []Block, difficulty int, logger *slog.Logger) (*Blockchain, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("cannot restore an empty chain")
	}
	if difficulty < 0 || difficulty > MaxDifficulty {
		return nil, fmt.Errorf("difficulty must be in [0, %d], got %d", MaxDifficulty, difficulty)
	}
	if logger == nil {
		logger = slog.Default()
	}
	bc := &Blockchain{
		blocks:     make([]Block, len(blocks)),
		difficulty: difficulty,
		logger:     logger,
		now:        time.Now,
	}
	for i, b := range blocks {
		bc.blocks[i] = b.clone()
	}
	return bc, nil
}

func (bc *Blockchain) Difficulty() int {
	return bc.difficulty
}

func (bc *Blockchain) Len() int {
	return len(bc.blocks)
}

// Latest returns the current tip.
func (bc *Blockchain) Latest() Block {
	return bc.blocks[len(bc.blocks)-1].clone()
}

// GetByIndex retrieves a block by its index in the chain.
func (bc *Blockchain) GetByIndex(index int) (Block, error) {
	if index < 0 || index >= len(bc.blocks) {
		return Block{}, fmt.Errorf("index %d out of range [0, %d)", index, len(bc.blocks))
	}
	return bc.blocks[index].clone(), nil
}

// Blocks returns a copy of the whole chain, genesis first.
func (bc *Blockchain) Blocks() []Block {
	out := make([]Block, len(bc.blocks))
	for i, b := range bc.blocks {
		out[i] = b.clone()
	}
	return out
}

// NewCandidate builds an unsealed block on top of the current tip.
func (bc *Blockchain) NewCandidate(txs []allocation.Transaction) Block {
	tip := bc.blocks[len(bc.blocks)-1]
	c := make([]allocation.Transaction, len(txs))
	copy(c, txs)
	return Block{
		Index:        tip.Index + 1,
		Timestamp:    bc.now().UnixNano(),
		Transactions: c,
		PrevHash:     tip.Hash,
	}
}

// Seal runs proof-of-work on candidate with the chain's difficulty.
func (bc *Blockchain) Seal(ctx context.Context, candidate Block) (Block, error) {
	start := time.Now()
	sealed, err := Seal(ctx, candidate, bc.difficulty)
	if err != nil {
		return Block{}, err
	}
	bc.logger.Debug("block sealed",
		"index", sealed.Index,
		"nonce", sealed.Nonce,
		"hash", sealed.Hash,
		"elapsed", time.Since(start))
	return sealed, nil
}

// Seal increments the nonce from zero until the block hash has difficulty
// leading zeros. It stops with ErrSealCancelled when ctx is done; the
// candidate passed in is never modified.
func Seal(ctx context.Context, candidate Block, difficulty int) (Block, error) {
	b := candidate.clone()
	prefix, err := hashPrefix(b)
	if err != nil {
		return Block{}, err
	}
	for nonce := uint64(0); ; nonce++ {
		if nonce%sealCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return Block{}, fmt.Errorf("%w: block %d after %d nonces: %w", ErrSealCancelled, b.Index, nonce, ctx.Err())
			default:
			}
		}
		hash := hashWithNonce(prefix, nonce)
		if MeetsDifficulty(hash, difficulty) {
			b.Nonce = nonce
			b.Hash = hash
			return b, nil
		}
	}
}

// Append adds a sealed block on top of the current tip. It fails with a
// ChainError if the block does not extend the tip or is not correctly sealed.
func (bc *Blockchain) Append(b Block) error {
	tip := bc.blocks[len(bc.blocks)-1]
	if b.PrevHash != tip.Hash {
		return &ChainError{Index: b.Index, Reason: "stale previous hash", Expected: tip.Hash, Actual: b.PrevHash}
	}
	if b.Index != tip.Index+1 {
		return &ChainError{Index: b.Index, Reason: "non-sequential index",
			Expected: fmt.Sprint(tip.Index + 1), Actual: fmt.Sprint(b.Index)}
	}
	if len(b.Transactions) == 0 {
		return &ChainError{Index: b.Index, Reason: "only the genesis block may be empty"}
	}
	if violations := bc.checkSeal(b); len(violations) > 0 {
		return &ChainError{Index: b.Index, Reason: "block is not sealed",
			Expected: violations[0].Expected, Actual: violations[0].Actual}
	}
	bc.blocks = append(bc.blocks, b.clone())
	return nil
}

// Validate walks the whole chain. For each block it checks the content hash,
// the link to the previous block and the difficulty target, and returns an
// IntegrityError for the first block with any failure. It returns nil if the
// chain is intact.
func (bc *Blockchain) Validate() error {
	if len(bc.blocks) == 0 {
		return &IntegrityError{Index: 0, Violations: []Violation{{Property: PropertyIndex, Expected: "genesis", Actual: "empty chain"}}}
	}
	for i, current := range bc.blocks {
		var violations []Violation
		if current.Index != i {
			violations = append(violations, Violation{Property: PropertyIndex, Expected: fmt.Sprint(i), Actual: fmt.Sprint(current.Index)})
		}
		violations = append(violations, bc.checkSeal(current)...)

		expectedPrev := GenesisPrevHash
		if i > 0 {
			expectedPrev = bc.blocks[i-1].Hash
		}
		if current.PrevHash != expectedPrev {
			violations = append(violations, Violation{Property: PropertyLink, Expected: expectedPrev, Actual: current.PrevHash})
		}

		if len(violations) > 0 {
			return &IntegrityError{Index: i, Violations: violations}
		}
	}
	return nil
}

// checkSeal recomputes the hash and checks the difficulty target.
func (bc *Blockchain) checkSeal(b Block) []Violation {
	var violations []Violation
	expected, err := ComputeHash(b)
	if err != nil {
		expected = "<" + err.Error() + ">"
	}
	if b.Hash != expected {
		violations = append(violations, Violation{Property: PropertyHash, Expected: expected, Actual: b.Hash})
	}
	if !MeetsDifficulty(b.Hash, bc.difficulty) {
		violations = append(violations, Violation{Property: PropertyDifficulty,
			Expected: fmt.Sprintf("%d leading zeros", bc.difficulty), Actual: b.Hash})
	}
	return violations
}

// Record is one transaction located in the chain.
type Record struct {
	BlockIndex  int                    `json:"block_index"`
	Timestamp   int64                  `json:"timestamp"`
	Transaction allocation.Transaction `json:"transaction"`
}

// TransactionsFor returns every recorded transaction of nodeID in chain order.
func (bc *Blockchain) TransactionsFor(nodeID string) []Record {
	var out []Record
	for _, b := range bc.blocks {
		for _, tx := range b.Transactions {
			if tx.NodeID == nodeID {
				out = append(out, Record{BlockIndex: b.Index, Timestamp: b.Timestamp, Transaction: tx})
			}
		}
	}
	return out
}
