package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/luca-patrignani/quota-ledger/domain/allocation"
)

// GenesisPrevHash is the previous-hash sentinel of block 0.
const GenesisPrevHash = "0"

// Block is a sealed unit of the chain. Fields are serialized in declaration
// order, which is also the order they enter the hash.
type Block struct {
	Index        int                      `json:"index"`
	Timestamp    int64                    `json:"timestamp"` // unix nanoseconds
	Transactions []allocation.Transaction `json:"transactions"`
	PrevHash     string                   `json:"previous_hash"`
	Nonce        uint64                   `json:"nonce"`
	Hash         string                   `json:"hash"`
}

// clone copies the transaction slice so callers cannot reach into the chain.
func (b Block) clone() Block {
	c := b
	if b.Transactions != nil {
		c.Transactions = make([]allocation.Transaction, len(b.Transactions))
		copy(c.Transactions, b.Transactions)
	}
	return c
}

// ComputeHash returns the hex SHA-256 digest of the block's index, timestamp,
// transactions, previous hash and nonce. The stored Hash field is ignored.
func ComputeHash(b Block) (string, error) {
	prefix, err := hashPrefix(b)
	if err != nil {
		return "", err
	}
	return hashWithNonce(prefix, b.Nonce), nil
}

// hashPrefix is the canonical encoding of everything but the nonce. Transactions
// are structs, so encoding/json emits their fields in a fixed order.
func hashPrefix(b Block) ([]byte, error) {
	txs := b.Transactions
	if txs == nil {
		txs = []allocation.Transaction{}
	}
	txBytes, err := json.Marshal(txs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transactions of block %d: %w", b.Index, err)
	}
	data := fmt.Sprintf("%d|%d|%s|%s|", b.Index, b.Timestamp, txBytes, b.PrevHash)
	return []byte(data), nil
}

func hashWithNonce(prefix []byte, nonce uint64) string {
	buf := make([]byte, 0, len(prefix)+20)
	buf = append(buf, prefix...)
	buf = strconv.AppendUint(buf, nonce, 10)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// MeetsDifficulty reports whether hash starts with difficulty '0' characters.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}
