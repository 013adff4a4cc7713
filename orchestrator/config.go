package orchestrator

import (
	"log/slog"
	"time"

	"github.com/luca-patrignani/quota-ledger/consensus"
	"github.com/luca-patrignani/quota-ledger/persistence"
)

const (
	DefaultDifficulty  = 2
	DefaultSealTimeout = 30 * time.Second
)

// Config configures a Pipeline.
type Config struct {
	// Difficulty is the number of leading hex zeros a block hash needs.
	Difficulty int
	// Threshold is the fraction of the roster whose votes accept a round.
	Threshold float64
	// SealTimeout bounds the proof-of-work of one block. Zero means no limit.
	SealTimeout time.Duration
	// TokenSecret is mixed into node access tokens.
	TokenSecret string
	// Store persists state after every change. Nil disables persistence.
	Store persistence.Store
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by the ledger binary.
func DefaultConfig() Config {
	return Config{
		Difficulty:  DefaultDifficulty,
		Threshold:   consensus.DefaultThreshold,
		SealTimeout: DefaultSealTimeout,
	}
}
