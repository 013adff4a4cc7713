package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSealCancelled is returned when proof-of-work is stopped by its context.
var ErrSealCancelled = errors.New("seal cancelled")

// ChainError reports an append against a stale or inconsistent tip. It means
// the caller broke the single-writer discipline or built the block wrongly.
type ChainError struct {
	Index    int
	Reason   string
	Expected string
	Actual   string
}

func (e *ChainError) Error() string {
	if e.Expected == "" && e.Actual == "" {
		return fmt.Sprintf("chain: block %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("chain: block %d: %s: expected %s, got %s", e.Index, e.Reason, e.Expected, e.Actual)
}

// Property names a checked aspect of a block.
type Property string

const (
	PropertyHash       Property = "hash"
	PropertyLink       Property = "link"
	PropertyDifficulty Property = "difficulty"
	PropertyIndex      Property = "index"
)

// Violation is one failed property check.
type Violation struct {
	Property Property `json:"property"`
	Expected string   `json:"expected"`
	Actual   string   `json:"actual"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: expected %s, got %s", v.Property, v.Expected, v.Actual)
}

// IntegrityError reports the first block that failed validation together with
// every property of that block that failed.
type IntegrityError struct {
	Index      int
	Violations []Violation
}

func (e *IntegrityError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("integrity: block %d invalid: %s", e.Index, strings.Join(parts, "; "))
}

// Has reports whether property p is among the violations.
func (e *IntegrityError) Has(p Property) bool {
	for _, v := range e.Violations {
		if v.Property == p {
			return true
		}
	}
	return false
}
