package identity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// ErrInvalidToken is returned when a token does not match the node's token.
var ErrInvalidToken = errors.New("invalid token")

// Tokens issues and checks per-node access tokens. A token is the hex SHA-256
// of "node:secret", so the same secret always yields the same token.
type Tokens struct {
	secret string
	issued map[string]string
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: secret, issued: make(map[string]string)}
}

// Issue derives and records the token of nodeID.
func (t *Tokens) Issue(nodeID string) string {
	sum := sha256.Sum256([]byte(nodeID + ":" + t.secret))
	tok := hex.EncodeToString(sum[:])
	t.issued[nodeID] = tok
	return tok
}

// Verify reports whether token is the current token of nodeID.
func (t *Tokens) Verify(nodeID, token string) error {
	want, ok := t.issued[nodeID]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Revoke forgets the token of nodeID.
func (t *Tokens) Revoke(nodeID string) {
	delete(t.issued, nodeID)
}
