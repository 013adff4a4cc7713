package identity

import (
	"errors"
	"fmt"
	"sort"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/sign/schnorr"
	"go.dedis.ch/kyber/v4/suites"
)

var suite suites.Suite = suites.MustFind("Ed25519")

// ErrUnknownSigner is returned when no key is registered for a node id.
var ErrUnknownSigner = errors.New("unknown signer")

// KeyPair is a node's signing key.
type KeyPair struct {
	Public  kyber.Point
	private kyber.Scalar
}

// NewKeyPair picks a fresh random private scalar and derives its public point.
func NewKeyPair() KeyPair {
	x := suite.Scalar().Pick(suite.RandomStream())
	return KeyPair{Public: suite.Point().Mul(x, nil), private: x}
}

// Sign produces a Schnorr signature of msg.
func (k KeyPair) Sign(msg []byte) ([]byte, error) {
	return schnorr.Sign(suite, k.private, msg)
}

// Keyring maps node ids to their key pairs. It is not safe for concurrent use.
type Keyring struct {
	keys map[string]KeyPair
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]KeyPair)}
}

// Generate creates and stores a key pair for id, replacing any previous one.
func (kr *Keyring) Generate(id string) KeyPair {
	kp := NewKeyPair()
	kr.keys[id] = kp
	return kp
}

// Ensure returns the key pair of id, generating one if none exists yet.
func (kr *Keyring) Ensure(id string) KeyPair {
	if kp, ok := kr.keys[id]; ok {
		return kp
	}
	return kr.Generate(id)
}

// Sign signs msg with id's private key.
func (kr *Keyring) Sign(id string, msg []byte) ([]byte, error) {
	kp, ok := kr.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigner, id)
	}
	return kp.Sign(msg)
}

// Verify checks that sig is id's signature of msg.
func (kr *Keyring) Verify(id string, msg, sig []byte) error {
	kp, ok := kr.keys[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSigner, id)
	}
	if len(sig) == 0 {
		return errors.New("missing signature")
	}
	return schnorr.Verify(suite, kp.Public, msg, sig)
}

// IDs returns the ids with a key, in ascending order.
func (kr *Keyring) IDs() []string {
	ids := make([]string, 0, len(kr.keys))
	for id := range kr.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PublicKeyHex returns the hex form of id's public point.
func (kr *Keyring) PublicKeyHex(id string) (string, error) {
	kp, ok := kr.keys[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSigner, id)
	}
	b, err := kp.Public.MarshalBinary()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", b), nil
}
