package consensus

// Signer signs and verifies messages on behalf of roster nodes.
// identity.Keyring implements it.
type Signer interface {
	// Sign returns id's signature of msg.
	Sign(id string, msg []byte) ([]byte, error)

	// Verify returns nil if sig is id's signature of msg.
	Verify(id string, msg, sig []byte) error
}
