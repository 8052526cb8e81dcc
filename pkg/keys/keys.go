// Package keys implements the ed25519 authority keypair used to sign
// operation envelopes. The public key doubles as the authority's ledger
// identity.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/Layr-Labs/ballast/pkg/types"
)

// Keypair is an ed25519 signing key and its derived identity.
type Keypair struct {
	privateKey ed25519.PrivateKey
	identity   types.Identity
}

// GenerateKeypair creates a new random keypair.
func GenerateKeypair() (*Keypair, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return newKeypair(privateKey)
}

// NewKeypairFromSeed reconstructs a keypair from its 32-byte seed.
func NewKeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed length: expected %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return newKeypair(ed25519.NewKeyFromSeed(seed))
}

func newKeypair(privateKey ed25519.PrivateKey) (*Keypair, error) {
	publicKey, ok := privateKey.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", privateKey.Public())
	}
	identity, err := types.IdentityFromBytes(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive identity: %w", err)
	}
	return &Keypair{
		privateKey: privateKey,
		identity:   identity,
	}, nil
}

// Identity returns the public identity derived from the keypair.
func (k *Keypair) Identity() types.Identity {
	return k.identity
}

// SignMessage signs the given message bytes.
func (k *Keypair) SignMessage(data []byte) ([]byte, error) {
	return ed25519.Sign(k.privateKey, data), nil
}

// Verify reports whether signature is a valid signature of message by this
// keypair's public key.
func (k *Keypair) Verify(message, signature []byte) bool {
	return ed25519.Verify(k.privateKey.Public().(ed25519.PublicKey), message, signature)
}

// Seed returns the 32-byte seed the keypair can be reconstructed from.
func (k *Keypair) Seed() []byte {
	return k.privateKey.Seed()
}
