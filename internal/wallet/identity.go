// Package wallet manages the user's ledger identity: an Ed25519 signing
// key with a derived X25519 encryption key, addressed by the base58
// encoding of the verify key. Signing of ledger transactions happens here;
// the encryption key feeds the per-computation session layer.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/curve25519"
)

// Identity holds the Ed25519 keypair and the X25519 keys derived from it.
type Identity struct {
	// Signing (Ed25519)
	SigningKey ed25519.PrivateKey
	VerifyKey  ed25519.PublicKey

	// Encryption (X25519, derived from the Ed25519 seed)
	EncryptionPrivate []byte
	EncryptionPublic  []byte

	// Address is the base58-encoded verify key, the account identifier
	// used everywhere on the ledger.
	Address string
}

// Generate creates a new random identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return fromSigningKey(priv, pub), nil
}

// fromSigningKey derives the X25519 keys and address from an Ed25519 key.
// The Ed25519 seed is hashed and clamped per RFC 7748.
func fromSigningKey(priv ed25519.PrivateKey, pub ed25519.PublicKey) *Identity {
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	var encPrivate [32]byte
	copy(encPrivate[:], h[:32])

	var encPublic [32]byte
	curve25519.ScalarBaseMult(&encPublic, &encPrivate)

	return &Identity{
		SigningKey:        priv,
		VerifyKey:         pub,
		EncryptionPrivate: encPrivate[:],
		EncryptionPublic:  encPublic[:],
		Address:           base58.Encode(pub),
	}
}

// Sign signs a ledger transaction payload with the Ed25519 key.
func (i *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(i.SigningKey, message)
}

// Verify checks a signature against an account address.
func Verify(address string, message, sig []byte) (bool, error) {
	pub, err := base58.Decode(address)
	if err != nil {
		return false, fmt.Errorf("decode address: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("address is not an ed25519 key: %d bytes", len(pub))
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig), nil
}

// Zero wipes the private key material. The identity is unusable afterwards.
func (i *Identity) Zero() {
	for idx := range i.SigningKey {
		i.SigningKey[idx] = 0
	}
	for idx := range i.EncryptionPrivate {
		i.EncryptionPrivate[idx] = 0
	}
	i.SigningKey = nil
	i.EncryptionPrivate = nil
}
