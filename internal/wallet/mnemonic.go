package wallet

import (
	"crypto/ed25519"
	"errors"

	"github.com/tyler-smith/go-bip39"
)

// ErrInvalidMnemonic is returned when an invalid BIP-39 phrase is provided.
var ErrInvalidMnemonic = errors.New("wallet: invalid mnemonic phrase")

// GenerateWithMnemonic creates a new identity along with a 24-word BIP-39
// recovery phrase. The phrase fully determines the identity.
func GenerateWithMnemonic() (*Identity, string, error) {
	entropy, err := bip39.NewEntropy(256) // 24 words
	if err != nil {
		return nil, "", err
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", err
	}

	identity, err := FromMnemonic(mnemonic)
	if err != nil {
		return nil, "", err
	}
	return identity, mnemonic, nil
}

// FromMnemonic recovers an identity from a BIP-39 phrase. Deterministic:
// the same phrase always yields the same keys and address.
func FromMnemonic(mnemonic string) (*Identity, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	priv := ed25519.NewKeyFromSeed(seed[:32])
	pub := priv.Public().(ed25519.PublicKey)

	return fromSigningKey(priv, pub), nil
}
