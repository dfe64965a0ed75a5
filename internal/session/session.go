// Package session implements the per-computation encryption session used
// to protect trip and profile payloads submitted to the computation
// network. A session derives an AES-256 key from an X25519 key agreement
// with the network's published key, then performs authenticated
// encryption of the fixed-layout field sequence.
//
// Sessions are single-owner and single-use: Seal consumes the session, so
// the same (key, nonce) pair can never encrypt two different payloads
// through this API. Callers needing another submission open a new session
// with a fresh ephemeral key.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/triper/triper/pkg/payload"
)

const (
	// keyInfo is the HKDF info string, providing domain separation for
	// keys derived by this package.
	keyInfo = "triper-mxe-payload-v1"

	// KeyLength is the derived key length in bytes (AES-256).
	KeyLength = 32

	// NonceLength is the AES-GCM nonce length in bytes.
	NonceLength = 12
)

var (
	// ErrKeyAgreementFailed is returned when the X25519 agreement cannot
	// produce a usable shared secret (bad key length, low-order point).
	ErrKeyAgreementFailed = errors.New("session: key agreement failed")

	// ErrDecryptionFailed is returned when ciphertext authentication
	// fails. No partial plaintext is ever returned.
	ErrDecryptionFailed = errors.New("session: decryption failed")

	// ErrSessionConsumed is returned when Seal is called on a session
	// that already encrypted a payload.
	ErrSessionConsumed = errors.New("session: already used for encryption")

	// ErrInvalidNonce is returned for nonces of the wrong length.
	ErrInvalidNonce = errors.New("session: nonce must be 12 bytes")
)

// KeyPair is an ephemeral X25519 key pair for one submission.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// GenerateKeyPair creates a fresh ephemeral X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	private := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, private); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	return &KeyPair{Private: private, Public: public}, nil
}

// Zero wipes the private key material.
func (kp *KeyPair) Zero() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
	kp.Private = nil
}

// NewNonce generates a fresh random nonce for one encryption.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// Session is a negotiated encryption context. Not safe for concurrent
// use: each session belongs to exactly one caller for one submission.
type Session struct {
	mu          sync.Mutex
	key         []byte
	localPublic []byte
	sealed      bool
}

// Open negotiates a session key between the local private key and the
// remote party's published X25519 key.
func Open(local *KeyPair, remotePublic []byte) (*Session, error) {
	if local == nil || len(local.Private) != curve25519.ScalarSize {
		return nil, fmt.Errorf("%w: local private key must be %d bytes", ErrKeyAgreementFailed, curve25519.ScalarSize)
	}
	if len(remotePublic) != curve25519.PointSize {
		return nil, fmt.Errorf("%w: remote public key must be %d bytes", ErrKeyAgreementFailed, curve25519.PointSize)
	}

	shared, err := curve25519.X25519(local.Private, remotePublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyAgreementFailed, err)
	}

	key := make([]byte, KeyLength)
	kdf := hkdf.New(sha256.New, shared, nil, []byte(keyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("%w: derive key: %v", ErrKeyAgreementFailed, err)
	}
	for i := range shared {
		shared[i] = 0
	}

	return &Session{
		key:         key,
		localPublic: append([]byte(nil), local.Public...),
	}, nil
}

// LocalPublic returns the local public key the remote side needs to
// re-derive the session key.
func (s *Session) LocalPublic() []byte {
	return s.localPublic
}

// Seal encrypts a field sequence under the session key with the given
// nonce. The first call consumes the session: subsequent Seal calls fail
// with ErrSessionConsumed regardless of nonce.
func (s *Session) Seal(fields []uint64, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonce
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, ErrSessionConsumed
	}
	if s.sealed {
		return nil, ErrSessionConsumed
	}
	s.sealed = true

	aead, err := newAEAD(s.key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, payload.FieldsToBytes(fields), nil), nil
}

// Unseal decrypts and authenticates a ciphertext produced under the same
// negotiated key and nonce. Unlike Seal it may be called repeatedly:
// decryption does not risk nonce reuse.
func (s *Session) Unseal(ciphertext, nonce []byte) ([]uint64, error) {
	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonce
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == nil {
		return nil, ErrSessionConsumed
	}

	aead, err := newAEAD(s.key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	fields, err := payload.BytesToFields(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return fields, nil
}

// Close wipes the session key. Further calls fail with ErrSessionConsumed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.key {
		s.key[i] = 0
	}
	s.key = nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
