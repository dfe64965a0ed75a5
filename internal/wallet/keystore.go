package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

// serializedIdentity is the JSON structure inside the encrypted keystore.
type serializedIdentity struct {
	SigningKey        []byte `json:"signing_key"`
	VerifyKey         []byte `json:"verify_key"`
	EncryptionPrivate []byte `json:"encryption_private"`
	EncryptionPublic  []byte `json:"encryption_public"`
	Address           string `json:"address"`
}

// deriveKeystoreKey uses Argon2id to derive an AES-256 key from the
// passphrase.
func deriveKeystoreKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// Save encrypts the identity with a passphrase-derived key and writes it
// to path. File format: salt(16) + nonce(12) + ciphertext.
func Save(id *Identity, path, passphrase string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create keystore directory: %w", err)
	}

	data, err := json.Marshal(serializedIdentity{
		SigningKey:        id.SigningKey,
		VerifyKey:         id.VerifyKey,
		EncryptionPrivate: id.EncryptionPrivate,
		EncryptionPublic:  id.EncryptionPublic,
		Address:           id.Address,
	})
	if err != nil {
		return fmt.Errorf("serialize identity: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	key := deriveKeystoreKey(passphrase, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, data, nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	return nil
}

// Load decrypts an identity saved with Save.
func Load(path, passphrase string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	if len(data) < 28 { // 16 salt + 12 nonce minimum
		return nil, fmt.Errorf("keystore file too short")
	}

	salt := data[:16]
	key := deriveKeystoreKey(passphrase, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < 16+nonceSize {
		return nil, fmt.Errorf("keystore file too short")
	}
	nonce := data[16 : 16+nonceSize]
	ciphertext := data[16+nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore (wrong passphrase?): %w", err)
	}

	var stored serializedIdentity
	if err := json.Unmarshal(plaintext, &stored); err != nil {
		return nil, fmt.Errorf("deserialize identity: %w", err)
	}

	return &Identity{
		SigningKey:        stored.SigningKey,
		VerifyKey:         stored.VerifyKey,
		EncryptionPrivate: stored.EncryptionPrivate,
		EncryptionPublic:  stored.EncryptionPublic,
		Address:           stored.Address,
	}, nil
}
