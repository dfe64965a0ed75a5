package wallet

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestGenerateIdentity(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(id.EncryptionPrivate) != 32 || len(id.EncryptionPublic) != 32 {
		t.Error("X25519 keys must be 32 bytes")
	}
	if id.Address == "" {
		t.Error("address must not be empty")
	}

	other, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	if id.Address == other.Address {
		t.Error("two generated identities share an address")
	}
}

func TestSignVerify(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte("store_encrypted_trip")
	sig := id.Sign(msg)

	ok, err := Verify(id.Address, msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("signature should verify")
	}

	ok, err = Verify(id.Address, []byte("tampered"), sig)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("tampered message should not verify")
	}
}

func TestMnemonicRecoveryDeterministic(t *testing.T) {
	id, mnemonic, err := GenerateWithMnemonic()
	if err != nil {
		t.Fatalf("GenerateWithMnemonic: %v", err)
	}

	recovered, err := FromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}

	if id.Address != recovered.Address {
		t.Errorf("recovered address %s != original %s", recovered.Address, id.Address)
	}
	if !bytes.Equal(id.EncryptionPublic, recovered.EncryptionPublic) {
		t.Error("recovered encryption key differs")
	}
}

func TestFromMnemonicRejectsGarbage(t *testing.T) {
	if _, err := FromMnemonic("definitely not a valid phrase"); err != ErrInvalidMnemonic {
		t.Errorf("expected ErrInvalidMnemonic, got %v", err)
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "identity.key")
	if err := Save(id, path, "passphrase"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, "passphrase")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Address != id.Address {
		t.Errorf("loaded address %s != saved %s", loaded.Address, id.Address)
	}
	if !bytes.Equal(loaded.SigningKey, id.SigningKey) {
		t.Error("loaded signing key differs")
	}

	if _, err := Load(path, "wrong"); err == nil {
		t.Error("wrong passphrase must fail")
	}
}

func TestZeroWipesKeys(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	priv := id.EncryptionPrivate

	id.Zero()

	for i, b := range priv {
		if b != 0 {
			t.Fatalf("encryption private byte %d not wiped", i)
		}
	}
	if id.SigningKey != nil || id.EncryptionPrivate != nil {
		t.Error("key slices should be nil after Zero")
	}
}
