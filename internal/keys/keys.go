// Package keys manages the age key pair used to encrypt images at rest.
package keys

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"

	"mtkflash/internal/crypto"
)

// Generate creates an X25519 identity. When outPath is set the identity is
// written there in age key file format; otherwise it is printed to w.
func Generate(w io.Writer, outPath string) (*age.X25519Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	var file bytes.Buffer
	fmt.Fprintf(&file, "# created: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&file, "# public key: %s\n", identity.Recipient())
	fmt.Fprintf(&file, "%s\n", identity)

	if outPath == "" {
		_, err = w.Write(file.Bytes())
		return identity, err
	}

	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.Write(file.Bytes()); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	fmt.Fprintf(w, "Public key: %s\n", identity.Recipient())
	fmt.Fprintf(w, "Identity written to %s\n", outPath)
	fmt.Fprintln(w, "!! Keep your private key secure !!")
	return identity, nil
}

// Test checks that identityPath can decrypt images encrypted for
// publicKey.
func Test(w io.Writer, publicKey, identityPath string) error {
	if publicKey == "" {
		return errors.New("age_public_key is not set in the profile")
	}
	recipient, err := age.ParseX25519Recipient(publicKey)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	identities, err := crypto.LoadIdentities(identityPath)
	if err != nil {
		return err
	}

	tempDir, err := os.MkdirTemp("", "mtkflash_key_test_*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	content := "mtkflash key pair test " + time.Now().Format(time.RFC3339)
	plain := filepath.Join(tempDir, "test.bin")
	if err := os.WriteFile(plain, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to create test file: %w", err)
	}

	encrypted := plain + crypto.EncryptedSuffix
	if err := crypto.Encrypt(plain, encrypted, recipient); err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}

	decrypted := filepath.Join(tempDir, "test.out")
	if err := crypto.Decrypt(encrypted, decrypted, identities...); err != nil {
		return fmt.Errorf("decryption failed: %w\nThis means the identity does not match the public key in the profile", err)
	}

	got, err := os.ReadFile(decrypted)
	if err != nil {
		return fmt.Errorf("failed to read decrypted file: %w", err)
	}
	if string(got) != content {
		return fmt.Errorf("content mismatch: decrypted content does not match original")
	}

	fmt.Fprintln(w, "key pair: OK")
	return nil
}
