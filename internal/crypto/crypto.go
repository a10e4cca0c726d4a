package crypto

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/zeebo/blake3"
)

var ErrDigestMismatch = errors.New("BLAKE3 mismatch")

// EncryptedSuffix marks an age encrypted image.
const EncryptedSuffix = ".age"

func IsEncrypted(path string) bool {
	return strings.HasSuffix(path, EncryptedSuffix)
}

func Encrypt(inputFile, outputFile string, recipients ...age.Recipient) error {
	in, err := os.Open(inputFile)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	w, err := age.Encrypt(out, recipients...)
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, in); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}
	return out.Close()
}

func Decrypt(inputFile, outputFile string, identities ...age.Identity) error {
	in, err := os.Open(inputFile)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	defer out.Close()

	r, err := age.Decrypt(in, identities...)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, r); err != nil {
		return err
	}

	return out.Close()
}

// LoadIdentities reads age identities from a key file as written by genkey.
func LoadIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity file: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse identity file %s: %w", path, err)
	}
	return ids, nil
}

// BLAKE3File computes the BLAKE3 hash of a file
func BLAKE3File(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// VerifyFile checks the BLAKE3 digest of filename against expected.
func VerifyFile(filename, expected string) error {
	actual, err := BLAKE3File(filename)
	if err != nil {
		return fmt.Errorf("failed to calculate BLAKE3: %w", err)
	}
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w for %s: expected %s, got %s", ErrDigestMismatch, filename, expected, actual)
	}
	slog.Info("BLAKE3 verified", "file", filename, "hash", actual)
	return nil
}
