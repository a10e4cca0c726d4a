// Package publish stages a local image in the remote store so that flash
// runs on other hosts can reference it by s3:// URL.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"filippo.io/age"

	"mtkflash/internal/crypto"
	"mtkflash/internal/remote"
)

// Uploader is the part of the remote store publish needs.
type Uploader interface {
	Object(name string) remote.Object
	Upload(ctx context.Context, localPath string, obj remote.Object, blake3 string) error
}

// Result describes a published image.
type Result struct {
	Object remote.Object
	// Blake3 is the digest of the plain image, also stored as object metadata.
	Blake3    string
	Encrypted bool
}

// Image uploads path under name. With a recipient the image is encrypted
// first and the object name gets the .age suffix. The recorded digest is
// always that of the unencrypted image, which is what a flash run verifies
// after decryption.
func Image(ctx context.Context, store Uploader, path, name string, recipient age.Recipient) (*Result, error) {
	if store == nil {
		return nil, errors.New("remote store is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if name == "" {
		name = filepath.Base(path)
	}

	digest, err := crypto.BLAKE3File(path)
	if err != nil {
		return nil, err
	}

	local := path
	if recipient != nil {
		tempDir, err := os.MkdirTemp("", "mtkflash_publish_*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp directory: %w", err)
		}
		defer os.RemoveAll(tempDir)

		if !crypto.IsEncrypted(name) {
			name += crypto.EncryptedSuffix
		}
		local = filepath.Join(tempDir, filepath.Base(name))
		if err := crypto.Encrypt(path, local, recipient); err != nil {
			return nil, fmt.Errorf("failed to encrypt image: %w", err)
		}
		slog.Info("Encrypted image", "file", path, "output", local)
	}

	obj := store.Object(name)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.Upload(ctx, local, obj, digest); err != nil {
		return nil, err
	}

	return &Result{Object: obj, Blake3: digest, Encrypted: recipient != nil}, nil
}
