// Package source turns an image reference from the command line or profile
// into a verified local file that can be planned and streamed.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"mtkflash/internal/crypto"
	"mtkflash/internal/remote"
)

var ErrNoIdentity = errors.New("encrypted image needs an age identity (--identity)")

// Resolver fetches, decrypts and verifies images into a private work
// directory that Close removes.
type Resolver struct {
	// Store serves s3:// references. Nil disables them.
	Store      remote.Store
	Identities []age.Identity

	dir string
}

// NewResolver creates a work directory under cacheDir.
func NewResolver(cacheDir string, store remote.Store, identities []age.Identity) (*Resolver, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	dir, err := os.MkdirTemp(cacheDir, "run-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return &Resolver{Store: store, Identities: identities, dir: dir}, nil
}

// Dir is the work directory holding fetched and decrypted images.
func (r *Resolver) Dir() string {
	return r.dir
}

// Resolve returns the path of a local, plain copy of ref. When expected is
// empty the digest recorded in the object store, if any, is used instead.
func (r *Resolver) Resolve(ctx context.Context, ref, expected string) (string, error) {
	local := ref
	name := filepath.Base(ref)

	// every reference gets its own directory so equal base names never collide
	var slot string
	slotDir := func() (string, error) {
		if slot != "" {
			return slot, nil
		}
		dir, err := os.MkdirTemp(r.dir, "img-*")
		if err != nil {
			return "", fmt.Errorf("failed to create image directory: %w", err)
		}
		slot = dir
		return slot, nil
	}

	if remote.IsURL(ref) {
		if r.Store == nil {
			return "", fmt.Errorf("%s: s3 is not enabled in the profile", ref)
		}
		obj, err := remote.ParseURL(ref)
		if err != nil {
			return "", err
		}
		if expected == "" {
			info, err := r.Store.Head(ctx, obj)
			if err != nil {
				return "", err
			}
			expected = info.Blake3
		}
		name = path.Base(obj.Key)
		dir, err := slotDir()
		if err != nil {
			return "", err
		}
		local = filepath.Join(dir, name)
		if err := r.Store.Download(ctx, obj, local); err != nil {
			return "", err
		}
	} else if _, err := os.Stat(ref); err != nil {
		return "", fmt.Errorf("image %s: %w", ref, err)
	}

	if crypto.IsEncrypted(name) {
		if len(r.Identities) == 0 {
			return "", fmt.Errorf("%s: %w", ref, ErrNoIdentity)
		}
		dir, err := slotDir()
		if err != nil {
			return "", err
		}
		plain := filepath.Join(dir, strings.TrimSuffix(name, crypto.EncryptedSuffix))
		if err := crypto.Decrypt(local, plain, r.Identities...); err != nil {
			return "", fmt.Errorf("failed to decrypt %s: %w", ref, err)
		}
		slog.Info("Decrypted image", "image", ref, "path", plain)
		local = plain
	}

	if expected != "" {
		if err := crypto.VerifyFile(local, expected); err != nil {
			return "", err
		}
	}
	return local, nil
}

// Close removes every file the resolver created.
func (r *Resolver) Close() error {
	if r.dir == "" {
		return nil
	}
	return os.RemoveAll(r.dir)
}
