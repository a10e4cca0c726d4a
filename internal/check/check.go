// Package check verifies a profile and its environment before flashing.
package check

import (
	"context"
	"fmt"
	"io"
	"os"

	"mtkflash/internal/config"
	"mtkflash/internal/gpio"
	"mtkflash/internal/keys"
	"mtkflash/internal/remote"
)

// Checks hold the environment lookups Run performs. Tests replace them.
type Checks struct {
	Chip  func(chip string) error
	Store func(ctx context.Context, cfg *config.Config) error
}

func DefaultChecks() Checks {
	return Checks{
		Chip: gpio.CheckChip,
		Store: func(ctx context.Context, cfg *config.Config) error {
			backend, err := remote.NewS3(ctx, cfg.S3.Bucket, cfg.S3.Region,
				cfg.S3.Prefix, cfg.S3.Endpoint, cfg.S3.StorageClass, cfg.S3RetryAttempts())
			if err != nil {
				return fmt.Errorf("S3 init: %w", err)
			}
			return backend.VerifyCredentials(ctx)
		},
	}
}

// Run checks cfg and reports each result to w. identity is optional.
func Run(ctx context.Context, w io.Writer, cfg *config.Config, identity string, checks Checks) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintln(w, "config: OK")

	if cfg.Bringup.Enabled {
		if err := checks.Chip(cfg.Bringup.Chip); err != nil {
			return fmt.Errorf("bringup: %w", err)
		}
		fmt.Fprintf(w, "GPIO chip %s: OK\n", cfg.Bringup.Chip)
	} else {
		fmt.Fprintln(w, "bringup: skipped (disabled)")
	}

	for _, img := range []struct {
		name string
		ref  string
	}{
		{"da", cfg.Images.DA},
		{"fip", cfg.Images.FIP},
		{"img", cfg.Images.Img},
	} {
		switch {
		case img.ref == "":
			fmt.Fprintf(w, "image %s: not set\n", img.name)
		case remote.IsURL(img.ref):
			if _, err := remote.ParseURL(img.ref); err != nil {
				return fmt.Errorf("image %s: %w", img.name, err)
			}
			if !cfg.S3.Enabled {
				return fmt.Errorf("image %s: %s needs s3 enabled", img.name, img.ref)
			}
			fmt.Fprintf(w, "image %s %s: remote\n", img.name, img.ref)
		default:
			if _, err := os.Stat(img.ref); err != nil {
				return fmt.Errorf("image %s: %w", img.name, err)
			}
			fmt.Fprintf(w, "image %s %s: OK\n", img.name, img.ref)
		}
	}

	if cfg.S3.Enabled {
		if err := checks.Store(ctx, cfg); err != nil {
			return fmt.Errorf("S3 credentials: %w", err)
		}
		fmt.Fprintf(w, "S3 bucket %s: OK\n", cfg.S3.Bucket)
	}

	if identity != "" {
		if err := keys.Test(w, cfg.AgePublicKey, identity); err != nil {
			return fmt.Errorf("identity: %w", err)
		}
	}

	fmt.Fprintln(w, "all checks passed")
	return nil
}
