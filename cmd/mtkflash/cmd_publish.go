package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"filippo.io/age"
	"github.com/urfave/cli/v3"

	"mtkflash/internal/publish"
	"mtkflash/internal/remote"
)

func runPublish(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadProfile(cmd)
	if err != nil {
		return err
	}
	path := cmd.Args().First()
	if path == "" {
		return errors.New("image path is required")
	}
	if !cfg.S3.Enabled {
		return fmt.Errorf("S3 is not enabled in config")
	}

	var recipient age.Recipient
	if cmd.Bool("encrypt") {
		if cfg.AgePublicKey == "" {
			return errors.New("--encrypt needs age_public_key in the profile")
		}
		r, err := age.ParseX25519Recipient(cfg.AgePublicKey)
		if err != nil {
			return fmt.Errorf("failed to parse public key: %w", err)
		}
		recipient = r
	}

	store, err := remote.NewS3(ctx, cfg.S3.Bucket, cfg.S3.Region, cfg.S3.Prefix, cfg.S3.Endpoint,
		cfg.S3.StorageClass, cfg.S3RetryAttempts())
	if err != nil {
		return fmt.Errorf("failed to initialize S3 backend: %w", err)
	}
	if err := store.VerifyCredentials(ctx); err != nil {
		return fmt.Errorf("AWS credentials verification failed: %w", err)
	}

	res, err := publish.Image(ctx, store, path, cmd.String("name"), recipient)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Published: %s\n", res.Object)
	fmt.Fprintf(os.Stdout, "BLAKE3:    %s\n", res.Blake3)
	return nil
}
