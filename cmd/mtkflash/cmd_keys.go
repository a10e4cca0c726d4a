package main

import (
	"context"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"mtkflash/internal/keys"
)

func generateKey(w io.Writer, output string) error {
	_, err := keys.Generate(w, output)
	return err
}

func runTestKeys(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadProfile(cmd)
	if err != nil {
		return err
	}
	return keys.Test(os.Stdout, cfg.AgePublicKey, cmd.String("identity"))
}
