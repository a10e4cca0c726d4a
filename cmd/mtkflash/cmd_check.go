package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"mtkflash/internal/check"
	"mtkflash/internal/config"
)

func runCheck(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return err
	}
	if cmd.IsSet("base-dir") {
		cfg.BaseDir = cmd.String("base-dir")
	}
	return check.Run(ctx, os.Stdout, cfg, cmd.String("identity"), check.DefaultChecks())
}
