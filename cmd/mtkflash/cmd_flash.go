package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"mtkflash/internal/flasher"
	"mtkflash/internal/interrupt"
)

func runFlash(ctx context.Context, cmd *cli.Command, cancel *interrupt.Controller) error {
	cfg, err := loadProfile(cmd)
	if err != nil {
		return err
	}

	return flasher.Run(ctx, flasher.Options{
		Config:   cfg,
		DA:       cmd.String("da"),
		FIP:      cmd.String("fip"),
		Img:      cmd.String("img"),
		Identity: cmd.String("identity"),
		Verbose:  cmd.Bool("verbose"),
		Cancel:   cancel,
		Console:  os.Stderr,
	})
}
