package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"mtkflash/internal/gpio"
)

func gpioAction(op string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadProfile(cmd)
		if err != nil {
			return err
		}
		b := cfg.Bringup
		if b.Chip == "" {
			return errors.New("GPIO chip is required (--gpio-chip or bringup.chip)")
		}

		seq, err := gpio.Open(b.Chip, b.ResetLine, b.DownloadLine, b.PowerLine)
		if err != nil {
			return err
		}
		defer seq.Close()

		slog.Info("Driving GPIO", "op", op, "chip", b.Chip)
		switch op {
		case "reset":
			err = seq.Reset()
		case "download":
			err = seq.DownloadMode()
		case "power":
			err = seq.Power()
		default:
			err = fmt.Errorf("unknown GPIO operation %q", op)
		}
		return err
	}
}
