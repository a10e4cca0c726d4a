package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"mtkflash/internal/list"
)

func runHistory(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadProfile(cmd)
	if err != nil {
		return err
	}
	return list.Run(os.Stdout, cfg, cmd.String("status"), int(cmd.Int("limit")))
}
