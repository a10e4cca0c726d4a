package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"mtkflash/internal/interrupt"
)

// abortGrace bounds how long a confirmed abort may take to unwind before the
// process exits anyway. Commit waits on the device and cannot be interrupted.
const abortGrace = 5 * time.Second

func newApp(cancel *interrupt.Controller) *cli.Command {
	return &cli.Command{
		Name:    "mtkflash",
		Usage:   "MediaTek eMMC flashing tool",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:      "flash",
				Usage:     "Load the download agent and write FIP and system images",
				Flags:     flashFlags(),
				ArgsUsage: " ",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runFlash(ctx, cmd, cancel)
				},
			},
			{
				Name:      "plan",
				Usage:     "Show how an image is split for a device download buffer",
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "max-download-size",
						Usage: "device download buffer size in hex, as reported by getvar",
						Value: "0x8000000",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runPlan(os.Stdout, cmd.Args().First(), cmd.String("max-download-size"))
				},
			},
			{
				Name:  "devices",
				Usage: "List serial ports and fastboot endpoints",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runDevices(os.Stdout)
				},
			},
			{
				Name:  "history",
				Usage: "List past flash runs of a device",
				Flags: append(profileFlags(),
					&cli.StringFlag{
						Name:  "device",
						Usage: "boot ROM serial device",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "only show runs with this status (ok, failed, aborted)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum number of runs to show",
					},
				),
				Action: runHistory,
			},
			{
				Name:  "gpio",
				Usage: "Drive the bring-up lines by hand",
				Flags: gpioFlags(),
				Commands: []*cli.Command{
					{
						Name:   "reset",
						Usage:  "Pulse the reset line",
						Action: gpioAction("reset"),
					},
					{
						Name:   "download",
						Usage:  "Reset into download mode",
						Action: gpioAction("download"),
					},
					{
						Name:   "power",
						Usage:  "Press the power button",
						Action: gpioAction("power"),
					},
				},
			},
			{
				Name:  "genkey",
				Usage: "Generate an age key pair for image encryption",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "output",
						Usage: "write the identity to this file instead of printing it",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return generateKey(os.Stdout, cmd.String("output"))
				},
			},
			{
				Name:  "test-keys",
				Usage: "Test if the profile public key and an identity file match",
				Flags: append(profileFlags(),
					&cli.StringFlag{
						Name:     "identity",
						Usage:    "path to age identity file",
						Required: true,
					},
				),
				Action: runTestKeys,
			},
			{
				Name:  "check",
				Usage: "Check the profile, GPIO chip, images and S3 access",
				Flags: append(profileFlags(),
					&cli.StringFlag{
						Name:  "identity",
						Usage: "path to age identity file",
					},
				),
				Action: runCheck,
			},
			{
				Name:      "publish",
				Usage:     "Upload an image to the configured S3 bucket",
				ArgsUsage: "IMAGE",
				Flags: append(profileFlags(),
					&cli.StringFlag{
						Name:  "name",
						Usage: "object name under the bucket prefix (default: file name)",
					},
					&cli.BoolFlag{
						Name:  "encrypt",
						Usage: "encrypt with the profile age_public_key before upload",
					},
				),
				Action: runPublish,
			},
		},
	}
}

func main() {
	cancel := interrupt.New()
	cmd := newApp(cancel)

	// SIGTERM cancels outright, SIGINT goes through the two-stage abort
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	sigint := make(chan os.Signal, 2)
	signal.Notify(sigint, os.Interrupt)
	defer signal.Stop(sigint)
	go cancel.Watch(ctx, sigint, func() {
		time.AfterFunc(abortGrace, func() {
			fmt.Fprintln(os.Stderr, "\n⚠ Abort did not complete in time, exiting")
			os.Exit(130)
		})
	})

	if err := cmd.Run(ctx, os.Args); err != nil {
		if errors.Is(err, interrupt.ErrAborted) || ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\n⚠ Flashing aborted by user")
			os.Exit(130) // Standard exit code for SIGINT
		}
		slog.Error("CLI error", "error", err)
		os.Exit(1)
	}
}
