package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"mtkflash/internal/config"
)

func profileFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to profile yaml file",
			Sources: cli.EnvVars("MTKFLASH_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "base-dir",
			Usage: "directory for logs, locks and the image cache",
		},
	}
}

func gpioFlags() []cli.Flag {
	return append(profileFlags(),
		&cli.StringFlag{
			Name:  "gpio-chip",
			Usage: "GPIO chip driving the bring-up lines, e.g. gpiochip0",
		},
		&cli.IntFlag{
			Name:  "reset-line",
			Usage: "GPIO line offset of the reset signal",
		},
		&cli.IntFlag{
			Name:  "download-line",
			Usage: "GPIO line offset of the download-mode strap",
		},
		&cli.IntFlag{
			Name:  "power-line",
			Usage: "GPIO line offset of the power button",
		},
	)
}

func flashFlags() []cli.Flag {
	return append(gpioFlags(),
		&cli.StringFlag{
			Name:  "device",
			Usage: "boot ROM serial device, e.g. /dev/ttyACM0",
		},
		&cli.StringFlag{
			Name:  "da",
			Usage: "download agent image (path or s3:// URL)",
		},
		&cli.StringFlag{
			Name:  "fip",
			Usage: "FIP image written to the primary boot partition",
		},
		&cli.StringFlag{
			Name:  "img",
			Usage: "system image written to the user data area",
		},
		&cli.StringFlag{
			Name:  "identity",
			Usage: "age identity file for .age images",
		},
		&cli.BoolFlag{
			Name:  "bringup",
			Usage: "force download mode through GPIO before the handshake",
		},
		&cli.StringFlag{
			Name:  "serial",
			Usage: "only bind the fastboot endpoint with this serial number",
		},
		&cli.BoolFlag{
			Name:  "preserve-boot1",
			Usage: "do not erase the secondary boot partition after writing the FIP",
		},
		&cli.IntFlag{
			Name:  "baud",
			Usage: "boot ROM serial baud rate",
		},
		&cli.StringFlag{
			Name:  "da-address",
			Usage: "download agent load address",
		},
		&cli.DurationFlag{
			Name:  "commit-estimate",
			Usage: "expected duration of the first commit of each partition",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "log debug messages to the console",
		},
	)
}

// loadProfile reads the profile named by --config and applies every
// explicitly set flag on top of it.
func loadProfile(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.IsSet("base-dir") {
		cfg.BaseDir = cmd.String("base-dir")
	}
	if cmd.IsSet("device") {
		cfg.Device = cmd.String("device")
	}
	if cmd.IsSet("gpio-chip") {
		cfg.Bringup.Chip = cmd.String("gpio-chip")
	}
	if cmd.IsSet("reset-line") {
		cfg.Bringup.ResetLine = int(cmd.Int("reset-line"))
	}
	if cmd.IsSet("download-line") {
		cfg.Bringup.DownloadLine = int(cmd.Int("download-line"))
	}
	if cmd.IsSet("power-line") {
		cfg.Bringup.PowerLine = int(cmd.Int("power-line"))
	}
	if cmd.IsSet("bringup") {
		cfg.Bringup.Enabled = cmd.Bool("bringup")
	}
	if cmd.IsSet("serial") {
		cfg.TargetMatch.Mode = config.MatchSerial
		cfg.TargetMatch.Serial = cmd.String("serial")
	}
	if cmd.IsSet("preserve-boot1") {
		cfg.PreserveSecondaryBootPartition = cmd.Bool("preserve-boot1")
	}
	if cmd.IsSet("baud") {
		cfg.Serial.Baud = int(cmd.Int("baud"))
	}
	if cmd.IsSet("da-address") {
		addr, err := strconv.ParseUint(cmd.String("da-address"), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid --da-address: %w", err)
		}
		cfg.Serial.DAAddress = uint32(addr)
	}
	if cmd.IsSet("commit-estimate") {
		cfg.CommitEstimate = cmd.Duration("commit-estimate")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return cfg, nil
}
