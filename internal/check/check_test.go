package check

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtkflash/internal/config"
	"mtkflash/internal/keys"
)

func okChecks() Checks {
	return Checks{
		Chip:  func(string) error { return nil },
		Store: func(context.Context, *config.Config) error { return nil },
	}
}

func profile(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.Images.DA = filepath.Join(cfg.BaseDir, "da.bin")
	require.NoError(t, os.WriteFile(cfg.Images.DA, []byte{1}, 0o644))
	return cfg
}

func TestRunAllChecks(t *testing.T) {
	cfg := profile(t)
	cfg.Bringup = config.Bringup{Enabled: true, Chip: "gpiochip0", ResetLine: 1, DownloadLine: 2, PowerLine: 3}
	cfg.S3.Enabled = true
	cfg.S3.Bucket = "images"
	cfg.S3.Region = "eu-central-1"
	cfg.Images.Img = "s3://images/rootfs.img.age"

	keyPath := filepath.Join(t.TempDir(), "key.txt")
	id, err := keys.Generate(&bytes.Buffer{}, keyPath)
	require.NoError(t, err)
	cfg.AgePublicKey = id.Recipient().String()

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), &out, cfg, keyPath, okChecks()))

	for _, want := range []string{
		"config: OK",
		"GPIO chip gpiochip0: OK",
		"image da " + cfg.Images.DA + ": OK",
		"image fip: not set",
		"image img s3://images/rootfs.img.age: remote",
		"S3 bucket images: OK",
		"key pair: OK",
		"all checks passed",
	} {
		assert.Contains(t, out.String(), want)
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config, *Checks)
		want   string
	}{
		{
			name:   "invalid config",
			modify: func(c *config.Config, _ *Checks) { c.BaseDir = "" },
			want:   "config: base_dir is required",
		},
		{
			name: "missing chip",
			modify: func(c *config.Config, p *Checks) {
				c.Bringup = config.Bringup{Enabled: true, Chip: "gpiochip9", ResetLine: 1, DownloadLine: 2, PowerLine: 3}
				p.Chip = func(string) error { return errors.New("no such device") }
			},
			want: "bringup: no such device",
		},
		{
			name:   "missing image",
			modify: func(c *config.Config, _ *Checks) { c.Images.FIP = "/nonexistent/fip.bin" },
			want:   "image fip",
		},
		{
			name:   "remote image without s3",
			modify: func(c *config.Config, _ *Checks) { c.Images.Img = "s3://images/rootfs.img" },
			want:   "needs s3 enabled",
		},
		{
			name: "bad credentials",
			modify: func(c *config.Config, p *Checks) {
				c.S3.Enabled, c.S3.Bucket, c.S3.Region = true, "images", "eu-central-1"
				p.Store = func(context.Context, *config.Config) error { return errors.New("AccessDenied") }
			},
			want: "S3 credentials: AccessDenied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := profile(t)
			checks := okChecks()
			tt.modify(cfg, &checks)
			assert.ErrorContains(t, Run(context.Background(), &bytes.Buffer{}, cfg, "", checks), tt.want)
		})
	}
}
