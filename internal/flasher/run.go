package flasher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"filippo.io/age"

	"mtkflash/internal/config"
	"mtkflash/internal/crypto"
	"mtkflash/internal/interrupt"
	"mtkflash/internal/lock"
	"mtkflash/internal/logging"
	"mtkflash/internal/manifest"
	"mtkflash/internal/progress"
	"mtkflash/internal/remote"
	"mtkflash/internal/source"
	"mtkflash/internal/util"
)

// Options configures one flashing run. Image references may be local paths
// or s3:// URLs, optionally age encrypted. Empty references fall back to
// the profile's images section.
type Options struct {
	Config   *config.Config
	DA       string
	FIP      string
	Img      string
	Identity string
	Verbose  bool

	Cancel   *interrupt.Controller
	Hardware *Hardware
	Progress progress.Factory
	Console  io.Writer
}

func (o *Options) refs() Images {
	pick := func(flag, profile string) string {
		if flag != "" {
			return flag
		}
		return profile
	}
	img := o.Config.Images
	return Images{DA: pick(o.DA, img.DA), FIP: pick(o.FIP, img.FIP), Img: pick(o.Img, img.Img)}
}

// Run resolves the images, takes the device lock and flashes the device.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.Device == "" {
		return fmt.Errorf("device is required")
	}
	refs := opts.refs()
	if refs.DA == "" {
		return fmt.Errorf("download agent image is required")
	}
	if refs.FIP == "" && refs.Img == "" {
		slog.Warn("No FIP or system image given, only the download agent will be loaded")
	}
	if ctx.Err() != nil {
		return fmt.Errorf("flash cancelled before start: %w", ctx.Err())
	}

	if err := util.SetupDirectories(cfg.BaseDir); err != nil {
		return err
	}
	logPath := util.LogPath(cfg.BaseDir, cfg.Device, time.Now())
	logger, logFile, err := util.SetupLogging(logPath, logging.Options{Console: opts.Console, Verbose: opts.Verbose})
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)
	slog.Info("Flash started", "device", cfg.Device, "fip", refs.FIP, "img", refs.Img, "bringup", cfg.Bringup.Enabled)

	releaseLock, err := lock.Acquire(util.LockPath(cfg.BaseDir, cfg.Device), cfg.Device)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if err := releaseLock(); err != nil {
			slog.Warn("Failed to release lock", "error", err)
		}
	}()

	var store remote.Store
	if cfg.S3.Enabled {
		s3, err := remote.NewS3(ctx, cfg.S3.Bucket, cfg.S3.Region, cfg.S3.Prefix, cfg.S3.Endpoint,
			cfg.S3.StorageClass, cfg.S3RetryAttempts())
		if err != nil {
			return fmt.Errorf("failed to initialize S3: %w", err)
		}
		store = s3
	}

	var identities []age.Identity
	if opts.Identity != "" {
		if identities, err = crypto.LoadIdentities(opts.Identity); err != nil {
			return err
		}
	}

	resolver, err := source.NewResolver(util.CacheDir(cfg.BaseDir), store, identities)
	if err != nil {
		return err
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			slog.Warn("Failed to remove work directory", "dir", resolver.Dir(), "error", err)
		}
	}()

	var images Images
	if images.DA, err = resolver.Resolve(ctx, refs.DA, ""); err != nil {
		return fmt.Errorf("download agent: %w", err)
	}
	if refs.FIP != "" {
		if images.FIP, err = resolver.Resolve(ctx, refs.FIP, cfg.Images.FIPBlake3); err != nil {
			return fmt.Errorf("fip image: %w", err)
		}
	}
	if refs.Img != "" {
		if images.Img, err = resolver.Resolve(ctx, refs.Img, cfg.Images.ImgBlake3); err != nil {
			return fmt.Errorf("system image: %w", err)
		}
	}

	hw := DefaultHardware()
	if opts.Hardware != nil {
		hw = *opts.Hardware
	}
	meters := opts.Progress
	if meters == nil {
		meters = progress.Bars{}
	}

	start := time.Now()
	record := &manifest.Flash{
		Datetime: start.Unix(),
		System:   manifest.GetSystemInfo(),
		Device:   cfg.Device,
		Images:   manifest.Images{DA: refs.DA, FIP: refs.FIP, Img: refs.Img},
	}
	f := &Flasher{Config: cfg, Hardware: hw, Cancel: opts.Cancel, Progress: meters, Record: record}
	flashErr := f.Flash(ctx, images)

	record.DurationMS = time.Since(start).Milliseconds()
	switch {
	case flashErr == nil:
		record.Status = manifest.StatusOK
	case errors.Is(flashErr, interrupt.ErrAborted) || ctx.Err() != nil:
		record.Status = manifest.StatusAborted
		record.Error = flashErr.Error()
	default:
		record.Status = manifest.StatusFailed
		record.Error = flashErr.Error()
	}
	if err := writeRecord(cfg, start, record); err != nil {
		slog.Warn("Failed to write flash manifest", "error", err)
	}

	if flashErr != nil {
		slog.Error("Flash failed", "device", cfg.Device, "error", flashErr)
		return flashErr
	}
	slog.Info("Flash finished", "device", cfg.Device, "took", time.Since(start).Round(time.Second))
	return nil
}

func writeRecord(cfg *config.Config, start time.Time, record *manifest.Flash) error {
	if err := util.SetupDirectories(util.ManifestDir(cfg.BaseDir, cfg.Device)); err != nil {
		return err
	}
	path := util.ManifestPath(cfg.BaseDir, cfg.Device, start)
	if err := manifest.Write(path, record); err != nil {
		return err
	}
	slog.Debug("Wrote flash manifest", "path", path)
	return manifest.AppendLast(util.LastFlashPath(cfg.BaseDir, cfg.Device), cfg.Device,
		&manifest.Ref{Datetime: record.Datetime, Manifest: path, Status: record.Status})
}
