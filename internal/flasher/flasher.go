// Package flasher composes bring-up, boot ROM loading, discovery and the
// per-partition transfers into one cancellable pipeline.
package flasher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"mtkflash/internal/brom"
	"mtkflash/internal/commit"
	"mtkflash/internal/config"
	"mtkflash/internal/discovery"
	"mtkflash/internal/fastboot"
	"mtkflash/internal/gpio"
	"mtkflash/internal/interrupt"
	"mtkflash/internal/manifest"
	"mtkflash/internal/plan"
	"mtkflash/internal/progress"
	"mtkflash/internal/upload"
)

// Bringup drives the target's reset and download-mode lines.
type Bringup interface {
	DownloadMode() error
	Close() error
}

// Conn is an open block-transport connection.
type Conn interface {
	io.ReadWriteCloser
}

// Hardware groups the device-facing collaborators of the pipeline.
type Hardware struct {
	OpenBringup func(config.Bringup) (Bringup, error)
	LoadAgent   func(context.Context, brom.Options, *interrupt.Controller) error
	Endpoints   func() ([]fastboot.Endpoint, error)
	Open        func(fastboot.Endpoint) (Conn, error)
}

// DefaultHardware talks to real GPIO, serial and USB devices.
func DefaultHardware() Hardware {
	return Hardware{
		OpenBringup: func(b config.Bringup) (Bringup, error) {
			seq, err := gpio.Open(b.Chip, b.ResetLine, b.DownloadLine, b.PowerLine)
			if err != nil {
				return nil, err
			}
			return seq, nil
		},
		LoadAgent: brom.InitializeDevice,
		Endpoints: fastboot.List,
		Open: func(ep fastboot.Endpoint) (Conn, error) {
			d, err := fastboot.Open(ep)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
	}
}

// Images holds local paths of the images to write. FIP and Img are
// optional.
type Images struct {
	DA  string
	FIP string
	Img string
}

type Flasher struct {
	Config     *config.Config
	Hardware   Hardware
	Cancel     *interrupt.Controller
	Progress   progress.Factory
	BufferSize int

	// Record, when set, collects the endpoint, erased partitions and
	// completed transfers of the run.
	Record *manifest.Flash
}

// RunBringup forces the target into download mode.
func (f *Flasher) RunBringup() error {
	if !f.Config.Bringup.Enabled {
		return nil
	}
	b := f.Config.Bringup
	seq, err := f.Hardware.OpenBringup(b)
	if err != nil {
		return fmt.Errorf("failed to open GPIO lines on %s: %w", b.Chip, err)
	}
	defer seq.Close()

	slog.Info("Forcing download mode", "chip", b.Chip, "reset", b.ResetLine, "download", b.DownloadLine)
	if err := seq.DownloadMode(); err != nil {
		return fmt.Errorf("failed to enter download mode: %w", err)
	}
	return nil
}

// RunDiscovery waits for a block-transport endpoint matching the profile.
func (f *Flasher) RunDiscovery(ctx context.Context) (fastboot.Endpoint, error) {
	m := discovery.Match{
		Mode:       discovery.MatchMode(f.Config.TargetMatch.Mode),
		Identifier: f.Config.TargetMatch.Serial,
	}
	ep, err := discovery.WaitForEndpoint(ctx, f.Hardware.Endpoints, m, f.Cancel)
	if err != nil {
		return fastboot.Endpoint{}, err
	}
	slog.Debug("Binding endpoint", "device", ep.String())
	return ep, nil
}

// RunTransferPlan plans the image at path against the device's download
// buffer and uploads it to partition.
func (f *Flasher) RunTransferPlan(ctx context.Context, client *fastboot.Client, partition, path string) error {
	max, err := client.MaxDownloadSize()
	if err != nil {
		return fmt.Errorf("failed to read max-download-size: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	p, err := plan.File(file, max)
	if err != nil {
		return fmt.Errorf("failed to plan %s: %w", path, err)
	}
	slog.Info("Uploading in parts", "partition", partition, "parts", len(p.Parts), "maxDownloadSize", max)

	x := &upload.Executor{
		Transport:  upload.Fastboot(client),
		Cancel:     f.Cancel,
		Estimator:  &commit.Estimator{Default: f.Config.CommitEstimate, Tick: commit.Tick, Now: time.Now},
		Progress:   f.Progress,
		BufferSize: f.BufferSize,
	}
	start := time.Now()
	if err := x.Upload(ctx, partition, p, file); err != nil {
		return err
	}

	if f.Record != nil {
		rec := manifest.Partition{
			Name:            partition,
			Image:           path,
			Sparse:          p.Sparse,
			MaxDownloadSize: max,
			WireSize:        p.WireSize(),
			TookMS:          time.Since(start).Milliseconds(),
		}
		for i, part := range p.Parts {
			rec.Parts = append(rec.Parts, manifest.PartInfo{Index: i + 1, Size: part.Size(), Payload: part.PayloadSize()})
		}
		f.Record.Partitions = append(f.Record.Partitions, rec)
	}
	return nil
}

func (f *Flasher) erase(client *fastboot.Client, partition string) error {
	if err := f.Cancel.Err(); err != nil {
		return err
	}
	slog.Info("Erasing partition", "partition", partition)
	if err := client.Erase(partition); err != nil {
		return &upload.TransferError{Partition: partition, Phase: upload.PhaseErase, Offset: -1, Err: err}
	}
	if f.Record != nil {
		f.Record.Erased = append(f.Record.Erased, partition)
	}
	return nil
}

// Flash runs the whole pipeline against one device.
func (f *Flasher) Flash(ctx context.Context, images Images) error {
	cfg := f.Config

	if err := f.RunBringup(); err != nil {
		return err
	}

	da, err := os.ReadFile(images.DA)
	if err != nil {
		return fmt.Errorf("failed to read download agent: %w", err)
	}
	opts := brom.Options{Path: cfg.Device, BaudRate: cfg.Serial.Baud, DAAddress: cfg.Serial.DAAddress, DA: da}
	if err := f.Hardware.LoadAgent(ctx, opts, f.Cancel); err != nil {
		return fmt.Errorf("failed to initialize device: %w", err)
	}

	ep, err := f.RunDiscovery(ctx)
	if err != nil {
		return err
	}
	conn, err := f.Hardware.Open(ep)
	if err != nil {
		return fmt.Errorf("failed to open fastboot device: %w", err)
	}
	defer conn.Close()
	client := fastboot.NewClient(conn)
	if f.Record != nil {
		f.Record.Endpoint = ep.Identifier()
	}

	if images.FIP != "" {
		slog.Info("Flashing FIP", "partition", cfg.Partitions.FIP, "image", images.FIP)
		if err := f.RunTransferPlan(ctx, client, cfg.Partitions.FIP, images.FIP); err != nil {
			return err
		}
		if cfg.PreserveSecondaryBootPartition {
			slog.Info("Preserving secondary boot partition", "partition", cfg.Partitions.SecondaryBoot)
		} else if err := f.erase(client, cfg.Partitions.SecondaryBoot); err != nil {
			return err
		}
	} else {
		slog.Info("No FIP image provided, skipping", "partition", cfg.Partitions.FIP)
	}

	if images.Img != "" {
		if err := f.erase(client, cfg.Partitions.System); err != nil {
			return err
		}
		slog.Info("Flashing system image", "partition", cfg.Partitions.System, "image", images.Img)
		if err := f.RunTransferPlan(ctx, client, cfg.Partitions.System, images.Img); err != nil {
			return err
		}
	} else {
		slog.Info("No system image provided, skipping", "partition", cfg.Partitions.System)
	}

	slog.Info("All operations completed successfully.")
	return nil
}
