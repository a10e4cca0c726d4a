package list

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"mtkflash/internal/config"
	"mtkflash/internal/manifest"
	"mtkflash/internal/util"
)

type Info struct {
	Datetime    int64    `json:"datetime"`
	DatetimeStr string   `json:"datetime_str"`
	Status      string   `json:"status"`
	Endpoint    string   `json:"endpoint,omitempty"`
	Partitions  []string `json:"partitions"`
	PartsCount  int      `json:"parts_count"`
	WireBytes   int64    `json:"wire_bytes"`
	DurationSec float64  `json:"duration_sec"`
	Error       string   `json:"error,omitempty"`
	Manifest    string   `json:"manifest"`
}

type Output struct {
	Device  string `json:"device"`
	Flashes []Info `json:"flashes"`
	Summary struct {
		TotalFlashes int `json:"total_flashes"`
		Succeeded    int `json:"succeeded"`
		Failed       int `json:"failed"`
		Aborted      int `json:"aborted"`
	} `json:"summary"`
}

// Run writes the flash history of cfg.Device to w as JSON, newest first.
// status filters by run status when non-empty; limit caps the number of
// runs when positive.
func Run(w io.Writer, cfg *config.Config, status string, limit int) error {
	if cfg.Device == "" {
		return fmt.Errorf("device is required")
	}

	output := Output{Device: cfg.Device, Flashes: []Info{}}

	lastPath := util.LastFlashPath(cfg.BaseDir, cfg.Device)
	last, err := manifest.ReadLast(lastPath)
	if errors.Is(err, fs.ErrNotExist) {
		last = &manifest.Last{Device: cfg.Device}
	} else if err != nil {
		return fmt.Errorf("failed to read flash history from %s: %w", lastPath, err)
	}

	for i := len(last.Flashes) - 1; i >= 0; i-- {
		ref := last.Flashes[i]
		if ref == nil {
			continue
		}
		if status != "" && ref.Status != status {
			continue
		}
		if limit > 0 && len(output.Flashes) >= limit {
			break
		}

		info := Info{
			Datetime:    ref.Datetime,
			DatetimeStr: time.Unix(ref.Datetime, 0).Format("2006-01-02 15:04:05"),
			Status:      ref.Status,
			Partitions:  []string{},
			Manifest:    ref.Manifest,
		}

		if m, err := manifest.Read(ref.Manifest); err == nil {
			info.Endpoint = m.Endpoint
			info.Error = m.Error
			info.DurationSec = float64(m.DurationMS) / 1000
			for _, p := range m.Partitions {
				info.Partitions = append(info.Partitions, p.Name)
				info.PartsCount += len(p.Parts)
				info.WireBytes += p.WireSize
			}
		} else {
			slog.Warn("Failed to read flash manifest", "manifest", ref.Manifest, "error", err)
		}

		output.Flashes = append(output.Flashes, info)
	}

	output.Summary.TotalFlashes = len(output.Flashes)
	for _, f := range output.Flashes {
		switch f.Status {
		case manifest.StatusOK:
			output.Summary.Succeeded++
		case manifest.StatusAborted:
			output.Summary.Aborted++
		default:
			output.Summary.Failed++
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(output); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
