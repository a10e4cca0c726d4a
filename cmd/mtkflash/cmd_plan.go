package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"mtkflash/internal/fastboot"
	"mtkflash/internal/plan"
	"mtkflash/internal/sparse"
)

func runPlan(w io.Writer, path, maxSize string) error {
	if path == "" {
		return errors.New("image path is required")
	}
	max, err := fastboot.ParseSize(maxSize)
	if err != nil {
		return fmt.Errorf("invalid --max-download-size: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	p, err := plan.File(file, max)
	if err != nil {
		return err
	}

	format := "raw"
	if p.Sparse {
		format = "sparse"
	}
	fmt.Fprintf(w, "Image:             %s (%s, %s)\n", path, format, humanize.IBytes(uint64(p.SourceSize)))
	fmt.Fprintf(w, "Max download size: 0x%08x (%s)\n", max, humanize.IBytes(uint64(max)))
	fmt.Fprintf(w, "Parts:             %d, %s on the wire\n\n", len(p.Parts), humanize.IBytes(uint64(p.WireSize())))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PART\tSIZE\tPAYLOAD\tCHUNKS\tSOURCE RANGE")
	for i, part := range p.Parts {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n", i+1, part.Size(), part.PayloadSize(), len(part.Chunks), sourceRange(part))
	}
	return tw.Flush()
}

// sourceRange is the span of source bytes read by part, or "-" when the
// part only carries headers.
func sourceRange(part sparse.Part) string {
	start, end := int64(-1), int64(0)
	for _, c := range part.Chunks {
		if c.Size == 0 {
			continue
		}
		if start < 0 || c.Offset < start {
			start = c.Offset
		}
		end = max(end, c.Offset+c.Size)
	}
	if start < 0 {
		return "-"
	}
	return fmt.Sprintf("0x%x-0x%x", start, end)
}
