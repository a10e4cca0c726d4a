// Package plan decides how an image is cut into parts before any byte is
// sent, so the upload can stream straight from computed file offsets.
package plan

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"mtkflash/internal/sparse"
)

var ErrEmptyImage = errors.New("image is empty")

// Plan is the ordered list of parts for one image.
type Plan struct {
	Parts []sparse.Part
	// Sparse is set when the source is a sparse image.
	Sparse bool
	// SourceSize is the size of the source file in bytes.
	SourceSize int64
}

// WireSize is the number of bytes uploaded across all parts.
func (p *Plan) WireSize() int64 {
	var n int64
	for _, part := range p.Parts {
		n += part.Size()
	}
	return n
}

// Build plans the upload of the image held in r. No part of the returned
// plan is larger than max.
func Build(r io.ReaderAt, size int64, max uint32) (*Plan, error) {
	if max == 0 {
		return nil, fmt.Errorf("max download size must be positive")
	}
	if size <= 0 {
		return nil, ErrEmptyImage
	}

	h, chunks, err := sparse.ReadImage(r, size)
	switch {
	case err == nil:
		slog.Debug("Sparse image detected", "blockSize", h.BlockSize, "blocks", h.TotalBlocks, "chunks", h.TotalChunks)
		parts, err := sparse.SplitImage(h, chunks, max)
		if err != nil {
			return nil, fmt.Errorf("failed to split sparse image: %w", err)
		}
		return &Plan{Parts: parts, Sparse: true, SourceSize: size}, nil

	case errors.Is(err, sparse.ErrUnknownMagic):
		if size <= int64(max) {
			return &Plan{
				Parts:      []sparse.Part{{Chunks: []sparse.Chunk{{Offset: 0, Size: size}}}},
				SourceSize: size,
			}, nil
		}
		parts, err := sparse.SplitRaw(size, max)
		if err != nil {
			return nil, fmt.Errorf("failed to split raw image: %w", err)
		}
		return &Plan{Parts: parts, SourceSize: size}, nil

	default:
		return nil, fmt.Errorf("failed to parse image: %w", err)
	}
}

// File plans the upload of an open image file.
func File(f *os.File, max uint32) (*Plan, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", f.Name(), err)
	}
	return Build(f, info.Size(), max)
}
