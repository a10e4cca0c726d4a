// Package upload streams a planned image to the device part by part and
// commits each part before the next one is sent.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"mtkflash/internal/commit"
	"mtkflash/internal/fastboot"
	"mtkflash/internal/interrupt"
	"mtkflash/internal/plan"
	"mtkflash/internal/progress"
	"mtkflash/internal/sparse"
)

const DefaultBufferSize = 1 << 20

// Phase names the step of a part transfer that failed.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseHeader   Phase = "header"
	PhaseChunk    Phase = "chunk"
	PhaseFinish   Phase = "finish"
	PhaseCommit   Phase = "commit"
	PhaseErase    Phase = "erase"
)

// TransferError locates a failure inside an upload. Part is 1-based. Offset
// is the source file offset being copied, or -1 outside the chunk phase.
type TransferError struct {
	Partition string
	Phase     Phase
	Part      int
	Offset    int64
	Err       error
}

func (e *TransferError) Error() string {
	if e.Part == 0 {
		return fmt.Sprintf("%s %s: %v", e.Partition, e.Phase, e.Err)
	}
	if e.Offset >= 0 {
		return fmt.Sprintf("%s part %d %s at offset %d: %v", e.Partition, e.Part, e.Phase, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s part %d %s: %v", e.Partition, e.Part, e.Phase, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Sink receives the data phase of one download.
type Sink interface {
	io.Writer
	Finish() error
}

// Transport is the block transport the executor drives.
type Transport interface {
	Download(size int64) (Sink, error)
	Flash(partition string) error
}

type fastbootTransport struct {
	c *fastboot.Client
}

func (t fastbootTransport) Download(size int64) (Sink, error) {
	s, err := t.c.Download(size)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t fastbootTransport) Flash(partition string) error {
	return t.c.Flash(partition)
}

// Fastboot adapts a fastboot client to Transport.
func Fastboot(c *fastboot.Client) Transport {
	return fastbootTransport{c: c}
}

// Executor uploads plans. Cancel, Estimator and Progress may be left nil.
type Executor struct {
	Transport  Transport
	Cancel     *interrupt.Controller
	Estimator  *commit.Estimator
	Progress   progress.Factory
	BufferSize int
}

func (e *Executor) check(ctx context.Context) error {
	if err := e.Cancel.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// Upload sends every part of p in order, reading chunk payloads from src.
// A confirmed abort is returned as interrupt.ErrAborted; any other failure
// is a *TransferError.
func (e *Executor) Upload(ctx context.Context, partition string, p *plan.Plan, src io.ReaderAt) error {
	if e.Estimator == nil {
		e.Estimator = commit.NewEstimator()
	}
	if e.Progress == nil {
		e.Progress = progress.Discard{}
	}
	size := e.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	buf := make([]byte, size)

	slog.Info("Uploading image", "partition", partition, "parts", len(p.Parts), "bytes", p.WireSize(), "sparse", p.Sparse)
	for i, part := range p.Parts {
		if err := e.check(ctx); err != nil {
			return err
		}
		if err := e.sendPart(ctx, partition, i+1, len(p.Parts), part, src, buf); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) sendPart(ctx context.Context, partition string, n, total int, part sparse.Part, src io.ReaderAt, buf []byte) error {
	fail := func(phase Phase, offset int64, err error) error {
		if errors.Is(err, interrupt.ErrAborted) {
			return err
		}
		return &TransferError{Partition: partition, Phase: phase, Part: n, Offset: offset, Err: err}
	}

	desc := fmt.Sprintf("%s [%d/%d]", partition, n, total)
	slog.Debug("Sending part", "partition", partition, "part", n, "size", part.Size(), "chunks", len(part.Chunks))

	sink, err := e.Transport.Download(part.Size())
	if err != nil {
		return fail(PhaseDownload, -1, err)
	}

	meter := e.Progress.Transfer(desc, part.Size())
	w := &countingWriter{w: sink, meter: meter}

	if _, err := w.Write(part.Header); err != nil {
		return fail(PhaseHeader, -1, err)
	}
	for _, c := range part.Chunks {
		if err := e.check(ctx); err != nil {
			return err
		}
		if _, err := w.Write(c.Header); err != nil {
			return fail(PhaseHeader, -1, err)
		}
		if off, err := e.copyChunk(ctx, w, src, c, buf); err != nil {
			return fail(PhaseChunk, off, err)
		}
	}

	if err := sink.Finish(); err != nil {
		return fail(PhaseFinish, -1, err)
	}
	meter.Finish()

	err = e.Estimator.Run(ctx, e.Progress, desc, func(context.Context) error {
		return e.Transport.Flash(partition)
	})
	if err != nil {
		return fail(PhaseCommit, -1, err)
	}
	return nil
}

// copyChunk copies the chunk payload and its zero padding in increments of
// len(buf), checking for an abort before each one. On failure it returns the
// source offset being copied.
func (e *Executor) copyChunk(ctx context.Context, w io.Writer, src io.ReaderAt, c sparse.Chunk, buf []byte) (int64, error) {
	r := io.NewSectionReader(src, c.Offset, c.Size)
	for done := int64(0); done < c.Size; {
		off := c.Offset + done
		if err := e.check(ctx); err != nil {
			return off, err
		}
		n := int(min(int64(len(buf)), c.Size-done))
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return off, fmt.Errorf("failed to read source: %w", err)
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return off, err
		}
		done += int64(n)
	}

	end := c.Offset + c.Size
	if c.Pad > 0 {
		clear(buf)
	}
	for left := c.Pad; left > 0; {
		if err := e.check(ctx); err != nil {
			return end, err
		}
		n := int(min(int64(len(buf)), left))
		if _, err := w.Write(buf[:n]); err != nil {
			return end, err
		}
		left -= int64(n)
	}
	return 0, nil
}

type countingWriter struct {
	w     io.Writer
	meter progress.Meter
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := c.w.Write(p)
	c.meter.Add64(int64(n))
	return n, err
}
