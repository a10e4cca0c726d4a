// Package brom drives the MediaTek boot ROM serial protocol far enough to
// load and start a download agent.
package brom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"mtkflash/internal/interrupt"
)

const (
	cmdHWCode   = 0xFD
	cmdSendDA   = 0xD7
	cmdJumpDA64 = 0xDE

	// handshake attempts on the first byte while the ROM is still printing
	// or has not answered yet
	handshakeAttempts = 64
	// consecutive empty reads before a reply is given up on
	readIdleLimit  = 50
	writeChunkSize = 4096
)

var (
	handshakeSeq = []byte{0xA0, 0x0A, 0x50, 0x05}

	ErrHandshake    = errors.New("brom: handshake failed")
	ErrEchoMismatch = errors.New("brom: echo mismatch")
	ErrChecksum     = errors.New("brom: checksum mismatch")
	ErrTimeout      = errors.New("brom: no reply")
)

// StatusError is a non-zero status word returned by the boot ROM.
type StatusError struct {
	Command string
	Status  uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("brom %s: status 0x%04x", e.Command, e.Status)
}

// HWCode identifies the SoC.
type HWCode struct {
	Code    uint16
	Version uint16
}

// Client talks to a boot ROM that echoes every byte of a command before
// answering it. Reads of zero bytes are taken as a quiet line, the way a
// serial port with a read timeout reports one.
type Client struct {
	rw     io.ReadWriter
	cancel *interrupt.Controller
}

// NewClient wraps rw. A confirmed abort on cancel stops any read that is
// waiting for the ROM; cancel may be nil.
func NewClient(rw io.ReadWriter, cancel *interrupt.Controller) *Client {
	return &Client{rw: rw, cancel: cancel}
}

func (c *Client) read(n int) ([]byte, error) {
	buf := make([]byte, n)
	idle := 0
	for got := 0; got < n; {
		m, err := c.rw.Read(buf[got:])
		got += m
		if got == n {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) && got > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if m > 0 {
			idle = 0
			continue
		}
		if err := c.cancel.Err(); err != nil {
			return nil, err
		}
		if idle++; idle >= readIdleLimit {
			return nil, fmt.Errorf("%w after %d of %d bytes", ErrTimeout, got, n)
		}
	}
	return buf, nil
}

func (c *Client) write(p []byte) error {
	for len(p) > 0 {
		n := min(len(p), writeChunkSize)
		if _, err := c.rw.Write(p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// echo writes p and checks the ROM sends it back unchanged.
func (c *Client) echo(what string, p []byte) error {
	if err := c.write(p); err != nil {
		return fmt.Errorf("failed to send %s: %w", what, err)
	}
	got, err := c.read(len(p))
	if err != nil {
		return fmt.Errorf("failed to read %s echo: %w", what, err)
	}
	for i := range p {
		if got[i] != p[i] {
			return fmt.Errorf("%w: %s sent % x, got % x", ErrEchoMismatch, what, p, got)
		}
	}
	return nil
}

func (c *Client) echo32(what string, v uint32) error {
	return c.echo(what, binary.BigEndian.AppendUint32(nil, v))
}

func (c *Client) word() (uint16, error) {
	b, err := c.read(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *Client) status(cmd string) error {
	s, err := c.word()
	if err != nil {
		return fmt.Errorf("failed to read %s status: %w", cmd, err)
	}
	if s != 0 {
		return &StatusError{Command: cmd, Status: s}
	}
	return nil
}

// Handshake synchronises with the ROM. Each handshake byte is answered by
// its complement. The first byte is resent while the ROM drains its banner
// or stays silent, up to handshakeAttempts times.
func (c *Client) Handshake() error {
	attempts := 0
	for i := 0; i < len(handshakeSeq); {
		if err := c.cancel.Err(); err != nil {
			return err
		}
		b := handshakeSeq[i]
		if _, err := c.rw.Write([]byte{b}); err != nil {
			return fmt.Errorf("failed to send handshake: %w", err)
		}
		got, err := c.handshakeReply(i)
		if err != nil {
			return fmt.Errorf("failed to read handshake: %w", err)
		}
		if got == ^b {
			i++
			continue
		}
		if i > 0 {
			return fmt.Errorf("%w: byte %d answered 0x%02x", ErrHandshake, i, got)
		}
		if attempts++; attempts >= handshakeAttempts {
			return fmt.Errorf("%w: no answer after %d attempts", ErrHandshake, attempts)
		}
	}
	slog.Debug("Handshake complete")
	return nil
}

// handshakeReply reads the answer to handshake byte i. The first byte gets a
// single read so that a quiet line counts as a failed attempt; 0x00 never
// answers 0xA0.
func (c *Client) handshakeReply(i int) (byte, error) {
	if i > 0 {
		got, err := c.read(1)
		if err != nil {
			return 0, err
		}
		return got[0], nil
	}
	var one [1]byte
	n, err := c.rw.Read(one[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return one[0], nil
}

// HWCode reads the chip code and version.
func (c *Client) HWCode() (HWCode, error) {
	if err := c.echo("hwcode", []byte{cmdHWCode}); err != nil {
		return HWCode{}, err
	}
	code, err := c.word()
	if err != nil {
		return HWCode{}, fmt.Errorf("failed to read hwcode: %w", err)
	}
	version, err := c.word()
	if err != nil {
		return HWCode{}, fmt.Errorf("failed to read hwcode version: %w", err)
	}
	return HWCode{Code: code, Version: version}, nil
}

// SendDA uploads data to addr and verifies the checksum the ROM computes.
func (c *Client) SendDA(addr uint32, data []byte) error {
	if err := c.echo("send_da", []byte{cmdSendDA}); err != nil {
		return err
	}
	if err := c.echo32("address", addr); err != nil {
		return err
	}
	if err := c.echo32("length", uint32(len(data))); err != nil {
		return err
	}
	if err := c.echo32("signature length", 0); err != nil {
		return err
	}
	if err := c.status("send_da"); err != nil {
		return err
	}
	if err := c.write(data); err != nil {
		return fmt.Errorf("failed to send download agent: %w", err)
	}
	sum, err := c.word()
	if err != nil {
		return fmt.Errorf("failed to read checksum: %w", err)
	}
	if want := Checksum(data); sum != want {
		return fmt.Errorf("%w: device 0x%04x, local 0x%04x", ErrChecksum, sum, want)
	}
	return c.status("send_da")
}

// JumpDA64 starts the uploaded agent at addr in AArch64 mode.
func (c *Client) JumpDA64(addr uint32) error {
	if err := c.echo("jump_da64", []byte{cmdJumpDA64}); err != nil {
		return err
	}
	if err := c.echo32("address", addr); err != nil {
		return err
	}
	if err := c.echo("mode", []byte{1}); err != nil {
		return err
	}
	return c.status("jump_da64")
}

// Checksum is the XOR of data taken as little-endian 16-bit words, with an
// odd trailing byte taken on its own.
func Checksum(data []byte) uint16 {
	var sum uint16
	i := 0
	for ; i+1 < len(data); i += 2 {
		sum ^= binary.LittleEndian.Uint16(data[i:])
	}
	if i < len(data) {
		sum ^= uint16(data[i])
	}
	return sum
}
