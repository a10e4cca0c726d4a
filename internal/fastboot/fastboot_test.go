package fastboot

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted answers each Read with the next queued packet and records writes.
type scripted struct {
	replies []string
	writes  [][]byte
}

func (s *scripted) Read(p []byte) (int, error) {
	if len(s.replies) == 0 {
		return 0, io.EOF
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return copy(p, r), nil
}

func (s *scripted) Write(p []byte) (int, error) {
	s.writes = append(s.writes, bytes.Clone(p))
	return len(p), nil
}

func (s *scripted) commands() []string {
	var out []string
	for _, w := range s.writes {
		out = append(out, string(w))
	}
	return out
}

func TestGetVar(t *testing.T) {
	dev := &scripted{replies: []string{"INFOhello", "OKAY0x08000000"}}
	c := NewClient(dev)

	v, err := c.GetVar("max-download-size")
	require.NoError(t, err)
	assert.Equal(t, "0x08000000", v)
	assert.Equal(t, []string{"getvar:max-download-size"}, dev.commands())
}

func TestMaxDownloadSize(t *testing.T) {
	c := NewClient(&scripted{replies: []string{"OKAY00400000"}})

	size, err := c.MaxDownloadSize()
	require.NoError(t, err)
	assert.Equal(t, uint32(4<<20), size)
}

func TestFailReply(t *testing.T) {
	dev := &scripted{replies: []string{"FAILpartition does not exist"}}
	c := NewClient(dev)

	err := c.Flash("mmc9")
	var fe *FailError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "flash:mmc9", fe.Command)
	assert.Equal(t, "partition does not exist", fe.Message)
}

func TestFlashAndErase(t *testing.T) {
	dev := &scripted{replies: []string{"OKAY", "TEXTwriting", "OKAY", "OKAY"}}
	c := NewClient(dev)

	require.NoError(t, c.Erase("mmc0boot1"))
	require.NoError(t, c.Flash("mmc0boot0"))
	require.NoError(t, c.Reboot())
	assert.Equal(t, []string{"erase:mmc0boot1", "flash:mmc0boot0", "reboot"}, dev.commands())
}

func TestDownload(t *testing.T) {
	dev := &scripted{replies: []string{"DATA0000000a", "OKAY"}}
	c := NewClient(dev)

	sink, err := c.Download(10)
	require.NoError(t, err)
	_, err = sink.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), sink.Remaining())
	_, err = sink.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, sink.Finish())

	assert.Equal(t, []string{"download:0000000a", "hello", "world"}, dev.commands())
}

func TestDownloadErrors(t *testing.T) {
	tests := []struct {
		name    string
		replies []string
		size    int64
		want    string
	}{
		{name: "size mismatch", replies: []string{"DATA00000004"}, size: 10, want: "accepted 4 bytes"},
		{name: "okay instead of data", replies: []string{"OKAY"}, size: 10, want: "unexpected response"},
		{name: "rejected", replies: []string{"FAILtoo large"}, size: 10, want: "too large"},
		{name: "zero size", size: 0, want: "invalid download size"},
		{name: "short packet", replies: []string{"OK"}, size: 10, want: "unexpected response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(&scripted{replies: tt.replies})
			_, err := c.Download(tt.size)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSinkOverrunAndIncomplete(t *testing.T) {
	c := NewClient(&scripted{replies: []string{"DATA00000004", "OKAY"}})
	sink, err := c.Download(4)
	require.NoError(t, err)

	_, err = sink.Write([]byte("12345"))
	assert.ErrorContains(t, err, "overrun")

	_, err = sink.Write([]byte("12"))
	require.NoError(t, err)
	assert.ErrorContains(t, sink.Finish(), "incomplete")
}

func TestCommandTooLong(t *testing.T) {
	dev := &scripted{}
	err := NewClient(dev).Flash(strings.Repeat("p", MaxCommandSize))
	assert.ErrorContains(t, err, "exceeds")
	assert.Empty(t, dev.writes)
}

func TestReadError(t *testing.T) {
	_, err := NewClient(&scripted{}).GetVar("product")
	assert.True(t, errors.Is(err, io.EOF))
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{in: "0x08000000", want: 0x08000000},
		{in: "08000000", want: 0x08000000},
		{in: "0X400", want: 0x400},
		{in: " 1000\n", want: 0x1000},
		{in: "", wantErr: true},
		{in: "zz", wantErr: true},
		{in: "0x1ffffffff", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpointIdentifier(t *testing.T) {
	ep := Endpoint{Bus: 1, Address: 7, Serial: "0123456789ABCDEF"}
	assert.Equal(t, "0123456789ABCDEF", ep.Identifier())
	assert.Contains(t, ep.String(), "bus 1 addr 7")
}
