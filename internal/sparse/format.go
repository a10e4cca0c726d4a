// Package sparse reads Android sparse image headers and splits images into
// parts that each fit the device download buffer.
package sparse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic            uint32 = 0xED26FF3A
	MajorVersion     uint16 = 1
	FileHeaderSize          = 28
	ChunkHeaderSize         = 12
	DefaultBlockSize uint32 = 4096
)

type ChunkType uint16

const (
	ChunkRaw      ChunkType = 0xCAC1
	ChunkFill     ChunkType = 0xCAC2
	ChunkDontCare ChunkType = 0xCAC3
	ChunkCRC32    ChunkType = 0xCAC4
)

func (t ChunkType) String() string {
	switch t {
	case ChunkRaw:
		return "raw"
	case ChunkFill:
		return "fill"
	case ChunkDontCare:
		return "dont-care"
	case ChunkCRC32:
		return "crc32"
	default:
		return fmt.Sprintf("unknown(0x%04x)", uint16(t))
	}
}

// ErrUnknownMagic is returned when the data does not start with a sparse
// file header.
var ErrUnknownMagic = errors.New("sparse: unknown magic")

// FormatError reports a malformed sparse image.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "sparse: invalid image: " + e.Reason
}

func formatErrorf(format string, args ...any) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

type FileHeader struct {
	Major           uint16
	Minor           uint16
	FileHeaderSize  uint16
	ChunkHeaderSize uint16
	BlockSize       uint32
	TotalBlocks     uint32
	TotalChunks     uint32
	Checksum        uint32
}

// ParseFileHeader decodes the first FileHeaderSize bytes of b.
func ParseFileHeader(b []byte) (FileHeader, error) {
	if len(b) < FileHeaderSize {
		return FileHeader{}, formatErrorf("file header is %d bytes, need %d", len(b), FileHeaderSize)
	}
	le := binary.LittleEndian
	if le.Uint32(b[0:4]) != Magic {
		return FileHeader{}, ErrUnknownMagic
	}

	h := FileHeader{
		Major:           le.Uint16(b[4:6]),
		Minor:           le.Uint16(b[6:8]),
		FileHeaderSize:  le.Uint16(b[8:10]),
		ChunkHeaderSize: le.Uint16(b[10:12]),
		BlockSize:       le.Uint32(b[12:16]),
		TotalBlocks:     le.Uint32(b[16:20]),
		TotalChunks:     le.Uint32(b[20:24]),
		Checksum:        le.Uint32(b[24:28]),
	}
	if err := h.validate(); err != nil {
		return FileHeader{}, err
	}
	return h, nil
}

func (h FileHeader) validate() error {
	switch {
	case h.Major != MajorVersion:
		return formatErrorf("unsupported major version %d", h.Major)
	case h.FileHeaderSize < FileHeaderSize:
		return formatErrorf("file header size %d is smaller than %d", h.FileHeaderSize, FileHeaderSize)
	case h.ChunkHeaderSize != ChunkHeaderSize:
		return formatErrorf("chunk header size %d, expected %d", h.ChunkHeaderSize, ChunkHeaderSize)
	case h.BlockSize == 0 || h.BlockSize%4 != 0:
		return formatErrorf("block size %d is not a positive multiple of 4", h.BlockSize)
	}
	return nil
}

// Bytes encodes h. Emitted headers always use the canonical header sizes.
func (h FileHeader) Bytes() []byte {
	b := make([]byte, FileHeaderSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:4], Magic)
	le.PutUint16(b[4:6], h.Major)
	le.PutUint16(b[6:8], h.Minor)
	le.PutUint16(b[8:10], FileHeaderSize)
	le.PutUint16(b[10:12], ChunkHeaderSize)
	le.PutUint32(b[12:16], h.BlockSize)
	le.PutUint32(b[16:20], h.TotalBlocks)
	le.PutUint32(b[20:24], h.TotalChunks)
	le.PutUint32(b[24:28], h.Checksum)
	return b
}

type ChunkHeader struct {
	Type ChunkType
	// Blocks is the number of output blocks the chunk covers.
	Blocks uint32
	// TotalSize includes the chunk header.
	TotalSize uint32
}

func ParseChunkHeader(b []byte) (ChunkHeader, error) {
	if len(b) < ChunkHeaderSize {
		return ChunkHeader{}, formatErrorf("chunk header is %d bytes, need %d", len(b), ChunkHeaderSize)
	}
	le := binary.LittleEndian
	return ChunkHeader{
		Type:      ChunkType(le.Uint16(b[0:2])),
		Blocks:    le.Uint32(b[4:8]),
		TotalSize: le.Uint32(b[8:12]),
	}, nil
}

func (c ChunkHeader) Bytes() []byte {
	b := make([]byte, ChunkHeaderSize)
	le := binary.LittleEndian
	le.PutUint16(b[0:2], uint16(c.Type))
	le.PutUint32(b[4:8], c.Blocks)
	le.PutUint32(b[8:12], c.TotalSize)
	return b
}

// DataSize is the number of payload bytes following the header.
func (c ChunkHeader) DataSize() int64 {
	return int64(c.TotalSize) - ChunkHeaderSize
}

// Validate checks that the declared size of c is consistent with its type.
func (c ChunkHeader) Validate(blockSize uint32) error {
	var want int64
	switch c.Type {
	case ChunkRaw:
		want = int64(c.Blocks) * int64(blockSize)
	case ChunkFill, ChunkCRC32:
		want = 4
	case ChunkDontCare:
		want = 0
	default:
		return formatErrorf("unknown chunk type 0x%04x", uint16(c.Type))
	}
	if c.Type == ChunkCRC32 && c.Blocks != 0 {
		return formatErrorf("crc32 chunk covers %d blocks", c.Blocks)
	}
	if c.DataSize() != want {
		return formatErrorf("%s chunk declares %d data bytes, expected %d", c.Type, c.DataSize(), want)
	}
	return nil
}

// SourceChunk is a chunk of an existing sparse image together with the file
// offset of its data.
type SourceChunk struct {
	Header ChunkHeader
	Offset int64
}

// ReadImage parses the header and chunk table of the sparse image in r.
// It returns ErrUnknownMagic when r does not hold a sparse image.
func ReadImage(r io.ReaderAt, size int64) (FileHeader, []SourceChunk, error) {
	buf := make([]byte, FileHeaderSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return FileHeader{}, nil, ErrUnknownMagic
		}
		return FileHeader{}, nil, err
	}
	h, err := ParseFileHeader(buf)
	if err != nil {
		return FileHeader{}, nil, err
	}

	pos := int64(h.FileHeaderSize)
	if room := (size - pos) / ChunkHeaderSize; int64(h.TotalChunks) > room {
		return FileHeader{}, nil, formatErrorf("truncated: header declares %d chunks, file has room for %d", h.TotalChunks, max(room, 0))
	}
	chunks := make([]SourceChunk, 0, h.TotalChunks)
	var blocks uint64
	hdr := make([]byte, ChunkHeaderSize)
	for i := uint32(0); i < h.TotalChunks; i++ {
		if pos+ChunkHeaderSize > size {
			return FileHeader{}, nil, formatErrorf("truncated at chunk %d of %d", i, h.TotalChunks)
		}
		if _, err := r.ReadAt(hdr, pos); err != nil {
			return FileHeader{}, nil, fmt.Errorf("failed to read chunk %d header: %w", i, err)
		}
		c, err := ParseChunkHeader(hdr)
		if err != nil {
			return FileHeader{}, nil, err
		}
		if err := c.Validate(h.BlockSize); err != nil {
			return FileHeader{}, nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		data := pos + ChunkHeaderSize
		if data+c.DataSize() > size {
			return FileHeader{}, nil, formatErrorf("chunk %d data runs past end of file", i)
		}
		chunks = append(chunks, SourceChunk{Header: c, Offset: data})
		blocks += uint64(c.Blocks)
		pos = data + c.DataSize()
	}

	if blocks != uint64(h.TotalBlocks) {
		return FileHeader{}, nil, formatErrorf("chunks cover %d blocks, header declares %d", blocks, h.TotalBlocks)
	}
	return h, chunks, nil
}
