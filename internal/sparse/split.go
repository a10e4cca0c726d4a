package sparse

import (
	"errors"
	"fmt"
)

// ErrBufferTooSmall is returned when the download buffer cannot hold a
// sparse header plus a single block.
var ErrBufferTooSmall = errors.New("sparse: download buffer too small")

// Chunk is one contiguous byte range uploaded as part of a Part. Size bytes
// are read verbatim from Offset in the source file, followed by Pad zero bytes.
type Chunk struct {
	Header []byte
	Offset int64
	Size   int64
	Pad    int64
}

// WireSize is the number of bytes the chunk puts on the wire.
func (c Chunk) WireSize() int64 {
	return int64(len(c.Header)) + c.Size + c.Pad
}

// Part is one upload unit, committed with a single flash command.
type Part struct {
	Header []byte
	Chunks []Chunk
}

// Size is the total on-wire size of the part.
func (p Part) Size() int64 {
	n := int64(len(p.Header))
	for _, c := range p.Chunks {
		n += c.WireSize()
	}
	return n
}

// PayloadSize is the number of bytes read from the source file.
func (p Part) PayloadSize() int64 {
	var n int64
	for _, c := range p.Chunks {
		n += c.Size
	}
	return n
}

// room for the file header and the leading and trailing skip chunks
const reserve = FileHeaderSize + 2*ChunkHeaderSize

type source struct {
	header ChunkHeader
	offset int64
	// bytes of data available in the file, may be short of a whole block
	// for the tail of a raw image
	length int64
}

type splitter struct {
	h     FileHeader
	max   int64
	blk   int64
	parts []Part

	start  uint32
	block  uint32
	used   int64
	chunks []Chunk
}

func (s *splitter) open() {
	s.start = s.block
	s.used = reserve
	s.chunks = nil
}

func (s *splitter) add(c Chunk, blocks uint32) {
	s.chunks = append(s.chunks, c)
	s.used += c.WireSize()
	s.block += blocks
}

func (s *splitter) flush() {
	if len(s.chunks) == 0 {
		return
	}
	var chunks []Chunk
	if s.start > 0 {
		chunks = append(chunks, skipChunk(s.start))
	}
	chunks = append(chunks, s.chunks...)
	if rest := s.h.TotalBlocks - s.block; rest > 0 {
		chunks = append(chunks, skipChunk(rest))
	}

	h := s.h
	h.TotalChunks = uint32(len(chunks))
	h.Checksum = 0
	s.parts = append(s.parts, Part{Header: h.Bytes(), Chunks: chunks})
	s.open()
}

func skipChunk(blocks uint32) Chunk {
	h := ChunkHeader{Type: ChunkDontCare, Blocks: blocks, TotalSize: ChunkHeaderSize}
	return Chunk{Header: h.Bytes()}
}

func (s *splitter) feed(src source) {
	switch src.header.Type {
	case ChunkCRC32:
		return
	case ChunkRaw:
		s.feedRaw(src)
	default:
		c := Chunk{Header: src.header.Bytes(), Offset: src.offset, Size: src.header.DataSize()}
		if s.used+c.WireSize() > s.max {
			s.flush()
		}
		s.add(c, src.header.Blocks)
	}
}

func (s *splitter) feedRaw(src source) {
	remaining := src.header.Blocks
	offset := src.offset
	left := src.length

	for remaining > 0 {
		fit := (s.max - s.used - ChunkHeaderSize) / s.blk
		if fit <= 0 {
			s.flush()
			continue
		}
		n := uint32(min(int64(remaining), fit))
		span := int64(n) * s.blk
		size := min(span, left)

		h := ChunkHeader{Type: ChunkRaw, Blocks: n, TotalSize: uint32(ChunkHeaderSize + span)}
		s.add(Chunk{Header: h.Bytes(), Offset: offset, Size: size, Pad: span - size}, n)

		offset += size
		left -= size
		remaining -= n
	}
}

func split(h FileHeader, sources []source, max uint32) ([]Part, error) {
	blk := int64(h.BlockSize)
	if int64(max) < reserve+ChunkHeaderSize+blk {
		return nil, fmt.Errorf("%w: %d bytes cannot hold one %d byte block", ErrBufferTooSmall, max, blk)
	}

	s := &splitter{h: h, max: int64(max), blk: blk}
	s.open()
	for _, src := range sources {
		s.feed(src)
	}
	s.flush()
	return s.parts, nil
}

// SplitImage splits a parsed sparse image into parts no larger than max
// bytes. An image that already fits is returned as a single part carrying
// every chunk. Each part of a split image is itself a complete sparse image
// covering all TotalBlocks.
func SplitImage(h FileHeader, chunks []SourceChunk, max uint32) ([]Part, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}

	whole := int64(FileHeaderSize)
	for _, c := range chunks {
		whole += int64(c.Header.TotalSize)
	}
	if whole <= int64(max) {
		out := make([]Chunk, 0, len(chunks))
		for _, c := range chunks {
			out = append(out, Chunk{Header: c.Header.Bytes(), Offset: c.Offset, Size: c.Header.DataSize()})
		}
		h.TotalChunks = uint32(len(out))
		return []Part{{Header: h.Bytes(), Chunks: out}}, nil
	}

	sources := make([]source, 0, len(chunks))
	for _, c := range chunks {
		sources = append(sources, source{header: c.Header, offset: c.Offset, length: c.Header.DataSize()})
	}
	return split(h, sources, max)
}

// SplitRaw wraps a raw image of size bytes into sparse parts no larger than
// max bytes. A trailing partial block is zero padded.
func SplitRaw(size int64, max uint32) ([]Part, error) {
	if size <= 0 {
		return nil, formatErrorf("raw image is empty")
	}
	blk := int64(DefaultBlockSize)
	blocks := (size + blk - 1) / blk
	if blocks > int64(^uint32(0)) {
		return nil, formatErrorf("raw image of %d bytes is too large", size)
	}

	h := FileHeader{
		Major:           MajorVersion,
		FileHeaderSize:  FileHeaderSize,
		ChunkHeaderSize: ChunkHeaderSize,
		BlockSize:       DefaultBlockSize,
		TotalBlocks:     uint32(blocks),
	}
	raw := source{
		header: ChunkHeader{Type: ChunkRaw, Blocks: uint32(blocks)},
		length: size,
	}
	return split(h, []source{raw}, max)
}
