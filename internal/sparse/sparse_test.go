package sparse

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testChunk struct {
	typ    ChunkType
	blocks uint32
	data   []byte
}

func buildImage(blk uint32, chunks []testChunk) []byte {
	var total uint32
	for _, c := range chunks {
		total += c.blocks
	}
	h := FileHeader{
		Major:           MajorVersion,
		FileHeaderSize:  FileHeaderSize,
		ChunkHeaderSize: ChunkHeaderSize,
		BlockSize:       blk,
		TotalBlocks:     total,
		TotalChunks:     uint32(len(chunks)),
	}
	var buf bytes.Buffer
	buf.Write(h.Bytes())
	for _, c := range chunks {
		ch := ChunkHeader{Type: c.typ, Blocks: c.blocks, TotalSize: uint32(ChunkHeaderSize + len(c.data))}
		buf.Write(ch.Bytes())
		buf.Write(c.data)
	}
	return buf.Bytes()
}

func randomBytes(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	r.Read(b)
	return b
}

// assemble produces the exact byte stream uploaded for a part.
func assemble(t *testing.T, p Part, file []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(p.Header)
	for _, c := range p.Chunks {
		buf.Write(c.Header)
		buf.Write(file[c.Offset : c.Offset+c.Size])
		buf.Write(make([]byte, c.Pad))
	}
	require.Equal(t, p.Size(), int64(buf.Len()))
	return buf.Bytes()
}

// apply writes a sparse image onto disk the way a device does.
func apply(t *testing.T, disk []byte, img []byte) {
	t.Helper()
	h, chunks, err := ReadImage(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)

	blk := int64(h.BlockSize)
	pos := int64(0)
	for _, c := range chunks {
		span := int64(c.Header.Blocks) * blk
		switch c.Header.Type {
		case ChunkRaw:
			copy(disk[pos:pos+span], img[c.Offset:c.Offset+span])
		case ChunkFill:
			pattern := img[c.Offset : c.Offset+4]
			for i := pos; i < pos+span; i += 4 {
				copy(disk[i:i+4], pattern)
			}
		}
		pos += span
	}
	require.Equal(t, int64(h.TotalBlocks)*blk, pos)
}

func fixtureImage(r *rand.Rand) []byte {
	const blk = 4096
	fill := make([]byte, 4)
	binary.LittleEndian.PutUint32(fill, 0xDEADBEEF)
	crc := make([]byte, 4)

	return buildImage(blk, []testChunk{
		{typ: ChunkRaw, blocks: 3, data: randomBytes(r, 3*blk)},
		{typ: ChunkDontCare, blocks: 10},
		{typ: ChunkFill, blocks: 5, data: fill},
		{typ: ChunkRaw, blocks: 17, data: randomBytes(r, 17*blk)},
		{typ: ChunkCRC32, blocks: 0, data: crc},
		{typ: ChunkRaw, blocks: 1, data: randomBytes(r, blk)},
	})
}

func TestParseFileHeader(t *testing.T) {
	h := FileHeader{Major: 1, FileHeaderSize: 28, ChunkHeaderSize: 12, BlockSize: 4096, TotalBlocks: 7, TotalChunks: 2}

	got, err := ParseFileHeader(h.Bytes())
	require.NoError(t, err)
	assert.Equal(t, h, got)

	tests := []struct {
		name    string
		mutate  func(b []byte)
		wantErr string
	}{
		{name: "unknown magic", mutate: func(b []byte) { b[0] = 0 }, wantErr: "unknown magic"},
		{name: "major version", mutate: func(b []byte) { b[4] = 2 }, wantErr: "unsupported major version"},
		{name: "small file header", mutate: func(b []byte) { b[8] = 20 }, wantErr: "file header size"},
		{name: "chunk header size", mutate: func(b []byte) { b[10] = 16 }, wantErr: "chunk header size"},
		{name: "block size", mutate: func(b []byte) { binary.LittleEndian.PutUint32(b[12:16], 4095) }, wantErr: "block size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := h.Bytes()
			tt.mutate(b)
			_, err := ParseFileHeader(b)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadImage(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	img := fixtureImage(r)

	h, chunks, err := ReadImage(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)
	assert.Equal(t, uint32(36), h.TotalBlocks)
	require.Len(t, chunks, 6)
	assert.Equal(t, int64(FileHeaderSize+ChunkHeaderSize), chunks[0].Offset)
	assert.Equal(t, ChunkCRC32, chunks[4].Header.Type)
}

func TestReadImageErrors(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	img := fixtureImage(r)

	t.Run("short file is not sparse", func(t *testing.T) {
		_, _, err := ReadImage(bytes.NewReader([]byte("abc")), 3)
		assert.ErrorIs(t, err, ErrUnknownMagic)
	})

	t.Run("raw data is not sparse", func(t *testing.T) {
		data := randomBytes(r, 8192)
		data[0] = 0
		_, _, err := ReadImage(bytes.NewReader(data), int64(len(data)))
		assert.ErrorIs(t, err, ErrUnknownMagic)
	})

	t.Run("truncated chunk data", func(t *testing.T) {
		short := img[:len(img)-100]
		_, _, err := ReadImage(bytes.NewReader(short), int64(len(short)))
		var fe *FormatError
		require.ErrorAs(t, err, &fe)
		assert.Contains(t, fe.Reason, "past end of file")
	})

	t.Run("chunk count beyond file", func(t *testing.T) {
		for _, count := range []uint32{99, 0xFFFFFFFF} {
			bad := bytes.Clone(img)
			binary.LittleEndian.PutUint32(bad[20:24], count)
			_, _, err := ReadImage(bytes.NewReader(bad), int64(len(bad)))
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
			assert.Contains(t, fe.Reason, "truncated")
		}
	})

	t.Run("header only with huge chunk count", func(t *testing.T) {
		hdr := bytes.Clone(img[:FileHeaderSize])
		binary.LittleEndian.PutUint32(hdr[20:24], 0xFFFFFFFF)
		_, _, err := ReadImage(bytes.NewReader(hdr), int64(len(hdr)))
		var fe *FormatError
		require.ErrorAs(t, err, &fe)
		assert.Contains(t, fe.Reason, "header declares 4294967295 chunks, file has room for 0")
	})

	t.Run("block total mismatch", func(t *testing.T) {
		bad := bytes.Clone(img)
		binary.LittleEndian.PutUint32(bad[16:20], 35)
		_, _, err := ReadImage(bytes.NewReader(bad), int64(len(bad)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cover 36 blocks")
	})

	t.Run("raw chunk size mismatch", func(t *testing.T) {
		bad := buildImage(4096, []testChunk{{typ: ChunkRaw, blocks: 2, data: make([]byte, 4096)}})
		_, _, err := ReadImage(bytes.NewReader(bad), int64(len(bad)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "raw chunk declares")
	})

	t.Run("unknown chunk type", func(t *testing.T) {
		bad := buildImage(4096, []testChunk{{typ: 0x1234, blocks: 1}})
		_, _, err := ReadImage(bytes.NewReader(bad), int64(len(bad)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown chunk type")
	})
}

func TestSplitImageFitsInOnePart(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	img := fixtureImage(r)
	h, chunks, err := ReadImage(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)

	parts, err := SplitImage(h, chunks, uint32(len(img)))
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Len(t, parts[0].Chunks, len(chunks))
	assert.Equal(t, img, assemble(t, parts[0], img))
}

func TestSplitImageNeverExceedsMax(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	img := fixtureImage(r)
	h, chunks, err := ReadImage(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)

	want := make([]byte, int(h.TotalBlocks)*int(h.BlockSize))
	apply(t, want, img)

	for _, max := range []uint32{4096 + 64, 3 * 4096, 5*4096 + 100, 16 * 4096, uint32(len(img)) - 1} {
		parts, err := SplitImage(h, chunks, max)
		require.NoError(t, err, "max=%d", max)
		require.Greater(t, len(parts), 1, "max=%d", max)

		got := make([]byte, len(want))
		for i, p := range parts {
			assert.LessOrEqual(t, p.Size(), int64(max), "max=%d part=%d", max, i)
			apply(t, got, assemble(t, p, img))
		}
		assert.Equal(t, want, got, "max=%d", max)
	}
}

func TestSplitRaw(t *testing.T) {
	const mib = 1 << 20
	r := rand.New(rand.NewSource(5))
	file := randomBytes(r, 10*mib)

	parts, err := SplitRaw(int64(len(file)), 4*mib)
	require.NoError(t, err)
	require.Len(t, parts, 3)

	var payload []byte
	got := make([]byte, len(file))
	for _, p := range parts {
		assert.LessOrEqual(t, p.Size(), int64(4*mib))
		for _, c := range p.Chunks {
			payload = append(payload, file[c.Offset:c.Offset+c.Size]...)
		}
		apply(t, got, assemble(t, p, file))
	}
	assert.Equal(t, file, payload)
	assert.Equal(t, file, got)
	assert.Greater(t, parts[0].PayloadSize(), int64(4*mib-8192))
	assert.Less(t, parts[2].PayloadSize(), int64(2*mib+16384))
}

func TestSplitRawPadsPartialBlock(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	file := randomBytes(r, 3*4096+123)

	parts, err := SplitRaw(int64(len(file)), 2*4096+reserve+ChunkHeaderSize)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	last := parts[1].Chunks[len(parts[1].Chunks)-1]
	assert.Equal(t, int64(4096+123), last.Size)
	assert.Equal(t, int64(4096-123), last.Pad)

	disk := make([]byte, 4*4096)
	for _, p := range parts {
		apply(t, disk, assemble(t, p, file))
	}
	assert.Equal(t, file, disk[:len(file)])
	assert.Equal(t, make([]byte, 4096-123), disk[len(file):])
}

func TestSplitErrors(t *testing.T) {
	_, err := SplitRaw(0, 1<<20)
	assert.Error(t, err)

	_, err = SplitRaw(1<<20, 100)
	assert.ErrorIs(t, err, ErrBufferTooSmall)
}
