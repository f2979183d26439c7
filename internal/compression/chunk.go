package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sweepworld/server/internal/minegen"
)

const (
	// Magic number for the chunk wire format
	ChunkMagic = "SWCK"
	// Current format version
	ChunkVersion = 1
	// Gzip compression level (balance between size and speed)
	DefaultGzipLevel = 6

	// FlagPackedCounts marks counts stored as two 4-bit values per byte
	FlagPackedCounts = 0x01
)

// ChunkHeader is the fixed-size prefix of an encoded chunk.
type ChunkHeader struct {
	Magic   [4]byte // "SWCK"
	Version uint8
	Flags   uint8
	ChunkX  int32
	ChunkY  int32
	Seed    uint32
}

var (
	ErrBadMagic           = errors.New("invalid chunk magic")
	ErrUnsupportedVersion = errors.New("unsupported chunk format version")
	ErrTruncated          = errors.New("chunk data truncated")
)

// HeaderSize is the encoded size of ChunkHeader.
var HeaderSize = binary.Size(ChunkHeader{})

// EncodedSize is the total size of an encoded, uncompressed chunk.
var EncodedSize = HeaderSize + minegen.ChunkCells + minegen.ChunkCells/2

// EncodeChunk writes a chunk in the binary wire format: header, one byte per
// classification, then neighbour counts packed low nibble first.
func EncodeChunk(seed uint32, chunk *minegen.Chunk) ([]byte, error) {
	if chunk == nil {
		return nil, fmt.Errorf("chunk is nil")
	}

	var buf bytes.Buffer
	buf.Grow(EncodedSize)

	header := ChunkHeader{
		Version: ChunkVersion,
		Flags:   FlagPackedCounts,
		ChunkX:  chunk.X,
		ChunkY:  chunk.Y,
		Seed:    seed,
	}
	copy(header.Magic[:], ChunkMagic)

	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	buf.Write(chunk.ClassBytes())

	packed := make([]byte, minegen.ChunkCells/2)
	for i := 0; i < minegen.ChunkCells; i += 2 {
		packed[i/2] = chunk.Counts[i]&0x0f | chunk.Counts[i+1]<<4
	}
	buf.Write(packed)

	return buf.Bytes(), nil
}

// DecodeChunk parses data produced by EncodeChunk.
func DecodeChunk(data []byte) (uint32, minegen.Chunk, error) {
	var chunk minegen.Chunk
	if len(data) < HeaderSize {
		return 0, chunk, ErrTruncated
	}

	var header ChunkHeader
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &header); err != nil {
		return 0, chunk, fmt.Errorf("failed to read header: %w", err)
	}
	if string(header.Magic[:]) != ChunkMagic {
		return 0, chunk, ErrBadMagic
	}
	if header.Version != ChunkVersion {
		return 0, chunk, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}
	if header.Flags&FlagPackedCounts == 0 {
		return 0, chunk, fmt.Errorf("unsupported chunk flags: %#x", header.Flags)
	}
	if len(data) < EncodedSize {
		return 0, chunk, ErrTruncated
	}

	chunk.X, chunk.Y = header.ChunkX, header.ChunkY
	body := data[HeaderSize:]
	for i := 0; i < minegen.ChunkCells; i++ {
		class := minegen.Classification(body[i])
		if !class.Valid() {
			return 0, chunk, fmt.Errorf("invalid classification %d at cell %d", body[i], i)
		}
		chunk.Classes[i] = class
	}

	packed := body[minegen.ChunkCells:]
	for i := 0; i < minegen.ChunkCells; i += 2 {
		chunk.Counts[i] = packed[i/2] & 0x0f
		chunk.Counts[i+1] = packed[i/2] >> 4
	}
	for i, count := range chunk.Counts {
		if count > 8 {
			return 0, chunk, fmt.Errorf("invalid neighbour count %d at cell %d", count, i)
		}
	}

	return header.Seed, chunk, nil
}

// CompressChunk encodes and gzips a chunk.
func CompressChunk(seed uint32, chunk *minegen.Chunk) ([]byte, error) {
	encoded, err := EncodeChunk(seed, chunk)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunk: %w", err)
	}

	compressed, err := gzipCompress(encoded, DefaultGzipLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to compress with gzip: %w", err)
	}

	return compressed, nil
}

// DecompressChunk reverses CompressChunk.
func DecompressChunk(data []byte) (uint32, minegen.Chunk, error) {
	encoded, err := gzipDecompress(data)
	if err != nil {
		return 0, minegen.Chunk{}, fmt.Errorf("failed to decompress chunk: %w", err)
	}
	return DecodeChunk(encoded)
}

// gzipCompress compresses data using gzip
func gzipCompress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write to gzip: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}

// gzipDecompress inflates gzip data, refusing output larger than one chunk.
func gzipDecompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(io.LimitReader(reader, int64(EncodedSize)+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip data: %w", err)
	}
	if len(out) > EncodedSize {
		return nil, fmt.Errorf("decompressed chunk exceeds %d bytes", EncodedSize)
	}
	return out, nil
}
