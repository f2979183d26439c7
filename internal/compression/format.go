package compression

import (
	"encoding/base64"
	"fmt"

	"github.com/sweepworld/server/internal/minegen"
)

// FormatBinaryGzip names the only transport format.
const FormatBinaryGzip = "binary_gzip"

// CompressedChunk represents compressed chunk data ready for transmission
type CompressedChunk struct {
	Format           string `json:"format"`            // "binary_gzip"
	Data             string `json:"data"`              // Base64-encoded compressed data
	Size             int    `json:"size"`              // Compressed size in bytes
	UncompressedSize int    `json:"uncompressed_size"` // Uncompressed size in bytes
}

// FormatCompressedChunk formats compressed chunk data for JSON transmission
func FormatCompressedChunk(compressedData []byte, uncompressedSize int) *CompressedChunk {
	return &CompressedChunk{
		Format:           FormatBinaryGzip,
		Data:             base64.StdEncoding.EncodeToString(compressedData),
		Size:             len(compressedData),
		UncompressedSize: uncompressedSize,
	}
}

// CompressAndFormatChunk compresses a chunk and formats it for transmission
func CompressAndFormatChunk(seed uint32, chunk *minegen.Chunk) (*CompressedChunk, error) {
	compressed, err := CompressChunk(seed, chunk)
	if err != nil {
		return nil, err
	}
	return FormatCompressedChunk(compressed, EncodedSize), nil
}

// ParseCompressedChunk decodes a chunk received in transport form.
func ParseCompressedChunk(cc *CompressedChunk) (uint32, minegen.Chunk, error) {
	if cc == nil {
		return 0, minegen.Chunk{}, fmt.Errorf("compressed chunk is nil")
	}
	if cc.Format != FormatBinaryGzip {
		return 0, minegen.Chunk{}, fmt.Errorf("unsupported chunk format: %s", cc.Format)
	}
	data, err := base64.StdEncoding.DecodeString(cc.Data)
	if err != nil {
		return 0, minegen.Chunk{}, fmt.Errorf("failed to decode base64 chunk: %w", err)
	}
	return DecompressChunk(data)
}
