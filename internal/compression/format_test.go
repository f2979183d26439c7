package compression

import (
	"testing"

	"github.com/sweepworld/server/internal/minegen"
)

func TestFormatCompressedChunk(t *testing.T) {
	compressedData := []byte{1, 2, 3, 4, 5}
	uncompressedSize := 100

	formatted := FormatCompressedChunk(compressedData, uncompressedSize)

	if formatted.Format != "binary_gzip" {
		t.Errorf("Expected format 'binary_gzip', got '%s'", formatted.Format)
	}

	if formatted.Size != len(compressedData) {
		t.Errorf("Expected size %d, got %d", len(compressedData), formatted.Size)
	}

	if formatted.UncompressedSize != uncompressedSize {
		t.Errorf("Expected uncompressed size %d, got %d", uncompressedSize, formatted.UncompressedSize)
	}

	if formatted.Data != "AQIDBAU=" {
		t.Errorf("Unexpected base64 data %q", formatted.Data)
	}
}

func TestCompressAndParseChunk(t *testing.T) {
	chunk := minegen.New(1).Generate(0, 0)

	formatted, err := CompressAndFormatChunk(1, &chunk)
	if err != nil {
		t.Fatalf("CompressAndFormatChunk failed: %v", err)
	}
	if formatted.UncompressedSize != EncodedSize {
		t.Errorf("Expected uncompressed size %d, got %d", EncodedSize, formatted.UncompressedSize)
	}

	seed, decoded, err := ParseCompressedChunk(formatted)
	if err != nil {
		t.Fatalf("ParseCompressedChunk failed: %v", err)
	}
	if seed != 1 {
		t.Errorf("Expected seed 1, got %d", seed)
	}
	if decoded != chunk {
		t.Errorf("Decoded chunk differs:\n%s\nwant:\n%s", decoded, chunk)
	}
}

func TestParseCompressedChunkErrors(t *testing.T) {
	tests := []struct {
		name string
		cc   *CompressedChunk
	}{
		{"nil", nil},
		{"wrong format", &CompressedChunk{Format: "json"}},
		{"bad base64", &CompressedChunk{Format: FormatBinaryGzip, Data: "!!!"}},
		{"not gzip", &CompressedChunk{Format: FormatBinaryGzip, Data: "AQIDBAU="}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseCompressedChunk(tt.cc); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
