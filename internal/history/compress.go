package history

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// compress LZ4-compresses a manifest snapshot. When the payload is
// incompressible the raw bytes are stored as-is; the stored raw size
// disambiguates on read.
func compress(raw []byte) []byte {
	buf := make([]byte, lz4.CompressBlockBound(len(raw)))
	n, err := lz4.CompressBlock(raw, buf, nil)
	if err != nil || n == 0 || n >= len(raw) {
		return raw
	}
	return buf[:n]
}

// decompress reverses compress given the original raw size.
func decompress(blob []byte, rawSize int) ([]byte, error) {
	if rawSize <= 0 || len(blob) >= rawSize {
		// Stored uncompressed.
		return blob, nil
	}

	raw := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(blob, raw)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return raw[:n], nil
}
