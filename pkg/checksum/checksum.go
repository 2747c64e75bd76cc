package checksum

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// File returns the CRC-32 (IEEE) of the file at path. The digest is taken
// from whatever is on disk at call time, not from bytes held in memory.
func File(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return h.Sum32(), nil
}

// Bytes is the digest File would return for a file holding data.
func Bytes(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
