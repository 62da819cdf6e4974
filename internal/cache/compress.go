// Transparent payload compression for large cache entries.
package cache

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// compressThreshold is the serialized size above which compression is
// attempted. Small payloads are never worth the CPU.
const compressThreshold = 1024

// maybeCompress gzips payload when it exceeds the threshold and the
// compressed form is strictly smaller. Returns the stored bytes and
// whether they are compressed.
func maybeCompress(payload []byte) ([]byte, bool) {
	if len(payload) <= compressThreshold {
		return payload, false
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return payload, false
	}
	if err := zw.Close(); err != nil {
		return payload, false
	}
	if buf.Len() >= len(payload) {
		return payload, false
	}
	return buf.Bytes(), true
}

// decompress reverses maybeCompress for entries stored compressed.
func decompress(stored []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
