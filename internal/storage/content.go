package storage

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// CompressContent gzips log content for the content column.
func CompressContent(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressContent reverses CompressContent. Rows written by older loaders
// hold plain text, so anything that is not valid gzip is returned as-is.
func DecompressContent(stored []byte) string {
	if len(stored) == 0 {
		return ""
	}
	zr, err := gzip.NewReader(bytes.NewReader(stored))
	if err != nil {
		return string(stored)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return string(stored)
	}
	return string(out)
}
