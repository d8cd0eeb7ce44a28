package importer

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

type logFile struct {
	name    string
	content []byte
}

var errNoLogFiles = errors.New("no log files found")

func isTarGz(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz")
}

func isGzip(data []byte) bool {
	return len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b
}

// unpack turns one attachment body into the log files it carries. Archives
// keep only .log entries whose base name starts with stepPrefix (any .log
// when stepPrefix is empty). A bare gzip stream is inflated; anything else
// is taken as a single plain log.
func unpack(name string, data []byte, stepPrefix string, maxFileBytes int64) ([]logFile, error) {
	switch {
	case isTarGz(name):
		return extractTarGz(data, strings.ToLower(stepPrefix), maxFileBytes)
	case isGzip(data):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening gzip: %w", err)
		}
		defer zr.Close()
		content, err := readCapped(zr, maxFileBytes)
		if err != nil {
			return nil, err
		}
		return []logFile{{name: strings.TrimSuffix(name, ".gz"), content: content}}, nil
	default:
		if int64(len(data)) > maxFileBytes {
			return nil, fmt.Errorf("attachment exceeds %d bytes", maxFileBytes)
		}
		return []logFile{{name: name, content: data}}, nil
	}
}

func extractTarGz(data []byte, stepPrefix string, maxFileBytes int64) ([]logFile, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	var out []logFile
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !filepath.IsLocal(hdr.Name) {
			log.Printf("import skipping archive entry outside root name=%q", hdr.Name)
			continue
		}
		if hdr.Size > maxFileBytes {
			log.Printf("import skipping archive entry name=%q size=%d limit=%d", hdr.Name, hdr.Size, maxFileBytes)
			continue
		}
		base := strings.ToLower(path.Base(hdr.Name))
		if !strings.HasSuffix(base, ".log") || !strings.HasPrefix(base, stepPrefix) {
			continue
		}
		content, err := readCapped(tr, maxFileBytes)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", hdr.Name, err)
		}
		out = append(out, logFile{name: hdr.Name, content: content})
	}
	if len(out) == 0 {
		return nil, errNoLogFiles
	}
	return out, nil
}

func readCapped(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("content exceeds %d bytes", limit)
	}
	return b, nil
}
