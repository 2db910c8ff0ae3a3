package compression

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType defines supported dump stream codecs
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
	CompressionLZ4  CompressionType = "lz4"
)

// DetectFromPath infers the codec from a dump file's extension. Mirror dumps
// are published as .xml.gz today; .zst and .lz4 are accepted for forward
// compatibility with re-compressed mirrors.
func DetectFromPath(path string) CompressionType {
	switch {
	case strings.HasSuffix(path, ".gz"), strings.HasSuffix(path, ".gzip"):
		return CompressionGzip
	case strings.HasSuffix(path, ".zst"), strings.HasSuffix(path, ".zstd"):
		return CompressionZstd
	case strings.HasSuffix(path, ".lz4"):
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Reader wraps a raw dump stream with the codec's decompressor. The returned
// ReadCloser closes both the decompressor and the underlying stream.
func NewReader(r io.ReadCloser, codec CompressionType) (io.ReadCloser, error) {
	switch codec {
	case CompressionNone:
		return r, nil

	case CompressionGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return &decompressReader{Reader: gz, closers: []io.Closer{gz, r}}, nil

	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		rc := zr.IOReadCloser()
		return &decompressReader{Reader: rc, closers: []io.Closer{rc, r}}, nil

	case CompressionLZ4:
		return &decompressReader{Reader: lz4.NewReader(r), closers: []io.Closer{r}}, nil

	default:
		r.Close()
		return nil, fmt.Errorf("unsupported compression type: %s", codec)
	}
}

type decompressReader struct {
	io.Reader
	closers []io.Closer
}

func (d *decompressReader) Close() error {
	var firstErr error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
