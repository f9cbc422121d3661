package compress

import (
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
)

type Algorithm string

const (
	Gzip Algorithm = "gzip"
	Lz4  Algorithm = "lz4"
	Zstd Algorithm = "zstd"
	None Algorithm = "none"
)

// Ext returns the artifact name suffix for the algorithm, empty for None.
func (a Algorithm) Ext() string {
	switch a {
	case Gzip:
		return ".gz"
	case Lz4:
		return ".lz4"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

func (a Algorithm) Valid() bool {
	switch a {
	case Gzip, Lz4, Zstd, None, "":
		return true
	}
	return false
}

// NewWriter wraps w with a streaming compressor. The caller must Close the
// returned writer to flush the compressed trailer before closing w.
func NewWriter(w io.Writer, algo Algorithm) (io.WriteCloser, error) {
	switch algo {
	case Gzip:
		return gzip.NewWriter(w), nil
	case Lz4:
		return lz4.NewWriter(w), nil
	case Zstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeCompression, "failed to initialize zstd writer", "")
		}
		return zw, nil
	case None, "":
		return nopWriteCloser{w}, nil
	default:
		return nil, apperrors.New(apperrors.TypeCompression, "unsupported compression algorithm: "+string(algo), "Use gzip, lz4, zstd or none.")
	}
}

// NewReader wraps r with the matching decompressor.
func NewReader(r io.Reader, algo Algorithm) (io.ReadCloser, error) {
	switch algo {
	case Gzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeCompression, "failed to open gzip stream", "The artifact may be truncated or not gzip data.")
		}
		return gr, nil
	case Lz4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeCompression, "failed to open zstd stream", "The artifact may be truncated or not zstd data.")
		}
		return io.NopCloser(zr.IOReadCloser()), nil
	case None, "":
		return io.NopCloser(r), nil
	default:
		return nil, apperrors.New(apperrors.TypeCompression, "unsupported compression algorithm: "+string(algo), "Use gzip, lz4, zstd or none.")
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
