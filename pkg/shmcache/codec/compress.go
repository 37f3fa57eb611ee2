package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the compressor applied to encoded envelopes.
type Compression int

const (
	// CompressionNone stores encoded bytes as is.
	CompressionNone Compression = iota + 1

	// CompressionZlib is RFC 1950 zlib, byte compatible with gzcompress.
	CompressionZlib

	// CompressionZstd is Zstandard.
	CompressionZstd

	// CompressionLZ4 is the LZ4 frame format.
	CompressionLZ4
)

// Compression levels.
const (
	MinLevel     = 0
	MaxLevel     = 9
	DefaultLevel = 6
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Compression(%d)", int(c))
	}
}

// ParseCompression resolves a configuration name.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "off":
		return CompressionNone, nil
	case "zlib", "gzcompress":
		return CompressionZlib, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("%w: unknown algorithm %q (want none, zlib, zstd or lz4)", ErrCompression, name)
	}
}

type compressor interface {
	compress(src []byte) ([]byte, error)
	decompress(src []byte) ([]byte, error)
	close()
}

func newCompressor(c Compression, level int) (compressor, error) {
	if level == 0 || c == CompressionNone {
		return identity{}, nil
	}

	switch c {
	case CompressionZlib:
		return zlibCompressor{level: level}, nil
	case CompressionZstd:
		return newZstdCompressor(level)
	case CompressionLZ4:
		return lz4Compressor{level: lz4.CompressionLevel(1 << (8 + level))}, nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %s", ErrCompression, c)
	}
}

type identity struct{}

func (identity) compress(src []byte) ([]byte, error)   { return src, nil }
func (identity) decompress(src []byte) ([]byte, error) { return src, nil }
func (identity) close()                                {}

type zlibCompressor struct {
	level int
}

func (z zlibCompressor) compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := zlib.NewWriterLevel(&buf, z.level)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(src); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (zlibCompressor) decompress(src []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

func (zlibCompressor) close() {}

// zstdCompressor keeps one encoder and decoder; EncodeAll and DecodeAll are
// safe for concurrent use.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor(level int) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd encoder: %w", ErrCompression, err)
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = enc.Close()

		return nil, fmt.Errorf("%w: zstd decoder: %w", ErrCompression, err)
	}

	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) compress(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, nil), nil
}

func (z *zstdCompressor) decompress(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}

func (z *zstdCompressor) close() {
	_ = z.enc.Close()
	z.dec.Close()
}

type lz4Compressor struct {
	level lz4.CompressionLevel
}

func (l lz4Compressor) compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := lz4.NewWriter(&buf)

	if err := w.Apply(lz4.CompressionLevelOption(l.level)); err != nil {
		return nil, err
	}

	if _, err := w.Write(src); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (lz4Compressor) decompress(src []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
}

func (lz4Compressor) close() {}
