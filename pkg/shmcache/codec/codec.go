// Package codec turns values into stored bytes and back: serialize, then
// compress on the way in; decompress, then deserialize on the way out.
//
// The serializer and compressor are chosen once in [New]. A [Codec] is safe
// for concurrent use and must be released with [Codec.Close].
package codec

import (
	"fmt"
)

// Codec is a resolved serializer/compressor pair.
type Codec struct {
	serializer  Serializer
	compression Compression
	level       int

	ser  serializer
	comp compressor
}

// New resolves s and c. Level 0 disables compression whatever c is; levels
// outside 0..9 fail with [ErrCompression]. An unknown s fails with
// [ErrInvalidSerializer].
func New(s Serializer, c Compression, level int) (*Codec, error) {
	if !s.valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSerializer, s)
	}

	if level < MinLevel || level > MaxLevel {
		return nil, fmt.Errorf("%w: level %d outside %d..%d", ErrCompression, level, MinLevel, MaxLevel)
	}

	var (
		ser serializer
		err error
	)

	switch s {
	case SerializerNative:
		ser = gobSerializer{}
	case SerializerCompactBinary:
		ser, err = newCBORSerializer()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSerializer, err)
		}
	}

	comp, err := newCompressor(c, level)
	if err != nil {
		return nil, err
	}

	return &Codec{serializer: s, compression: c, level: level, ser: ser, comp: comp}, nil
}

// Serializer returns the configured serializer.
func (c *Codec) Serializer() Serializer { return c.serializer }

// Compression returns the configured compressor. It reports
// [CompressionNone] when the level disabled compression.
func (c *Codec) Compression() Compression {
	if c.level == 0 {
		return CompressionNone
	}

	return c.compression
}

// Level returns the configured compression level.
func (c *Codec) Level() int { return c.level }

// Marshal serializes v.
func (c *Codec) Marshal(v any) ([]byte, error) {
	data, err := c.ser.marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s marshal %T: %w", ErrEncoding, c.serializer, v, err)
	}

	return data, nil
}

// Unmarshal decodes data into v, which must be a non-nil pointer.
func (c *Codec) Unmarshal(data []byte, v any) error {
	err := c.ser.unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("%w: %s unmarshal into %T: %w", ErrEncoding, c.serializer, v, err)
	}

	return nil
}

// Compress compresses data. With compression disabled it returns data.
func (c *Codec) Compress(data []byte) ([]byte, error) {
	out, err := c.comp.compress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s compress: %w", ErrCompression, c.Compression(), err)
	}

	return out, nil
}

// Decompress reverses [Codec.Compress]. Corrupt or truncated input fails with
// [ErrCompression].
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	out, err := c.comp.decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s decompress: %w", ErrCompression, c.Compression(), err)
	}

	return out, nil
}

// Encode is Marshal followed by Compress.
func (c *Codec) Encode(v any) ([]byte, error) {
	data, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}

	return c.Compress(data)
}

// Decode is Decompress followed by Unmarshal.
func (c *Codec) Decode(data []byte, v any) error {
	raw, err := c.Decompress(data)
	if err != nil {
		return err
	}

	return c.Unmarshal(raw, v)
}

// Close releases compressor resources. The Codec must not be used afterwards.
func (c *Codec) Close() {
	c.comp.close()
}
