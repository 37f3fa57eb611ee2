package codec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Serializer selects the value encoding.
type Serializer int

const (
	// SerializerNative uses encoding/gob. Values keep their Go types exactly
	// but the bytes are only readable by Go programs.
	SerializerNative Serializer = iota + 1

	// SerializerCompactBinary uses CBOR (RFC 8949). Smaller than gob for
	// small values and readable from other languages.
	SerializerCompactBinary
)

func (s Serializer) String() string {
	switch s {
	case SerializerNative:
		return "native"
	case SerializerCompactBinary:
		return "compact-binary"
	default:
		return fmt.Sprintf("Serializer(%d)", int(s))
	}
}

func (s Serializer) valid() bool {
	return s == SerializerNative || s == SerializerCompactBinary
}

// ParseSerializer resolves a configuration name. "gob" and "cbor" are
// accepted as aliases.
func ParseSerializer(name string) (Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "native", "gob":
		return SerializerNative, nil
	case "compact-binary", "cbor":
		return SerializerCompactBinary, nil
	default:
		return 0, fmt.Errorf("%w: %q (want native or compact-binary)", ErrInvalidSerializer, name)
	}
}

type serializer interface {
	marshal(v any) ([]byte, error)
	unmarshal(data []byte, v any) error
}

type gobSerializer struct{}

func (gobSerializer) marshal(v any) ([]byte, error) {
	var buf bytes.Buffer

	err := gob.NewEncoder(&buf).Encode(v)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (gobSerializer) unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

type cborSerializer struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORSerializer() (*cborSerializer, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encode mode: %w", err)
	}

	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decode mode: %w", err)
	}

	return &cborSerializer{enc: enc, dec: dec}, nil
}

func (c *cborSerializer) marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *cborSerializer) unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}
