package codec

import "errors"

// Sentinel errors returned by codec operations.
var (
	// ErrInvalidSerializer indicates an unknown serializer identifier.
	//
	// Returned by [ParseSerializer] and [New]; never from Marshal/Unmarshal.
	ErrInvalidSerializer = errors.New("codec: invalid serializer")

	// ErrCompression indicates the compressor rejected its input or level, or
	// that stored bytes are corrupt or truncated.
	ErrCompression = errors.New("codec: compression")

	// ErrEncoding indicates a value could not be serialized, or stored bytes
	// could not be decoded into the requested type.
	ErrEncoding = errors.New("codec: encoding")
)
