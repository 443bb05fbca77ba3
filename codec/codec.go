// Package codec holds the serializers a tiercache coordinator uses to turn
// values into the opaque payload stored in the remote tier.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
// Decode must fail with a *DecodeError on malformed input.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// DecodeError reports a payload that could not be turned back into a value.
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec %s: decode: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return &DecodeError{Codec: name, Err: err}
}
