package codec

import "fmt"

// Limit wraps another codec to enforce a maximum payload size at Decode
// time. Encode is forwarded to Inner unchanged. If MaxDecode <= 0, size
// limiting is disabled.
//
// Remote payloads are written by every instance sharing the key prefix, so
// a misbehaving writer can hand this process arbitrarily large blobs.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }
func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, decodeErr("limit", fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode))
	}
	return c.Inner.Decode(b)
}
