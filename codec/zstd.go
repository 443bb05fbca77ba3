package codec

import (
	"github.com/klauspost/compress/zstd"
)

// defaultMaxWindow caps decoder memory for hostile frames.
const defaultMaxWindow = 64 << 20

// Zstd compresses the output of an inner codec. Useful for large, repetitive
// payloads where remote-tier memory and bandwidth matter more than CPU.
// Encoder and decoder are shared; both are safe for concurrent use.
type Zstd[V any] struct {
	inner Codec[V]
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

var _ Codec[struct{}] = (*Zstd[struct{}])(nil)

// NewZstd wraps inner with zstd compression at the given level.
func NewZstd[V any](inner Codec[V], level zstd.EncoderLevel) (*Zstd[V], error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxWindow(defaultMaxWindow))
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &Zstd[V]{inner: inner, enc: enc, dec: dec}, nil
}

func (z *Zstd[V]) Encode(v V) ([]byte, error) {
	raw, err := z.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (z *Zstd[V]) Decode(b []byte) (V, error) {
	raw, err := z.dec.DecodeAll(b, nil)
	if err != nil {
		var zero V
		return zero, decodeErr("zstd", err)
	}
	return z.inner.Decode(raw)
}

// Close releases encoder/decoder resources.
func (z *Zstd[V]) Close() error {
	z.dec.Close()
	return z.enc.Close()
}
