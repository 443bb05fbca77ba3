package codec

import "google.golang.org/protobuf/proto"

// Protobuf serializes generated protobuf messages.
// ctor returns a fresh message to decode into, e.g.
// func() *mypb.Session { return &mypb.Session{} }.
type Protobuf[T proto.Message] struct {
	ctor func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{ctor: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.ctor()
	if err := proto.Unmarshal(b, m); err != nil {
		return m, decodeErr("protobuf", err)
	}
	return m, nil
}
