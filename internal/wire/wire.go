package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindRecord byte = 1

	hdrLen = 4 + 1 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("tiercache: corrupt record")
	magic4     = [...]byte{'T', 'I', 'E', 'R'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Record is the versioned payload of one remote key, as laid out by stores
// that have no native hash type.
type Record struct {
	Version   uint64
	ExpiresAt int64 // unix nanos; 0 => no expiry
	Data      []byte
}

// EncodeRecord frames r as:
//
//	magic(4) | ver(1) | kind(1=record) | version(u64 be) | expiresAt(i64 be) | dlen(u32 be) | data(dlen)
func EncodeRecord(r Record) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(r.Data))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindRecord)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], r.Version)
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(r.ExpiresAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(r.Data)))
	buf.Write(u4[:])

	buf.Write(r.Data)
	return buf.Bytes()
}

// DecodeRecord parses a framed record. Data aliases b.
func DecodeRecord(b []byte) (Record, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindRecord {
		return Record{}, ErrCorrupt
	}

	off := 6
	ver := binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	exp := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	dlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// strict framing: exact length, no trailing bytes
	if dlen < 0 || dlen != len(b)-off {
		return Record{}, ErrCorrupt
	}

	return Record{Version: ver, ExpiresAt: exp, Data: b[off : off+dlen]}, nil
}

// PeekVersion reads only the version and expiry of a framed record.
func PeekVersion(b []byte) (ver uint64, expiresAt int64, err error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindRecord {
		return 0, 0, ErrCorrupt
	}
	return binary.BigEndian.Uint64(b[6:14]), int64(binary.BigEndian.Uint64(b[14:22])), nil
}
