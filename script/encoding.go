package script

import (
	"bytes"
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Little-endian write helpers
// ---------------------------------------------------------------------------

// WriteUint32 appends a little-endian uint32 to buf.
func WriteUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// WriteInt32 appends a little-endian int32 to buf.
func WriteInt32(buf *bytes.Buffer, v int32) {
	WriteUint32(buf, uint32(v))
}

// WriteUint16 appends a little-endian uint16 to buf.
func WriteUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// WriteUint64 appends a little-endian uint64 to buf.
func WriteUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// WriteBool appends a single 0/1 byte.
func WriteBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

// writeLString writes a uint32 length prefix followed by the raw bytes of s.
func writeLString(buf *bytes.Buffer, s string) {
	WriteUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

// ---------------------------------------------------------------------------
// reader: bounds-checked cursor over a byte slice
// ---------------------------------------------------------------------------

// reader walks a byte slice. Offsets reported in errors are relative to base,
// the position of data[0] in the whole file.
type reader struct {
	data   []byte
	offset int
	base   int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

// slice returns a reader over data[off:off+n], reporting file offsets.
func (r *reader) slice(off, n uint32) (*reader, error) {
	end := uint64(off) + uint64(n)
	if end > uint64(len(r.data)) {
		return nil, &FormatError{Offset: r.base + int(off), Msg: "code region outside the script", Err: ErrUnexpectedEOF}
	}
	return &reader{data: r.data[off:end], base: r.base + int(off)}, nil
}

func (r *reader) pos() int {
	return r.offset
}

func (r *reader) remaining() int {
	return len(r.data) - r.offset
}

func (r *reader) eof() bool {
	return r.offset >= len(r.data)
}

func (r *reader) errorf(msg string, err error) error {
	return &FormatError{Offset: r.base + r.offset, Msg: msg, Err: err}
}

func (r *reader) need(n int) error {
	if n < 0 || r.remaining() < n {
		return r.errorf("truncated data", ErrUnexpectedEOF)
	}
	return nil
}

func (r *reader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.offset]
	r.offset++
	return v, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.data[r.offset : r.offset+n]
	r.offset += n
	return v, nil
}

func (r *reader) readUint16() (uint16, error) {
	b, err := r.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) readUint32() (uint32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readInt32() (int32, error) {
	v, err := r.readUint32()
	return int32(v), err
}

func (r *reader) readUint64() (uint64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) readFloat32() (float32, error) {
	v, err := r.readUint32()
	return math.Float32frombits(v), err
}

func (r *reader) readFloat64() (float64, error) {
	v, err := r.readUint64()
	return math.Float64frombits(v), err
}

// readLString reads a uint32 length-prefixed byte string.
func (r *reader) readLString() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.remaining()) {
		return "", r.errorf("string length exceeds data", ErrUnexpectedEOF)
	}
	b, err := r.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readSub consumes n bytes and returns a reader over them that reports
// offsets in the same file coordinates.
func (r *reader) readSub(n uint32) (*reader, error) {
	if uint64(n) > uint64(r.remaining()) {
		return nil, r.errorf("block length exceeds data", ErrUnexpectedEOF)
	}
	sub := &reader{data: r.data[r.offset : r.offset+int(n)], base: r.base + r.offset}
	r.offset += int(n)
	return sub, nil
}

// readTerminated reads bytes up to (and consuming) term.
func (r *reader) readTerminated(term byte) (string, error) {
	i := bytes.IndexByte(r.data[r.offset:], term)
	if i < 0 {
		return "", r.errorf("missing string terminator", ErrUnexpectedEOF)
	}
	s := string(r.data[r.offset : r.offset+i])
	r.offset += i + 1
	return s, nil
}

// readCount reads an int32 element count and rejects negative values or
// counts that cannot possibly fit in the remaining data.
func (r *reader) readCount(what string, minElemSize int) (int, error) {
	n, err := r.readInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 || (minElemSize > 0 && int64(n)*int64(minElemSize) > int64(r.remaining())) {
		return 0, r.errorf(what+" count out of range", ErrInvalidIndex)
	}
	return int(n), nil
}
