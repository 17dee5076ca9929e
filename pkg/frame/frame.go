// Package frame implements the length-delimited read/write primitives that
// every step daemon message is built from: exact-N-byte reads and writes,
// plus the fixed-width and length-prefixed field helpers layered on top of
// them. Every multi-field message on the wire is a concatenation of these
// primitives; there is no separate marshaling step.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrShort is returned when a read or write could not complete the
// requested number of bytes and the underlying stream gave up cleanly
// (EOF) rather than with an explicit I/O error. The spec treats a short
// read/write identically to any other I/O failure: fatal to the request.
var ErrShort = errors.New("frame: short read or write")

// MaxBlobLen bounds the length prefix accepted for a byte blob or string,
// guarding a malicious or corrupt peer from making a handler allocate an
// unbounded buffer.
const MaxBlobLen = 64 << 20

// byteOrder is the wire's integer encoding. The protocol is explicitly
// native-width, native-endian, because both ends of the socket are the
// same build on the same host.
var byteOrder = binary.NativeEndian

// Reader reads frame-encoded fields from an underlying stream.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for frame-encoded reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFull reads exactly len(buf) bytes, retrying on transient errors the
// way the spec's "read exactly N bytes" primitive does. A clean EOF before
// any byte is read is returned as io.EOF so callers can distinguish normal
// connection termination between requests from a mid-message failure.
func (r *Reader) ReadFull(buf []byte) error {
	n, err := io.ReadFull(r.r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %v", ErrShort, err)
		}
		return err
	}
	return nil
}

// ReadUint32 reads a 4-byte unsigned integer.
func (r *Reader) ReadUint32() (uint32, error) {
	var buf [4]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint32(buf[:]), nil
}

// ReadInt32 reads a 4-byte signed integer.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadUint16 reads a 2-byte unsigned integer.
func (r *Reader) ReadUint16() (uint16, error) {
	var buf [2]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint16(buf[:]), nil
}

// ReadUint64 reads an 8-byte unsigned integer.
func (r *Reader) ReadUint64() (uint64, error) {
	var buf [8]byte
	if err := r.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint64(buf[:]), nil
}

// ReadBytes reads a u32-length-prefixed blob.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > MaxBlobLen {
		return nil, fmt.Errorf("frame: blob length %d exceeds maximum %d", n, MaxBlobLen)
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if err := r.ReadFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadString reads a u32-length-prefixed, non-NUL-terminated string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Writer writes frame-encoded fields to an underlying stream.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for frame-encoded writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFull writes len(buf) bytes in a single Write call; a short write
// that reports no error is returned as ErrShort rather than retried.
func (w *Writer) WriteFull(buf []byte) error {
	n, err := w.w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShort, n, len(buf))
	}
	return nil
}

// WriteUint32 writes a 4-byte unsigned integer.
func (w *Writer) WriteUint32(v uint32) error {
	var buf [4]byte
	byteOrder.PutUint32(buf[:], v)
	return w.WriteFull(buf[:])
}

// WriteInt32 writes a 4-byte signed integer.
func (w *Writer) WriteInt32(v int32) error {
	return w.WriteUint32(uint32(v))
}

// WriteUint16 writes a 2-byte unsigned integer.
func (w *Writer) WriteUint16(v uint16) error {
	var buf [2]byte
	byteOrder.PutUint16(buf[:], v)
	return w.WriteFull(buf[:])
}

// WriteUint64 writes an 8-byte unsigned integer.
func (w *Writer) WriteUint64(v uint64) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], v)
	return w.WriteFull(buf[:])
}

// WriteBytes writes a u32-length-prefixed blob.
func (w *Writer) WriteBytes(b []byte) error {
	if err := w.WriteUint32(uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return w.WriteFull(b)
}

// WriteString writes a u32-length-prefixed, non-NUL-terminated string.
func (w *Writer) WriteString(s string) error {
	return w.WriteBytes([]byte(s))
}
