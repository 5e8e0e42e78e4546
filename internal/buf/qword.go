package buf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrShort is returned when a Reader runs out of data.
var ErrShort = errors.New("buf: short read")

// Writer emits little-endian QWORDs. The first error sticks; later writes are
// no-ops and Flush reports it.
type Writer struct {
	w   *bufio.Writer
	n   int64
	err error
	tmp [8]byte
}

// NewWriter wraps w with a buffered QWORD writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 64<<10)}
}

// PutQWord writes one QWORD.
func (w *Writer) PutQWord(v uint64) {
	if w.err != nil {
		return
	}
	binary.LittleEndian.PutUint64(w.tmp[:], v)
	_, w.err = w.w.Write(w.tmp[:])
	w.n++
}

// PutQWords writes each QWORD of q.
func (w *Writer) PutQWords(q ...uint64) {
	for _, v := range q {
		w.PutQWord(v)
	}
}

// PutBytes writes b zero padded to a QWORD boundary and returns the QWORDs written.
func (w *Writer) PutBytes(b []byte) int {
	if w.err != nil {
		return 0
	}
	n := (len(b) + 7) / 8
	if _, w.err = w.w.Write(b); w.err != nil {
		return 0
	}
	if pad := n*8 - len(b); pad > 0 {
		var zero [8]byte
		_, w.err = w.w.Write(zero[:pad])
	}
	w.n += int64(n)
	return n
}

// Zero writes n zero QWORDs.
func (w *Writer) Zero(n int) {
	for i := 0; i < n; i++ {
		w.PutQWord(0)
	}
}

// Offset returns the number of QWORDs written so far.
func (w *Writer) Offset() int64 {
	return w.n
}

// Err returns the first write error.
func (w *Writer) Err() error {
	return w.err
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}

// Reader consumes little-endian QWORDs from a byte slice, usually a mapped file.
type Reader struct {
	b   []byte
	off int
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// QWord reads one QWORD.
func (r *Reader) QWord() (uint64, error) {
	s, ok := Slice(r.b, r.off, 8)
	if !ok {
		return 0, fmt.Errorf("%w: qword at byte %d of %d", ErrShort, r.off, len(r.b))
	}
	r.off += 8
	return binary.LittleEndian.Uint64(s), nil
}

// QWords reads n QWORDs into a new slice.
func (r *Reader) QWords(n int) ([]uint64, error) {
	end, err := CheckQWords(len(r.b), r.off, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShort, err)
	}
	q := make([]uint64, n)
	for i := range q {
		q[i] = binary.LittleEndian.Uint64(r.b[r.off+i*8:])
	}
	r.off = end
	return q, nil
}

// Bytes returns the next n QWORDs as a byte slice aliasing the underlying data.
func (r *Reader) Bytes(n int) ([]byte, error) {
	end, err := CheckQWords(len(r.b), r.off, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShort, err)
	}
	s := r.b[r.off:end]
	r.off = end
	return s, nil
}

// Skip advances past n QWORDs.
func (r *Reader) Skip(n int) error {
	end, err := CheckQWords(len(r.b), r.off, n)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrShort, err)
	}
	r.off = end
	return nil
}

// Offset returns the number of QWORDs consumed so far.
func (r *Reader) Offset() int64 {
	return int64(r.off / 8)
}

// Remaining returns the number of whole QWORDs left.
func (r *Reader) Remaining() int {
	return (len(r.b) - r.off) / 8
}
