package l1records

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// TFRecord framing, per record:
//
//	uint64 length (little endian)
//	uint32 masked CRC-32C of the length bytes
//	[length]byte payload
//	uint32 masked CRC-32C of the payload
const (
	headerSize = 8 + 4
	footerSize = 4
	maskDelta  = 0xa282ead8

	// MaxRecordSize bounds a single payload so a corrupt length field
	// cannot trigger an enormous allocation.
	MaxRecordSize = 256 << 20
)

// ErrCorruptRecord is returned when framing or checksums do not match.
var ErrCorruptRecord = errors.New("corrupt tfrecord")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	crc := crc32.Checksum(b, castagnoli)
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Reader reads TFRecord framed payloads from an io.Reader.
type Reader struct {
	r      *bufio.Reader
	header [headerSize]byte
	footer [footerSize]byte
	count  int
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 1<<16)}
}

// Next returns the next payload, or io.EOF once the stream ends cleanly
// on a record boundary. A stream that ends mid-record yields
// io.ErrUnexpectedEOF.
func (r *Reader) Next() ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("record %d header: %w", r.count, err)
	}

	lenBytes := r.header[:8]
	if got, want := binary.LittleEndian.Uint32(r.header[8:]), maskedCRC(lenBytes); got != want {
		return nil, fmt.Errorf("%w: record %d length checksum %08x != %08x", ErrCorruptRecord, r.count, got, want)
	}
	length := binary.LittleEndian.Uint64(lenBytes)
	if length > MaxRecordSize {
		return nil, fmt.Errorf("%w: record %d length %d exceeds %d", ErrCorruptRecord, r.count, length, MaxRecordSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("record %d payload: %w", r.count, unexpected(err))
	}
	if _, err := io.ReadFull(r.r, r.footer[:]); err != nil {
		return nil, fmt.Errorf("record %d footer: %w", r.count, unexpected(err))
	}
	if got, want := binary.LittleEndian.Uint32(r.footer[:]), maskedCRC(payload); got != want {
		return nil, fmt.Errorf("%w: record %d payload checksum %08x != %08x", ErrCorruptRecord, r.count, got, want)
	}

	r.count++
	return payload, nil
}

// Count returns the number of records read so far.
func (r *Reader) Count() int {
	return r.count
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Writer writes TFRecord framed payloads.
type Writer struct {
	w     *bufio.Writer
	buf   [headerSize]byte
	count int
}

// NewWriter wraps w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write frames and writes one payload.
func (w *Writer) Write(payload []byte) error {
	binary.LittleEndian.PutUint64(w.buf[:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(w.buf[8:], maskedCRC(w.buf[:8]))
	if _, err := w.w.Write(w.buf[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}
	var footer [footerSize]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(payload))
	if _, err := w.w.Write(footer[:]); err != nil {
		return err
	}
	w.count++
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.count
}
