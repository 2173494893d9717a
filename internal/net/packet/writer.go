package packet

import (
	"encoding/binary"

	"golang.org/x/text/encoding/charmap"
)

// Writer builds a server packet. All multi-byte writes are little-endian,
// matching the VIE wire format.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func NewWriterWithType(pktType byte) *Writer {
	w := &Writer{buf: make([]byte, 0, 64)}
	w.WriteC(pktType)
	return w
}

// WriteC writes 1 byte.
func (w *Writer) WriteC(v byte) {
	w.buf = append(w.buf, v)
}

// WriteH writes 2 bytes little-endian.
func (w *Writer) WriteH(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteHS writes a signed 16-bit value.
func (w *Writer) WriteHS(v int16) {
	w.WriteH(uint16(v))
}

// WriteD writes 4 bytes little-endian (signed via cast).
func (w *Writer) WriteD(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

// WriteDU writes 4 bytes little-endian unsigned.
func (w *Writer) WriteDU(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteS writes a null-terminated string, converting UTF-8 to Windows-1252
// (the client charset).
func (w *Writer) WriteS(s string) {
	w.writeEncoded(s)
	w.buf = append(w.buf, 0)
}

// WriteSFixed writes a string into a fixed-width field, padded with zeros
// and truncated if needed (player names are 20 bytes on the wire).
func (w *Writer) WriteSFixed(s string, width int) {
	start := len(w.buf)
	w.writeEncoded(s)
	if over := len(w.buf) - (start + width); over > 0 {
		w.buf = w.buf[:start+width]
		return
	}
	for len(w.buf) < start+width {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) writeEncoded(s string) {
	if s == "" {
		return
	}
	encoded, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// Fallback: raw bytes work for pure ASCII.
		w.buf = append(w.buf, []byte(s)...)
		return
	}
	w.buf = append(w.buf, encoded...)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}
