package comm

// LineFramer splits a byte stream into lines.
// Bytes are reduced to 7 bits, carriage returns are discarded and a
// newline ends the current line. The newline is not part of the line.
// There is no limit on line length.
type LineFramer struct {
	buf []byte
}

// Feed consumes bytes and returns the lines completed by them.
// Incomplete trailing data is kept for the next call.
func (f *LineFramer) Feed(p []byte) (lines []string) {
	for _, b := range p {
		switch b &= 0x7f; b {
		case '\r':
		case '\n':
			lines = append(lines, string(f.buf))
			f.buf = f.buf[:0]
		default:
			f.buf = append(f.buf, b)
		}
	}
	return
}

// Pending returns the partial line accumulated so far.
func (f *LineFramer) Pending() string {
	return string(f.buf)
}

// Reset discards any partial line.
func (f *LineFramer) Reset() {
	f.buf = f.buf[:0]
}
