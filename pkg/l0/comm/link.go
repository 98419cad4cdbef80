package comm

import (
	"io"
	"os"
	"runtime"

	"github.com/golang/glog"
)

// DefaultEOL is the line terminator appended to outbound commands.
var DefaultEOL = func() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}()

// maxReadsPerPoll bounds the work done by a single Poll.
const maxReadsPerPoll = 64

// Link binds a port to a LineFramer and an outbound buffer.
// The port must return promptly from Read when no data is available,
// either (0, nil) or a timeout error.
type Link struct {
	Port io.ReadWriteCloser
	EOL  string

	framer  LineFramer
	out     []byte
	readBuf []byte
	ready   bool
	failed  error
}

// NewLink creates a Link over an open port. The link is not ready
// until SetReady is called.
func NewLink(port io.ReadWriteCloser) *Link {
	return &Link{
		Port:    port,
		EOL:     DefaultEOL,
		readBuf: make([]byte, 256),
	}
}

// Ready indicates outbound bytes are flushed to the port.
func (l *Link) Ready() bool {
	return l.ready
}

// SetReady enables or disables flushing. Enabling flushes what was
// buffered meanwhile.
func (l *Link) SetReady(ready bool) error {
	l.ready = ready
	if ready {
		return l.Flush()
	}
	return nil
}

// Send buffers text followed by the EOL and flushes.
func (l *Link) Send(text string) error {
	glog.V(2).Infof("SND %q", text)
	return l.Write([]byte(text + l.EOL))
}

// Write buffers raw bytes and flushes.
func (l *Link) Write(p []byte) error {
	if l.failed != nil {
		return l.failed
	}
	l.out = append(l.out, p...)
	return l.Flush()
}

// Buffered returns the number of bytes waiting to be flushed.
func (l *Link) Buffered() int {
	return len(l.out)
}

// Flush writes buffered bytes when the link is ready.
func (l *Link) Flush() error {
	if l.failed != nil {
		return l.failed
	}
	for l.ready && len(l.out) > 0 {
		n, err := l.Port.Write(l.out)
		l.out = l.out[n:]
		if err != nil {
			l.failed = &TransportError{Op: "write", Err: err}
			return l.failed
		}
		if n == 0 {
			break
		}
	}
	return nil
}

// Poll reads what is available and returns completed lines.
func (l *Link) Poll() ([]string, error) {
	if l.failed != nil {
		return nil, l.failed
	}
	var lines []string
	for i := 0; i < maxReadsPerPoll; i++ {
		n, err := l.Port.Read(l.readBuf)
		if n > 0 {
			lines = append(lines, l.framer.Feed(l.readBuf[:n])...)
		}
		if err != nil {
			if os.IsTimeout(err) {
				break
			}
			l.failed = &TransportError{Op: "read", Err: err}
			return lines, l.failed
		}
		if n == 0 {
			break
		}
	}
	for _, line := range lines {
		glog.V(2).Infof("RCV %q", line)
	}
	return lines, nil
}

// Discard drops buffered bytes in both directions.
func (l *Link) Discard() {
	l.out = l.out[:0]
	l.framer.Reset()
}

// Close closes the port.
func (l *Link) Close() error {
	l.ready = false
	return l.Port.Close()
}
