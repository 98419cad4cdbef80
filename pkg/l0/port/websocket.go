package port

import (
	"io"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// WebsocketOpener dials a serial-over-websocket bridge, e.g.
// ws://lab-pi:8080/tty/ACM0. Each binary or text frame carries raw
// serial bytes.
type WebsocketOpener struct {
	Origin      string
	ReadTimeout time.Duration
}

// Open implements Opener.
func (o *WebsocketOpener) Open(name string) (Port, error) {
	origin := o.Origin
	if origin == "" {
		u, err := url.Parse(name)
		if err != nil {
			return nil, &OpenError{Name: name, Err: err}
		}
		origin = "http://" + u.Host
	}
	conn, err := websocket.Dial(name, "", origin)
	if err != nil {
		return nil, &OpenError{Name: name, Err: err}
	}
	timeout := o.ReadTimeout
	if timeout == 0 {
		timeout = DefaultReadTimeout
	}
	return NewStreamPort(conn, timeout), nil
}

// StreamPort adapts a blocking stream to Port. A goroutine pumps
// reads into a channel so Read can give up after the read timeout.
type StreamPort struct {
	conn    io.ReadWriteCloser
	timeout time.Duration
	dataCh  chan []byte
	errCh   chan error
	done    chan struct{}
	pending []byte
	err     error
	lock    sync.Mutex
	once    sync.Once
}

// NewStreamPort starts pumping conn.
func NewStreamPort(conn io.ReadWriteCloser, timeout time.Duration) *StreamPort {
	p := &StreamPort{
		conn:    conn,
		timeout: timeout,
		dataCh:  make(chan []byte, 16),
		errCh:   make(chan error, 1),
		done:    make(chan struct{}),
	}
	go p.pump()
	return p
}

func (p *StreamPort) pump() {
	for {
		buf := make([]byte, 512)
		n, err := p.conn.Read(buf)
		if n > 0 {
			select {
			case p.dataCh <- buf[:n]:
			case <-p.done:
				return
			}
		}
		if err != nil {
			p.errCh <- err
			return
		}
	}
}

// Read implements Port. Data pumped before a stream error is delivered
// before the error.
func (p *StreamPort) Read(b []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.pending) == 0 {
		select {
		case data := <-p.dataCh:
			p.pending = data
		default:
			if p.err != nil {
				return 0, p.err
			}
			timer := time.NewTimer(p.timeout)
			defer timer.Stop()
			select {
			case data := <-p.dataCh:
				p.pending = data
			case err := <-p.errCh:
				// the pump queues all data before its error.
				p.err = err
				select {
				case data := <-p.dataCh:
					p.pending = data
				default:
					return 0, err
				}
			case <-timer.C:
				return 0, nil
			}
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Write implements Port.
func (p *StreamPort) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

// Close implements Port.
func (p *StreamPort) Close() (err error) {
	p.once.Do(func() {
		close(p.done)
		err = p.conn.Close()
	})
	return
}

// SetReadTimeout implements Port.
func (p *StreamPort) SetReadTimeout(d time.Duration) error {
	p.lock.Lock()
	p.timeout = d
	p.lock.Unlock()
	return nil
}

// ResetInputBuffer implements Port.
func (p *StreamPort) ResetInputBuffer() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.pending = nil
	for {
		select {
		case <-p.dataCh:
		default:
			return nil
		}
	}
}
