package port

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptPort returns scripted input one byte at a time and records
// writes. After the script it behaves like a silent device.
type scriptPort struct {
	in      []byte
	out     bytes.Buffer
	resets  int
	closed  bool
	reads   int
	readErr error
}

func (p *scriptPort) Read(b []byte) (int, error) {
	p.reads++
	if len(p.in) == 0 {
		if p.readErr != nil {
			return 0, p.readErr
		}
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	// interleave empty reads like a port with a short timeout.
	if p.reads%2 == 0 {
		return 0, nil
	}
	b[0] = p.in[0]
	p.in = p.in[1:]
	return 1, nil
}

func (p *scriptPort) Write(b []byte) (int, error)        { return p.out.Write(b) }
func (p *scriptPort) Close() error                       { p.closed = true; return nil }
func (p *scriptPort) SetReadTimeout(time.Duration) error { return nil }
func (p *scriptPort) ResetInputBuffer() error            { p.resets++; return nil }

type portTestEnv struct {
	t      *testing.T
	ports  map[string]*scriptPort
	opened []string
	disc   *Discoverer
}

func newPortTestEnv(t *testing.T, candidates ...string) *portTestEnv {
	env := &portTestEnv{t: t, ports: make(map[string]*scriptPort)}
	env.disc = NewDiscoverer(candidates)
	env.disc.Deadline = 50 * time.Millisecond
	env.disc.SystemPorts = nil
	env.disc.Opener = OpenerFunc(func(name string) (Port, error) {
		env.opened = append(env.opened, name)
		if p := env.ports[name]; p != nil {
			return p, nil
		}
		return nil, &OpenError{Name: name, Err: errors.New("no such device")}
	})
	return env
}

func (e *portTestEnv) device(name, script string) *scriptPort {
	p := &scriptPort{in: []byte(script)}
	e.ports[name] = p
	return p
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name  string
		logic func(*portTestEnv)
	}{
		{
			name: "banner after noise",
			logic: func(env *portTestEnv) {
				p := env.device("/dev/ttyACM1", "\x00garbage\r\n\xd2etroSPEX v3.6 2019\r\n")
				env.disc.Candidates = []string{"/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyACM2", Offline}
				res, err := env.disc.Discover(context.Background())
				require.NoError(env.t, err)
				require.Equal(env.t, "/dev/ttyACM1", res.Name)
				require.Equal(env.t, "RetroSPEX v3.6 2019", res.Firmware)
				require.Equal(env.t, []string{"/dev/ttyACM0", "/dev/ttyACM1"}, env.opened)
				require.False(env.t, p.closed)
				require.Equal(env.t, 0, p.out.Len())

				link, err := res.Bind()
				require.NoError(env.t, err)
				require.True(env.t, link.Ready())
				require.Equal(env.t, "\n", p.out.String())
				require.Equal(env.t, 1, p.resets)
			},
		},
		{
			name: "silent and wrong devices end offline",
			logic: func(env *portTestEnv) {
				silent := env.device("A", "")
				chatty := env.device("B", "hello\nworld\n")
				env.disc.Candidates = []string{"A", "B", "C", Offline, "D"}
				env.ports["D"] = &scriptPort{in: []byte("RetroSPEX\n")}
				_, err := env.disc.Discover(context.Background())
				require.Equal(env.t, ErrOffline, err)
				require.Equal(env.t, []string{"A", "B", "C"}, env.opened)
				require.True(env.t, silent.closed)
				require.True(env.t, chatty.closed)
				require.Equal(env.t, 0, silent.out.Len())
				require.Equal(env.t, 0, chatty.out.Len())
			},
		},
		{
			name: "trials exhausted",
			logic: func(env *portTestEnv) {
				var script bytes.Buffer
				// the trial budget counts characters, not lines.
				for i := 0; i < DefaultTrials*DefaultTrialChars; i++ {
					script.WriteString("x\n")
				}
				script.WriteString("RetroSPEX\n")
				env.device("A", script.String())
				env.disc.Deadline = time.Second
				_, err := env.disc.Try(context.Background(), "A")
				require.Error(env.t, err)
				require.True(env.t, errors.Is(err, errNoBanner))
			},
		},
		{
			name: "long line does not match",
			logic: func(env *portTestEnv) {
				env.device("A", "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxRetroSPEX\n")
				_, err := env.disc.Try(context.Background(), "A")
				require.Error(env.t, err)
			},
		},
		{
			name: "read error",
			logic: func(env *portTestEnv) {
				p := env.device("A", "Retro")
				p.readErr = io.ErrUnexpectedEOF
				_, err := env.disc.Try(context.Background(), "A")
				require.True(env.t, errors.Is(err, io.ErrUnexpectedEOF))
				require.True(env.t, p.closed)
			},
		},
		{
			name: "cancelled",
			logic: func(env *portTestEnv) {
				env.device("A", "")
				env.disc.Candidates = []string{"A"}
				env.disc.Deadline = time.Hour
				ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
				defer cancel()
				_, err := env.disc.Discover(ctx)
				require.Equal(env.t, context.DeadlineExceeded, err)
			},
		},
		{
			name: "auto expands system ports",
			logic: func(env *portTestEnv) {
				env.device("/dev/cu.usbmodem1", "RetroSPEX\n")
				env.disc.Candidates = []string{Auto, Offline}
				env.disc.SystemPorts = func() ([]string, error) {
					return []string{"/dev/cu.usbmodem1"}, nil
				}
				res, err := env.disc.Discover(context.Background())
				require.NoError(env.t, err)
				require.Equal(env.t, "RetroSPEX", res.Firmware)
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.logic(newPortTestEnv(t))
		})
	}
}

func TestCandidates(t *testing.T) {
	linux := candidatesFor("linux")
	require.Equal(t, []string{"/dev/ttyACM0", "/dev/ttyACM1", "/dev/ttyACM2", Offline}, linux)
	win := candidatesFor("windows")
	require.Len(t, win, 100)
	require.Equal(t, "COM99", win[0])
	require.Equal(t, "COM1", win[98])
	require.Equal(t, Offline, win[99])
	require.Equal(t, []string{"/dev/cu.usbmodem*", Offline}, candidatesFor("darwin"))
	require.Equal(t, []string{Auto, Offline}, candidatesFor("freebsd"))

	require.Equal(t, []string{"/dev/ttyUSB0", "ws://bridge/tty"}, ParseCandidates(" /dev/ttyUSB0, ws://bridge/tty ,"))
	require.Equal(t, DefaultCandidates(), ParseCandidates(""))

	require.Equal(t, []string{"a", "b"}, Expand([]string{"a", "b", "offline", "c"}, nil))
	require.Empty(t, Expand([]string{Auto}, func() ([]string, error) { return nil, errors.New("denied") }))
}

func TestExpandGlob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"cu.usbmodem2", "cu.usbmodem1", "cu.Bluetooth"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	pattern := filepath.Join(dir, "cu.usbmodem*")
	require.Equal(t, []string{
		filepath.Join(dir, "cu.usbmodem1"),
		filepath.Join(dir, "cu.usbmodem2"),
		"ws://bridge/*",
	}, Expand([]string{pattern, "ws://bridge/*", Offline, "x"}, nil))
	require.Empty(t, Expand([]string{filepath.Join(dir, "tty.none*")}, nil))
}

func TestMux(t *testing.T) {
	var got []string
	rec := func(tag string) Opener {
		return OpenerFunc(func(name string) (Port, error) {
			got = append(got, tag+":"+name)
			return &scriptPort{}, nil
		})
	}
	m := &Mux{Default: rec("serial"), Schemes: map[string]Opener{"ws": rec("ws")}}
	_, err := m.Open("/dev/ttyACM0")
	require.NoError(t, err)
	_, err = m.Open("ws://host/tty")
	require.NoError(t, err)
	_, err = m.Open("tcp://host:23")
	require.Error(t, err)
	require.Equal(t, []string{"serial:/dev/ttyACM0", "ws:ws://host/tty"}, got)
}

type pipeConn struct {
	io.Reader
	io.Writer
	closer func() error
}

func (c *pipeConn) Close() error { return c.closer() }

func TestStreamPort(t *testing.T) {
	r, w := io.Pipe()
	var out bytes.Buffer
	p := NewStreamPort(&pipeConn{Reader: r, Writer: &out, closer: r.Close}, 5*time.Millisecond)

	buf := make([]byte, 4)
	n, err := p.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	go w.Write([]byte("L 1\n# 1\n"))
	var got []byte
	for deadline := time.Now().Add(time.Second); len(got) < 8 && time.Now().Before(deadline); {
		n, err = p.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, "L 1\n# 1\n", string(got))

	_, err = p.Write([]byte("L 0\n"))
	require.NoError(t, err)
	require.Equal(t, "L 0\n", out.String())

	w.CloseWithError(io.ErrClosedPipe)
	for deadline := time.Now().Add(time.Second); err == nil && time.Now().Before(deadline); {
		_, err = p.Read(buf)
	}
	require.Equal(t, io.ErrClosedPipe, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

// chunkReader yields one chunk per Read, then its error.
type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(b []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.err
	}
	n := copy(b, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestStreamPortDrainsBeforeError(t *testing.T) {
	conn := &pipeConn{
		Reader: &chunkReader{chunks: []string{"A 0123", " 0456\n", "# 1\n", "! 02\n"}, err: io.EOF},
		Writer: io.Discard,
		closer: func() error { return nil },
	}
	p := NewStreamPort(conn, 50*time.Millisecond)
	// let the pump queue every chunk and its error.
	time.Sleep(20 * time.Millisecond)

	buf := make([]byte, 3)
	var got []byte
	var err error
	for deadline := time.Now().Add(time.Second); err == nil && time.Now().Before(deadline); {
		var n int
		n, err = p.Read(buf)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, io.EOF, err)
	require.Equal(t, "A 0123 0456\n# 1\n! 02\n", string(got))

	_, err = p.Read(buf)
	require.Equal(t, io.EOF, err)
	require.NoError(t, p.Close())
}

func TestStreamPortBufferedAfterStoredError(t *testing.T) {
	p := &StreamPort{
		timeout: time.Hour,
		dataCh:  make(chan []byte, 16),
		errCh:   make(chan error, 1),
		done:    make(chan struct{}),
		pending: []byte("L 1\n"),
		err:     io.ErrUnexpectedEOF,
	}
	p.dataCh <- []byte("# 1\n")
	p.dataCh <- []byte("! 02\n")

	buf := make([]byte, 64)
	var got []byte
	for i := 0; i < 3; i++ {
		n, err := p.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, "L 1\n# 1\n! 02\n", string(got))
	n, err := p.Read(buf)
	require.Equal(t, 0, n)
	require.Equal(t, io.ErrUnexpectedEOF, err)
}
