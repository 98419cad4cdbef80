// Package port opens device links and finds the spectrometer among
// candidate ports.
package port

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Port is an open link to a device.
// Read returns (0, nil) when nothing arrives within the read timeout.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
	ResetInputBuffer() error
}

// Opener opens a port by name.
type Opener interface {
	Open(name string) (Port, error)
}

// OpenerFunc is the func form of Opener.
type OpenerFunc func(name string) (Port, error)

// Open implements Opener.
func (f OpenerFunc) Open(name string) (Port, error) {
	return f(name)
}

var (
	// ErrOffline indicates no candidate answered as a spectrometer.
	ErrOffline = errors.New("spectrometer not found, operating offline")
	// errNoBanner is internal for a candidate which opened but didn't
	// identify itself.
	errNoBanner = errors.New("no banner")
)

// OpenError reports a candidate which could not be used.
type OpenError struct {
	Name string
	Err  error
}

// Error implements error.
func (e *OpenError) Error() string {
	return fmt.Sprintf("port %s: %v", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpenError) Unwrap() error {
	return e.Err
}

// Mux dispatches to an Opener by the scheme of the port name.
// Names without a scheme go to Default.
type Mux struct {
	Default Opener
	Schemes map[string]Opener
}

// DefaultMux opens local serial ports and websocket bridges.
func DefaultMux() *Mux {
	ws := &WebsocketOpener{}
	return &Mux{
		Default: &SerialOpener{BaudRate: DefaultBaudRate},
		Schemes: map[string]Opener{"ws": ws, "wss": ws},
	}
}

// Open implements Opener.
func (m *Mux) Open(name string) (Port, error) {
	if pos := strings.Index(name, "://"); pos > 0 {
		if o := m.Schemes[name[:pos]]; o != nil {
			return o.Open(name)
		}
		return nil, &OpenError{Name: name, Err: fmt.Errorf("unsupported scheme %q", name[:pos])}
	}
	if m.Default == nil {
		return nil, &OpenError{Name: name, Err: errors.New("no opener")}
	}
	return m.Default.Open(name)
}
