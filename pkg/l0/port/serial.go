package port

import (
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"
)

// DefaultBaudRate is the spectrometer's fixed line rate.
const DefaultBaudRate = 115200

// DefaultReadTimeout keeps reads short enough for a 20ms poll.
const DefaultReadTimeout = 2 * time.Millisecond

// SerialOpener opens local serial ports at 8N1 with DTR and RTS
// asserted.
type SerialOpener struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// Open implements Opener.
func (o *SerialOpener) Open(name string) (Port, error) {
	baud := o.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, &OpenError{Name: name, Err: err}
	}
	// the firmware gates its output on the modem lines.
	if err = p.SetDTR(true); err == nil {
		err = p.SetRTS(true)
	}
	if err != nil {
		glog.Warningf("%s: unable to assert modem lines: %v", name, err)
	}
	timeout := o.ReadTimeout
	if timeout == 0 {
		timeout = DefaultReadTimeout
	}
	if err = p.SetReadTimeout(timeout); err != nil {
		p.Close()
		return nil, &OpenError{Name: name, Err: err}
	}
	return p, nil
}

// SystemPorts lists serial ports present on the system.
func SystemPorts() ([]string, error) {
	return serial.GetPortsList()
}
