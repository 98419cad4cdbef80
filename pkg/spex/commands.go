package spex

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/retrospex/pkg/l0/comm"
	"github.com/robotalks/retrospex/pkg/l0/volts"
)

// Monochromator selects one of the two grating drives.
type Monochromator int

// Monochromators.
const (
	Excitation Monochromator = iota
	Emission
)

// String implements fmt.Stringer.
func (m Monochromator) String() string {
	if m == Emission {
		return "emission"
	}
	return "excitation"
}

func (m Monochromator) letter() string {
	if m == Emission {
		return "M"
	}
	return "X"
}

// Limits of the firmware arguments.
const (
	MaxSteps   = 0x7FFFFFFF
	MaxCounter = 7
	// MoveTimeout is the reply timeout of a motor move.
	MoveTimeout = 10 * time.Second
)

// SyncCommand sends a command the firmware always rejects, which
// flushes its receive buffer.
func SyncCommand() *comm.Command {
	return &comm.Command{Text: "*", Expect: comm.ErrorReply()}
}

// LEDCommand turns the front panel LED on or off.
func LEDCommand(on bool) *comm.Command {
	if on {
		return comm.Echo("L 1", nil)
	}
	return comm.Echo("L 0", nil)
}

// IntegrationTimeCommand sets the counter gate time, in milliseconds.
func IntegrationTimeCommand(d time.Duration) *comm.Command {
	if d < 0 {
		d = -d
	}
	ms := (d + time.Millisecond/2) / time.Millisecond
	return comm.Echo(fmt.Sprintf("T %08X", int64(ms)), nil)
}

// EnablePMTCommand selects the photon counting channels.
func EnablePMTCommand(mask int) (*comm.Command, error) {
	if mask < 0 || mask > MaxCounter {
		return nil, fmt.Errorf("PMT selection %d out of range", mask)
	}
	return comm.Echo(fmt.Sprintf("E %d", mask), nil), nil
}

// CounterCommand reads a photon counter. The reply carries the 48 bit
// count in hex.
func CounterCommand(n int) (*comm.Command, error) {
	if n < 0 || n > MaxCounter {
		return nil, fmt.Errorf("counter %d out of range", n)
	}
	text := fmt.Sprintf("P %d", n)
	return comm.Readback(text, text+" ", nil), nil
}

// MoveCommand moves a grating by a signed number of steps.
func MoveCommand(m Monochromator, steps int64) (*comm.Command, error) {
	sign := "+"
	if steps < 0 {
		sign, steps = "-", -steps
	}
	if steps > MaxSteps {
		return nil, fmt.Errorf("%s move of %d steps out of range", m, steps)
	}
	cmd := comm.Echo(fmt.Sprintf("%s %s%08X", m.letter(), sign, steps), nil)
	cmd.Timeout = MoveTimeout
	return cmd, nil
}

// WarmInitCommand reinitializes the firmware without a reset.
func WarmInitCommand() *comm.Command {
	return comm.Echo("i", nil)
}

// ResetFPGACommand reloads the counter FPGA.
func ResetFPGACommand() *comm.Command {
	return comm.Echo("f", nil)
}

// ButtonStateCommand reads the panel button, replied as "B n".
func ButtonStateCommand() *comm.Command {
	return comm.Readback("b", "B ", nil)
}

// PMTControlCommand reads the PMT control bits, replied as "p FF".
func PMTControlCommand() *comm.Command {
	return comm.Readback("p", "p ", nil)
}

// StatusCommand reads the status register, replied as "s AA DD".
func StatusCommand() *comm.Command {
	return comm.Readback("s", "s ", nil)
}

// ReadRegisterCommand reads an FPGA register.
func ReadRegisterCommand(addr byte) *comm.Command {
	text := fmt.Sprintf("r %02X", addr)
	return comm.Readback(text, text+" ", nil)
}

// WriteRegisterCommand writes an FPGA register.
func WriteRegisterCommand(addr, data byte) *comm.Command {
	return comm.Echo(fmt.Sprintf("w %02X %02X", addr, data), nil)
}

// VerboseCommand switches firmware chatter.
func VerboseCommand(on bool) *comm.Command {
	if on {
		return comm.Echo("v 1", nil)
	}
	return comm.Echo("v 0", nil)
}

// RawCommand sends text as is. An empty expect waits for the echo, a
// trailing "*" matches a prefix.
func RawCommand(text, expect string) *comm.Command {
	switch {
	case expect == "":
		return comm.Echo(text, nil)
	case expect == comm.ErrorToken:
		return &comm.Command{Text: text, Expect: comm.ErrorReply()}
	case strings.HasSuffix(expect, "*"):
		return comm.Readback(text, strings.TrimSuffix(expect, "*"), nil)
	}
	return &comm.Command{Text: text, Expect: comm.Exact(expect)}
}

// Init flushes the firmware buffer and turns the high voltage off.
func (s *Spectrometer) Init() error {
	if err := s.Sync(); err != nil {
		return err
	}
	return s.HVOff(nil)
}

// Sync flushes the firmware receive buffer.
func (s *Spectrometer) Sync() error {
	return s.Submit(SyncCommand())
}

// WarmInit reinitializes the firmware.
func (s *Spectrometer) WarmInit() error {
	return s.Submit(WarmInitCommand())
}

// ResetFPGA reloads the counter FPGA.
func (s *Spectrometer) ResetFPGA() error {
	return s.Submit(ResetFPGACommand())
}

// ButtonState queries the panel button. The reply is reported as a
// button event.
func (s *Spectrometer) ButtonState() error {
	cmd := ButtonStateCommand()
	cmd.Then = func(reply string) {
		s.emit(Event{Kind: EventButton, Line: reply})
	}
	return s.Submit(cmd)
}

// PMTControl reads the PMT control bits.
func (s *Spectrometer) PMTControl(then func(reply string)) error {
	cmd := PMTControlCommand()
	cmd.Then = then
	return s.Submit(cmd)
}

// Raw sends a console command.
func (s *Spectrometer) Raw(text, expect string, then func(reply string)) error {
	cmd := RawCommand(text, expect)
	cmd.Then = then
	return s.Submit(cmd)
}

// SetLED turns the LED on or off.
func (s *Spectrometer) SetLED(on bool) error {
	return s.Submit(LEDCommand(on))
}

// HVOn applies the site high voltage settings to the supplies and
// reads back the result. then receives the first failure of the
// sequence instead, if any.
func (s *Spectrometer) HVOn(then func(Telemetry, error)) error {
	ref, err := volts.Encode(s.Settings.REFhv)
	if err != nil {
		return fmt.Errorf("REFhv: %v", err)
	}
	em, err := volts.Encode(s.Settings.EMhv)
	if err != nil {
		return fmt.Errorf("EMhv: %v", err)
	}
	return s.Submit(s.hvSetCommands(ref, em, then)...)
}

// HVOff zeroes both supplies and reads back the result.
func (s *Spectrometer) HVOff(then func(Telemetry, error)) error {
	return s.Submit(s.hvSetCommands("0000", "0000", then)...)
}

// ReadHV converts and reads back both supply voltages.
func (s *Spectrometer) ReadHV(then func(Telemetry, error)) error {
	return s.Submit(s.hvConvertCommand(then))
}

// SetIntegrationTime sets the counter gate time.
func (s *Spectrometer) SetIntegrationTime(d time.Duration) error {
	return s.Submit(IntegrationTimeCommand(d))
}

// ApplyIntegrationTime sets the gate time from TMinc.
func (s *Spectrometer) ApplyIntegrationTime() error {
	d, err := s.Settings.IntegrationTime()
	if err != nil {
		return err
	}
	return s.SetIntegrationTime(d)
}

// EnablePMT selects the photon counting channels.
func (s *Spectrometer) EnablePMT(mask int) error {
	cmd, err := EnablePMTCommand(mask)
	if err != nil {
		return err
	}
	return s.Submit(cmd)
}

// ReadCounter reads photon counter n into the telemetry.
func (s *Spectrometer) ReadCounter(n int, then func(uint64, error)) error {
	cmd, err := CounterCommand(n)
	if err != nil {
		return err
	}
	if then == nil {
		then = func(uint64, error) {}
	}
	cmd.Then = func(reply string) {
		count, err := parseCounterReply(reply)
		if err != nil {
			glog.Warning(err)
			then(0, err)
			return
		}
		if s.telemetry.Counters == nil {
			s.telemetry.Counters = make(map[int]uint64)
		}
		s.telemetry.Counters[n] = count
		s.telemetryUpdated()
		then(count, nil)
	}
	cmd.Failed = func(err error) { then(0, err) }
	return s.Submit(cmd)
}

// parseCounterReply decodes "P <n> <count>".
func parseCounterReply(reply string) (uint64, error) {
	fields := strings.Fields(reply)
	if len(fields) < 3 {
		return 0, fmt.Errorf("counter reply %q", reply)
	}
	count, err := strconv.ParseUint(fields[2], 16, 48)
	if err != nil {
		return 0, fmt.Errorf("counter reply %q: %v", reply, err)
	}
	return count, nil
}

// Move turns a grating by nm using the site steps/nm calibration.
func (s *Spectrometer) Move(m Monochromator, nm float64) error {
	perNm, err := s.Settings.StepsPerNm(m)
	if err != nil {
		return err
	}
	steps := int64(math.Round(math.Abs(nm) * perNm))
	if nm < 0 {
		steps = -steps
	}
	cmd, err := MoveCommand(m, steps)
	if err != nil {
		return err
	}
	return s.Submit(cmd)
}

// MoveExcitation turns the excitation grating by nm.
func (s *Spectrometer) MoveExcitation(nm float64) error {
	return s.Move(Excitation, nm)
}

// MoveEmission turns the emission grating by nm.
func (s *Spectrometer) MoveEmission(nm float64) error {
	return s.Move(Emission, nm)
}

// hvSetCommands loads the reference and emission supply DACs. Once the
// emission supply confirms, a conversion is queued so the readback
// reflects the new values.
func (s *Spectrometer) hvSetCommands(ref, em string, then func(Telemetry, error)) []*comm.Command {
	report := reportOnce(then)
	fail := func(err error) { report(Telemetry{}, err) }
	return []*comm.Command{
		comm.Echo("D 0 "+ref, nil).OnFailure(fail),
		comm.Echo("D 1 "+em, func(string) {
			if err := s.Submit(s.hvConvertCommand(report)); err != nil {
				glog.Warningf("HV readback: %v", err)
				fail(err)
			}
		}).OnFailure(fail),
	}
}

// hvConvertCommand starts an ADC conversion, confirmed by "! 01",
// then reads both channels.
func (s *Spectrometer) hvConvertCommand(then func(Telemetry, error)) *comm.Command {
	report := reportOnce(then)
	fail := func(err error) { report(Telemetry{}, err) }
	readback := comm.Readback("A", "A ", func(reply string) {
		if err := s.updateHV(reply); err != nil {
			glog.Warning(err)
			fail(err)
			return
		}
		report(s.Telemetry(), nil)
	}).OnFailure(fail)
	return &comm.Command{
		Text:   "H",
		Expect: comm.Exact("! 01"),
		Then: func(string) {
			if err := s.Submit(readback); err != nil {
				glog.Warningf("HV readback: %v", err)
				fail(err)
			}
		},
		Failed: fail,
	}
}

// reportOnce calls then for the first outcome only. A failed DAC load
// does not stop the rest of the sequence.
func reportOnce(then func(Telemetry, error)) func(Telemetry, error) {
	var reported bool
	return func(tm Telemetry, err error) {
		if reported || then == nil {
			return
		}
		reported = true
		then(tm, err)
	}
}

// updateHV decodes "A <em> <ref>".
func (s *Spectrometer) updateHV(reply string) error {
	fields := strings.Fields(reply)
	if len(fields) < 3 {
		return fmt.Errorf("HV reply %q", reply)
	}
	em, err := volts.Decode(fields[1])
	if err != nil {
		return fmt.Errorf("HV reply %q: %v", reply, err)
	}
	ref, err := volts.Decode(fields[2])
	if err != nil {
		return fmt.Errorf("HV reply %q: %v", reply, err)
	}
	s.telemetry.EMVolts, s.telemetry.REFVolts = em, ref
	s.telemetryUpdated()
	return nil
}

func (s *Spectrometer) telemetryUpdated() {
	if s.Scheduler != nil {
		s.telemetry.UpdatedAt = s.Scheduler.Now()
	}
	s.emit(Event{Kind: EventTelemetry, Telemetry: s.telemetry.clone()})
}
