// Package spex drives the RetroSPEX spectrometer: it owns the serial
// link and command queue, tracks the scanner state shown on the front
// panel LED and keeps the live readbacks.
//
// A Spectrometer is confined to the goroutine of its Scheduler
// (normally a framework.Loop). Other goroutines use Call or Exec.
package spex

import (
	"context"
	"errors"
	"strings"

	"github.com/golang/glog"

	fx "github.com/robotalks/retrospex/pkg/framework"
	"github.com/robotalks/retrospex/pkg/l0/comm"
	"github.com/robotalks/retrospex/pkg/l0/port"
)

// ErrOffline indicates no spectrometer is bound.
var ErrOffline = errors.New("spectrometer offline")

// Discoverer finds the spectrometer.
type Discoverer interface {
	Discover(ctx context.Context) (*port.Result, error)
}

// Spectrometer is the owning context of one instrument.
type Spectrometer struct {
	Config     *Config
	Settings   *Settings
	Scheduler  fx.Scheduler
	Discoverer Discoverer
	// Observer is attached to every queue created.
	Observer comm.Observer
	// OnFatal is called after the link failed and was released.
	OnFatal func(error)

	link      *comm.Link
	queue     *comm.Queue
	info      Info
	state     State
	prev      State
	blinker   Blinker
	telemetry Telemetry
	listeners []Listener
}

// New creates a Spectrometer. It stays offline until PowerUp or Attach.
func New(conf *Config, settings *Settings, sched fx.Scheduler) *Spectrometer {
	if conf == nil {
		conf = NewConfig()
	}
	if settings == nil {
		settings = FactorySettings()
	}
	s := &Spectrometer{
		Config:    conf,
		Settings:  settings,
		Scheduler: sched,
		info:      Info{Port: port.Offline},
	}
	s.blinker = Blinker{
		Submit:    s.Submit,
		Scheduler: sched,
		Duty:      func() Duty { return s.state.Duty() },
	}
	return s
}

// AddToLoop implements LoopAdder.
func (s *Spectrometer) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvSense, fx.ControlFunc(func(fx.ControlContext) error {
		s.Poll()
		return nil
	}))
}

// AddListener registers a listener.
func (s *Spectrometer) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Info returns the bound port and firmware.
func (s *Spectrometer) Info() Info {
	return s.info
}

// PortName returns the bound port, or OFFLINE.
func (s *Spectrometer) PortName() string {
	return s.info.Port
}

// Firmware returns the banner captured during discovery.
func (s *Spectrometer) Firmware() string {
	return s.info.Firmware
}

// Online indicates a spectrometer is bound.
func (s *Spectrometer) Online() bool {
	return s.info.Online
}

// State returns the scanner state.
func (s *Spectrometer) State() State {
	return s.state
}

// Telemetry returns a snapshot of the live data.
func (s *Spectrometer) Telemetry() Telemetry {
	return s.telemetry.clone()
}

// Blinking indicates the LED cycle is running.
func (s *Spectrometer) Blinking() bool {
	return s.blinker.Running()
}

// Busy indicates a command is waiting for its reply.
func (s *Spectrometer) Busy() bool {
	return s.queue != nil && s.queue.Busy()
}

// Pending returns the number of queued commands not yet sent.
func (s *Spectrometer) Pending() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.Pending()
}

// PowerUp discovers the spectrometer. Discovery blocks the caller,
// binding and initialization are posted to the Scheduler. Finding no
// device is not an error, the instrument stays offline.
func (s *Spectrometer) PowerUp(ctx context.Context) error {
	d := s.Discoverer
	if d == nil {
		d = s.Config.NewDiscoverer()
	}
	res, err := d.Discover(ctx)
	if err == port.ErrOffline {
		return nil
	}
	if err != nil {
		return err
	}
	link, err := res.Bind()
	if err != nil {
		res.Port.Close()
		return err
	}
	s.Scheduler.Post(func() {
		s.Attach(res.Name, res.Firmware, link)
		s.blinker.Start()
		if err := s.Init(); err != nil {
			glog.Errorf("init: %v", err)
		}
	})
	return nil
}

// Attach binds a ready link, replacing the current one.
func (s *Spectrometer) Attach(name, firmware string, link *comm.Link) {
	s.release()
	s.link = link
	s.queue = comm.NewQueue(link, s.Scheduler)
	if s.Config.CommandTimeout > 0 {
		s.queue.Timeout = s.Config.CommandTimeout
	}
	s.queue.Unsolicited = s.handleUnsolicited
	s.queue.OnFatal = s.fatal
	s.queue.Observer = s.Observer
	s.info = Info{Port: name, Firmware: firmware, Online: true}
	glog.Infof("bound %s: %s", name, firmware)
	s.emit(Event{Kind: EventConnected})
}

// PowerDown stops the LED cycle and scanning, zeroes the high voltage
// and waits for the supply to confirm before releasing the link.
func (s *Spectrometer) PowerDown(ctx context.Context) error {
	done := make(chan error, 1)
	err := s.Call(ctx, func() error {
		s.blinker.Stop()
		s.setState(Stopped)
		if !s.info.Online {
			done <- nil
			return nil
		}
		cmds := s.hvSetCommands("0000", "0000", nil)
		last := cmds[len(cmds)-1]
		last.Failed = func(err error) { done <- err }
		then := last.Then
		last.Then = func(reply string) {
			done <- nil
			then(reply)
		}
		return s.Submit(cmds...)
	})
	if err == nil {
		select {
		case err = <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err != nil {
		glog.Warningf("high voltage off not confirmed: %v", err)
	}
	closeErr := s.Call(ctx, func() error {
		s.release()
		return nil
	})
	if err == nil {
		err = closeErr
	}
	return err
}

// Submit queues commands.
func (s *Spectrometer) Submit(cmds ...*comm.Command) error {
	if s.queue == nil {
		return ErrOffline
	}
	return s.queue.Submit(cmds...)
}

// Call runs fn on the Scheduler and waits for its result.
func (s *Spectrometer) Call(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	s.Scheduler.Post(func() { errCh <- fn() })
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exec submits a command from any goroutine and waits for its reply.
func (s *Spectrometer) Exec(ctx context.Context, cmd *comm.Command) (string, error) {
	type result struct {
		reply string
		err   error
	}
	resCh := make(chan result, 1)
	then, failed := cmd.Then, cmd.Failed
	cmd.Then = func(reply string) {
		if then != nil {
			then(reply)
		}
		resCh <- result{reply: reply}
	}
	cmd.Failed = func(err error) {
		if failed != nil {
			failed(err)
		}
		resCh <- result{err: err}
	}
	if err := s.Call(ctx, func() error { return s.Submit(cmd) }); err != nil {
		return "", err
	}
	select {
	case r := <-resCh:
		return r.reply, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Poll reads the link and dispatches received lines.
func (s *Spectrometer) Poll() error {
	link, queue := s.link, s.queue
	if link == nil {
		return nil
	}
	lines, err := link.Poll()
	for _, line := range lines {
		queue.Dispatch(line)
	}
	if err == nil {
		err = link.Flush()
	}
	if err != nil {
		s.fatal(err)
	}
	return err
}

// StartScan moves from Stopped to Scanning.
func (s *Spectrometer) StartScan() error {
	if !s.info.Online {
		return ErrOffline
	}
	if s.state != Stopped {
		return &TransitionError{Op: "start scan", State: s.state}
	}
	s.setState(Scanning)
	return nil
}

// StopScan moves to Stopped from any state.
func (s *Spectrometer) StopScan() error {
	s.setState(Stopped)
	return nil
}

// ToggleScan starts a scan when stopped and stops it otherwise.
func (s *Spectrometer) ToggleScan() error {
	if s.state == Stopped {
		return s.StartScan()
	}
	return s.StopScan()
}

// Pause moves from Scanning to Paused.
func (s *Spectrometer) Pause() error {
	if s.state != Scanning {
		return &TransitionError{Op: "pause", State: s.state}
	}
	s.setState(Paused)
	return nil
}

// Resume moves from Paused to Scanning.
func (s *Spectrometer) Resume() error {
	if s.state != Paused {
		return &TransitionError{Op: "resume", State: s.state}
	}
	s.setState(Scanning)
	return nil
}

// StartBlinking starts the LED cycle.
func (s *Spectrometer) StartBlinking() error {
	if !s.info.Online {
		return ErrOffline
	}
	s.blinker.Start()
	return nil
}

// StopBlinking stops the LED cycle.
func (s *Spectrometer) StopBlinking() {
	s.blinker.Stop()
}

func (s *Spectrometer) setState(to State) {
	if to == s.state {
		return
	}
	from := s.state
	s.prev, s.state = from, to
	glog.Infof("scanner %s -> %s", from, to)
	s.emit(Event{Kind: EventStateChanged, From: from, To: to})
}

func (s *Spectrometer) handleUnsolicited(line string) {
	switch {
	case strings.HasPrefix(line, comm.ButtonPrefix):
		s.emit(Event{Kind: EventButton, Line: line})
		s.panelButton(strings.TrimSpace(line[len(comm.ButtonPrefix):]))
	case strings.HasPrefix(line, comm.AlertPrefix):
		glog.Warningf("alert %q", line)
		s.emit(Event{Kind: EventAlert, Line: line})
	}
}

func (s *Spectrometer) panelButton(report string) {
	switch report {
	case "1":
	case "0":
		glog.V(1).Info("panel button released")
		return
	default:
		glog.Warningf("unknown button report %q", report)
		return
	}
	if s.Config.Diagnostic {
		if s.state == Paused {
			s.setState(s.prev)
		} else {
			s.setState(Paused)
		}
		return
	}
	switch s.state {
	case Scanning:
		s.setState(Paused)
	case Paused:
		s.setState(Scanning)
	default:
		glog.V(1).Infof("panel button ignored while %s", s.state)
	}
}

func (s *Spectrometer) fatal(err error) {
	if s.link == nil {
		return
	}
	glog.Errorf("%s: %v", s.info.Port, err)
	s.release()
	s.emit(Event{Kind: EventFatal, Err: err})
	if s.OnFatal != nil {
		s.OnFatal(err)
	}
}

func (s *Spectrometer) release() {
	s.blinker.Stop()
	if s.queue != nil {
		s.queue.Close()
		s.queue = nil
	}
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			glog.Warningf("close %s: %v", s.info.Port, err)
		}
		s.link = nil
	}
	s.info.Online = false
}

func (s *Spectrometer) emit(e Event) {
	if s.Scheduler != nil {
		e.Time = s.Scheduler.Now()
	}
	e.Info = s.info
	for _, l := range s.listeners {
		l.HandleEvent(e)
	}
}
