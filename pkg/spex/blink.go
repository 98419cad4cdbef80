package spex

import (
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/retrospex/pkg/framework"
	"github.com/robotalks/retrospex/pkg/l0/comm"
)

// Blinker cycles the front panel LED through the command queue.
// Each half cycle is a queued command whose reply arms a timer for
// the next one, so the cadence never outruns the link. The duration
// is looked up when the timer is armed, a state change shows on the
// next transition.
type Blinker struct {
	Submit    func(...*comm.Command) error
	Scheduler fx.Scheduler
	Duty      func() Duty

	running bool
	gen     int
	timer   fx.Timer
}

// Running indicates the cycle is active.
func (b *Blinker) Running() bool {
	return b.running
}

// Start begins the cycle with the LED on.
func (b *Blinker) Start() {
	if b.running {
		return
	}
	b.running = true
	b.gen++
	b.turn(true, b.gen)
}

// Stop ends the cycle. A command already queued still completes but
// arms nothing.
func (b *Blinker) Stop() {
	if !b.running {
		return
	}
	b.running = false
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Blinker) turn(on bool, gen int) {
	if !b.running || gen != b.gen {
		return
	}
	text := "L 0"
	if on {
		text = "L 1"
	}
	cmd := comm.Echo(text, func(string) {
		d := b.Duty()
		hold := d.Off
		if on {
			hold = d.On
		}
		b.after(hold, !on, gen)
	}).OnFailure(func(err error) {
		if err == comm.ErrClosed || comm.IsFatal(err) {
			return
		}
		// keep the indicator alive, resume with the LED on after the
		// off period.
		glog.Warningf("blink %q failed: %v", text, err)
		b.after(b.Duty().Off, true, gen)
	})
	if err := b.Submit(cmd); err != nil {
		glog.Warningf("blink stopped: %v", err)
		b.running = false
	}
}

func (b *Blinker) after(d time.Duration, on bool, gen int) {
	if !b.running || gen != b.gen {
		return
	}
	b.timer = b.Scheduler.AfterFunc(d, func() {
		b.timer = nil
		b.turn(on, gen)
	})
}
