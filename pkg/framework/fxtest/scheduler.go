// Package fxtest provides a manually driven Scheduler for tests.
package fxtest

import (
	"sort"
	"sync"
	"time"

	fx "github.com/robotalks/retrospex/pkg/framework"
)

// Scheduler is a fx.Scheduler whose clock only moves on Advance.
// Posted tasks and due timers run inside Advance and Drain on the
// calling goroutine.
type Scheduler struct {
	now    time.Time
	seq    uint64
	timers []*timer
	tasks  []func()
	lock   sync.Mutex
}

type timer struct {
	s       *Scheduler
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

// NewScheduler creates a Scheduler starting at an arbitrary fixed time.
func NewScheduler() *Scheduler {
	return &Scheduler{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Stop implements fx.Timer.
func (t *timer) Stop() bool {
	t.s.lock.Lock()
	defer t.s.lock.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Now implements fx.Scheduler.
func (s *Scheduler) Now() time.Time {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.now
}

// AfterFunc implements fx.Scheduler.
func (s *Scheduler) AfterFunc(d time.Duration, fn func()) fx.Timer {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.seq++
	t := &timer{s: s, at: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Post implements fx.Scheduler.
func (s *Scheduler) Post(fn func()) {
	s.lock.Lock()
	s.tasks = append(s.tasks, fn)
	s.lock.Unlock()
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Drain runs posted tasks, including tasks posted while draining.
func (s *Scheduler) Drain() {
	for {
		s.lock.Lock()
		tasks := s.tasks
		s.tasks = nil
		s.lock.Unlock()
		if len(tasks) == 0 {
			return
		}
		for _, fn := range tasks {
			fn()
		}
	}
}

// Advance moves the clock forward by d, firing due timers in deadline
// order. The clock is set to each timer's deadline when it fires so
// timers armed by callbacks are relative to that instant.
func (s *Scheduler) Advance(d time.Duration) {
	s.lock.Lock()
	end := s.now.Add(d)
	s.lock.Unlock()
	for {
		s.Drain()
		t := s.nextDue(end)
		if t == nil {
			break
		}
		t.fn()
	}
	s.lock.Lock()
	s.now = end
	s.lock.Unlock()
	s.Drain()
}

func (s *Scheduler) nextDue(end time.Time) *timer {
	s.lock.Lock()
	defer s.lock.Unlock()
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	s.timers = live
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].at.Equal(live[j].at) {
			return live[i].seq < live[j].seq
		}
		return live[i].at.Before(live[j].at)
	})
	t := live[0]
	if t.at.After(end) {
		return nil
	}
	t.fired = true
	if t.at.After(s.now) {
		s.now = t.at
	}
	return t
}
