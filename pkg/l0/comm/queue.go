package comm

import (
	"container/list"
	"strings"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/retrospex/pkg/framework"
)

// ErrorToken is the reply sent by the firmware for a garbled command.
const ErrorToken = "e"

// Unsolicited line prefixes. They are never replies to a command.
const (
	ButtonPrefix = "# "
	AlertPrefix  = "! "
)

// MatchKind selects how a reply is matched.
type MatchKind int

// Match kinds.
const (
	MatchExact MatchKind = iota
	MatchPrefix
	MatchErrorToken
)

// Expectation describes the reply completing a command.
type Expectation struct {
	Kind MatchKind
	Text string
}

// Exact expects the reply to equal text.
func Exact(text string) Expectation {
	return Expectation{Kind: MatchExact, Text: text}
}

// Prefix expects a readback starting with prefix.
func Prefix(prefix string) Expectation {
	return Expectation{Kind: MatchPrefix, Text: prefix}
}

// ErrorReply expects the error token. It is used to flush the firmware
// receive buffer with a command known to be rejected.
func ErrorReply() Expectation {
	return Expectation{Kind: MatchErrorToken, Text: ErrorToken}
}

// String implements fmt.Stringer.
func (e Expectation) String() string {
	switch e.Kind {
	case MatchPrefix:
		return e.Text + "*"
	default:
		return e.Text
	}
}

// Command is a queued command and the continuation run on its reply.
// A Command is consumed once and must not be submitted again.
type Command struct {
	Text   string
	Expect Expectation
	// Then is called with the matched reply.
	Then func(reply string)
	// Failed is called when the command is dropped, times out or
	// is discarded.
	Failed func(err error)
	// Timeout overrides Queue.Timeout when set.
	Timeout time.Duration
}

// Echo creates a command completed by its own echo.
func Echo(text string, then func(string)) *Command {
	return &Command{Text: text, Expect: Exact(text), Then: then}
}

// Readback creates a command completed by a reply starting with prefix.
func Readback(text, prefix string, then func(string)) *Command {
	return &Command{Text: text, Expect: Prefix(prefix), Then: then}
}

// OnFailure sets Failed and returns the command.
func (c *Command) OnFailure(fn func(error)) *Command {
	c.Failed = fn
	return c
}

func (c *Command) done(reply string) {
	if c.Then != nil {
		c.Then(reply)
	}
}

func (c *Command) fail(err error) {
	if c.Failed != nil {
		c.Failed(err)
	}
}

// Sender transmits one command line.
type Sender interface {
	Send(text string) error
}

// Observer receives queue activity, mostly for metrics.
type Observer interface {
	Sent(cmd *Command, retry bool)
	Completed(cmd *Command, err error)
	Unsolicited(line string)
	Unrecognized(line string)
}

// DefaultTimeout is the default time to wait for a reply.
const DefaultTimeout = 2 * time.Second

// Queue sends commands one at a time and matches replies.
type Queue struct {
	Sender    Sender
	Scheduler fx.Scheduler
	Timeout   time.Duration
	// Unsolicited receives button and alert lines.
	Unsolicited func(line string)
	// OnFatal is called once when the link fails.
	OnFatal  func(error)
	Observer Observer

	pending  list.List
	inflight *Command
	retried  bool
	gen      uint64
	timer    fx.Timer
	closed   bool
}

// NewQueue creates a Queue.
func NewQueue(sender Sender, scheduler fx.Scheduler) *Queue {
	return &Queue{
		Sender:    sender,
		Scheduler: scheduler,
		Timeout:   DefaultTimeout,
	}
}

// Busy indicates a command is waiting for its reply.
func (q *Queue) Busy() bool {
	return q.inflight != nil
}

// InFlight returns the command waiting for its reply.
func (q *Queue) InFlight() *Command {
	return q.inflight
}

// Pending returns the number of commands not yet sent.
func (q *Queue) Pending() int {
	return q.pending.Len()
}

// Closed indicates the queue no longer accepts commands.
func (q *Queue) Closed() bool {
	return q.closed
}

// Submit appends commands in order and sends the first one if the
// queue is idle.
func (q *Queue) Submit(cmds ...*Command) error {
	if q.closed {
		return ErrClosed
	}
	for _, cmd := range cmds {
		q.pending.PushBack(cmd)
	}
	return q.advance()
}

// Dispatch processes one received line.
func (q *Queue) Dispatch(line string) {
	if q.closed {
		return
	}
	line = strings.TrimSpace(line)
	cmd := q.inflight
	switch {
	case line == ErrorToken:
		if cmd == nil {
			q.unrecognized(line)
			return
		}
		if cmd.Expect.Kind == MatchErrorToken {
			q.complete(cmd, line)
			return
		}
		if !q.retried {
			q.retried = true
			glog.Warningf("command %q rejected, retrying", cmd.Text)
			q.transmit(cmd, true)
			return
		}
		glog.Warningf("command %q rejected again, dropped", cmd.Text)
		q.finish(cmd, ErrDropped)
	case cmd != nil && cmd.Expect.Kind == MatchExact && line == cmd.Expect.Text:
		q.complete(cmd, line)
	case cmd != nil && cmd.Expect.Kind == MatchPrefix && strings.HasPrefix(line, cmd.Expect.Text):
		q.complete(cmd, line)
	case strings.HasPrefix(line, ButtonPrefix), strings.HasPrefix(line, AlertPrefix):
		if q.Observer != nil {
			q.Observer.Unsolicited(line)
		}
		if q.Unsolicited != nil {
			q.Unsolicited(line)
		}
	default:
		q.unrecognized(line)
		if cmd != nil {
			q.finish(cmd, ErrUnrecognized)
		}
	}
}

// Close discards all commands. Pending and in-flight commands fail
// with ErrClosed.
func (q *Queue) Close() {
	q.shutdown(ErrClosed)
}

func (q *Queue) unrecognized(line string) {
	glog.Warningf("unrecognized line %q", line)
	if q.Observer != nil {
		q.Observer.Unrecognized(line)
	}
}

func (q *Queue) complete(cmd *Command, reply string) {
	q.stopTimer()
	if q.Observer != nil {
		q.Observer.Completed(cmd, nil)
	}
	cmd.done(reply)
	q.release(cmd)
}

func (q *Queue) finish(cmd *Command, err error) {
	q.stopTimer()
	if q.Observer != nil {
		q.Observer.Completed(cmd, err)
	}
	cmd.fail(err)
	q.release(cmd)
}

func (q *Queue) release(cmd *Command) {
	if q.inflight != cmd {
		return
	}
	q.inflight = nil
	// a send failure is reported through OnFatal.
	q.advance()
}

func (q *Queue) advance() error {
	for q.inflight == nil && !q.closed {
		elem := q.pending.Front()
		if elem == nil {
			break
		}
		cmd := q.pending.Remove(elem).(*Command)
		q.retried = false
		if err := q.transmit(cmd, false); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) transmit(cmd *Command, retry bool) error {
	q.stopTimer()
	q.inflight = cmd
	q.gen++
	if q.Observer != nil {
		q.Observer.Sent(cmd, retry)
	}
	if err := q.Sender.Send(cmd.Text); err != nil {
		if !IsFatal(err) {
			err = &TransportError{Op: "write", Err: err}
		}
		q.fatal(err)
		return err
	}
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = q.Timeout
	}
	if timeout > 0 && q.Scheduler != nil {
		gen := q.gen
		q.timer = q.Scheduler.AfterFunc(timeout, func() {
			if q.inflight == cmd && q.gen == gen {
				glog.Warningf("command %q timed out after %v", cmd.Text, timeout)
				q.timer = nil
				q.finish(cmd, &TimeoutError{Command: cmd.Text, After: timeout})
			}
		})
	}
	return nil
}

func (q *Queue) stopTimer() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) fatal(err error) {
	if q.closed {
		return
	}
	glog.Errorf("link failed: %v", err)
	q.shutdown(err)
	if q.OnFatal != nil {
		q.OnFatal(err)
	}
}

func (q *Queue) shutdown(err error) {
	if q.closed {
		return
	}
	q.closed = true
	q.stopTimer()
	if cmd := q.inflight; cmd != nil {
		q.inflight = nil
		cmd.fail(err)
	}
	for elem := q.pending.Front(); elem != nil; elem = q.pending.Front() {
		q.pending.Remove(elem).(*Command).fail(ErrClosed)
	}
}
