package comm

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/retrospex/pkg/framework/fxtest"
)

type recordSender struct {
	sent []string
	err  error
}

func (s *recordSender) Send(text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

type countObserver struct {
	sent, retried, ok, failed, unsolicited, unrecognized int
}

func (o *countObserver) Sent(cmd *Command, retry bool) {
	o.sent++
	if retry {
		o.retried++
	}
}

func (o *countObserver) Completed(cmd *Command, err error) {
	if err == nil {
		o.ok++
	} else {
		o.failed++
	}
}

func (o *countObserver) Unsolicited(string)  { o.unsolicited++ }
func (o *countObserver) Unrecognized(string) { o.unrecognized++ }

type queueTestEnv struct {
	t        *testing.T
	sender   *recordSender
	sched    *fxtest.Scheduler
	queue    *Queue
	observer *countObserver
	events   []string
	fatal    error
}

func newQueueTestEnv(t *testing.T) *queueTestEnv {
	env := &queueTestEnv{
		t:        t,
		sender:   &recordSender{},
		sched:    fxtest.NewScheduler(),
		observer: &countObserver{},
	}
	env.queue = NewQueue(env.sender, env.sched)
	env.queue.Observer = env.observer
	env.queue.Unsolicited = func(line string) { env.events = append(env.events, "unsolicited "+line) }
	env.queue.OnFatal = func(err error) { env.fatal = err }
	return env
}

func (e *queueTestEnv) run(fns ...func(string)) {
	for n, fn := range fns {
		fn(fmt.Sprintf("step-%d", n))
	}
}

func (e *queueTestEnv) record(name string) func(string) {
	return func(reply string) { e.events = append(e.events, name+" "+reply) }
}

func (e *queueTestEnv) recordErr(name string) func(error) {
	return func(err error) { e.events = append(e.events, name+" failed: "+err.Error()) }
}

func (e *queueTestEnv) submit(cmds ...*Command) func(string) {
	return func(name string) {
		require.NoErrorf(e.t, e.queue.Submit(cmds...), "%s submit", name)
	}
}

func (e *queueTestEnv) inject(lines ...string) func(string) {
	return func(name string) {
		for _, line := range lines {
			e.queue.Dispatch(line)
		}
	}
}

func (e *queueTestEnv) expectSent(lines ...string) func(string) {
	return func(name string) {
		require.Equalf(e.t, lines, e.sender.sent, "%s sent", name)
		e.sender.sent = nil
	}
}

func (e *queueTestEnv) expectEvents(events ...string) func(string) {
	return func(name string) {
		require.Equalf(e.t, events, e.events, "%s events", name)
		e.events = nil
	}
}

func (e *queueTestEnv) expectBusy(busy bool, pending int) func(string) {
	return func(name string) {
		require.Equalf(e.t, busy, e.queue.Busy(), "%s busy", name)
		require.Equalf(e.t, pending, e.queue.Pending(), "%s pending", name)
	}
}

func (e *queueTestEnv) advance(d time.Duration) func(string) {
	return func(string) { e.sched.Advance(d) }
}

func TestQueue(t *testing.T) {
	tests := []struct {
		name  string
		logic func(*queueTestEnv)
	}{
		{
			name: "echo completes and clears busy",
			logic: func(env *queueTestEnv) {
				env.run(
					env.submit(Echo("L 1", env.record("on"))),
					env.expectSent("L 1"),
					env.expectBusy(true, 0),
					env.inject("L 1"),
					env.expectEvents("on L 1"),
					env.expectBusy(false, 0),
				)
			},
		},
		{
			name: "single command in flight",
			logic: func(env *queueTestEnv) {
				env.run(
					env.submit(Echo("L 1", nil), Echo("L 0", nil), Echo("T 00000064", nil)),
					env.expectSent("L 1"),
					env.expectBusy(true, 2),
					env.inject("L 1"),
					env.expectSent("L 0"),
					env.inject("L 0"),
					env.expectSent("T 00000064"),
					env.inject("T 00000064"),
					env.expectSent(),
					env.expectBusy(false, 0),
				)
			},
		},
		{
			name: "readback prefix",
			logic: func(env *queueTestEnv) {
				env.run(
					env.submit(Readback("A", "A ", env.record("hv"))),
					env.inject("A D1B6 0000"),
					env.expectEvents("hv A D1B6 0000"),
					env.expectBusy(false, 0),
				)
			},
		},
		{
			name: "unexpected error retried once then matched",
			logic: func(env *queueTestEnv) {
				cmd := Echo("D 1 E665", env.record("next")).OnFailure(env.recordErr("D"))
				env.run(
					env.submit(cmd),
					env.inject("e"),
					env.expectSent("D 1 E665", "D 1 E665"),
					env.expectBusy(true, 0),
					env.inject("D 1 E665"),
					env.expectEvents("next D 1 E665"),
					env.expectBusy(false, 0),
				)
				require.Equal(env.t, 1, env.observer.retried)
			},
		},
		{
			name: "second error drops",
			logic: func(env *queueTestEnv) {
				cmd := Echo("D 1 E665", env.record("next")).OnFailure(env.recordErr("D"))
				env.run(
					env.submit(cmd, Echo("L 0", nil)),
					env.inject("e", "e"),
					env.expectSent("D 1 E665", "D 1 E665", "L 0"),
					env.expectEvents("D failed: "+ErrDropped.Error()),
					env.expectBusy(true, 0),
				)
			},
		},
		{
			name: "retry budget is per command",
			logic: func(env *queueTestEnv) {
				env.run(
					env.submit(Echo("L 1", nil), Echo("L 0", nil)),
					env.inject("e", "L 1"),
					env.inject("e", "L 0"),
					env.expectSent("L 1", "L 1", "L 0", "L 0"),
					env.expectBusy(false, 0),
				)
				require.Equal(env.t, 2, env.observer.ok)
			},
		},
		{
			name: "expected error token",
			logic: func(env *queueTestEnv) {
				env.run(
					env.submit(&Command{Text: "*", Expect: ErrorReply(), Then: env.record("sync")}),
					env.inject("e"),
					env.expectSent("*"),
					env.expectEvents("sync e"),
					env.expectBusy(false, 0),
				)
			},
		},
		{
			name: "unsolicited lines leave busy alone",
			logic: func(env *queueTestEnv) {
				env.run(
					env.submit(Echo("L 1", env.record("on"))),
					env.inject("# 1", "! FF", " # 0 "),
					env.expectEvents("unsolicited # 1", "unsolicited ! FF", "unsolicited # 0"),
					env.expectBusy(true, 0),
					env.inject("L 1"),
					env.expectEvents("on L 1"),
				)
			},
		},
		{
			name: "unsolicited while idle",
			logic: func(env *queueTestEnv) {
				env.run(
					env.inject("# 1"),
					env.expectEvents("unsolicited # 1"),
					env.expectBusy(false, 0),
				)
			},
		},
		{
			name: "unrecognized line unblocks",
			logic: func(env *queueTestEnv) {
				env.run(
					env.submit(Echo("L 1", env.record("on")).OnFailure(env.recordErr("L")), Echo("L 0", nil)),
					env.inject("garbage"),
					env.expectEvents("L failed: "+ErrUnrecognized.Error()),
					env.expectSent("L 1", "L 0"),
				)
				require.Equal(env.t, 1, env.observer.unrecognized)
			},
		},
		{
			name: "blank line unblocks",
			logic: func(env *queueTestEnv) {
				env.run(
					env.submit(Echo("L 1", env.record("on")).OnFailure(env.recordErr("L")), Echo("L 0", nil)),
					env.expectSent("L 1"),
					env.expectBusy(true, 1),
					env.inject(""),
					env.expectEvents("L failed: "+ErrUnrecognized.Error()),
					env.expectSent("L 0"),
					env.expectBusy(true, 0),
				)
				require.Equal(env.t, 1, env.observer.unrecognized)
			},
		},
		{
			name: "matching alert is a reply",
			logic: func(env *queueTestEnv) {
				env.run(
					env.submit(&Command{Text: "H", Expect: Exact("! 01"), Then: env.record("conv")}),
					env.inject("! 01"),
					env.expectEvents("conv ! 01"),
				)
			},
		},
		{
			name: "continuation runs before next send",
			logic: func(env *queueTestEnv) {
				var chained bool
				first := Echo("D 1 0000", func(string) {
					chained = true
					require.True(env.t, env.queue.Busy())
					env.queue.Submit(Echo("H", nil))
				})
				env.run(
					env.submit(first, Echo("L 1", nil)),
					env.inject("D 1 0000"),
					env.expectSent("D 1 0000", "L 1"),
					env.expectBusy(true, 1),
					env.inject("L 1"),
					env.expectSent("H"),
				)
				require.True(env.t, chained)
			},
		},
		{
			name: "timeout unblocks",
			logic: func(env *queueTestEnv) {
				var failure error
				cmd := Echo("X s00000032", nil).OnFailure(func(err error) { failure = err })
				cmd.Timeout = 500 * time.Millisecond
				env.run(
					env.submit(cmd, Echo("L 1", nil)),
					env.advance(499*time.Millisecond),
					env.expectBusy(true, 1),
					env.advance(time.Millisecond),
					env.expectSent("X s00000032", "L 1"),
				)
				require.True(env.t, IsTimeout(failure))
				require.False(env.t, IsFatal(failure))
				env.run(
					env.inject("L 1"),
					env.expectBusy(false, 0),
				)
			},
		},
		{
			name: "reply cancels timeout",
			logic: func(env *queueTestEnv) {
				env.run(
					env.submit(Echo("L 1", env.record("on")).OnFailure(env.recordErr("L"))),
					env.inject("L 1"),
					env.advance(time.Minute),
					env.expectEvents("on L 1"),
				)
				require.Equal(env.t, 0, env.sched.Pending())
			},
		},
		{
			name: "retry restarts timeout",
			logic: func(env *queueTestEnv) {
				env.run(
					env.submit(Echo("L 1", env.record("on")).OnFailure(env.recordErr("L"))),
					env.advance(DefaultTimeout-time.Millisecond),
					env.inject("e"),
					env.advance(DefaultTimeout-time.Millisecond),
					env.expectBusy(true, 0),
					env.inject("L 1"),
					env.expectEvents("on L 1"),
				)
			},
		},
		{
			name: "write failure is fatal",
			logic: func(env *queueTestEnv) {
				env.sender.err = errors.New("unplugged")
				err := env.queue.Submit(Echo("L 1", nil).OnFailure(env.recordErr("L")), Echo("L 0", nil).OnFailure(env.recordErr("L0")))
				require.Error(env.t, err)
				require.True(env.t, IsFatal(env.fatal))
				require.True(env.t, env.queue.Closed())
				require.Equal(env.t, ErrClosed, env.queue.Submit(Echo("L 1", nil)))
				env.run(
					env.expectEvents("L failed: serial write: unplugged", "L0 failed: "+ErrClosed.Error()),
					env.expectBusy(false, 0),
				)
			},
		},
		{
			name: "close discards",
			logic: func(env *queueTestEnv) {
				env.run(
					env.submit(Echo("L 1", nil).OnFailure(env.recordErr("a")), Echo("L 0", nil).OnFailure(env.recordErr("b"))),
				)
				env.queue.Close()
				env.run(
					env.expectEvents("a failed: "+ErrClosed.Error(), "b failed: "+ErrClosed.Error()),
					env.inject("L 1"),
					env.advance(time.Minute),
					env.expectEvents(),
				)
				require.Nil(env.t, env.fatal)
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.logic(newQueueTestEnv(t))
		})
	}
}
