package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/retrospex/pkg/l0/comm"
	"github.com/robotalks/retrospex/pkg/spex"
)

// Shell provides ishell backed interactive console of a spectrometer.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	// Timeout bounds each console command, including the wait for the
	// firmware reply.
	Timeout time.Duration

	Shell *ishell.Shell
	Spex  *spex.Spectrometer
}

// Status is a snapshot of the spectrometer.
type Status struct {
	Port      string         `json:"port"`
	Firmware  string         `json:"firmware,omitempty"`
	Online    bool           `json:"online"`
	State     string         `json:"state"`
	Blinking  bool           `json:"blinking"`
	Busy      bool           `json:"busy"`
	Pending   int            `json:"pending"`
	EMVolts   string         `json:"em_volts,omitempty"`
	REFVolts  string         `json:"ref_volts,omitempty"`
	Counters  map[int]uint64 `json:"counters,omitempty"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}

// String implements fmt.Stringer.
func (s *Status) String() string {
	str := fmt.Sprintf("%s %s", s.Port, s.State)
	if s.Firmware != "" {
		str += fmt.Sprintf(" [%s]", s.Firmware)
	}
	if s.Blinking {
		str += " blinking"
	}
	if s.Busy || s.Pending > 0 {
		str += fmt.Sprintf(" busy(%d pending)", s.Pending)
	}
	if s.EMVolts != "" {
		str += fmt.Sprintf(" EM=%sV REF=%sV", s.EMVolts, s.REFVolts)
	}
	for n := 0; n <= spex.MaxCounter; n++ {
		if count, ok := s.Counters[n]; ok {
			str += fmt.Sprintf(" P%d=%d", n, count)
		}
	}
	return str
}

const (
	shellKey = "$shell"

	// DefaultTimeout covers the longest grating move.
	DefaultTimeout = 15 * time.Second
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&StatusCmd,
		&PowerUpCmd,
		&PowerDownCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(s *spex.Spectrometer) *Shell {
	sh := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		Timeout:     DefaultTimeout,

		Shell: ishell.New(),
		Spex:  s,
	}
	sh.Shell.Set(shellKey, sh)
	for _, cmd := range commands {
		sh.Shell.AddCmd(cmd)
	}
	return sh
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeOnline wraps command func requires a bound spectrometer.
func MustBeOnline(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		st, err := ShellFrom(c).Status()
		if err != nil {
			c.Err(err)
			return
		}
		if !st.Online {
			c.Err(spex.ErrOffline)
			return
		}
		fn(c)
	}
}

func (s *Shell) context() (context.Context, context.CancelFunc) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

// Status takes a snapshot on the spectrometer goroutine.
func (s *Shell) Status() (*Status, error) {
	ctx, cancel := s.context()
	defer cancel()
	var st Status
	err := s.Spex.Call(ctx, func() error {
		info, tm := s.Spex.Info(), s.Spex.Telemetry()
		st = Status{
			Port:     info.Port,
			Firmware: info.Firmware,
			Online:   info.Online,
			State:    s.Spex.State().String(),
			Blinking: s.Spex.Blinking(),
			Busy:     s.Spex.Busy(),
			Pending:  s.Spex.Pending(),
			EMVolts:  tm.EMVolts,
			REFVolts: tm.REFVolts,
			Counters: tm.Counters,
		}
		if !tm.UpdatedAt.IsZero() {
			st.UpdatedAt = &tm.UpdatedAt
		}
		return nil
	})
	return &st, err
}

// Print writes a result in the selected output format.
func Print(c *ishell.Context, v interface{}) {
	if ShellFrom(c).OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(v)
}

// Call runs fn on the spectrometer goroutine and reports the result.
func Call(c *ishell.Context, fn func(*spex.Spectrometer) error) error {
	s := ShellFrom(c)
	ctx, cancel := s.context()
	defer cancel()
	if err := s.Spex.Call(ctx, func() error { return fn(s.Spex) }); err != nil {
		c.Err(err)
		return err
	}
	if !s.OutputJSON {
		c.Println("OK")
	}
	return nil
}

// Exec sends a command and prints the reply.
func Exec(c *ishell.Context, cmd *comm.Command) error {
	s := ShellFrom(c)
	ctx, cancel := s.context()
	defer cancel()
	reply, err := s.Spex.Exec(ctx, cmd)
	if err != nil {
		c.Err(err)
		return err
	}
	if s.OutputJSON {
		Print(c, map[string]string{"command": cmd.Text, "reply": reply})
		return nil
	}
	c.Println(reply)
	return nil
}

// Await starts an operation on the spectrometer goroutine which
// completes asynchronously by calling done, and prints its result or
// error.
func Await(c *ishell.Context, fn func(s *spex.Spectrometer, done func(interface{}, error)) error) error {
	s := ShellFrom(c)
	ctx, cancel := s.context()
	defer cancel()
	v, err := await(ctx, s.Spex, fn)
	if err != nil {
		c.Err(err)
		return err
	}
	Print(c, v)
	return nil
}

type awaitResult struct {
	val interface{}
	err error
}

func await(ctx context.Context, sp *spex.Spectrometer, fn func(s *spex.Spectrometer, done func(interface{}, error)) error) (interface{}, error) {
	resCh := make(chan awaitResult, 1)
	done := func(v interface{}, err error) {
		select {
		case resCh <- awaitResult{val: v, err: err}:
		default:
		}
	}
	if err := sp.Call(ctx, func() error { return fn(sp, done) }); err != nil {
		return nil, err
	}
	select {
	case res := <-resCh:
		return res.val, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("command timeout")
	}
}

func (s *Shell) updatePrompt() {
	st, err := s.Status()
	if err != nil {
		s.Shell.SetPrompt("[?] > ")
		return
	}
	s.Shell.SetPrompt(fmt.Sprintf("[%s %s] > ", st.Port, st.State))
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.updatePrompt()
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// StatusCmd shows the spectrometer status.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			st, err := s.Status()
			if err != nil {
				c.Err(err)
				return
			}
			Print(c, st)
			s.updatePrompt()
		},
	}

	// PowerUpCmd discovers and binds the spectrometer.
	PowerUpCmd = ishell.Cmd{
		Name:    "power.up",
		Aliases: []string{"up"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			ctx, cancel := s.context()
			defer cancel()
			if err := s.Spex.PowerUp(ctx); err != nil {
				c.Err(err)
				return
			}
			s.updatePrompt()
		},
	}

	// PowerDownCmd turns off the high voltage and releases the port.
	PowerDownCmd = ishell.Cmd{
		Name:    "power.down",
		Aliases: []string{"down"},
		Help:    "",
		Func: MustBeOnline(func(c *ishell.Context) {
			s := ShellFrom(c)
			ctx, cancel := s.context()
			defer cancel()
			if err := s.Spex.PowerDown(ctx); err != nil {
				c.Err(err)
			}
			s.updatePrompt()
		}),
	}
)
