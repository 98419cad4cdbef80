package detector

import (
	"fmt"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/retrospex/pkg/cli/sh"
	"github.com/robotalks/retrospex/pkg/spex"
)

func awaitTelemetry(c *ishell.Context, fn func(s *spex.Spectrometer, then func(spex.Telemetry, error)) error) {
	sh.Await(c, func(s *spex.Spectrometer, done func(interface{}, error)) error {
		return fn(s, func(tm spex.Telemetry, err error) { done(tm, err) })
	})
}

func parseCounter(c *ishell.Context) (int, bool) {
	if len(c.Args) < 1 {
		c.Err(fmt.Errorf("COUNTER required"))
		return 0, false
	}
	n, err := strconv.Atoi(c.Args[0])
	if err != nil {
		c.Err(fmt.Errorf("Invalid COUNTER: %v", err))
		return 0, false
	}
	return n, true
}

var (
	// HVOnCmd applies the site high voltage.
	HVOnCmd = ishell.Cmd{
		Name:    "hv.on",
		Aliases: []string{"hv1"},
		Help:    "",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			awaitTelemetry(c, func(s *spex.Spectrometer, then func(spex.Telemetry, error)) error {
				return s.HVOn(then)
			})
		}),
	}

	// HVOffCmd zeroes both supplies.
	HVOffCmd = ishell.Cmd{
		Name:    "hv.off",
		Aliases: []string{"hv0"},
		Help:    "",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			awaitTelemetry(c, func(s *spex.Spectrometer, then func(spex.Telemetry, error)) error {
				return s.HVOff(then)
			})
		}),
	}

	// HVReadCmd reads back both supplies.
	HVReadCmd = ishell.Cmd{
		Name:    "hv.read",
		Aliases: []string{"hv"},
		Help:    "",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			awaitTelemetry(c, func(s *spex.Spectrometer, then func(spex.Telemetry, error)) error {
				return s.ReadHV(then)
			})
		}),
	}

	// CounterCmd reads a photon counter.
	CounterCmd = ishell.Cmd{
		Name:    "counter",
		Aliases: []string{"cnt"},
		Help:    "COUNTER(0-7)",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			n, ok := parseCounter(c)
			if !ok {
				return
			}
			sh.Await(c, func(s *spex.Spectrometer, done func(interface{}, error)) error {
				return s.ReadCounter(n, func(count uint64, err error) { done(count, err) })
			})
		}),
	}

	// EnablePMTCmd selects the counting channels.
	EnablePMTCmd = ishell.Cmd{
		Name:    "pmt",
		Aliases: []string{},
		Help:    "MASK(0-7)",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			mask, ok := parseCounter(c)
			if !ok {
				return
			}
			cmd, err := spex.EnablePMTCommand(mask)
			if err != nil {
				c.Err(err)
				return
			}
			sh.Exec(c, cmd)
		}),
	}

	// PMTControlCmd reads the PMT control bits.
	PMTControlCmd = ishell.Cmd{
		Name:    "pmt.ctl",
		Aliases: []string{},
		Help:    "",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			sh.Exec(c, spex.PMTControlCommand())
		}),
	}

	// IntegrationTimeCmd sets the counter gate time.
	IntegrationTimeCmd = ishell.Cmd{
		Name:    "inttime",
		Aliases: []string{"tm"},
		Help:    "[SECONDS], defaults to TMinc",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				sh.Call(c, func(s *spex.Spectrometer) error {
					return s.ApplyIntegrationTime()
				})
				return
			}
			val, err := strconv.ParseFloat(c.Args[0], 64)
			if err != nil {
				c.Err(fmt.Errorf("Invalid SECONDS: %v", err))
				return
			}
			sh.Exec(c, spex.IntegrationTimeCommand(time.Duration(val*float64(time.Second))))
		}),
	}
)

func init() {
	sh.AddCmds(
		&HVOnCmd,
		&HVOffCmd,
		&HVReadCmd,
		&CounterCmd,
		&EnablePMTCmd,
		&PMTControlCmd,
		&IntegrationTimeCmd,
	)
}
