package scanner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/retrospex/pkg/cli/sh"
	"github.com/robotalks/retrospex/pkg/spex"
)

func stateCmd(name, alias string, op func(s *spex.Spectrometer) error) ishell.Cmd {
	return ishell.Cmd{
		Name:    name,
		Aliases: []string{alias},
		Help:    "",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			sh.Call(c, op)
		}),
	}
}

func moveCmd(m spex.Monochromator, name, alias string) ishell.Cmd {
	return ishell.Cmd{
		Name:    name,
		Aliases: []string{alias},
		Help:    "NM, signed",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("NM required"))
				return
			}
			nm, err := strconv.ParseFloat(c.Args[0], 64)
			if err != nil {
				c.Err(fmt.Errorf("Invalid NM: %v", err))
				return
			}
			sh.Call(c, func(s *spex.Spectrometer) error {
				return s.Move(m, nm)
			})
		}),
	}
}

func onOff(c *ishell.Context) (bool, bool) {
	if len(c.Args) < 1 {
		c.Err(fmt.Errorf("on or off required"))
		return false, false
	}
	switch strings.ToLower(c.Args[0]) {
	case "on", "1":
		return true, true
	case "off", "0":
		return false, true
	}
	c.Err(fmt.Errorf("Invalid switch %q", c.Args[0]))
	return false, false
}

func parseByte(c *ishell.Context, name, str string) (byte, bool) {
	val, err := strconv.ParseUint(str, 16, 8)
	if err != nil {
		c.Err(fmt.Errorf("Invalid %s: %v", name, err))
		return 0, false
	}
	return byte(val), true
}

var (
	// ScanStartCmd starts a scan.
	ScanStartCmd = stateCmd("scan.start", "ss", (*spex.Spectrometer).StartScan)
	// ScanStopCmd stops the scan.
	ScanStopCmd = stateCmd("scan.stop", "sx", (*spex.Spectrometer).StopScan)
	// ScanToggleCmd acts like the panel button.
	ScanToggleCmd = stateCmd("scan.toggle", "sg", (*spex.Spectrometer).ToggleScan)
	// ScanPauseCmd pauses the scan.
	ScanPauseCmd = stateCmd("scan.pause", "sp", (*spex.Spectrometer).Pause)
	// ScanResumeCmd resumes a paused scan.
	ScanResumeCmd = stateCmd("scan.resume", "sr", (*spex.Spectrometer).Resume)

	// MoveExcitationCmd turns the excitation grating.
	MoveExcitationCmd = moveCmd(spex.Excitation, "move.ex", "mx")
	// MoveEmissionCmd turns the emission grating.
	MoveEmissionCmd = moveCmd(spex.Emission, "move.em", "mm")

	// BlinkCmd starts or stops the LED cycle.
	BlinkCmd = ishell.Cmd{
		Name:    "blink",
		Aliases: []string{},
		Help:    "on|off",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			on, ok := onOff(c)
			if !ok {
				return
			}
			sh.Call(c, func(s *spex.Spectrometer) error {
				if on {
					return s.StartBlinking()
				}
				s.StopBlinking()
				return nil
			})
		}),
	}

	// LEDCmd sets the LED.
	LEDCmd = ishell.Cmd{
		Name:    "led",
		Aliases: []string{},
		Help:    "on|off",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			on, ok := onOff(c)
			if ok {
				sh.Exec(c, spex.LEDCommand(on))
			}
		}),
	}

	// VerboseCmd switches the firmware debug output.
	VerboseCmd = ishell.Cmd{
		Name:    "verbose",
		Aliases: []string{"v"},
		Help:    "on|off",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			on, ok := onOff(c)
			if ok {
				sh.Exec(c, spex.VerboseCommand(on))
			}
		}),
	}

	// SyncCmd flushes the firmware receive buffer.
	SyncCmd = ishell.Cmd{
		Name:    "sync",
		Aliases: []string{},
		Help:    "",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			sh.Exec(c, spex.SyncCommand())
		}),
	}

	// InitCmd resynchronizes and turns the high voltage off.
	InitCmd = ishell.Cmd{
		Name:    "init",
		Aliases: []string{},
		Help:    "",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			sh.Call(c, (*spex.Spectrometer).Init)
		}),
	}

	// WarmInitCmd reinitializes the firmware.
	WarmInitCmd = ishell.Cmd{
		Name:    "init.warm",
		Aliases: []string{},
		Help:    "",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			sh.Exec(c, spex.WarmInitCommand())
		}),
	}

	// ResetFPGACmd reloads the counter FPGA.
	ResetFPGACmd = ishell.Cmd{
		Name:    "fpga.reset",
		Aliases: []string{},
		Help:    "",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			sh.Exec(c, spex.ResetFPGACommand())
		}),
	}

	// ButtonCmd reads the panel button.
	ButtonCmd = ishell.Cmd{
		Name:    "button",
		Aliases: []string{"b"},
		Help:    "",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			sh.Exec(c, spex.ButtonStateCommand())
		}),
	}

	// FirmwareStatusCmd reads the firmware status word.
	FirmwareStatusCmd = ishell.Cmd{
		Name:    "fw.status",
		Aliases: []string{},
		Help:    "",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			sh.Exec(c, spex.StatusCommand())
		}),
	}

	// ReadRegisterCmd reads an FPGA register.
	ReadRegisterCmd = ishell.Cmd{
		Name:    "reg.read",
		Aliases: []string{"rr"},
		Help:    "ADDR(hex)",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("ADDR required"))
				return
			}
			addr, ok := parseByte(c, "ADDR", c.Args[0])
			if ok {
				sh.Exec(c, spex.ReadRegisterCommand(addr))
			}
		}),
	}

	// WriteRegisterCmd writes an FPGA register.
	WriteRegisterCmd = ishell.Cmd{
		Name:    "reg.write",
		Aliases: []string{"rw"},
		Help:    "ADDR(hex) DATA(hex)",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("ADDR and DATA required"))
				return
			}
			addr, ok := parseByte(c, "ADDR", c.Args[0])
			if !ok {
				return
			}
			data, ok := parseByte(c, "DATA", c.Args[1])
			if ok {
				sh.Exec(c, spex.WriteRegisterCommand(addr, data))
			}
		}),
	}

	// RawCmd sends a line as is.
	RawCmd = ishell.Cmd{
		Name:    "raw",
		Aliases: []string{"r"},
		Help:    "TEXT [EXPECT], EXPECT ending with * matches a prefix, defaults to the echo",
		Func: sh.MustBeOnline(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("TEXT required"))
				return
			}
			text, expect := c.Args[0], ""
			if len(c.Args) > 1 {
				text = strings.Join(c.Args[:len(c.Args)-1], " ")
				expect = c.Args[len(c.Args)-1]
			}
			sh.Exec(c, spex.RawCommand(text, expect))
		}),
	}
)

func init() {
	sh.AddCmds(
		&ScanStartCmd,
		&ScanStopCmd,
		&ScanToggleCmd,
		&ScanPauseCmd,
		&ScanResumeCmd,
		&MoveExcitationCmd,
		&MoveEmissionCmd,
		&BlinkCmd,
		&LEDCmd,
		&VerboseCmd,
		&SyncCmd,
		&InitCmd,
		&WarmInitCmd,
		&ResetFPGACmd,
		&ButtonCmd,
		&FirmwareStatusCmd,
		&ReadRegisterCmd,
		&WriteRegisterCmd,
		&RawCmd,
	)
}
