package spex

import (
	"flag"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/robotalks/retrospex/pkg/l0/port"
)

// Config provides common options to set up a Spectrometer.
type Config struct {
	// Ports is a comma separated candidate list, tried in order.
	// Empty means the platform defaults.
	Ports string
	// SettingsFile is the site settings file.
	SettingsFile string
	// PollInterval is how often the link is read.
	PollInterval time.Duration
	// CommandTimeout bounds the wait for a reply.
	CommandTimeout time.Duration
	// HandshakeTimeout bounds discovery on one candidate.
	HandshakeTimeout time.Duration
	// Diagnostic makes the panel button toggle pause from any state.
	Diagnostic bool
}

var defaultConfig = Config{
	SettingsFile:     "settings.txt",
	PollInterval:     20 * time.Millisecond,
	CommandTimeout:   2 * time.Second,
	HandshakeTimeout: port.DefaultDeadline,
}

func init() {
	if val := os.Getenv("SPEX_PORTS"); val != "" {
		defaultConfig.Ports = val
	}
	if val := os.Getenv("SPEX_SETTINGS"); val != "" {
		defaultConfig.SettingsFile = val
	}
	if val := os.Getenv("SPEX_DIAGNOSTIC"); val != "" {
		defaultConfig.Diagnostic, _ = strconv.ParseBool(val)
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Ports, "ports", defaultConfig.Ports, "Candidate ports, comma separated, OFFLINE ends the list.")
	flag.StringVar(&defaultConfig.SettingsFile, "settings", defaultConfig.SettingsFile, "Site settings file.")
	flag.DurationVar(&defaultConfig.PollInterval, "poll", defaultConfig.PollInterval, "Serial poll interval.")
	flag.DurationVar(&defaultConfig.CommandTimeout, "cmd-timeout", defaultConfig.CommandTimeout, "Time to wait for a command reply.")
	flag.DurationVar(&defaultConfig.HandshakeTimeout, "handshake-timeout", defaultConfig.HandshakeTimeout, "Time to wait for the banner on each port.")
	flag.BoolVar(&defaultConfig.Diagnostic, "diag", defaultConfig.Diagnostic, "Panel button toggles pause in any state.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// NewDiscoverer creates a Discoverer for the configured candidates.
func (c *Config) NewDiscoverer() *port.Discoverer {
	d := port.NewDiscoverer(port.ParseCandidates(c.Ports))
	if c.HandshakeTimeout > 0 {
		d.Deadline = c.HandshakeTimeout
	}
	return d
}

// MustLoadSettings loads the settings file and fails on error.
func (c *Config) MustLoadSettings() *Settings {
	s, err := LoadSettings(c.SettingsFile)
	if err != nil {
		log.Fatalln(err)
	}
	return s
}
