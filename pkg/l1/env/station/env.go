// Package station sets up the network side of a spectrometer station.
package station

import (
	"flag"
	"fmt"
	"log"
	"os"

	fx "github.com/robotalks/retrospex/pkg/framework"
	"github.com/robotalks/retrospex/pkg/l1"
	"github.com/robotalks/retrospex/pkg/l1/comm/mqtt"
	"github.com/robotalks/retrospex/pkg/l1/env"
	"github.com/robotalks/retrospex/pkg/spex"
)

// Config provides common options to setup a station.
type Config struct {
	Info l1.StationInfo

	// MQTTBrokerURL specifies the MQTT broker to use, empty disables
	// publishing.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
}

var defaultConfig = Config{
	Info: l1.StationInfo{
		Ref:  l1.StationRef{Type: l1.StationType},
		Meta: l1.StationMeta{Description: "RetroSPEX spectrometer"},
	},
}

func init() {
	if val := os.Getenv("SPEX_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("SPEX_STATION"); val != "" {
		defaultConfig.Info.Ref.ID = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Info.Ref.ID, "station", defaultConfig.Info.Ref.ID, "Station ID, defaults to the machine ID.")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL for event publishing.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Env is the network env of a station.
type Env struct {
	Config    *Config
	Publisher *mqtt.Publisher
}

// NewEnv creates Env from config.
func (c *Config) NewEnv() (*Env, error) {
	if c.Info.Ref.ID == "" {
		c.Info.Ref.ID = env.MachineID()
	}
	if !c.Info.Ref.IsValid() {
		return nil, fmt.Errorf("station type and id must be specified")
	}
	e := &Env{Config: c}
	if c.MQTTBrokerURL != "" {
		pub, err := mqtt.NewPublisher(c.MQTTBrokerURL, c.Info)
		if err != nil {
			return nil, fmt.Errorf("create MQTT publisher error: %v", err)
		}
		e.Publisher = pub
	}
	return e, nil
}

// MustNewEnv creates Env and fails on error.
func (c *Config) MustNewEnv() *Env {
	e, err := c.NewEnv()
	if err != nil {
		log.Fatalln(err)
	}
	return e
}

// Attach subscribes the publisher to the spectrometer events.
func (e *Env) Attach(s *spex.Spectrometer) {
	if e.Publisher != nil {
		s.AddListener(e.Publisher)
	}
}

// AddToLoop adds runners to loop.
func (e *Env) AddToLoop(loop *fx.Loop) {
	if e.Publisher != nil {
		loop.Add(e.Publisher)
	}
}
