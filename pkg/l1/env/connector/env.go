// Package connector configures access to remote stations.
package connector

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/robotalks/retrospex/pkg/l1"
	"github.com/robotalks/retrospex/pkg/l1/comm/mqtt"
)

// Config provides common options to setup Connectors.
type Config struct {
	// RegistryURL specifies the broker where stations publish.
	// e.g. mqtt://host:port/topic-prefix
	RegistryURL string
}

var defaultConfig = Config{
	RegistryURL: "mqtt://localhost:1883/spex/",
}

func init() {
	if val := os.Getenv("SPEX_MQTT_URL"); val != "" {
		defaultConfig.RegistryURL = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.RegistryURL, "mqtt", defaultConfig.RegistryURL, "MQTT broker URL stations publish to.")
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

// NewConnector creates a Connector using current config.
func (c *Config) NewConnector() (l1.Connector, error) {
	parsedURL, err := url.Parse(c.RegistryURL)
	if err != nil {
		return nil, fmt.Errorf("invalid registry URL: %v", err)
	}
	switch parsedURL.Scheme {
	case "mqtt", "tcp", "ssl", "ws", "wss":
		return mqtt.NewConnector(c.RegistryURL)
	default:
		return nil, fmt.Errorf("unknown registry URL scheme: %q", parsedURL.Scheme)
	}
}

// MustNewConnector creates a Connector and fails on error.
func (c *Config) MustNewConnector() l1.Connector {
	conn, err := c.NewConnector()
	if err != nil {
		log.Fatalln(err)
	}
	return conn
}

// NewQueue creates an unconnected MQTT queue on the registry broker.
func (c *Config) NewQueue() (*mqtt.Queue, error) {
	return mqtt.NewQueueFromURL(c.RegistryURL)
}
