package connector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/retrospex/pkg/l1/comm/mqtt"
)

func TestNewConnector(t *testing.T) {
	conf := &Config{RegistryURL: "ws://broker:9001/spex/"}
	conn, err := conf.NewConnector()
	require.NoError(t, err)
	require.IsType(t, &mqtt.Connector{}, conn)

	conf.RegistryURL = "redis://broker:6379"
	_, err = conf.NewConnector()
	require.Error(t, err)

	conf.RegistryURL = "mqtt://localhost:1883/lab/"
	q, err := conf.NewQueue()
	require.NoError(t, err)
	require.Equal(t, "lab/", q.TopicPrefix)
}
