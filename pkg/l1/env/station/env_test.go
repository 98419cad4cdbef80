package station

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/retrospex/pkg/l1"
	"github.com/robotalks/retrospex/pkg/spex"
)

func TestNewEnv(t *testing.T) {
	tests := []struct {
		name  string
		logic func(t *testing.T, conf *Config)
	}{
		{
			name: "default id without publisher",
			logic: func(t *testing.T, conf *Config) {
				conf.Info.Ref.ID = ""
				e, err := conf.NewEnv()
				require.NoError(t, err)
				require.NotEmpty(t, conf.Info.Ref.ID)
				require.Equal(t, l1.StationType, conf.Info.Ref.Type)
				require.Nil(t, e.Publisher)
				e.Attach(spex.New(nil, nil, nil))
			},
		},
		{
			name: "publisher",
			logic: func(t *testing.T, conf *Config) {
				conf.Info.Ref.ID = "lab1"
				conf.MQTTBrokerURL = "mqtt://localhost:1883/spex/"
				e, err := conf.NewEnv()
				require.NoError(t, err)
				require.NotNil(t, e.Publisher)
				require.Equal(t, "retrospex/lab1", e.Publisher.Station.Name())
				require.Equal(t, "spex/", e.Publisher.Queue.TopicPrefix)
			},
		},
		{
			name: "bad broker URL",
			logic: func(t *testing.T, conf *Config) {
				conf.Info.Ref.ID = "lab1"
				conf.MQTTBrokerURL = "::bad"
				_, err := conf.NewEnv()
				require.Error(t, err)
			},
		},
		{
			name: "missing type",
			logic: func(t *testing.T, conf *Config) {
				conf.Info.Ref = l1.StationRef{ID: "lab1"}
				_, err := conf.NewEnv()
				require.Error(t, err)
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conf := NewConfig()
			conf.MQTTBrokerURL = ""
			test.logic(t, conf)
		})
	}
}
