package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/retrospex/pkg/spex"
)

func openJournal(t *testing.T) *Journal {
	j, err := Open(filepath.Join(t.TempDir(), "db", "journal.db"), "retrospex/lab1")
	require.NoError(t, err)
	return j
}

func TestJournalRecord(t *testing.T) {
	j := openJournal(t)
	defer j.Close()
	at := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	info := spex.Info{Port: "ttyACM0", Firmware: "RetroSPEX v2.1", Online: true}
	events := []spex.Event{
		{Kind: spex.EventStateChanged, Time: at, From: spex.Stopped, To: spex.Scanning},
		{Kind: spex.EventConnected, Time: at, Info: info},
		{Kind: spex.EventStateChanged, Time: at.Add(time.Second), From: spex.Stopped, To: spex.Scanning},
		{Kind: spex.EventTelemetry, Time: at.Add(2 * time.Second), Telemetry: spex.Telemetry{
			EMVolts: "-900", REFVolts: "0", Counters: map[int]uint64{1: 42},
		}},
		{Kind: spex.EventButton, Time: at.Add(3 * time.Second), Line: "# 1"},
		{Kind: spex.EventAlert, Time: at.Add(3 * time.Second), Line: "! FF"},
		{Kind: spex.EventFatal, Time: at.Add(4 * time.Second), Err: errors.New("serial read: EOF")},
		{Kind: spex.EventConnected, Time: at.Add(5 * time.Second), Info: info},
	}
	for _, e := range events {
		require.NoError(t, j.Record(e))
	}

	sessions, err := j.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	first := sessions[1]
	require.Equal(t, "ttyACM0", first.Port)
	require.Equal(t, "retrospex/lab1", first.Station)
	require.NotNil(t, first.EndedAt)
	require.Equal(t, "serial read: EOF", first.EndReason)
	require.Nil(t, sessions[0].EndedAt)

	changes, err := j.StateChanges(first.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "stopped", changes[0].FromState)
	require.Equal(t, "scanning", changes[0].ToState)

	orphans, err := j.StateChanges(0)
	require.NoError(t, err)
	require.Len(t, orphans, 1)

	readings, err := j.Readings(first.ID)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.Equal(t, "-900", readings[0].EMVolts)
	require.Equal(t, `{"1":42}`, readings[0].Counters)

	alerts, err := j.Alerts(first.ID)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, "button", alerts[0].Kind)
	require.Equal(t, "! FF", alerts[1].Line)

	require.NoError(t, j.EndSession(at.Add(time.Minute), "done"))
	sessions, err = j.Sessions(1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "done", sessions[0].EndReason)
}

func TestJournalRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, "retrospex/lab1")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	j.HandleEvent(spex.Event{Kind: spex.EventConnected, Info: spex.Info{Port: "COM3", Online: true}})
	j.HandleEvent(spex.Event{Kind: spex.EventAlert, Line: "! 02"})
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("journal did not stop")
	}

	j, err = Open(path, "retrospex/lab1")
	require.NoError(t, err)
	defer j.Close()
	sessions, err := j.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "COM3", sessions[0].Port)
	require.Equal(t, "shutdown", sessions[0].EndReason)
	alerts, err := j.Alerts(sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
}

func TestConfigDisabled(t *testing.T) {
	j, err := (&Config{}).Open("retrospex/lab1")
	require.NoError(t, err)
	require.Nil(t, j)
}
