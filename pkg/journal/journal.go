// Package journal records spectrometer sessions in a SQLite database:
// which device was bound, how the scanner state moved, the readbacks
// and the alerts.
package journal

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang/glog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	fx "github.com/robotalks/retrospex/pkg/framework"
	"github.com/robotalks/retrospex/pkg/spex"
)

// Session is one binding of a spectrometer.
type Session struct {
	ID        uint `gorm:"primaryKey"`
	Station   string
	Port      string
	Firmware  string
	StartedAt time.Time
	EndedAt   *time.Time
	EndReason string
}

// Reading is a telemetry snapshot.
type Reading struct {
	ID        uint `gorm:"primaryKey"`
	SessionID uint `gorm:"index"`
	EMVolts   string
	REFVolts  string
	// Counters is the JSON object of counter number to count.
	Counters string
	At       time.Time
}

// StateChange is a scanner state transition.
type StateChange struct {
	ID        uint `gorm:"primaryKey"`
	SessionID uint `gorm:"index"`
	FromState string
	ToState   string
	At        time.Time
}

// Alert is an unsolicited line from the firmware.
type Alert struct {
	ID        uint `gorm:"primaryKey"`
	SessionID uint `gorm:"index"`
	Kind      string
	Line      string
	At        time.Time
}

// DefaultBacklog is the number of events buffered for recording.
const DefaultBacklog = 256

// Journal writes events on its own goroutine.
type Journal struct {
	DB      *gorm.DB
	Station string

	eventCh chan spex.Event
	session *Session
}

// Config provides the journal options.
type Config struct {
	// Path of the database file, empty disables the journal.
	Path string
}

var defaultConfig Config

func init() {
	if val := os.Getenv("SPEX_JOURNAL"); val != "" {
		defaultConfig.Path = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Path, "journal", defaultConfig.Path, "Session journal database file.")
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Open opens the configured journal, nil when disabled.
func (c *Config) Open(station string) (*Journal, error) {
	if c.Path == "" {
		return nil, nil
	}
	return Open(c.Path, station)
}

// Open opens or creates a journal database.
func Open(path, station string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %v", path, err)
	}
	if err = db.AutoMigrate(&Session{}, &Reading{}, &StateChange{}, &Alert{}); err != nil {
		return nil, fmt.Errorf("migrate journal %s: %v", path, err)
	}
	return &Journal{
		DB:      db,
		Station: station,
		eventCh: make(chan spex.Event, DefaultBacklog),
	}, nil
}

// HandleEvent implements spex.Listener.
func (j *Journal) HandleEvent(e spex.Event) {
	select {
	case j.eventCh <- e:
	default:
		glog.Warningf("journal backlog full, %s event dropped", e.Kind)
	}
}

// AddToLoop implements LoopAdder.
func (j *Journal) AddToLoop(loop *fx.Loop) {
	loop.AddRunnable(fx.NamedRun("journal", j))
}

// Run implements Runnable. Buffered events are recorded before the
// open session is closed.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case e := <-j.eventCh:
			j.record(e)
		case <-ctx.Done():
			j.drain()
			if err := j.EndSession(time.Now(), "shutdown"); err != nil {
				glog.Errorf("journal: %v", err)
			}
			return j.Close()
		}
	}
}

func (j *Journal) drain() {
	for {
		select {
		case e := <-j.eventCh:
			j.record(e)
		default:
			return
		}
	}
}

func (j *Journal) record(e spex.Event) {
	if err := j.Record(e); err != nil {
		glog.Errorf("journal %s event: %v", e.Kind, err)
	}
}

// Record writes an event.
func (j *Journal) Record(e spex.Event) error {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	switch e.Kind {
	case spex.EventConnected:
		if err := j.EndSession(at, "rebound"); err != nil {
			return err
		}
		s := &Session{
			Station:   j.Station,
			Port:      e.Info.Port,
			Firmware:  e.Info.Firmware,
			StartedAt: at,
		}
		if err := j.DB.Create(s).Error; err != nil {
			return err
		}
		j.session = s
		return nil
	case spex.EventFatal:
		reason := "link failed"
		if e.Err != nil {
			reason = e.Err.Error()
		}
		return j.EndSession(at, reason)
	case spex.EventStateChanged:
		return j.DB.Create(&StateChange{
			SessionID: j.sessionID(),
			FromState: e.From.String(),
			ToState:   e.To.String(),
			At:        at,
		}).Error
	case spex.EventTelemetry:
		counters := "{}"
		if len(e.Telemetry.Counters) > 0 {
			data, err := json.Marshal(e.Telemetry.Counters)
			if err != nil {
				return err
			}
			counters = string(data)
		}
		return j.DB.Create(&Reading{
			SessionID: j.sessionID(),
			EMVolts:   e.Telemetry.EMVolts,
			REFVolts:  e.Telemetry.REFVolts,
			Counters:  counters,
			At:        at,
		}).Error
	case spex.EventAlert, spex.EventButton:
		return j.DB.Create(&Alert{
			SessionID: j.sessionID(),
			Kind:      e.Kind.String(),
			Line:      e.Line,
			At:        at,
		}).Error
	}
	return nil
}

// EndSession closes the open session.
func (j *Journal) EndSession(at time.Time, reason string) error {
	if j.session == nil {
		return nil
	}
	s := j.session
	j.session = nil
	return j.DB.Model(s).Updates(map[string]interface{}{
		"ended_at":   at,
		"end_reason": reason,
	}).Error
}

// Sessions lists the most recent sessions first.
func (j *Journal) Sessions(limit int) (sessions []Session, err error) {
	err = j.DB.Order("id desc").Limit(limit).Find(&sessions).Error
	return
}

// Readings lists the readings of a session in time order.
func (j *Journal) Readings(sessionID uint) (readings []Reading, err error) {
	err = j.DB.Where("session_id = ?", sessionID).Order("id").Find(&readings).Error
	return
}

// StateChanges lists the state transitions of a session in time order.
func (j *Journal) StateChanges(sessionID uint) (changes []StateChange, err error) {
	err = j.DB.Where("session_id = ?", sessionID).Order("id").Find(&changes).Error
	return
}

// Alerts lists the alerts of a session in time order.
func (j *Journal) Alerts(sessionID uint) (alerts []Alert, err error) {
	err = j.DB.Where("session_id = ?", sessionID).Order("id").Find(&alerts).Error
	return
}

// Close closes the database.
func (j *Journal) Close() error {
	sqlDB, err := j.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (j *Journal) sessionID() uint {
	if j.session == nil {
		return 0
	}
	return j.session.ID
}
