package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/retrospex/pkg/framework"
	"github.com/robotalks/retrospex/pkg/l1"
	"github.com/robotalks/retrospex/pkg/l1/msgs"
	"github.com/robotalks/retrospex/pkg/spex"
)

// Topic kinds under a station.
const (
	KindMeta      = "meta"
	KindConnected = "connected"
	KindState     = "state"
	KindTelemetry = "telemetry"
	KindAlert     = "alert"
	KindButton    = "button"
	KindFatal     = "fatal"
)

// DefaultBacklog is the number of events buffered for publishing.
const DefaultBacklog = 64

// KindFor returns the topic kind of an event.
func KindFor(kind spex.EventKind) string {
	switch kind {
	case spex.EventConnected:
		return KindConnected
	case spex.EventStateChanged:
		return KindState
	case spex.EventTelemetry:
		return KindTelemetry
	case spex.EventAlert:
		return KindAlert
	case spex.EventButton:
		return KindButton
	default:
		return KindFatal
	}
}

// Publisher publishes spectrometer events of a station. The station
// metadata is retained and cleared by the will when the process dies.
type Publisher struct {
	Queue   *Queue
	Station l1.StationRef

	eventCh  chan spex.Event
	metaLock sync.Mutex
	meta     l1.StationMeta
}

// NewPublisher creates a Publisher.
func NewPublisher(brokerURL string, info l1.StationInfo) (*Publisher, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+info.Ref.Topic(KindMeta), nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("spex:" + info.Ref.Name())
	}
	p := &Publisher{
		Station: info.Ref,
		eventCh: make(chan spex.Event, DefaultBacklog),
		meta:    info.Meta,
	}
	p.Queue = NewQueue(opts, topicPrefix)
	p.Queue.OnConnect = func(*Queue) { p.publishMeta() }
	return p, nil
}

// Meta returns the current station metadata.
func (p *Publisher) Meta() l1.StationMeta {
	p.metaLock.Lock()
	defer p.metaLock.Unlock()
	return p.meta
}

// HandleEvent implements spex.Listener. It never blocks, events are
// dropped when the backlog is full.
func (p *Publisher) HandleEvent(e spex.Event) {
	select {
	case p.eventCh <- e:
	default:
		glog.Warningf("publish backlog full, %s event dropped", e.Kind)
	}
}

// AddToLoop implements LoopAdder.
func (p *Publisher) AddToLoop(loop *fx.Loop) {
	loop.AddRunnable(fx.NamedRun("mqtt", p))
}

// Run implements Runnable.
func (p *Publisher) Run(ctx context.Context) error {
	p.Queue.Connect()
	for {
		select {
		case e := <-p.eventCh:
			p.publish(e)
		case <-ctx.Done():
			p.Queue.PubWith(p.Station.Topic(KindMeta), nil, 1, true).WaitTimeout(time.Second)
			p.Queue.Close()
			return nil
		}
	}
}

func (p *Publisher) publish(e spex.Event) {
	switch e.Kind {
	case spex.EventConnected, spex.EventFatal:
		p.metaLock.Lock()
		p.meta.Port, p.meta.Firmware, p.meta.Online = e.Info.Port, e.Info.Firmware, e.Info.Online
		p.metaLock.Unlock()
		p.publishMeta()
	}
	data, err := msgs.Encode(msgs.FromSpex(p.Station.Name(), e))
	if err != nil {
		glog.Errorf("encode %s event: %v", e.Kind, err)
		return
	}
	p.Queue.Pub(p.Station.Topic(KindFor(e.Kind)), data)
}

func (p *Publisher) publishMeta() {
	meta := p.Meta()
	data, err := json.Marshal(&meta)
	if err != nil {
		glog.Errorf("encode metadata: %v", err)
		return
	}
	p.Queue.PubWith(p.Station.Topic(KindMeta), data, 1, true)
}
