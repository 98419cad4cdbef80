package msgs

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	structpb "github.com/golang/protobuf/ptypes/struct"

	"github.com/robotalks/retrospex/pkg/spex"
)

// Event is a spectrometer event as published.
type Event struct {
	Kind     string
	Time     time.Time
	Station  string
	Port     string
	Firmware string
	Online   bool
	From     string
	To       string
	EMVolts  string
	REFVolts string
	Counters map[int]uint64
	Line     string
	Error    string
}

// Field names of the wire Struct.
const (
	FieldKind     = "kind"
	FieldTime     = "time"
	FieldStation  = "station"
	FieldPort     = "port"
	FieldFirmware = "firmware"
	FieldOnline   = "online"
	FieldFrom     = "from"
	FieldTo       = "to"
	FieldEMVolts  = "em_volts"
	FieldREFVolts = "ref_volts"
	FieldCounters = "counters"
	FieldLine     = "line"
	FieldError    = "error"
)

// FromSpex converts a spectrometer event.
func FromSpex(station string, e spex.Event) *Event {
	ev := &Event{
		Kind:     e.Kind.String(),
		Time:     e.Time,
		Station:  station,
		Port:     e.Info.Port,
		Firmware: e.Info.Firmware,
		Online:   e.Info.Online,
		Line:     e.Line,
	}
	switch e.Kind {
	case spex.EventStateChanged:
		ev.From, ev.To = e.From.String(), e.To.String()
	case spex.EventTelemetry:
		ev.EMVolts, ev.REFVolts = e.Telemetry.EMVolts, e.Telemetry.REFVolts
		ev.Counters = e.Telemetry.Counters
	}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	return ev
}

// Struct converts the event to its wire form.
func (e *Event) Struct() (*structpb.Struct, error) {
	ts, err := ptypes.TimestampProto(e.Time)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldKind:   stringValue(e.Kind),
		FieldTime:   stringValue(ptypes.TimestampString(ts)),
		FieldOnline: {Kind: &structpb.Value_BoolValue{BoolValue: e.Online}},
	}}
	for name, val := range map[string]string{
		FieldStation:  e.Station,
		FieldPort:     e.Port,
		FieldFirmware: e.Firmware,
		FieldFrom:     e.From,
		FieldTo:       e.To,
		FieldEMVolts:  e.EMVolts,
		FieldREFVolts: e.REFVolts,
		FieldLine:     e.Line,
		FieldError:    e.Error,
	} {
		if val != "" {
			s.Fields[name] = stringValue(val)
		}
	}
	if len(e.Counters) > 0 {
		counters := &structpb.Struct{Fields: make(map[string]*structpb.Value)}
		for n, count := range e.Counters {
			counters.Fields[strconv.Itoa(n)] = &structpb.Value{
				Kind: &structpb.Value_NumberValue{NumberValue: float64(count)},
			}
		}
		s.Fields[FieldCounters] = &structpb.Value{
			Kind: &structpb.Value_StructValue{StructValue: counters},
		}
	}
	return s, nil
}

// EventFromStruct parses the wire form.
func EventFromStruct(s *structpb.Struct) (*Event, error) {
	e := &Event{}
	fields := s.GetFields()
	str := func(name string) string { return fields[name].GetStringValue() }
	if e.Kind = str(FieldKind); e.Kind == "" {
		return nil, fmt.Errorf("event without %s", FieldKind)
	}
	if ts := str(FieldTime); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("event %s: %v", FieldTime, err)
		}
		e.Time = t
	}
	e.Station = str(FieldStation)
	e.Port = str(FieldPort)
	e.Firmware = str(FieldFirmware)
	e.Online = fields[FieldOnline].GetBoolValue()
	e.From, e.To = str(FieldFrom), str(FieldTo)
	e.EMVolts, e.REFVolts = str(FieldEMVolts), str(FieldREFVolts)
	e.Line = str(FieldLine)
	e.Error = str(FieldError)
	if counters := fields[FieldCounters].GetStructValue(); counters != nil {
		e.Counters = make(map[int]uint64, len(counters.Fields))
		for key, val := range counters.Fields {
			n, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("counter %q: %v", key, err)
			}
			e.Counters[n] = uint64(val.GetNumberValue())
		}
	}
	return e, nil
}

// Encode serializes an event.
func Encode(e *Event) ([]byte, error) {
	s, err := e.Struct()
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// Decode parses a serialized event.
func Decode(data []byte) (*Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return EventFromStruct(&s)
}

// DecodeJSON parses a serialized event and renders it as JSON.
func DecodeJSON(data []byte) (string, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return "", err
	}
	return (&jsonpb.Marshaler{}).MarshalToString(&s)
}

// JSON renders the event as JSON.
func (e *Event) JSON() (string, error) {
	s, err := e.Struct()
	if err != nil {
		return "", err
	}
	return (&jsonpb.Marshaler{}).MarshalToString(s)
}

// String implements fmt.Stringer with a one line summary.
func (e *Event) String() string {
	str := e.Kind
	switch {
	case e.From != "" || e.To != "":
		str += " " + e.From + " -> " + e.To
	case e.EMVolts != "" || e.REFVolts != "":
		str += fmt.Sprintf(" EM=%sV REF=%sV", e.EMVolts, e.REFVolts)
	case e.Line != "":
		str += fmt.Sprintf(" %q", e.Line)
	case e.Error != "":
		str += " " + e.Error
	case e.Port != "":
		str += fmt.Sprintf(" %s %s", e.Port, e.Firmware)
	}
	if len(e.Counters) > 0 {
		keys := make([]int, 0, len(e.Counters))
		for n := range e.Counters {
			keys = append(keys, n)
		}
		sort.Ints(keys)
		for _, n := range keys {
			str += fmt.Sprintf(" P%d=%d", n, e.Counters[n])
		}
	}
	return str
}

func stringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}
