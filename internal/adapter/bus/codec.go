// internal/adapter/bus/codec.go

package bus

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"safeloc/internal/domain/event"
	"safeloc/internal/domain/share"
)

// envelope is the wire form of a change notification
type envelope struct {
	EventType event.EventType `msgpack:"eventType"`
	Kind      event.Kind      `msgpack:"kind"`
	Record    []byte          `msgpack:"record"`
}

// Encode serializes a change for the realtime channel
func Encode(c event.Change) ([]byte, error) {
	record, err := msgpack.Marshal(c.Record)
	if err != nil {
		return nil, fmt.Errorf("encode %s record: %w", c.Kind, err)
	}
	return msgpack.Marshal(envelope{
		EventType: c.Type,
		Kind:      c.Kind,
		Record:    record,
	})
}

// Decode parses a change received from the realtime channel
func Decode(data []byte) (event.Change, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return event.Change{}, fmt.Errorf("decode envelope: %w", err)
	}

	var (
		rec event.Record
		err error
	)
	switch env.Kind {
	case event.KindShareSessions:
		var s share.Session
		err = msgpack.Unmarshal(env.Record, &s)
		rec = s
	case event.KindEmergencyAlerts:
		var a event.EmergencyAlert
		err = msgpack.Unmarshal(env.Record, &a)
		rec = a
	case event.KindHazardReports:
		var h event.HazardReport
		err = msgpack.Unmarshal(env.Record, &h)
		rec = h
	default:
		return event.Change{}, fmt.Errorf("decode envelope: unknown kind %q", env.Kind)
	}
	if err != nil {
		return event.Change{}, fmt.Errorf("decode %s record: %w", env.Kind, err)
	}

	return event.Change{Type: env.EventType, Kind: env.Kind, Record: rec}, nil
}
