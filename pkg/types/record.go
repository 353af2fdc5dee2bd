// Package types defines the core data model shared across the Eventmill
// pipeline: source records, per-tenant upload outcomes, and run results.
package types

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Wire names of the three required record attributes.
const (
	FieldEventID  = "eventId"
	FieldClientID = "clientId"
	FieldTime     = "time"
)

// Field is a single payload attribute carried through serialization verbatim.
// Values hold whatever the source store returned: strings, numbers (float64),
// bools, lists, nested maps, or nil.
type Field struct {
	Key   string
	Value interface{}
}

// Record is the atomic unit read from the source table. The three required
// attributes are typed; everything else the producer wrote travels in Extra,
// in a fixed order, so serialization is deterministic.
//
// A Record is immutable once read. No component mutates payload fields except
// for format-specific encoding (e.g. flattening a list into a CSV cell).
type Record struct {
	EventID  string
	ClientID string
	Time     string
	Extra    []Field
}

// RecordFromItem builds a Record from a decoded store item. The required
// attributes must be strings; an item carrying them with any other type
// yields an invalid Record that the partitioner drops. Extra attributes are
// ordered by key so repeated runs over the same data serialize identically.
func RecordFromItem(item map[string]interface{}) Record {
	var r Record
	if s, ok := item[FieldEventID].(string); ok {
		r.EventID = s
	}
	if s, ok := item[FieldClientID].(string); ok {
		r.ClientID = s
	}
	if s, ok := item[FieldTime].(string); ok {
		r.Time = s
	}

	extraKeys := make([]string, 0, len(item))
	for k := range item {
		if k == FieldEventID || k == FieldClientID || k == FieldTime {
			continue
		}
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)

	for _, k := range extraKeys {
		r.Extra = append(r.Extra, Field{Key: k, Value: item[k]})
	}
	return r
}

// Valid reports whether the record carries all three required attributes.
func (r Record) Valid() bool {
	return r.EventID != "" && r.ClientID != "" && r.Time != ""
}

// Keys returns every attribute name on the record, required fields first.
func (r Record) Keys() []string {
	keys := make([]string, 0, 3+len(r.Extra))
	keys = append(keys, FieldEventID, FieldClientID, FieldTime)
	for _, f := range r.Extra {
		keys = append(keys, f.Key)
	}
	return keys
}

// Get returns the value of the named attribute and whether it is present.
func (r Record) Get(key string) (interface{}, bool) {
	switch key {
	case FieldEventID:
		return r.EventID, true
	case FieldClientID:
		return r.ClientID, true
	case FieldTime:
		return r.Time, true
	}
	for _, f := range r.Extra {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// MarshalJSON emits the record as a JSON object with the required attributes
// first and extra attributes in their stored order.
func (r Record) MarshalJSON() ([]byte, error) {
	pairs := make([]Field, 0, 3+len(r.Extra))
	pairs = append(pairs,
		Field{Key: FieldEventID, Value: r.EventID},
		Field{Key: FieldClientID, Value: r.ClientID},
		Field{Key: FieldTime, Value: r.Time},
	)
	pairs = append(pairs, r.Extra...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range pairs {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
