package eventlog

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Record is one line of the event log. Fields are flattened next to the
// three fixed keys when encoded; a field may not shadow a fixed key.
type Record struct {
	Timestamp time.Time
	Type      string
	SessionID string
	Fields    map[string]any
}

func New(typ string) Record {
	return Record{Type: typ, Fields: make(map[string]any, 4)}
}

// With sets a type-specific field and returns the record for chaining.
func (r Record) With(key string, value any) Record {
	if r.Fields == nil {
		r.Fields = make(map[string]any, 4)
	}
	r.Fields[key] = value
	return r
}

func (r Record) Get(key string) (any, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// String returns a string field, or "" when absent or not a string.
func (r Record) String(key string) string {
	s, _ := r.Fields[key].(string)
	return s
}

func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		m[k] = v
	}
	m[KeyTimestamp] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	m[KeyType] = r.Type
	m[KeySessionID] = r.SessionID
	return sonic.Marshal(m)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := sonic.Unmarshal(data, &m); err != nil {
		return err
	}

	ts, _ := m[KeyTimestamp].(string)
	if ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("parse record timestamp: %w", err)
		}
		r.Timestamp = t.UTC()
	}
	r.Type, _ = m[KeyType].(string)
	r.SessionID, _ = m[KeySessionID].(string)

	delete(m, KeyTimestamp)
	delete(m, KeyType)
	delete(m, KeySessionID)
	r.Fields = m
	return nil
}
