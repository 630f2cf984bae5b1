// Package events implements the EventRecord store (spec.md section 3):
// an append-ordered, newest-first log of operational events, persisted
// through internal/store the same way rate limits and circuits are.
// Every field is immutable after creation except Acknowledged.
package events

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/store"
)

// Severity classifies an event's urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Record is one persisted event.
type Record struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Severity     Severity       `json:"severity"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Source       string         `json:"source"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Acknowledged bool           `json:"acknowledged"`
	CreatedAt    string         `json:"createdAt"`
}

// randRead is overridable in tests.
var randRead = rand.Read

// newID builds spec.md's evt_<unix-millis>_<12 hex chars> identifier.
func newID(nowUnixMillis int64) (string, error) {
	buf := make([]byte, 6)
	if _, err := randRead(buf); err != nil {
		return "", errkind.Wrap(errkind.Generic, "failed to generate event id", err)
	}
	return fmt.Sprintf("evt_%d_%s", nowUnixMillis, hex.EncodeToString(buf)), nil
}

func path() (string, error) {
	return store.Path(constants.EventsFileName)
}

func validator(raw map[string]any) error {
	arr, ok := raw["records"]
	if !ok || arr == nil {
		return nil
	}
	if _, ok := arr.([]any); !ok {
		return fmt.Errorf("records is not an array")
	}
	return nil
}

// Append records a new event, inserting it at the front of the list
// (newest-first) and returns the stored record.
func Append(typ string, severity Severity, title, message, source string, metadata map[string]any) (*Record, error) {
	p, err := path()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id, err := newID(now.UnixMilli())
	if err != nil {
		return nil, err
	}
	rec := &Record{
		ID:        id,
		Type:      typ,
		Severity:  severity,
		Title:     title,
		Message:   message,
		Source:    source,
		Metadata:  metadata,
		CreatedAt: now.Format(time.RFC3339Nano),
	}

	_, err = store.AtomicUpdate(p, validator, map[string]any{}, func(current map[string]any) (map[string]any, error) {
		records := decodeRecords(current)
		records = append([]Record{*rec}, records...)
		current["records"] = encodeRecords(records)
		return current, nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns every stored event, newest-first.
func List() ([]Record, error) {
	p, err := path()
	if err != nil {
		return nil, err
	}
	raw := store.LoadState(p, validator, map[string]any{})
	return decodeRecords(raw), nil
}

// Acknowledge marks the event with the given id as acknowledged. Returns
// errkind.Absent if no such event exists.
func Acknowledge(id string) (*Record, error) {
	p, err := path()
	if err != nil {
		return nil, err
	}

	var found *Record
	_, err = store.AtomicUpdate(p, validator, map[string]any{}, func(current map[string]any) (map[string]any, error) {
		records := decodeRecords(current)
		for i := range records {
			if records[i].ID == id {
				records[i].Acknowledged = true
				found = &records[i]
				break
			}
		}
		if found == nil {
			return current, errkind.Newf(errkind.Absent, "event %q not found", id).WithRule("EVENT_NOT_FOUND")
		}
		current["records"] = encodeRecords(records)
		return current, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func decodeRecords(raw map[string]any) []Record {
	arr, ok := raw["records"].([]any)
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(arr))
	for _, item := range arr {
		enc, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(enc, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

func encodeRecords(records []Record) []any {
	out := make([]any, 0, len(records))
	for _, rec := range records {
		enc, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(enc, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}
