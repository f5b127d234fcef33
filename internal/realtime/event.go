// Package realtime fans table change events out to in-process subscribers
// such as the analytics cache and admin SSE streams.
package realtime

import (
	"encoding/json"
	"time"
)

// Operation is the kind of row change.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Event describes one row change.  Record carries the row when the source
// has it; Postgres notifications only carry the ID.
type Event struct {
	Table  string          `json:"table"`
	Type   Operation       `json:"type"`
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record,omitempty"`
	At     time.Time       `json:"at"`
}

// NewEvent builds an event, marshalling record when non-nil.
func NewEvent(table string, op Operation, id string, record any) Event {
	ev := Event{Table: table, Type: op, ID: id, At: time.Now().UTC()}
	if record != nil {
		if b, err := json.Marshal(record); err == nil {
			ev.Record = b
		}
	}
	return ev
}

// Merge applies ev to list by primary key.  Inserts and updates replace any
// row with the same key (last write wins); deletes remove it.  decode turns
// the event record into a row and may be nil for delete-only use.
//
// The server keeps no row lists of its own: Merge is the client-side half of
// the /api/admin/events stream, for Go consumers that hold a table loaded
// from the admin API and patch it from received events.  Events without a
// record (Postgres notifications) leave inserts and updates to a reload.
func Merge[T any](list []T, ev Event, id func(T) string, decode func(json.RawMessage) (T, error)) ([]T, error) {
	idx := -1
	for i, item := range list {
		if id(item) == ev.ID {
			idx = i
			break
		}
	}

	switch ev.Type {
	case OpDelete:
		if idx < 0 {
			return list, nil
		}
		return append(list[:idx], list[idx+1:]...), nil
	case OpInsert, OpUpdate:
		if len(ev.Record) == 0 || decode == nil {
			return list, nil
		}
		row, err := decode(ev.Record)
		if err != nil {
			return list, err
		}
		if idx >= 0 {
			list[idx] = row
			return list, nil
		}
		return append([]T{row}, list...), nil
	}
	return list, nil
}
