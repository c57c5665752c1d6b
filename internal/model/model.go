package model

import (
	"encoding/json"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Source of a change event.
const (
	SourceLive   = "live"   // pushed by a live query
	SourceResync = "resync" // pulled by a snapshot re-read
)

// Actions carried by change events, matching the live-query wire values.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// ChangeEvent represents one observed change to a record, from either a live
// query or a resync pass.
type ChangeEvent struct {
	EventID    uuid.UUID // Idempotency key for sink retries
	Table      string    // Source table
	RecordID   string    // Record identifier ("table:id" form when present)
	Action     string    // CREATE, UPDATE, DELETE or CLOSE
	Payload    []byte    // Full record as JSON, nil for CLOSE
	ReceivedAt int64     // Receive time (µs since epoch)
	Source     string    // "live" or "resync"
}

// NewChangeEvent stamps a fresh event for a record payload. The record id is
// read from the payload's top-level "id" field when present.
func NewChangeEvent(table, action string, payload []byte, source string) ChangeEvent {
	return ChangeEvent{
		EventID:    uuid.New(),
		Table:      table,
		RecordID:   recordID(payload),
		Action:     action,
		Payload:    payload,
		ReceivedAt: time.Now().UnixMicro(),
		Source:     source,
	}
}

// Key returns the content identity of the event: same record, same action,
// same payload gives the same key regardless of source. Used to drop the
// overlap between live delivery and resync passes.
func (e ChangeEvent) Key() string {
	h := fnv.New64a()
	h.Write([]byte(e.Table))
	h.Write([]byte{0})
	h.Write([]byte(e.RecordID))
	h.Write([]byte{0})
	h.Write([]byte(e.Action))
	h.Write([]byte{0})
	h.Write(e.Payload)
	return e.Table + "/" + e.RecordID + "#" + strconv.FormatUint(h.Sum64(), 16)
}

// recordID extracts the "id" field from a record payload. Records carry ids
// either as plain strings or as "table:id" references.
func recordID(payload []byte) string {
	var record struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &record); err != nil {
		return ""
	}
	return record.ID
}
