package sink

import (
	"testing"

	"github.com/eddydb/eddy-go/internal/model"
)

func event(table, action, payload string) model.ChangeEvent {
	return model.NewChangeEvent(table, action, []byte(payload), model.SourceLive)
}

func TestDeduper_DropsRepeatedContent(t *testing.T) {
	d, err := NewDeduper(16)
	if err != nil {
		t.Fatalf("NewDeduper failed: %v", err)
	}

	a := event("user", "UPDATE", `{"id":"user:1","n":1}`)
	b := event("user", "UPDATE", `{"id":"user:2","n":2}`)

	if d.Seen(a) {
		t.Error("first sighting of a reported as seen")
	}
	if !d.Seen(a) {
		t.Error("second sighting of a not reported as seen")
	}
	if d.Seen(b) {
		t.Error("first sighting of b reported as seen")
	}

	// Same content re-stamped from the resync path still collides.
	resync := model.NewChangeEvent("user", "UPDATE", []byte(`{"id":"user:1","n":1}`), model.SourceResync)
	if !d.Seen(resync) {
		t.Error("resync copy of a not reported as seen")
	}

	if got := d.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

func TestDeduper_WindowEvicts(t *testing.T) {
	d, err := NewDeduper(2)
	if err != nil {
		t.Fatalf("NewDeduper failed: %v", err)
	}

	a := event("user", "UPDATE", `{"id":"user:1"}`)
	b := event("user", "UPDATE", `{"id":"user:2"}`)
	c := event("user", "UPDATE", `{"id":"user:3"}`)

	d.Seen(a)
	d.Seen(b)
	d.Seen(c) // evicts a

	if d.Seen(a) {
		t.Error("a should have been evicted from the window")
	}
}
