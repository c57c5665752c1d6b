package sink

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/eddydb/eddy-go/internal/model"
)

// Deduper drops events whose content was already seen recently. Live
// delivery and resync passes observe the same changes; a bounded LRU window
// over content keys filters the overlap without unbounded memory.
type Deduper struct {
	seen    *lru.Cache[string, struct{}]
	dropped atomic.Int64
}

// NewDeduper creates a Deduper remembering the last window keys.
func NewDeduper(window int) (*Deduper, error) {
	if window < 1 {
		window = 1
	}
	cache, err := lru.New[string, struct{}](window)
	if err != nil {
		return nil, err
	}
	return &Deduper{seen: cache}, nil
}

// Seen reports whether the event's content was observed within the window,
// recording it as observed either way.
func (d *Deduper) Seen(ev model.ChangeEvent) bool {
	key := ev.Key()
	if d.seen.Contains(key) {
		d.dropped.Add(1)
		return true
	}
	d.seen.Add(key, struct{}{})
	return false
}

// Dropped returns how many events were discarded as duplicates.
func (d *Deduper) Dropped() int64 {
	return d.dropped.Load()
}
