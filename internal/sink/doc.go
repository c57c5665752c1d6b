// Package sink implements the delivery side of the mirror pipeline.
//
// Components:
//   - GrowableBuffer: lossless intake ring between producers and the pipeline
//   - Deduper: LRU window dropping live/resync content overlap
//   - Pipeline: batching, interval flushing, bounded-concurrency sink writes
//   - PostgresSink, MongoSink: idempotent batch inserts
//
// All writes are append-only; duplicate suppression happens on the event id
// at the store and on content keys in the Deduper.
package sink
