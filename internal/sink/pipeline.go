package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/eddydb/eddy-go/internal/model"
)

// PipelineConfig holds pipeline tuning.
type PipelineConfig struct {
	BatchSize     int           // events per batch before an early flush
	FlushInterval time.Duration // maximum time between flushes
	BufferSize    int           // initial intake ring capacity
	DedupWindow   int           // content keys remembered, 0 disables dedup
	WriteParallel int64         // concurrent sink writes
}

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
		BufferSize:    4096,
		DedupWindow:   8192,
		WriteParallel: 4,
	}
}

// PipelineStats holds pipeline counters.
type PipelineStats struct {
	Accepted int64 // events taken from the intake buffer
	Deduped  int64 // events dropped as recently-seen content
	Written  int64 // events handed to sinks
	Errors   int64 // failed sink writes after retry
	Flushes  int64
}

// Pipeline moves change events from a producer-facing intake buffer into
// every configured sink. Events are deduplicated, batched by size and time,
// and written to sinks concurrently under a bounded semaphore. A failed
// sink write is re-delivered once; sinks tolerate the overlap through their
// idempotent insert paths.
type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger

	buffer *GrowableBuffer[model.ChangeEvent]
	dedup  *Deduper
	sinks  []Sink
	sem    *semaphore.Weighted

	batch       []model.ChangeEvent
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats PipelineStats
}

// NewPipeline creates a pipeline feeding the given sinks.
func NewPipeline(cfg PipelineConfig, sinks []Sink, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.WriteParallel < 1 {
		cfg.WriteParallel = 1
	}

	p := &Pipeline{
		cfg:    cfg,
		logger: logger,
		buffer: NewGrowableBuffer[model.ChangeEvent](cfg.BufferSize),
		sinks:  sinks,
		sem:    semaphore.NewWeighted(cfg.WriteParallel),
		batch:  make([]model.ChangeEvent, 0, cfg.BatchSize),
	}

	if cfg.DedupWindow > 0 {
		dedup, err := NewDeduper(cfg.DedupWindow)
		if err != nil {
			return nil, err
		}
		p.dedup = dedup
	}

	return p, nil
}

// Push queues an event for delivery. Returns false once the pipeline has
// stopped accepting events.
func (p *Pipeline) Push(ev model.ChangeEvent) bool {
	return p.buffer.Send(ev)
}

// Start begins consuming and flushing.
func (p *Pipeline) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.flushTicker = time.NewTicker(p.cfg.FlushInterval)

	p.wg.Add(1)
	go p.consumeLoop()

	p.wg.Add(1)
	go p.flushLoop()

	p.logger.Info("pipeline started",
		"sinks", len(p.sinks),
		"batch_size", p.cfg.BatchSize,
		"flush_interval", p.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the pipeline down: loops exit, the intake buffer is closed and
// drained, and whatever is queued goes out in one final flush bounded by ctx.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.logger.Info("stopping pipeline")

	if p.cancel != nil {
		p.cancel()
	}
	if p.flushTicker != nil {
		p.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("pipeline stop timed out")
		return ctx.Err()
	}

	p.buffer.Close()
	for _, ev := range p.buffer.DrainTo(0) {
		p.handleEvent(ctx, ev)
	}
	p.flush(ctx)

	stats := p.Stats()
	p.logger.Info("pipeline stopped",
		"written", stats.Written,
		"deduped", stats.Deduped,
		"errors", stats.Errors,
	)
	return nil
}

// Stats returns current counters.
func (p *Pipeline) Stats() PipelineStats {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	return p.stats
}

// consumeLoop moves events from the intake buffer into the current batch.
func (p *Pipeline) consumeLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
			ev, ok := p.buffer.TryReceive()
			if !ok {
				select {
				case <-p.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			p.handleEvent(p.ctx, ev)
		}
	}
}

// flushLoop flushes on the interval tick.
func (p *Pipeline) flushLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.flushTicker.C:
			p.flush(p.ctx)
		}
	}
}

// handleEvent filters one event into the batch. ctx bounds a size-triggered
// flush; the shutdown drain passes the caller's context so those flushes
// still go out.
func (p *Pipeline) handleEvent(ctx context.Context, ev model.ChangeEvent) {
	p.batchMu.Lock()
	p.stats.Accepted++
	p.batchMu.Unlock()

	if p.dedup != nil && p.dedup.Seen(ev) {
		p.batchMu.Lock()
		p.stats.Deduped++
		p.batchMu.Unlock()
		return
	}

	p.batchMu.Lock()
	p.batch = append(p.batch, ev)
	shouldFlush := len(p.batch) >= p.cfg.BatchSize
	p.batchMu.Unlock()

	if shouldFlush {
		p.flush(ctx)
	}
}

// flush writes the current batch to every sink.
func (p *Pipeline) flush(ctx context.Context) {
	p.batchMu.Lock()
	if len(p.batch) == 0 {
		p.batchMu.Unlock()
		return
	}
	batch := p.batch
	p.batch = make([]model.ChangeEvent, 0, p.cfg.BatchSize)
	p.stats.Flushes++
	p.batchMu.Unlock()

	var wg sync.WaitGroup
	for _, s := range p.sinks {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.logger.Warn("flush aborted", "sink", s.Name(), "error", err)
			p.batchMu.Lock()
			p.stats.Errors++
			p.batchMu.Unlock()
			continue
		}

		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			defer p.sem.Release(1)
			p.writeBatch(ctx, s, batch)
		}(s)
	}
	wg.Wait()

	p.batchMu.Lock()
	p.stats.Written += int64(len(batch))
	p.batchMu.Unlock()
}

// writeBatch delivers one batch to one sink, re-delivering once on failure.
func (p *Pipeline) writeBatch(ctx context.Context, s Sink, batch []model.ChangeEvent) {
	err := s.Write(ctx, batch)
	if err == nil {
		return
	}

	p.logger.Warn("sink write failed, re-delivering",
		"sink", s.Name(),
		"count", len(batch),
		"error", err,
	)

	if err := s.Write(ctx, batch); err != nil {
		p.logger.Error("batch dropped",
			"sink", s.Name(),
			"count", len(batch),
			"error", err,
		)
		p.batchMu.Lock()
		p.stats.Errors++
		p.batchMu.Unlock()
	}
}
