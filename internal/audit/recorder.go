package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/hospital-agent/internal/gateway"
	"github.com/MimeLyc/hospital-agent/internal/tools"
	"github.com/MimeLyc/hospital-agent/pkg/log"
)

const (
	defaultBuffer     = 256
	defaultMaxRecords = 10000
	maxBatch          = 64
)

// Recorder writes tool-call records in the background so the agent loop never
// waits on the database. Records that do not fit in the buffer are dropped.
type Recorder struct {
	store      Store
	maxRecords int

	records  chan Record
	dropped  atomic.Uint64
	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type RecorderOption func(*Recorder)

// WithMaxRecords bounds the table size; 0 disables pruning.
func WithMaxRecords(n int) RecorderOption {
	return func(r *Recorder) {
		if n >= 0 {
			r.maxRecords = n
		}
	}
}

func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.records = make(chan Record, n)
		}
	}
}

func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:      store,
		maxRecords: defaultMaxRecords,
		records:    make(chan Record, defaultBuffer),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ObserveToolCall queues one record. It never blocks.
func (r *Recorder) ObserveToolCall(inv tools.Invocation, res gateway.Result) {
	rec := Record{
		Tool:         inv.Name,
		InvocationID: inv.ID,
		OK:           res.OK(),
		DurationMS:   res.Duration.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if res.Failure != nil {
		rec.Reason = string(res.Failure.Reason)
		rec.Status = res.Failure.StatusCode
	}

	select {
	case r.records <- rec:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Warn("Audit buffer full, %d tool call records dropped so far", n)
		}
	}
}

// Dropped reports how many records were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go r.worker()
}

// Stop flushes queued records and waits for the worker to exit.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			for batch := r.drain(nil); len(batch) > 0; batch = r.drain(nil) {
				r.flush(batch)
			}
			return
		case rec := <-r.records:
			r.flush(r.drain([]Record{rec}))
		}
	}
}

// drain collects whatever is already queued, up to maxBatch records.
func (r *Recorder) drain(batch []Record) []Record {
	for len(batch) < maxBatch {
		select {
		case rec := <-r.records:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
	return batch
}

func (r *Recorder) flush(batch []Record) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.store.Insert(ctx, batch...); err != nil {
		log.Error("Failed to persist %d tool call records: %v", len(batch), err)
		return
	}
	if r.maxRecords > 0 {
		if n, err := r.store.Prune(ctx, r.maxRecords); err != nil {
			log.Error("Failed to prune tool call records: %v", err)
		} else if n > 0 {
			log.Debug("Pruned %d old tool call records", n)
		}
	}
}
