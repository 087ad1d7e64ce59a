package emitter

import (
	"FlowSpectra/internal/engine/features"
	"FlowSpectra/internal/engine/flowstate"
	"FlowSpectra/internal/model"
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const defaultWriteTimeout = 10 * time.Second

// Stats are cumulative emission counters.
type Stats struct {
	Queued     int
	Capacity   int
	Dropped    uint64
	Emitted    uint64
	Partial    uint64
	Batches    uint64
	SinkErrors map[string]uint64
}

// Dispatcher drains the queue of closed flows, computes their feature vectors
// and writes them to every sink in batches.
type Dispatcher struct {
	queue         *Queue[*flowstate.FlowState]
	sinks         []model.Sink
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration

	emitted    atomic.Uint64
	partial    atomic.Uint64
	batches    atomic.Uint64
	sinkErrors map[string]*atomic.Uint64

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher over queue. It owns the sinks and closes
// them once the queue is closed and drained.
func NewDispatcher(queue *Queue[*flowstate.FlowState], sinks []model.Sink, batchSize int, flushInterval time.Duration) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	d := &Dispatcher{
		queue:         queue,
		sinks:         sinks,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		writeTimeout:  defaultWriteTimeout,
		sinkErrors:    make(map[string]*atomic.Uint64, len(sinks)),
	}
	for _, s := range sinks {
		d.sinkErrors[s.Name()] = new(atomic.Uint64)
	}
	return d
}

// Start launches the dispatch loop.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	log.Printf("Emitter: dispatcher started with %d sinks, batch size %d, flush interval %s", len(d.sinks), d.batchSize, d.flushInterval)
}

// Wait blocks until the queue has been closed, every queued flow written and
// every sink closed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()

	batch := make([]*model.FeatureVector, 0, d.batchSize)
	for {
		select {
		case fs, ok := <-d.queue.C():
			if !ok {
				d.flush(batch)
				d.closeSinks()
				return
			}
			if v := d.compute(fs); v != nil {
				batch = append(batch, v)
			}
			if len(batch) >= d.batchSize {
				d.flush(batch)
				batch = make([]*model.FeatureVector, 0, d.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				d.flush(batch)
				batch = make([]*model.FeatureVector, 0, d.batchSize)
			}
		}
	}
}

func (d *Dispatcher) compute(fs *flowstate.FlowState) *model.FeatureVector {
	v := features.Compute(fs.Snapshot())
	if err := fs.MarkEmitted(); err != nil {
		log.Printf("Emitter: skipping flow: %v", err)
		return nil
	}
	d.emitted.Add(1)
	if v.Partial {
		d.partial.Add(1)
	}
	return v
}

// flush writes one batch to all sinks concurrently.
func (d *Dispatcher) flush(batch []*model.FeatureVector) {
	if len(batch) == 0 {
		return
	}
	d.batches.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(len(d.sinks))
	for _, s := range d.sinks {
		go func(s model.Sink) {
			defer wg.Done()
			if err := s.Write(ctx, batch); err != nil {
				d.sinkErrors[s.Name()].Add(1)
				log.Printf("Emitter: error writing %d vectors to sink %s: %v", len(batch), s.Name(), err)
			}
		}(s)
	}
	wg.Wait()
}

func (d *Dispatcher) closeSinks() {
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			log.Printf("Emitter: error closing sink %s: %v", s.Name(), err)
		}
	}
	log.Printf("Emitter: dispatcher stopped after %d vectors", d.emitted.Load())
}

// Stats returns a copy of the emission counters.
func (d *Dispatcher) Stats() Stats {
	st := Stats{
		Queued:     d.queue.Len(),
		Capacity:   d.queue.Cap(),
		Dropped:    d.queue.Dropped(),
		Emitted:    d.emitted.Load(),
		Partial:    d.partial.Load(),
		Batches:    d.batches.Load(),
		SinkErrors: make(map[string]uint64, len(d.sinkErrors)),
	}
	for name, n := range d.sinkErrors {
		st.SinkErrors[name] = n.Load()
	}
	return st
}
