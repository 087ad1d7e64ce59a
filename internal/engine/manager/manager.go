package manager

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/emitter"
	"FlowSpectra/internal/engine/expiry"
	"FlowSpectra/internal/engine/flowkey"
	"FlowSpectra/internal/engine/flowstate"
	"FlowSpectra/internal/engine/flowtable"
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/sink"
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned by Ingest once Stop has begun.
var ErrStopped = errors.New("engine stopped")

// Stats is a point-in-time view of every engine counter.
type Stats struct {
	Running         bool
	Received        uint64
	UnknownProtocol uint64
	Expired         uint64
	Table           flowtable.Stats
	Emitter         emitter.Stats
}

// Engine wires the flow table, the expiry scheduler and the emitter together.
// Packets from the input channel are partitioned across workers by flow key,
// so packets of one flow are always applied by the same worker in arrival
// order.
type Engine struct {
	table      *flowtable.Table
	queue      *emitter.Queue[*flowstate.FlowState]
	dispatcher *emitter.Dispatcher
	scheduler  *expiry.Scheduler
	watermark  *expiry.Watermark

	// Worker pool for concurrent packet processing
	packetChannel  chan *model.PacketRecord
	workerChannels []chan *model.PacketRecord
	routerWg       sync.WaitGroup
	workerWg       sync.WaitGroup

	cancelScheduler context.CancelFunc
	schedulerWg     sync.WaitGroup

	stopOnce        sync.Once
	running         atomic.Bool
	stopping        atomic.Bool
	received        atomic.Uint64
	unknownProtocol atomic.Uint64
}

// NewEngine creates an engine whose sinks are built from cfg.Sinks.
func NewEngine(cfg *config.Config) (*Engine, error) {
	sinks, err := sink.Create(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithSinks(cfg, sinks)
}

// NewWithSinks creates an engine writing to the given sinks.
func NewWithSinks(cfg *config.Config, sinks []model.Sink) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tm, err := cfg.Engine.Timings()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		queue:          emitter.NewQueue[*flowstate.FlowState](cfg.Engine.SinkQueueCapacity),
		packetChannel:  make(chan *model.PacketRecord, cfg.Engine.SizeOfPacketChannel),
		workerChannels: make([]chan *model.PacketRecord, cfg.Engine.NumWorkers),
	}
	for i := range e.workerChannels {
		e.workerChannels[i] = make(chan *model.PacketRecord, cfg.Engine.SizeOfPacketChannel/cfg.Engine.NumWorkers+1)
	}

	e.table = flowtable.New(flowtable.Config{
		NumShards:       cfg.Engine.NumShards,
		MaxLiveFlows:    cfg.Engine.MaxLiveFlows,
		IdleTimeout:     tm.IdleTimeout,
		MaxFlowDuration: tm.MaxFlowDuration,
		ActivityTimeout: tm.ActivityTimeout,
	}, e.offer)

	var clock expiry.Clock = expiry.WallClock{}
	if cfg.Engine.Clock == config.ClockPacket {
		e.watermark = &expiry.Watermark{}
		clock = e.watermark
	}
	e.scheduler = expiry.NewScheduler(e.table, clock, tm.SweepInterval, tm.IdleTimeout, tm.MaxFlowDuration, e.offerAll)
	e.dispatcher = emitter.NewDispatcher(e.queue, sinks, cfg.Engine.BatchSize, tm.FlushInterval)
	return e, nil
}

// Start launches the dispatcher, the expiry scheduler and the worker pool.
func (e *Engine) Start() {
	e.dispatcher.Start()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelScheduler = cancel
	e.schedulerWg.Add(1)
	go func() {
		defer e.schedulerWg.Done()
		e.scheduler.Run(ctx)
	}()

	e.workerWg.Add(len(e.workerChannels))
	for _, ch := range e.workerChannels {
		go e.worker(ch)
	}
	e.routerWg.Add(1)
	go e.router()

	e.running.Store(true)
	log.Printf("Engine started with %d workers.", len(e.workerChannels))
}

// Stop stops intake, waits for buffered packets, then emits every remaining
// flow before the sinks are closed. Nothing queued at shutdown is dropped.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		log.Println("Engine stopping...")
		e.stopping.Store(true)

		// 1. Stop accepting new packets and let workers finish the backlog.
		close(e.packetChannel)
		e.routerWg.Wait()
		for _, ch := range e.workerChannels {
			close(ch)
		}
		log.Println("Waiting for workers to finish...")
		e.workerWg.Wait()

		// 2. No more sweeps.
		e.cancelScheduler()
		e.schedulerWg.Wait()

		// 3. Emit what is left with partial statistics.
		remaining := e.table.DrainAll()
		log.Printf("Draining %d live flows.", len(remaining))
		for _, fs := range remaining {
			if err := e.queue.Put(context.Background(), fs); err != nil {
				log.Printf("Engine: failed to queue flow %s on shutdown: %v", fs.ID(), err)
			}
		}

		// 4. Let the dispatcher flush and close the sinks.
		e.queue.Close()
		e.dispatcher.Wait()
		e.running.Store(false)
		log.Println("Engine stopped.")
	})
}

// InputChannel is the asynchronous intake. It must not be written to after
// Stop has been called.
func (e *Engine) InputChannel() chan<- *model.PacketRecord {
	return e.packetChannel
}

// Ingest applies one packet synchronously on the caller's goroutine. Callers
// that mix Ingest and InputChannel lose the per-flow ordering guarantee.
// Ingest must not race Stop: a packet applied after the table is drained is
// never emitted.
func (e *Engine) Ingest(pkt *model.PacketRecord) error {
	if e.stopping.Load() {
		return ErrStopped
	}
	return e.ingest(pkt)
}

func (e *Engine) ingest(pkt *model.PacketRecord) error {
	e.received.Add(1)
	if err := e.table.Ingest(pkt); err != nil {
		return err
	}
	if pkt.Protocol() == model.ProtocolOther {
		e.unknownProtocol.Add(1)
	}
	if e.watermark != nil {
		e.watermark.Observe(pkt.Timestamp)
	}
	return nil
}

// router partitions packets by flow key.
func (e *Engine) router() {
	defer e.routerWg.Done()
	n := uint32(len(e.workerChannels))
	for pkt := range e.packetChannel {
		key, err := flowkey.Resolve(pkt)
		if err != nil {
			// Let the table count it.
			e.workerChannels[0] <- pkt
			continue
		}
		e.workerChannels[flowkey.Hash(key)%n] <- pkt
	}
}

func (e *Engine) worker(ch <-chan *model.PacketRecord) {
	defer e.workerWg.Done()
	var malformed uint64
	for pkt := range ch {
		if err := e.ingest(pkt); err != nil {
			if errors.Is(err, model.ErrMalformedPacket) {
				malformed++
				if malformed == 1 {
					log.Printf("Engine: skipping malformed packet: %v", err)
				}
				continue
			}
			log.Printf("Engine: error ingesting packet: %v", err)
		}
	}
	if malformed > 0 {
		log.Printf("Engine: worker skipped %d malformed packets", malformed)
	}
}

// offer hands a closed flow to the emitter without blocking.
func (e *Engine) offer(fs *flowstate.FlowState) {
	if e.queue.Offer(fs) {
		if n := e.queue.Dropped(); n == 1 || n%1000 == 0 {
			log.Printf("Engine: emission queue full, dropped oldest flow (total dropped %d)", n)
		}
	}
}

func (e *Engine) offerAll(flows []*flowstate.FlowState) {
	for _, fs := range flows {
		e.offer(fs)
	}
}

// Flush expires flows against the engine clock immediately instead of waiting
// for the next tick. It returns the number of flows expired.
func (e *Engine) Flush() int {
	return e.scheduler.SweepOnce()
}

// Running reports whether the engine has started and not yet stopped.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Stats returns a snapshot of all engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Running:         e.running.Load(),
		Received:        e.received.Load(),
		UnknownProtocol: e.unknownProtocol.Load(),
		Expired:         e.scheduler.Expired(),
		Table:           e.table.Stats(),
		Emitter:         e.dispatcher.Stats(),
	}
}
