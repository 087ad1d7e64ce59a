// Package flowtable is the concurrent keyed store of live flows.
package flowtable

import (
	"FlowSpectra/internal/engine/flowkey"
	"FlowSpectra/internal/engine/flowstate"
	"FlowSpectra/internal/model"
	"container/list"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const defaultShardCount = 256

// Config bounds the table and the lifetime of the flows it holds.
type Config struct {
	NumShards       int
	MaxLiveFlows    int
	IdleTimeout     time.Duration
	MaxFlowDuration time.Duration
	// ActivityTimeout separates active bursts from idle gaps inside a flow.
	ActivityTimeout time.Duration
}

// Handoff receives flows that leave the table during Ingest: completed TCP
// teardowns, stale instances replaced by a new one and evicted flows. It is
// called without any table lock held.
type Handoff func(fs *flowstate.FlowState)

type entry struct {
	flow *flowstate.FlowState
	elem *list.Element
	tick uint64
}

// Shard is a part of the table with its own map, recency list and mutex.
// The list runs from least to most recently updated.
type Shard struct {
	flows map[model.FlowKey]*entry
	lru   *list.List
	mu    sync.Mutex
}

// Stats are cumulative table counters.
type Stats struct {
	Live       int64
	Created    uint64
	Evicted    uint64
	Stale      uint64
	Teardowns  uint64
	Malformed  uint64
	OutOfOrder uint64
}

// Table maps canonical flow keys to live FlowStates. Unrelated keys lock
// independently; admission of new keys is serialized so the live-flow ceiling
// holds exactly.
type Table struct {
	cfg        Config
	shards     []*Shard
	shardCount uint32
	handoff    Handoff

	// admitMu is always taken before any shard lock.
	admitMu sync.Mutex
	tick    atomic.Uint64
	live    atomic.Int64

	created    atomic.Uint64
	evicted    atomic.Uint64
	stale      atomic.Uint64
	teardowns  atomic.Uint64
	malformed  atomic.Uint64
	outOfOrder atomic.Uint64
}

// New creates a sharded table. A nil handoff discards flows closed on ingest.
func New(cfg Config, handoff Handoff) *Table {
	if cfg.NumShards <= 0 {
		cfg.NumShards = defaultShardCount
	}
	if cfg.MaxLiveFlows <= 0 {
		cfg.MaxLiveFlows = math.MaxInt
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Second
	}
	if cfg.MaxFlowDuration <= 0 {
		cfg.MaxFlowDuration = time.Duration(math.MaxInt64)
	}
	if cfg.ActivityTimeout <= 0 {
		cfg.ActivityTimeout = cfg.IdleTimeout
	}
	if handoff == nil {
		handoff = func(*flowstate.FlowState) {}
	}
	t := &Table{
		cfg:        cfg,
		shards:     make([]*Shard, cfg.NumShards),
		shardCount: uint32(cfg.NumShards),
		handoff:    handoff,
	}
	for i := range t.shards {
		t.shards[i] = &Shard{
			flows: make(map[model.FlowKey]*entry),
			lru:   list.New(),
		}
	}
	return t
}

func (t *Table) getShard(key model.FlowKey) *Shard {
	return t.shards[flowkey.Hash(key)%t.shardCount]
}

// Ingest routes one packet to its flow, creating the flow if the key is new.
// Malformed records are counted and returned as errors wrapping
// model.ErrMalformedPacket; the table is left untouched.
func (t *Table) Ingest(pkt *model.PacketRecord) error {
	key, err := flowkey.Resolve(pkt)
	if err != nil {
		t.malformed.Add(1)
		return err
	}
	shard := t.getShard(key)

	var out []*flowstate.FlowState
	shard.mu.Lock()
	handled, err := t.updateLocked(shard, key, pkt, &out)
	shard.mu.Unlock()
	if !handled {
		err = t.admit(shard, key, pkt, &out)
	}
	for _, fs := range out {
		t.handoff(fs)
	}
	return err
}

// admit inserts a new flow for key, evicting the least recently updated flows
// first if the table is full.
func (t *Table) admit(shard *Shard, key model.FlowKey, pkt *model.PacketRecord, out *[]*flowstate.FlowState) error {
	t.admitMu.Lock()
	defer t.admitMu.Unlock()

	for t.live.Load() >= int64(t.cfg.MaxLiveFlows) {
		victim := t.evictOldest()
		if victim == nil {
			break
		}
		*out = append(*out, victim)
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	// Another producer may have admitted the same key while we waited.
	if handled, err := t.updateLocked(shard, key, pkt, out); handled {
		return err
	}

	e := &entry{flow: flowstate.New(key, pkt, t.cfg.ActivityTimeout)}
	e.elem = shard.lru.PushBack(e)
	shard.flows[key] = e
	t.live.Add(1)
	t.created.Add(1)
	return t.accumulateLocked(shard, e, pkt, out)
}

// updateLocked feeds pkt to the existing flow for key. A flow that is already
// stale at the packet's timestamp is closed and the packet is left for a new
// instance. It reports whether the packet was consumed.
func (t *Table) updateLocked(shard *Shard, key model.FlowKey, pkt *model.PacketRecord, out *[]*flowstate.FlowState) (bool, error) {
	e, ok := shard.flows[key]
	if !ok {
		return false, nil
	}
	if reason, expired := e.flow.Expired(pkt.Timestamp, t.cfg.IdleTimeout, t.cfg.MaxFlowDuration); expired {
		e.flow.Close(reason)
		t.removeLocked(shard, e)
		t.stale.Add(1)
		*out = append(*out, e.flow)
		return false, nil
	}
	return true, t.accumulateLocked(shard, e, pkt, out)
}

func (t *Table) accumulateLocked(shard *Shard, e *entry, pkt *model.PacketRecord, out *[]*flowstate.FlowState) error {
	closed, outOfOrder, err := e.flow.Accumulate(pkt, flowkey.DirectionOf(pkt, e.flow.Forward()))
	if outOfOrder {
		t.outOfOrder.Add(1)
	}
	if err != nil {
		return err
	}
	if closed {
		t.removeLocked(shard, e)
		t.teardowns.Add(1)
		*out = append(*out, e.flow)
		return nil
	}
	e.tick = t.tick.Add(1)
	shard.lru.MoveToBack(e.elem)
	return nil
}

func (t *Table) removeLocked(shard *Shard, e *entry) {
	shard.lru.Remove(e.elem)
	delete(shard.flows, e.flow.Key())
	t.live.Add(-1)
}

// evictOldest closes and removes the least recently updated flow across all
// shards. Must be called with admitMu held.
func (t *Table) evictOldest() *flowstate.FlowState {
	var victim *Shard
	oldest := uint64(math.MaxUint64)
	for _, shard := range t.shards {
		shard.mu.Lock()
		if front := shard.lru.Front(); front != nil {
			if e := front.Value.(*entry); e.tick < oldest {
				oldest, victim = e.tick, shard
			}
		}
		shard.mu.Unlock()
	}
	if victim == nil {
		return nil
	}

	victim.mu.Lock()
	defer victim.mu.Unlock()
	front := victim.lru.Front()
	if front == nil {
		return nil
	}
	e := front.Value.(*entry)
	e.flow.Close(model.EndReasonLackOfResources)
	t.removeLocked(victim, e)
	t.evicted.Add(1)
	return e.flow
}

// Sweep removes and returns every flow whose last packet is older than idle
// or whose age exceeds maxDuration at now. Each flow is closed under its
// shard lock, so a concurrent Ingest either lands before the close or opens a
// new instance.
func (t *Table) Sweep(now time.Time, idle, maxDuration time.Duration) []*flowstate.FlowState {
	var expired []*flowstate.FlowState
	for _, shard := range t.shards {
		shard.mu.Lock()
		for _, e := range shard.flows {
			if reason, ok := e.flow.Expired(now, idle, maxDuration); ok {
				e.flow.Close(reason)
				t.removeLocked(shard, e)
				expired = append(expired, e.flow)
			}
		}
		shard.mu.Unlock()
	}
	return expired
}

// DrainAll closes and returns every remaining flow. Used on shutdown.
func (t *Table) DrainAll() []*flowstate.FlowState {
	t.admitMu.Lock()
	defer t.admitMu.Unlock()

	var drained []*flowstate.FlowState
	for _, shard := range t.shards {
		shard.mu.Lock()
		for _, e := range shard.flows {
			e.flow.Close(model.EndReasonForcedEnd)
			t.removeLocked(shard, e)
			drained = append(drained, e.flow)
		}
		shard.mu.Unlock()
	}
	return drained
}

// Len returns the number of live flows.
func (t *Table) Len() int {
	return int(t.live.Load())
}

// Lookup returns a snapshot of the live flow for key.
func (t *Table) Lookup(key model.FlowKey) (flowstate.Snapshot, bool) {
	shard := t.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if e, ok := shard.flows[key]; ok {
		return e.flow.Snapshot(), true
	}
	return flowstate.Snapshot{}, false
}

// Stats returns a copy of the table counters.
func (t *Table) Stats() Stats {
	return Stats{
		Live:       t.live.Load(),
		Created:    t.created.Load(),
		Evicted:    t.evicted.Load(),
		Stale:      t.stale.Load(),
		Teardowns:  t.teardowns.Load(),
		Malformed:  t.malformed.Load(),
		OutOfOrder: t.outOfOrder.Load(),
	}
}
