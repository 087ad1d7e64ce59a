package emitter

import (
	"FlowSpectra/internal/engine/features"
	"FlowSpectra/internal/engine/flowkey"
	"FlowSpectra/internal/engine/flowstate"
	"FlowSpectra/internal/model"
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	name    string
	fail    bool
	mu      sync.Mutex
	batches [][]*model.FeatureVector
	closed  bool
}

func (m *memorySink) Name() string { return m.name }

func (m *memorySink) Write(_ context.Context, batch []*model.FeatureVector) error {
	if m.fail {
		return errors.New("sink unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func (m *memorySink) vectors() []*model.FeatureVector {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.FeatureVector
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func closedFlow(t *testing.T, port uint16, reason model.EndReason) *flowstate.FlowState {
	t.Helper()
	pkt := &model.PacketRecord{
		Timestamp: time.Unix(1700000000, 0),
		Length:    100,
		Src:       model.Endpoint{Addr: netip.MustParseAddr("10.1.1.1"), Port: port},
		Dst:       model.Endpoint{Addr: netip.MustParseAddr("10.1.1.2"), Port: 443},
		Transport: model.UDPDatagram{},
	}
	key, err := flowkey.Resolve(pkt)
	require.NoError(t, err)
	fs := flowstate.New(key, pkt, time.Second)
	_, _, err = fs.Accumulate(pkt, model.Forward)
	require.NoError(t, err)
	require.True(t, fs.Close(reason))
	return fs
}

func TestQueue_OfferDropsOldest(t *testing.T) {
	q := NewQueue[int](3)
	for i := 1; i <= 3; i++ {
		assert.False(t, q.Offer(i))
	}
	assert.True(t, q.Offer(4))
	assert.True(t, q.Offer(5))
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, 3, q.Len())

	q.Close()
	var got []int
	for v := range q.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)
}

func TestQueue_PutHonoursContext(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.Put(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Put(ctx, 2), context.DeadlineExceeded)
	assert.Zero(t, q.Dropped())
}

func TestDispatcher_BatchesAndDrainsOnClose(t *testing.T) {
	q := NewQueue[*flowstate.FlowState](16)
	sink := &memorySink{name: "memory"}
	d := NewDispatcher(q, []model.Sink{sink}, 2, time.Hour)
	d.Start()

	flows := []*flowstate.FlowState{
		closedFlow(t, 1, model.EndReasonIdle),
		closedFlow(t, 2, model.EndReasonEnd),
		closedFlow(t, 3, model.EndReasonForcedEnd),
	}
	for _, fs := range flows {
		q.Offer(fs)
	}
	q.Close()
	d.Wait()

	vectors := sink.vectors()
	require.Len(t, vectors, 3)
	assert.Len(t, sink.batches, 2)
	assert.True(t, sink.closed)
	for _, v := range vectors {
		assert.Len(t, v.Values, features.NumFields)
	}
	for _, fs := range flows {
		assert.Equal(t, flowstate.StateEmitted, fs.State())
	}

	st := d.Stats()
	assert.Equal(t, uint64(3), st.Emitted)
	assert.Equal(t, uint64(1), st.Partial)
	assert.Equal(t, uint64(2), st.Batches)
}

func TestDispatcher_FlushIntervalWritesPartialBatch(t *testing.T) {
	q := NewQueue[*flowstate.FlowState](16)
	sink := &memorySink{name: "memory"}
	d := NewDispatcher(q, []model.Sink{sink}, 100, 10*time.Millisecond)
	d.Start()
	defer func() {
		q.Close()
		d.Wait()
	}()

	q.Offer(closedFlow(t, 1, model.EndReasonIdle))
	assert.Eventually(t, func() bool { return len(sink.vectors()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_SinkErrorsAreCounted(t *testing.T) {
	q := NewQueue[*flowstate.FlowState](4)
	good := &memorySink{name: "good"}
	bad := &memorySink{name: "bad", fail: true}
	d := NewDispatcher(q, []model.Sink{good, bad}, 1, time.Hour)
	d.Start()

	q.Offer(closedFlow(t, 1, model.EndReasonIdle))
	q.Close()
	d.Wait()

	assert.Len(t, good.vectors(), 1)
	st := d.Stats()
	assert.Equal(t, uint64(1), st.SinkErrors["bad"])
	assert.Zero(t, st.SinkErrors["good"])
}
