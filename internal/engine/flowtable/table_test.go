package flowtable

import (
	"FlowSpectra/internal/engine/flowkey"
	"FlowSpectra/internal/engine/flowstate"
	"FlowSpectra/internal/model"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1700000000, 0)

func udp(srcPort uint16, ts time.Time, length int) *model.PacketRecord {
	return &model.PacketRecord{
		Timestamp: ts,
		Length:    length,
		Src:       model.Endpoint{Addr: netip.MustParseAddr("192.168.0.1"), Port: srcPort},
		Dst:       model.Endpoint{Addr: netip.MustParseAddr("8.8.8.8"), Port: 53},
		Transport: model.UDPDatagram{},
	}
}

func reply(p *model.PacketRecord, ts time.Time) *model.PacketRecord {
	r := *p
	r.Src, r.Dst = p.Dst, p.Src
	r.Timestamp = ts
	return &r
}

type collector struct {
	mu    sync.Mutex
	flows []*flowstate.FlowState
}

func (c *collector) handoff(fs *flowstate.FlowState) {
	c.mu.Lock()
	c.flows = append(c.flows, fs)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		NumShards:       16,
		MaxLiveFlows:    1000,
		IdleTimeout:     time.Second,
		MaxFlowDuration: time.Minute,
	}
}

func TestIngest_BidirectionalPacketsShareAFlow(t *testing.T) {
	table := New(testConfig(), nil)
	first := udp(5000, epoch, 80)
	require.NoError(t, table.Ingest(first))
	require.NoError(t, table.Ingest(reply(first, epoch.Add(10*time.Millisecond))))
	require.NoError(t, table.Ingest(udp(5000, epoch.Add(20*time.Millisecond), 90)))

	assert.Equal(t, 1, table.Len())
	key, err := flowkey.Resolve(first)
	require.NoError(t, err)
	snap, ok := table.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, uint64(2), snap.FwdPackets)
	assert.Equal(t, uint64(1), snap.BwdPackets)
	assert.Equal(t, first.Src, snap.Forward)
}

func TestIngest_MalformedIsCountedAndSkipped(t *testing.T) {
	table := New(testConfig(), nil)
	bad := udp(5000, epoch, 80)
	bad.Src.Addr = netip.Addr{}

	err := table.Ingest(bad)
	assert.ErrorIs(t, err, model.ErrMalformedPacket)
	assert.Zero(t, table.Len())
	assert.Equal(t, uint64(1), table.Stats().Malformed)
}

func TestIngest_ConcurrentProducers(t *testing.T) {
	table := New(testConfig(), nil)
	const producers, flows, perFlow = 8, 50, 20

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for f := 0; f < flows; f++ {
				port := uint16(10000 + p*flows + f)
				for i := 0; i < perFlow; i++ {
					ts := epoch.Add(time.Duration(i) * time.Millisecond)
					assert.NoError(t, table.Ingest(udp(port, ts, 100)))
				}
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, producers*flows, table.Len())
	drained := table.DrainAll()
	require.Len(t, drained, producers*flows)
	var total uint64
	for _, fs := range drained {
		total += fs.Packets()
		assert.Equal(t, model.EndReasonForcedEnd, fs.EndReason())
	}
	assert.Equal(t, uint64(producers*flows*perFlow), total)
	assert.Zero(t, table.Len())
}

func TestIngest_CeilingEvictsLeastRecentlyUpdated(t *testing.T) {
	var out collector
	cfg := testConfig()
	cfg.MaxLiveFlows = 1
	table := New(cfg, out.handoff)

	first := udp(1111, epoch, 60)
	require.NoError(t, table.Ingest(first))
	require.NoError(t, table.Ingest(udp(2222, epoch.Add(time.Millisecond), 60)))

	require.Len(t, out.flows, 1)
	evicted := out.flows[0]
	firstKey, _ := flowkey.Resolve(first)
	assert.Equal(t, firstKey, evicted.Key())
	assert.Equal(t, model.EndReasonLackOfResources, evicted.EndReason())
	assert.True(t, evicted.EndReason().Partial())
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, uint64(1), table.Stats().Evicted)
}

func TestIngest_EvictionFollowsRecency(t *testing.T) {
	var out collector
	cfg := testConfig()
	cfg.MaxLiveFlows = 2
	table := New(cfg, out.handoff)

	a, b := udp(1000, epoch, 60), udp(2000, epoch.Add(time.Millisecond), 60)
	require.NoError(t, table.Ingest(a))
	require.NoError(t, table.Ingest(b))
	// Touching a makes b the least recently updated.
	require.NoError(t, table.Ingest(udp(1000, epoch.Add(2*time.Millisecond), 60)))
	require.NoError(t, table.Ingest(udp(3000, epoch.Add(3*time.Millisecond), 60)))

	require.Len(t, out.flows, 1)
	bKey, _ := flowkey.Resolve(b)
	assert.Equal(t, bKey, out.flows[0].Key())
}

func TestIngest_TeardownHandsOffFlow(t *testing.T) {
	var out collector
	table := New(testConfig(), out.handoff)
	p := &model.PacketRecord{
		Timestamp: epoch,
		Length:    60,
		Src:       model.Endpoint{Addr: netip.MustParseAddr("10.0.0.1"), Port: 40000},
		Dst:       model.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 22},
		Transport: model.TCPSegment{Flags: model.FlagSYN},
	}
	require.NoError(t, table.Ingest(p))
	rst := reply(p, epoch.Add(time.Millisecond))
	rst.Transport = model.TCPSegment{Flags: model.FlagRST}
	require.NoError(t, table.Ingest(rst))

	require.Len(t, out.flows, 1)
	assert.Equal(t, model.EndReasonEnd, out.flows[0].EndReason())
	assert.Equal(t, uint64(2), out.flows[0].Packets())
	assert.Zero(t, table.Len())

	// The next packet on the same key opens a new instance.
	next := reply(rst, epoch.Add(2*time.Millisecond))
	next.Transport = model.TCPSegment{Flags: model.FlagACK}
	require.NoError(t, table.Ingest(next))
	assert.Equal(t, 1, table.Len())
}

func TestIngest_StaleFlowIsSplit(t *testing.T) {
	var out collector
	table := New(testConfig(), out.handoff)
	require.NoError(t, table.Ingest(udp(5000, epoch, 60)))
	require.NoError(t, table.Ingest(udp(5000, epoch.Add(5*time.Second), 60)))

	require.Len(t, out.flows, 1)
	assert.Equal(t, model.EndReasonIdle, out.flows[0].EndReason())
	assert.Equal(t, uint64(1), out.flows[0].Packets())
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, uint64(1), table.Stats().Stale)
	assert.Equal(t, uint64(2), table.Stats().Created)
}

func TestSweep(t *testing.T) {
	table := New(testConfig(), nil)
	require.NoError(t, table.Ingest(udp(1, epoch, 60)))
	require.NoError(t, table.Ingest(udp(2, epoch.Add(3*time.Second), 60)))

	assert.Empty(t, table.Sweep(epoch.Add(500*time.Millisecond), time.Second, time.Minute))

	expired := table.Sweep(epoch.Add(3500*time.Millisecond), time.Second, time.Minute)
	require.Len(t, expired, 1)
	assert.Equal(t, model.EndReasonIdle, expired[0].EndReason())
	assert.Equal(t, flowstate.StateClosingTimeout, expired[0].State())
	assert.Equal(t, 1, table.Len())

	expired = table.Sweep(epoch.Add(3500*time.Millisecond), time.Hour, 100*time.Millisecond)
	require.Len(t, expired, 1)
	assert.Equal(t, model.EndReasonActive, expired[0].EndReason())
	assert.Zero(t, table.Len())
}

func TestSweepRacingIngest(t *testing.T) {
	table := New(testConfig(), nil)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	var swept []*flowstate.FlowState
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				swept = append(swept, table.Sweep(epoch.Add(time.Hour), time.Second, time.Minute)...)
			}
		}
	}()
	const n = 2000
	for i := 0; i < n; i++ {
		require.NoError(t, table.Ingest(udp(uint16(i%64), epoch.Add(time.Duration(i)*time.Microsecond), 10)))
	}
	close(stop)
	wg.Wait()
	swept = append(swept, table.DrainAll()...)

	var total uint64
	for _, fs := range swept {
		total += fs.Packets()
	}
	assert.Equal(t, uint64(n), total, fmt.Sprintf("%d flows", len(swept)))
}
