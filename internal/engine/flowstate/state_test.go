package flowstate

import (
	"FlowSpectra/internal/engine/flowkey"
	"FlowSpectra/internal/model"
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	client = model.Endpoint{Addr: netip.MustParseAddr("192.168.0.10"), Port: 51000}
	server = model.Endpoint{Addr: netip.MustParseAddr("93.184.216.34"), Port: 443}
	epoch  = time.Unix(1700000000, 0)
)

func at(sec float64) time.Time {
	return epoch.Add(time.Duration(math.Round(sec * float64(time.Second))))
}

func tcpPacket(sec float64, length int, dir model.Direction, flags model.TCPFlags) *model.PacketRecord {
	src, dst := client, server
	if dir == model.Backward {
		src, dst = server, client
	}
	return &model.PacketRecord{
		Timestamp: at(sec),
		Length:    length,
		Src:       src,
		Dst:       dst,
		Transport: model.TCPSegment{Flags: flags},
	}
}

func newFlow(t *testing.T, first *model.PacketRecord, activity time.Duration) *FlowState {
	t.Helper()
	key, err := flowkey.Resolve(first)
	require.NoError(t, err)
	return New(key, first, activity)
}

func feed(t *testing.T, fs *FlowState, pkts ...*model.PacketRecord) {
	t.Helper()
	for _, p := range pkts {
		_, _, err := fs.Accumulate(p, flowkey.DirectionOf(p, fs.Forward()))
		require.NoError(t, err)
	}
}

func TestRunningStats_MatchesDirectComputation(t *testing.T) {
	samples := []float64{100, 200, 150, 1500, 40, 40, 60}
	var s RunningStats
	for _, x := range samples {
		s.Add(x)
	}

	var sum float64
	for _, x := range samples {
		sum += x
	}
	mean := sum / float64(len(samples))
	var sq float64
	for _, x := range samples {
		sq += (x - mean) * (x - mean)
	}
	variance := sq / float64(len(samples))

	assert.Equal(t, uint64(len(samples)), s.Count())
	assert.InDelta(t, sum, s.Sum(), 1e-9)
	assert.InDelta(t, mean, s.Mean(), 1e-9)
	assert.InDelta(t, variance, s.Variance(), 1e-9)
	assert.InDelta(t, math.Sqrt(variance), s.Std(), 1e-9)
	assert.Equal(t, 40.0, s.Min())
	assert.Equal(t, 1500.0, s.Max())
}

func TestRunningStats_EmptyIsZero(t *testing.T) {
	var s RunningStats
	assert.Zero(t, s.Mean())
	assert.Zero(t, s.Variance())
	assert.Zero(t, s.Std())
	assert.Zero(t, s.Min())
	assert.Zero(t, s.Max())
	assert.False(t, math.IsNaN(s.Std()))
}

func TestAccumulate_ThreePacketScenario(t *testing.T) {
	first := tcpPacket(0.0, 100, model.Forward, model.FlagACK)
	fs := newFlow(t, first, time.Second)
	feed(t, fs,
		first,
		tcpPacket(0.1, 200, model.Backward, model.FlagACK),
		tcpPacket(0.2, 150, model.Forward, model.FlagACK|model.FlagPSH),
	)
	require.True(t, fs.Close(model.EndReasonIdle))

	snap := fs.Snapshot()
	assert.Equal(t, uint64(2), snap.FwdPackets)
	assert.Equal(t, uint64(1), snap.BwdPackets)
	assert.Equal(t, uint64(250), snap.FwdBytes)
	assert.Equal(t, uint64(200), snap.BwdBytes)
	assert.InDelta(t, 0.2, snap.LastSeen.Sub(snap.FirstSeen).Seconds(), 1e-9)

	assert.Equal(t, uint64(2), snap.FlowIAT.Count())
	assert.InDelta(t, 0.1, snap.FlowIAT.Mean(), 1e-9)
	assert.Equal(t, uint64(1), snap.FwdIAT.Count())
	assert.InDelta(t, 0.2, snap.FwdIAT.Sum(), 1e-9)
	assert.Zero(t, snap.BwdIAT.Count())

	assert.Equal(t, uint64(1), snap.Active.Count())
	assert.InDelta(t, 0.2, snap.Active.Mean(), 1e-9)
	assert.Zero(t, snap.Idle.Count())

	assert.Equal(t, uint64(3), snap.Flags.ACK)
	assert.Equal(t, uint64(1), snap.Flags.PSH)
	assert.Equal(t, uint64(1), snap.FwdPSH)
	assert.Equal(t, StateClosingTimeout, snap.State)
}

func TestAccumulate_ActiveIdleSegmentation(t *testing.T) {
	first := tcpPacket(0, 60, model.Forward, 0)
	fs := newFlow(t, first, time.Second)
	feed(t, fs,
		first,
		tcpPacket(0.5, 60, model.Backward, 0),
		tcpPacket(3.0, 60, model.Forward, 0), // idle gap of 2.5s
		tcpPacket(3.2, 60, model.Forward, 0),
		tcpPacket(10.2, 60, model.Backward, 0), // idle gap of 7s
	)
	fs.Close(model.EndReasonIdle)
	snap := fs.Snapshot()

	assert.Equal(t, uint64(3), snap.Active.Count())
	assert.Equal(t, uint64(2), snap.Idle.Count())
	assert.InDelta(t, 0.5, snap.Active.Max(), 1e-9)
	assert.InDelta(t, 0, snap.Active.Min(), 1e-9)
	assert.InDelta(t, 7.0, snap.Idle.Max(), 1e-9)
	assert.InDelta(t, 2.5, snap.Idle.Min(), 1e-9)

	total := snap.Active.Sum() + snap.Idle.Sum()
	assert.InDelta(t, snap.LastSeen.Sub(snap.FirstSeen).Seconds(), total, 1e-9)
}

func TestAccumulate_OutOfOrderPacket(t *testing.T) {
	first := tcpPacket(1.0, 100, model.Forward, 0)
	fs := newFlow(t, first, time.Second)
	feed(t, fs, first, tcpPacket(1.5, 100, model.Forward, 0))

	late := tcpPacket(1.2, 80, model.Forward, 0)
	_, outOfOrder, err := fs.Accumulate(late, model.Forward)
	require.NoError(t, err)
	assert.True(t, outOfOrder)

	snap := fs.Snapshot()
	assert.Equal(t, uint64(3), snap.FwdPackets)
	assert.Equal(t, uint64(280), snap.FwdBytes)
	assert.Equal(t, uint64(1), snap.OutOfOrder)
	assert.Equal(t, at(1.5), snap.LastSeen)
	assert.Zero(t, snap.FlowIAT.Min())
	assert.True(t, snap.FlowIAT.Min() >= 0)
	assert.True(t, snap.FwdIAT.Min() >= 0)
}

func TestAccumulate_TeardownByFinHandshake(t *testing.T) {
	first := tcpPacket(0, 60, model.Forward, model.FlagSYN)
	fs := newFlow(t, first, time.Second)
	feed(t, fs,
		first,
		tcpPacket(0.01, 60, model.Backward, model.FlagSYN|model.FlagACK),
		tcpPacket(0.02, 60, model.Forward, model.FlagACK),
		tcpPacket(0.03, 60, model.Forward, model.FlagFIN|model.FlagACK),
		tcpPacket(0.04, 60, model.Backward, model.FlagFIN|model.FlagACK),
	)
	assert.Equal(t, StateActive, fs.State())

	closed, _, err := fs.Accumulate(tcpPacket(0.05, 60, model.Forward, model.FlagACK), model.Forward)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, StateClosingTeardown, fs.State())
	assert.Equal(t, model.EndReasonEnd, fs.EndReason())
	assert.Equal(t, uint64(6), fs.Packets())
}

func TestAccumulate_TeardownByReset(t *testing.T) {
	first := tcpPacket(0, 60, model.Forward, model.FlagSYN)
	fs := newFlow(t, first, time.Second)
	feed(t, fs, first)

	closed, _, err := fs.Accumulate(tcpPacket(0.1, 40, model.Backward, model.FlagRST), model.Backward)
	require.NoError(t, err)
	assert.True(t, closed)

	_, _, err = fs.Accumulate(tcpPacket(0.2, 40, model.Forward, model.FlagACK), model.Forward)
	assert.ErrorIs(t, err, model.ErrFlowClosed)
	assert.Equal(t, uint64(2), fs.Packets())
}

func TestAccumulate_UDPIgnoresFlags(t *testing.T) {
	first := &model.PacketRecord{
		Timestamp: epoch,
		Length:    120,
		Src:       client,
		Dst:       server,
		Transport: model.UDPDatagram{},
	}
	fs := newFlow(t, first, time.Second)
	feed(t, fs, first)
	assert.Equal(t, FlagCounts{}, fs.Snapshot().Flags)
}

func TestAccumulate_InitialWindowCapturedOnce(t *testing.T) {
	first := tcpPacket(0, 60, model.Forward, model.FlagSYN)
	first.Transport = model.TCPSegment{Flags: model.FlagSYN, Window: 64240, HasWindow: true}
	fs := newFlow(t, first, time.Second)
	second := tcpPacket(0.1, 60, model.Forward, model.FlagACK)
	second.Transport = model.TCPSegment{Flags: model.FlagACK, Window: 502, HasWindow: true}
	reply := tcpPacket(0.05, 60, model.Backward, model.FlagSYN|model.FlagACK)
	reply.Transport = model.TCPSegment{Flags: model.FlagSYN | model.FlagACK, Window: 65160, HasWindow: true}
	feed(t, fs, first, reply, second)

	snap := fs.Snapshot()
	assert.Equal(t, uint16(64240), snap.InitFwdWindow)
	assert.Equal(t, uint16(65160), snap.InitBwdWindow)
}

func TestExpired(t *testing.T) {
	first := tcpPacket(0, 60, model.Forward, 0)
	fs := newFlow(t, first, time.Second)
	feed(t, fs, first, tcpPacket(5, 60, model.Forward, 0))

	_, ok := fs.Expired(at(5.5), time.Second, time.Minute)
	assert.False(t, ok)

	reason, ok := fs.Expired(at(7), time.Second, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, model.EndReasonIdle, reason)

	reason, ok = fs.Expired(at(5.5), time.Second, 5*time.Second)
	assert.True(t, ok)
	assert.Equal(t, model.EndReasonActive, reason)
}

func TestStateMachine(t *testing.T) {
	first := tcpPacket(0, 60, model.Forward, 0)
	fs := newFlow(t, first, time.Second)
	assert.Equal(t, StateNew, fs.State())
	assert.Error(t, fs.MarkEmitted())

	feed(t, fs, first)
	assert.Equal(t, StateActive, fs.State())

	assert.True(t, fs.Close(model.EndReasonActive))
	assert.Equal(t, StateClosingMaxAge, fs.State())
	assert.False(t, fs.Close(model.EndReasonIdle))

	require.NoError(t, fs.MarkEmitted())
	assert.Equal(t, StateEmitted, fs.State())
	assert.Error(t, fs.MarkEmitted())
}
