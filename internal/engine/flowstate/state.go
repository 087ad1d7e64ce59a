// Package flowstate holds the bounded-memory accumulator for a single flow.
//
// A FlowState is created by the flow table on the first packet of a new key
// and moves through NEW -> ACTIVE -> CLOSING_* -> EMITTED. Packets are only
// accepted in NEW and ACTIVE. All statistics are running moments, so memory
// per flow is constant regardless of how many packets it carries.
package flowstate

import (
	"FlowSpectra/internal/engine/flowkey"
	"FlowSpectra/internal/model"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a flow.
type State uint8

const (
	StateNew State = iota
	StateActive
	StateClosingTimeout
	StateClosingTeardown
	StateClosingMaxAge
	StateClosingForced
	StateEmitted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateActive:
		return "ACTIVE"
	case StateClosingTimeout:
		return "CLOSING_TIMEOUT"
	case StateClosingTeardown:
		return "CLOSING_TEARDOWN"
	case StateClosingMaxAge:
		return "CLOSING_MAXAGE"
	case StateClosingForced:
		return "CLOSING_FORCED"
	case StateEmitted:
		return "EMITTED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Accepting reports whether packets may still be accumulated.
func (s State) Accepting() bool { return s == StateNew || s == StateActive }

// Closing reports whether the flow is waiting for emission.
func (s State) Closing() bool { return s >= StateClosingTimeout && s <= StateClosingForced }

func closingState(reason model.EndReason) State {
	switch reason {
	case model.EndReasonIdle:
		return StateClosingTimeout
	case model.EndReasonActive:
		return StateClosingMaxAge
	case model.EndReasonEnd:
		return StateClosingTeardown
	default:
		return StateClosingForced
	}
}

// FlagCounts counts TCP control bits over the whole flow.
type FlagCounts struct {
	FIN, SYN, RST, PSH, ACK, URG, ECE uint64
}

// Snapshot is an immutable copy of everything the feature computer needs.
type Snapshot struct {
	ID        uuid.UUID
	Key       model.FlowKey
	Forward   model.Endpoint
	Backward  model.Endpoint
	Proto     uint8
	State     State
	EndReason model.EndReason
	FirstSeen time.Time
	LastSeen  time.Time

	PktLen    RunningStats
	FwdPktLen RunningStats
	BwdPktLen RunningStats
	FlowIAT   RunningStats
	FwdIAT    RunningStats
	BwdIAT    RunningStats
	Active    RunningStats
	Idle      RunningStats

	FwdPackets     uint64
	BwdPackets     uint64
	FwdBytes       uint64
	BwdBytes       uint64
	FwdHeaderBytes uint64
	BwdHeaderBytes uint64
	FwdDataPackets uint64

	Flags         FlagCounts
	FwdPSH        uint64
	InitFwdWindow uint16
	InitBwdWindow uint16
	OutOfOrder    uint64
}

// FlowState accumulates one flow. It is not safe for concurrent use; the flow
// table serializes access through the shard lock that owns the key.
type FlowState struct {
	data            Snapshot
	activityTimeout time.Duration

	lastDir    [2]time.Time
	seenDir    [2]bool
	winSeen    [2]bool
	burstStart time.Time
	burstLast  time.Time
	finSeen    [2]bool
}

// New creates a flow in state NEW. The source endpoint of first becomes the
// forward endpoint for the flow's lifetime. activityTimeout separates active
// bursts from idle gaps.
func New(key model.FlowKey, first *model.PacketRecord, activityTimeout time.Duration) *FlowState {
	return &FlowState{
		data: Snapshot{
			ID:       uuid.New(),
			Key:      key,
			Forward:  flowkey.Normalize(first.Src),
			Backward: flowkey.Normalize(first.Dst),
			Proto:    key.Proto,
			State:    StateNew,
		},
		activityTimeout: activityTimeout,
	}
}

func (s *FlowState) ID() uuid.UUID              { return s.data.ID }
func (s *FlowState) Key() model.FlowKey         { return s.data.Key }
func (s *FlowState) Forward() model.Endpoint    { return s.data.Forward }
func (s *FlowState) State() State               { return s.data.State }
func (s *FlowState) EndReason() model.EndReason { return s.data.EndReason }
func (s *FlowState) FirstSeen() time.Time       { return s.data.FirstSeen }
func (s *FlowState) LastSeen() time.Time        { return s.data.LastSeen }

// Packets returns the number of packets accumulated so far.
func (s *FlowState) Packets() uint64 { return s.data.FwdPackets + s.data.BwdPackets }

// Snapshot returns a copy of the current statistics.
func (s *FlowState) Snapshot() Snapshot { return s.data }

// Accumulate folds one packet into the flow. It reports whether the packet
// completed a TCP teardown, in which case the flow is already CLOSING_TEARDOWN,
// and whether its timestamp preceded the flow's last_seen.
func (s *FlowState) Accumulate(pkt *model.PacketRecord, dir model.Direction) (closed, outOfOrder bool, err error) {
	if !s.data.State.Accepting() {
		return false, false, fmt.Errorf("%w: flow %s is %s", model.ErrFlowClosed, s.data.ID, s.data.State)
	}
	ts := pkt.Timestamp
	first := s.data.State == StateNew

	var gap time.Duration
	if first {
		s.data.FirstSeen, s.data.LastSeen = ts, ts
		s.burstStart, s.burstLast = ts, ts
		s.data.State = StateActive
	} else {
		if ts.Before(s.data.LastSeen) {
			outOfOrder = true
			s.data.OutOfOrder++
		} else {
			gap = ts.Sub(s.data.LastSeen)
			s.data.LastSeen = ts
		}
		s.data.FlowIAT.Add(gap.Seconds())
	}

	length := float64(pkt.Length)
	s.data.PktLen.Add(length)

	d := int(dir)
	if dir == model.Forward {
		s.data.FwdPackets++
		s.data.FwdBytes += uint64(pkt.Length)
		s.data.FwdHeaderBytes += uint64(pkt.HeaderLen)
		s.data.FwdPktLen.Add(length)
		if pkt.PayloadLen > 0 {
			s.data.FwdDataPackets++
		}
	} else {
		s.data.BwdPackets++
		s.data.BwdBytes += uint64(pkt.Length)
		s.data.BwdHeaderBytes += uint64(pkt.HeaderLen)
		s.data.BwdPktLen.Add(length)
	}

	// Per-direction IAT is the gap to the previous packet of the same direction.
	if s.seenDir[d] {
		var dirGap time.Duration
		if ts.After(s.lastDir[d]) {
			dirGap = ts.Sub(s.lastDir[d])
			s.lastDir[d] = ts
		}
		if dir == model.Forward {
			s.data.FwdIAT.Add(dirGap.Seconds())
		} else {
			s.data.BwdIAT.Add(dirGap.Seconds())
		}
	} else {
		s.seenDir[d] = true
		s.lastDir[d] = ts
	}

	if !first && !outOfOrder {
		if gap > s.activityTimeout {
			s.data.Active.Add(s.burstLast.Sub(s.burstStart).Seconds())
			s.data.Idle.Add(gap.Seconds())
			s.burstStart = ts
		}
		s.burstLast = ts
	}

	if tcp, ok := pkt.Transport.(model.TCPSegment); ok {
		s.countFlags(tcp, dir)
		if tcp.HasWindow && !s.winSeen[d] {
			s.winSeen[d] = true
			if dir == model.Forward {
				s.data.InitFwdWindow = tcp.Window
			} else {
				s.data.InitBwdWindow = tcp.Window
			}
		}
		closed = s.observeTeardown(tcp.Flags, d)
	}
	return closed, outOfOrder, nil
}

func (s *FlowState) countFlags(tcp model.TCPSegment, dir model.Direction) {
	f := &s.data.Flags
	if tcp.Flags.Has(model.FlagFIN) {
		f.FIN++
	}
	if tcp.Flags.Has(model.FlagSYN) {
		f.SYN++
	}
	if tcp.Flags.Has(model.FlagRST) {
		f.RST++
	}
	if tcp.Flags.Has(model.FlagPSH) {
		f.PSH++
		if dir == model.Forward {
			s.data.FwdPSH++
		}
	}
	if tcp.Flags.Has(model.FlagACK) {
		f.ACK++
	}
	if tcp.Flags.Has(model.FlagURG) {
		f.URG++
	}
	if tcp.Flags.Has(model.FlagECE) {
		f.ECE++
	}
}

// observeTeardown closes the flow on RST, or on the first ACK without FIN once
// both sides have sent FIN.
func (s *FlowState) observeTeardown(flags model.TCPFlags, d int) bool {
	switch {
	case flags.Has(model.FlagRST):
	case flags.Has(model.FlagFIN):
		s.finSeen[d] = true
		return false
	case s.finSeen[0] && s.finSeen[1] && flags.Has(model.FlagACK):
	default:
		return false
	}
	return s.Close(model.EndReasonEnd)
}

// Expired reports whether the flow has outlived idle or maxAge at now, and why.
func (s *FlowState) Expired(now time.Time, idle, maxAge time.Duration) (model.EndReason, bool) {
	if s.data.State == StateNew {
		return model.EndReasonNone, false
	}
	if now.Sub(s.data.LastSeen) > idle {
		return model.EndReasonIdle, true
	}
	if now.Sub(s.data.FirstSeen) > maxAge {
		return model.EndReasonActive, true
	}
	return model.EndReasonNone, false
}

// Close moves an accepting flow into the closing state matching reason and
// records the burst that was still open. It returns false if the flow was
// already closed.
func (s *FlowState) Close(reason model.EndReason) bool {
	if !s.data.State.Accepting() {
		return false
	}
	if s.data.State == StateActive {
		s.data.Active.Add(s.burstLast.Sub(s.burstStart).Seconds())
	}
	s.data.State = closingState(reason)
	s.data.EndReason = reason
	return true
}

// MarkEmitted is the terminal transition, taken once the feature vector exists.
func (s *FlowState) MarkEmitted() error {
	if !s.data.State.Closing() {
		return fmt.Errorf("flow %s cannot be emitted from %s", s.data.ID, s.data.State)
	}
	s.data.State = StateEmitted
	return nil
}
