package model

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// Protocol is the transport protocol tag of a packet.
type Protocol uint8

const (
	ProtocolOther Protocol = iota
	ProtocolTCP
	ProtocolUDP
)

// IANA protocol numbers used on the wire and in the feature vector.
const (
	IPProtoTCP uint8 = 6
	IPProtoUDP uint8 = 17
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return "OTHER"
	}
}

// TCPFlags is the set of TCP control bits tracked by the engine.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
)

// Has reports whether every bit of f is set.
func (t TCPFlags) Has(f TCPFlags) bool { return t&f == f }

// Transport is the transport-layer variant of a packet. It is resolved once
// when the record is built, so consumers switch on the concrete type instead
// of probing for optional fields.
type Transport interface {
	Protocol() Protocol
	Number() uint8
}

// TCPSegment carries the TCP header fields the engine uses.
type TCPSegment struct {
	Flags     TCPFlags
	Window    uint16
	HasWindow bool
}

func (TCPSegment) Protocol() Protocol { return ProtocolTCP }
func (TCPSegment) Number() uint8      { return IPProtoTCP }

// UDPDatagram marks a UDP packet.
type UDPDatagram struct{}

func (UDPDatagram) Protocol() Protocol { return ProtocolUDP }
func (UDPDatagram) Number() uint8      { return IPProtoUDP }

// OtherTransport is any IP protocol other than TCP and UDP.
type OtherTransport struct {
	Proto uint8
}

func (OtherTransport) Protocol() Protocol { return ProtocolOther }
func (o OtherTransport) Number() uint8    { return o.Proto }

// Endpoint is one side of a conversation.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func (e Endpoint) String() string {
	return netip.AddrPortFrom(e.Addr, e.Port).String()
}

// Compare orders endpoints by address, then port.
func (e Endpoint) Compare(o Endpoint) int {
	if c := e.Addr.Compare(o.Addr); c != 0 {
		return c
	}
	switch {
	case e.Port < o.Port:
		return -1
	case e.Port > o.Port:
		return 1
	}
	return 0
}

// PacketRecord is the normalized packet handed over by a capture feed.
type PacketRecord struct {
	Timestamp time.Time
	Length    int
	Src       Endpoint
	Dst       Endpoint
	Transport Transport
	// HeaderLen and PayloadLen are 0 when the capture feed cannot observe them.
	HeaderLen  int
	PayloadLen int
}

// Protocol returns the protocol tag, OTHER when the transport is unset.
func (p *PacketRecord) Protocol() Protocol {
	if p.Transport == nil {
		return ProtocolOther
	}
	return p.Transport.Protocol()
}

// Validate rejects records that cannot be attributed to a flow.
func (p *PacketRecord) Validate() error {
	switch {
	case !p.Src.Addr.IsValid():
		return fmt.Errorf("%w: missing source address", ErrMalformedPacket)
	case !p.Dst.Addr.IsValid():
		return fmt.Errorf("%w: missing destination address", ErrMalformedPacket)
	case p.Length < 0:
		return fmt.Errorf("%w: negative length %d", ErrMalformedPacket, p.Length)
	case p.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrMalformedPacket)
	}
	return nil
}

// Direction of a packet relative to the first packet of its flow.
type Direction uint8

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// FlowKey is the direction-agnostic identity of a flow. Lo sorts before Hi.
type FlowKey struct {
	Lo    Endpoint
	Hi    Endpoint
	Proto uint8
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s-%s-%d", k.Lo, k.Hi, k.Proto)
}

// EndReason records why a flow left the table.
type EndReason uint8

const (
	EndReasonNone EndReason = iota
	EndReasonIdle
	EndReasonActive
	EndReasonEnd
	EndReasonForcedEnd
	EndReasonLackOfResources
)

func (r EndReason) String() string {
	switch r {
	case EndReasonIdle:
		return "IdleTimeout"
	case EndReasonActive:
		return "ActiveTimeout"
	case EndReasonEnd:
		return "EndOfFlow"
	case EndReasonForcedEnd:
		return "ForcedEndOfFlow"
	case EndReasonLackOfResources:
		return "LackOfResources"
	default:
		return "UnknownEndReason"
	}
}

// Partial reports whether flows ending this way were cut short by the engine.
func (r EndReason) Partial() bool {
	return r == EndReasonForcedEnd || r == EndReasonLackOfResources
}

// FeatureVector is the immutable output record for one flow. Values follows
// the order of Names; Names is shared by every vector of the same schema.
type FeatureVector struct {
	SchemaVersion uint16
	FlowID        uuid.UUID
	Forward       Endpoint
	Backward      Endpoint
	Protocol      uint8
	Start         time.Time
	End           time.Time
	EndReason     EndReason
	Partial       bool
	Names         []string
	Values        []float64
}

// Value returns the named feature and whether it exists.
func (v *FeatureVector) Value(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}
