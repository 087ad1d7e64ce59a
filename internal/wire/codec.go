// Package wire encodes packet records and feature vectors in protobuf wire
// format for transport over NATS.
//
//	PacketRecord                      FeatureVector
//	 1 timestamp  (Timestamp msg)      1 schema_version (varint)
//	 2 length     (varint)             2 flow_id        (16 bytes)
//	 3 src_addr   (4 or 16 bytes)      3 fwd_addr  4 fwd_port
//	 4 src_port   (varint)             5 bwd_addr  6 bwd_port
//	 5 dst_addr   (4 or 16 bytes)      7 protocol       (varint)
//	 6 dst_port   (varint)             8 start  9 end   (Timestamp msg)
//	 7 protocol   (varint)            10 end_reason     (varint)
//	 8 tcp_flags  (varint)            11 partial        (bool)
//	 9 window    10 has_window        12 names          (repeated string)
//	11 header_len 12 payload_len      13 values         (packed double)
package wire

import (
	"FlowSpectra/internal/model"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var errTruncated = errors.New("wire: truncated message")

func appendTime(b []byte, num protowire.Number, t time.Time) ([]byte, error) {
	data, err := proto.Marshal(timestamppb.New(t))
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, data), nil
}

func appendAddr(b []byte, num protowire.Number, addr netip.Addr) []byte {
	if !addr.IsValid() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, addr.AsSlice())
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func parseTime(data []byte) (time.Time, error) {
	var ts timestamppb.Timestamp
	if err := proto.Unmarshal(data, &ts); err != nil {
		return time.Time{}, fmt.Errorf("wire: bad timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

func parseAddr(data []byte) (netip.Addr, error) {
	addr, ok := netip.AddrFromSlice(data)
	if !ok {
		return netip.Addr{}, fmt.Errorf("wire: bad address of %d bytes", len(data))
	}
	return addr, nil
}

// EncodePacket serializes a packet record.
func EncodePacket(p *model.PacketRecord) ([]byte, error) {
	b := make([]byte, 0, 64)
	b, err := appendTime(b, 1, p.Timestamp)
	if err != nil {
		return nil, err
	}
	b = appendVarint(b, 2, uint64(p.Length))
	b = appendAddr(b, 3, p.Src.Addr)
	b = appendVarint(b, 4, uint64(p.Src.Port))
	b = appendAddr(b, 5, p.Dst.Addr)
	b = appendVarint(b, 6, uint64(p.Dst.Port))

	switch t := p.Transport.(type) {
	case model.TCPSegment:
		b = appendVarint(b, 7, uint64(model.IPProtoTCP))
		b = appendVarint(b, 8, uint64(t.Flags))
		b = appendVarint(b, 9, uint64(t.Window))
		b = appendVarint(b, 10, protowire.EncodeBool(t.HasWindow))
	case nil:
	default:
		b = appendVarint(b, 7, uint64(t.Number()))
	}
	b = appendVarint(b, 11, uint64(p.HeaderLen))
	b = appendVarint(b, 12, uint64(p.PayloadLen))
	return b, nil
}

// DecodePacket parses a packet record. Unknown fields are skipped.
func DecodePacket(b []byte) (*model.PacketRecord, error) {
	p := &model.PacketRecord{}
	var ipProto uint64
	var flags, window uint64
	var hasWindow bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch {
		case typ == protowire.BytesType && (num == 1 || num == 3 || num == 5):
			data, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
			switch num {
			case 1:
				p.Timestamp, err = parseTime(data)
			case 3:
				p.Src.Addr, err = parseAddr(data)
			case 5:
				p.Dst.Addr, err = parseAddr(data)
			}
		case typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
			switch num {
			case 2:
				p.Length = int(v)
			case 4:
				p.Src.Port = uint16(v)
			case 6:
				p.Dst.Port = uint16(v)
			case 7:
				ipProto = v
			case 8:
				flags = v
			case 9:
				window = v
			case 10:
				hasWindow = protowire.DecodeBool(v)
			case 11:
				p.HeaderLen = int(v)
			case 12:
				p.PayloadLen = int(v)
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
		}
		if err != nil {
			return nil, err
		}
	}

	switch uint8(ipProto) {
	case model.IPProtoTCP:
		p.Transport = model.TCPSegment{Flags: model.TCPFlags(flags), Window: uint16(window), HasWindow: hasWindow}
	case model.IPProtoUDP:
		p.Transport = model.UDPDatagram{}
	default:
		p.Transport = model.OtherTransport{Proto: uint8(ipProto)}
	}
	return p, nil
}

// EncodeVector serializes a feature vector.
func EncodeVector(v *model.FeatureVector) ([]byte, error) {
	b := make([]byte, 0, 128+len(v.Values)*8)
	b = appendVarint(b, 1, uint64(v.SchemaVersion))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, v.FlowID[:])
	b = appendAddr(b, 3, v.Forward.Addr)
	b = appendVarint(b, 4, uint64(v.Forward.Port))
	b = appendAddr(b, 5, v.Backward.Addr)
	b = appendVarint(b, 6, uint64(v.Backward.Port))
	b = appendVarint(b, 7, uint64(v.Protocol))

	var err error
	if b, err = appendTime(b, 8, v.Start); err != nil {
		return nil, err
	}
	if b, err = appendTime(b, 9, v.End); err != nil {
		return nil, err
	}
	b = appendVarint(b, 10, uint64(v.EndReason))
	b = appendVarint(b, 11, protowire.EncodeBool(v.Partial))
	for _, name := range v.Names {
		b = protowire.AppendTag(b, 12, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}

	packed := make([]byte, 0, len(v.Values)*8)
	for _, x := range v.Values {
		packed = protowire.AppendFixed64(packed, math.Float64bits(x))
	}
	b = protowire.AppendTag(b, 13, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	return b, nil
}

// DecodeVector parses a feature vector.
func DecodeVector(b []byte) (*model.FeatureVector, error) {
	v := &model.FeatureVector{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch typ {
		case protowire.VarintType:
			x, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
			switch num {
			case 1:
				v.SchemaVersion = uint16(x)
			case 4:
				v.Forward.Port = uint16(x)
			case 6:
				v.Backward.Port = uint16(x)
			case 7:
				v.Protocol = uint8(x)
			case 10:
				v.EndReason = model.EndReason(x)
			case 11:
				v.Partial = protowire.DecodeBool(x)
			}
		case protowire.BytesType:
			data, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
			switch num {
			case 2:
				v.FlowID, err = uuid.FromBytes(data)
			case 3:
				v.Forward.Addr, err = parseAddr(data)
			case 5:
				v.Backward.Addr, err = parseAddr(data)
			case 8:
				v.Start, err = parseTime(data)
			case 9:
				v.End, err = parseTime(data)
			case 12:
				v.Names = append(v.Names, string(data))
			case 13:
				v.Values, err = parseDoubles(data)
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			b = b[m:]
		}
		if err != nil {
			return nil, err
		}
	}
	if len(v.Names) != len(v.Values) {
		return nil, fmt.Errorf("wire: %d names but %d values", len(v.Names), len(v.Values))
	}
	return v, nil
}

func parseDoubles(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, errTruncated
	}
	out := make([]float64, 0, len(data)/8)
	for len(data) > 0 {
		bits, n := protowire.ConsumeFixed64(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float64frombits(bits))
		data = data[n:]
	}
	return out, nil
}
