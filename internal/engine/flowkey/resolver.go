// Package flowkey derives the canonical, direction-agnostic identity of a flow.
package flowkey

import (
	"FlowSpectra/internal/model"
	"encoding/binary"
	"hash/fnv"
)

// Resolve validates a record and returns its canonical key. The two endpoints
// are ordered so that A->B and B->A with the same protocol yield the same key.
func Resolve(pkt *model.PacketRecord) (model.FlowKey, error) {
	if err := pkt.Validate(); err != nil {
		return model.FlowKey{}, err
	}
	var proto uint8
	if pkt.Transport != nil {
		proto = pkt.Transport.Number()
	}
	src, dst := normalize(pkt.Src), normalize(pkt.Dst)
	if src.Compare(dst) <= 0 {
		return model.FlowKey{Lo: src, Hi: dst, Proto: proto}, nil
	}
	return model.FlowKey{Lo: dst, Hi: src, Proto: proto}, nil
}

// DirectionOf compares the packet's source with the forward endpoint recorded
// when the flow was created.
func DirectionOf(pkt *model.PacketRecord, forward model.Endpoint) model.Direction {
	if normalize(pkt.Src) == forward {
		return model.Forward
	}
	return model.Backward
}

// Normalize maps IPv4-in-IPv6 addresses to plain IPv4 so both encodings of the
// same host land in the same flow.
func Normalize(e model.Endpoint) model.Endpoint {
	return normalize(e)
}

func normalize(e model.Endpoint) model.Endpoint {
	e.Addr = e.Addr.Unmap()
	return e
}

// Hash returns a 32-bit FNV-1a hash of the key, used for shard selection.
func Hash(key model.FlowKey) uint32 {
	hasher := fnv.New32a()
	var buf [2*(16+2) + 1]byte
	lo, hi := key.Lo.Addr.As16(), key.Hi.Addr.As16()
	copy(buf[0:16], lo[:])
	binary.BigEndian.PutUint16(buf[16:18], key.Lo.Port)
	copy(buf[18:34], hi[:])
	binary.BigEndian.PutUint16(buf[34:36], key.Hi.Port)
	buf[36] = key.Proto
	hasher.Write(buf[:])
	return hasher.Sum32()
}
