// Package protocol turns captured frames into packet records.
package protocol

import (
	"FlowSpectra/internal/model"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotIP is returned for frames without an IPv4 or IPv6 layer.
var ErrNotIP = errors.New("not an IP packet")

// ParsePacket uses gopacket to decode a raw frame of the given link type.
// The capture timestamp and wire length come from ci; a zero timestamp is
// replaced with the current time.
func ParsePacket(data []byte, linkType layers.LinkType, ci gopacket.CaptureInfo) (*model.PacketRecord, error) {
	packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	packet.Metadata().CaptureInfo = ci
	return FromPacket(packet)
}

// FromPacket extracts the fields the flow engine needs from a decoded packet.
func FromPacket(packet gopacket.Packet) (*model.PacketRecord, error) {
	info := &model.PacketRecord{
		Timestamp: time.Now(),
		Length:    len(packet.Data()),
	}
	if meta := packet.Metadata(); meta != nil {
		if !meta.Timestamp.IsZero() {
			info.Timestamp = meta.Timestamp
		}
		if meta.Length > 0 {
			info.Length = meta.Length
		}
	}

	var ipProto uint8
	var ipPayload int
	switch {
	case packet.Layer(layers.LayerTypeIPv4) != nil:
		ip := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		info.Src.Addr, _ = netip.AddrFromSlice(ip.SrcIP)
		info.Dst.Addr, _ = netip.AddrFromSlice(ip.DstIP)
		ipProto = uint8(ip.Protocol)
		ipPayload = len(ip.Payload)
	case packet.Layer(layers.LayerTypeIPv6) != nil:
		ip := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		info.Src.Addr, _ = netip.AddrFromSlice(ip.SrcIP)
		info.Dst.Addr, _ = netip.AddrFromSlice(ip.DstIP)
		ipProto = uint8(ip.NextHeader)
		ipPayload = len(ip.Payload)
	default:
		return nil, ErrNotIP
	}
	info.Src.Addr = info.Src.Addr.Unmap()
	info.Dst.Addr = info.Dst.Addr.Unmap()

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		info.Src.Port = uint16(tcp.SrcPort)
		info.Dst.Port = uint16(tcp.DstPort)
		info.Transport = model.TCPSegment{Flags: tcpFlags(tcp), Window: tcp.Window, HasWindow: true}
		info.HeaderLen = len(tcp.Contents)
		info.PayloadLen = len(tcp.Payload)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		info.Src.Port = uint16(udp.SrcPort)
		info.Dst.Port = uint16(udp.DstPort)
		info.Transport = model.UDPDatagram{}
		info.HeaderLen = len(udp.Contents)
		info.PayloadLen = len(udp.Payload)
	} else {
		info.Transport = model.OtherTransport{Proto: ipProto}
		info.PayloadLen = ipPayload
	}

	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("decoding %s packet: %w", info.Protocol(), err)
	}
	return info, nil
}

func tcpFlags(tcp *layers.TCP) model.TCPFlags {
	var f model.TCPFlags
	if tcp.FIN {
		f |= model.FlagFIN
	}
	if tcp.SYN {
		f |= model.FlagSYN
	}
	if tcp.RST {
		f |= model.FlagRST
	}
	if tcp.PSH {
		f |= model.FlagPSH
	}
	if tcp.ACK {
		f |= model.FlagACK
	}
	if tcp.URG {
		f |= model.FlagURG
	}
	if tcp.ECE {
		f |= model.FlagECE
	}
	return f
}
