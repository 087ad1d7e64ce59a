// Package capture reads packet records from a live network interface through
// libpcap.
package capture

import (
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/protocol"
	"context"
	"fmt"
	"log"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

const (
	snapshotLen int32 = 1600
	promiscuous       = true
	timeout           = pcap.BlockForever
)

// Live is an open capture handle on one interface.
type Live struct {
	handle *pcap.Handle
	iface  string
	tap    func(gopacket.CaptureInfo, []byte)
}

// OpenLive opens iface for capture. An optional BPF filter narrows what is
// delivered.
func OpenLive(iface, bpf string) (*Live, error) {
	handle, err := pcap.OpenLive(iface, snapshotLen, promiscuous, timeout)
	if err != nil {
		return nil, fmt.Errorf("error opening device %s: %w", iface, err)
	}
	if bpf != "" {
		if err := handle.SetBPFFilter(bpf); err != nil {
			handle.Close()
			return nil, fmt.Errorf("invalid BPF filter %q: %w", bpf, err)
		}
	}
	return &Live{handle: handle, iface: iface}, nil
}

// LinkType returns the link layer type of the interface.
func (l *Live) LinkType() layers.LinkType {
	return l.handle.LinkType()
}

// Tap registers fn to see every raw frame before parsing, including frames
// that are skipped. It must be set before ReadPackets.
func (l *Live) Tap(fn func(ci gopacket.CaptureInfo, data []byte)) {
	l.tap = fn
}

// ReadPackets parses captured frames and sends them to out until ctx is
// cancelled. Non-IP frames are skipped. out is closed on return.
func (l *Live) ReadPackets(ctx context.Context, out chan<- *model.PacketRecord) {
	defer close(out)
	packetSource := gopacket.NewPacketSource(l.handle, l.handle.LinkType())
	packets := packetSource.Packets()
	captured := 0
	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-packets:
			if !ok {
				return
			}
			if l.tap != nil {
				l.tap(packet.Metadata().CaptureInfo, packet.Data())
			}
			info, err := protocol.FromPacket(packet)
			if err != nil {
				continue
			}
			select {
			case out <- info:
			case <-ctx.Done():
				return
			}
			captured++
			if captured%1000 == 0 {
				log.Printf("%d packets captured on %s...", captured, l.iface)
			}
		}
	}
}

// Close closes the capture handle.
func (l *Live) Close() {
	l.handle.Close()
}
