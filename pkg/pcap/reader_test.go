package pcap

import (
	"FlowSpectra/internal/model"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, srcPort uint16, ipv4 bool) []byte {
	t.Helper()
	mac := net.HardwareAddr{0, 1, 2, 3, 4, 5}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if !ipv4 {
		eth := &layers.Ethernet{SrcMAC: mac, DstMAC: mac, EthernetType: layers.EthernetTypeARP}
		arp := &layers.ARP{
			AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
			HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
			SourceHwAddress: mac, SourceProtAddress: []byte{10, 0, 0, 1},
			DstHwAddress: make([]byte, 6), DstProtAddress: []byte{10, 0, 0, 2},
		}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, arp))
		return buf.Bytes()
	}
	eth := &layers.Ethernet{SrcMAC: mac, DstMAC: mac, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("query"))))
	return buf.Bytes()
}

func writeCapture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	base := time.Unix(1700000000, 0)
	for i, ipv4 := range []bool{true, false, true} {
		data := frame(t, uint16(5000+i), ipv4)
		ci := gopacket.CaptureInfo{Timestamp: base.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func TestReader_ReadPackets(t *testing.T) {
	reader, err := NewReader(writeCapture(t))
	require.NoError(t, err)
	defer reader.Close()

	out := make(chan *model.PacketRecord)
	errc := make(chan error, 1)
	go func() { errc <- reader.ReadPackets(context.Background(), out) }()

	var got []*model.PacketRecord
	for p := range out {
		got = append(got, p)
	}
	require.NoError(t, <-errc)
	require.Len(t, got, 2)
	assert.Equal(t, uint16(5000), got[0].Src.Port)
	assert.Equal(t, uint16(5002), got[1].Src.Port)
	assert.True(t, time.Unix(1700000000, 2000000).Equal(got[1].Timestamp))

	parsed, skipped := reader.Counts()
	assert.Equal(t, 2, parsed)
	assert.Equal(t, 1, skipped)
}

func TestNewReader_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.pcap")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a capture file"), 0o644))
	_, err := NewReader(path)
	assert.Error(t, err)
}
