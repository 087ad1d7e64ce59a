package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	clientMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	serverMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// generator writes synthetic conversations in timestamp order.
type generator struct {
	w   *pcapgo.Writer
	rng *rand.Rand
	now time.Time
	n   int
}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	flowCount := flag.Int("f", 100, "Number of conversations to generate")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	log.Printf("Generating %d conversations into %s...", *flowCount, *outputFile)
	n, err := generate(f, *flowCount, *seed)
	if err != nil {
		log.Fatalf("Failed to generate capture: %v", err)
	}
	log.Printf("Successfully generated %d packets into %s.", n, *outputFile)
}

// generate writes flows conversations, alternating TCP sessions that end in a
// FIN teardown with UDP request/reply exchanges, and returns the packet count.
func generate(out io.Writer, flows int, seed int64) (int, error) {
	g := &generator{
		w:   pcapgo.NewWriter(out),
		rng: rand.New(rand.NewSource(seed)),
		now: time.Unix(1700000000, 0),
	}
	if err := g.w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return 0, fmt.Errorf("failed to write pcap header: %w", err)
	}
	for i := 0; i < flows; i++ {
		client := net.IP{10, 0, byte(i >> 8), byte(i)}
		server := net.IP{192, 168, 1, byte(1 + g.rng.Intn(10))}
		port := uint16(20000 + i)
		var err error
		if i%2 == 0 {
			err = g.tcpSession(client, server, port)
		} else {
			err = g.udpExchange(client, server, port)
		}
		if err != nil {
			return g.n, err
		}
	}
	return g.n, nil
}

func (g *generator) tcpSession(client, server net.IP, port uint16) error {
	type step struct {
		fromClient bool
		syn, ack   bool
		fin, psh   bool
		payload    int
	}
	steps := []step{
		{fromClient: true, syn: true},
		{syn: true, ack: true},
		{fromClient: true, ack: true},
	}
	for i := 0; i < 1+g.rng.Intn(6); i++ {
		steps = append(steps,
			step{fromClient: true, ack: true, psh: true, payload: 50 + g.rng.Intn(400)},
			step{ack: true, psh: true, payload: 200 + g.rng.Intn(1200)},
		)
	}
	steps = append(steps,
		step{fromClient: true, fin: true, ack: true},
		step{fin: true, ack: true},
		step{fromClient: true, ack: true},
	)

	for _, s := range steps {
		src, dst := client, server
		srcMAC, dstMAC := clientMAC, serverMAC
		sport, dport := layers.TCPPort(port), layers.TCPPort(80)
		if !s.fromClient {
			src, dst = dst, src
			srcMAC, dstMAC = dstMAC, srcMAC
			sport, dport = dport, sport
		}
		ip := &layers.IPv4{SrcIP: src, DstIP: dst, Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP}
		tcp := &layers.TCP{
			SrcPort: sport, DstPort: dport,
			Seq: g.rng.Uint32(), Ack: g.rng.Uint32(),
			SYN: s.syn, ACK: s.ack, FIN: s.fin, PSH: s.psh,
			Window: 14600,
		}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			return err
		}
		eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
		if err := g.write(eth, ip, tcp, g.payload(s.payload)); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) udpExchange(client, server net.IP, port uint16) error {
	for i := 0; i < 2; i++ {
		src, dst := client, server
		sport, dport := layers.UDPPort(port), layers.UDPPort(53)
		if i == 1 {
			src, dst = dst, src
			sport, dport = dport, sport
		}
		ip := &layers.IPv4{SrcIP: src, DstIP: dst, Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP}
		udp := &layers.UDP{SrcPort: sport, DstPort: dport}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return err
		}
		eth := &layers.Ethernet{SrcMAC: clientMAC, DstMAC: serverMAC, EthernetType: layers.EthernetTypeIPv4}
		if err := g.write(eth, ip, udp, g.payload(30+g.rng.Intn(200))); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) payload(n int) gopacket.Payload {
	p := make([]byte, n)
	g.rng.Read(p)
	return p
}

func (g *generator) write(l ...gopacket.SerializableLayer) error {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, l...); err != nil {
		return fmt.Errorf("failed to serialize layers: %w", err)
	}
	// Mostly sub-millisecond gaps with an occasional pause long enough to
	// split an active burst.
	gap := time.Duration(g.rng.Intn(2000)) * time.Microsecond
	if g.rng.Intn(50) == 0 {
		gap += 1500 * time.Millisecond
	}
	g.now = g.now.Add(gap)

	ci := gopacket.CaptureInfo{
		Timestamp:     g.now,
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	if err := g.w.WritePacket(ci, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	g.n++
	return nil
}
