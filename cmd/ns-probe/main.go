package main

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/probe"
	"FlowSpectra/pkg/capture"
	"FlowSpectra/pkg/pcap"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// --- Command-Line Flag Parsing ---
	mode := flag.String("mode", "pub", "Operating mode: 'pub' to capture and publish, 'sub' to subscribe and print.")
	iface := flag.String("iface", "", "Interface to capture packets from (required for pub mode).")
	bpf := flag.String("bpf", "", "Optional BPF filter applied to the capture.")
	recordDir := flag.String("record", "", "Also write raw frames to a pcap file in this directory.")
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Mode Dispatch ---
	switch *mode {
	case "pub":
		runProbe(ctx, cfg.Probe, *iface, *bpf, *recordDir)
	case "sub":
		runSubscriber(ctx, cfg.Probe)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runProbe captures packets and publishes them to NATS until ctx is done.
func runProbe(ctx context.Context, cfg config.ProbeConfig, interfaceName, bpf, recordDir string) {
	if interfaceName == "" {
		log.Println("Error: -iface flag is required for probe mode.")
		flag.Usage()
		os.Exit(1)
	}
	log.Printf("Starting ns-probe in PROBE mode on interface: %s", interfaceName)

	pub, err := probe.NewPublisher(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer pub.Close()

	live, err := capture.OpenLive(interfaceName, bpf)
	if err != nil {
		log.Fatalf("Failed to open capture: %v", err)
	}
	defer live.Close()

	if recordDir != "" {
		recorder, err := pcap.NewRecorder(recordDir, live.LinkType(), 0)
		if err != nil {
			log.Fatalf("Failed to create recorder: %v", err)
		}
		defer recorder.Close()
		live.Tap(recorder.Record)
	}

	log.Println("Capture started successfully. Publishing packets to NATS...")
	packets := make(chan *model.PacketRecord, 1024)
	go live.ReadPackets(ctx, packets)

	published := 0
	for pkt := range packets {
		if err := pub.Publish(pkt); err != nil {
			log.Printf("Failed to publish packet: %v", err)
			continue
		}
		published++
	}
	log.Printf("Shutdown signal received, %d packets published.", published)
}

// runSubscriber prints every record seen on the probe subject.
func runSubscriber(ctx context.Context, cfg config.ProbeConfig) {
	log.Println("Starting ns-probe in SUBSCRIBER mode...")

	sub, err := probe.NewSubscriber(cfg)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	handler := func(pkt *model.PacketRecord) {
		log.Printf("Received Packet: %s %s -> %s len=%d", pkt.Protocol(), pkt.Src, pkt.Dst, pkt.Length)
	}
	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	<-ctx.Done()
	log.Println("Shutdown signal received, cleaning up...")
}
