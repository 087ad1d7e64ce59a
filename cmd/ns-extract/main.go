package main

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/manager"
	"FlowSpectra/internal/model"
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
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	outPath := flag.String("out", "", "Write vectors to this csv file instead of the configured sinks.")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <path_to_pcap_file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	// Offline captures are replayed far faster than real time, so expiry has
	// to follow packet timestamps.
	cfg.Engine.Clock = config.ClockPacket
	if *outPath != "" {
		cfg.Sinks = []config.SinkConfig{{Type: "csv", Enabled: true, CSV: config.CSVConfig{Path: *outPath}}}
	}
	log.Println("Configuration loaded successfully.")

	// 2. Initialize modules
	engine, err := manager.NewEngine(cfg)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	pcapReader, err := pcap.NewReader(pcapFilePath)
	if err != nil {
		log.Fatalf("Failed to open pcap file: %v", err)
	}
	defer pcapReader.Close()
	log.Printf("Reading packets from '%s'...", pcapFilePath)

	// 3. Start the processing pipeline
	engine.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The reader closes its output; the engine input is closed by Stop.
	packets := make(chan *model.PacketRecord, cfg.Engine.SizeOfPacketChannel)
	readErr := make(chan error, 1)
	go func() { readErr <- pcapReader.ReadPackets(ctx, packets) }()
	in := engine.InputChannel()
	for pkt := range packets {
		in <- pkt
	}
	if err := <-readErr; err != nil {
		log.Printf("Stopped reading capture early: %v", err)
	}

	// 4. Graceful shutdown emits every flow still open at the end of the file.
	engine.Stop()
	st := engine.Stats()
	log.Printf("Extraction complete: %d packets, %d flows, %d vectors emitted, %d dropped, %d malformed.",
		st.Received, st.Table.Created, st.Emitter.Emitted, st.Emitter.Dropped, st.Table.Malformed)
	for name, n := range st.Emitter.SinkErrors {
		if n > 0 {
			log.Printf("Sink %s reported %d failed writes.", name, n)
		}
	}
}
