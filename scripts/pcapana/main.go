package main

import (
	"FlowSpectra/internal/model"
	"FlowSpectra/pkg/pcap"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
)

func main() {
	limit := flag.Int("n", 5, "Number of records to print, 0 for all")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/pcapana/main.go [-n count] <path_to_pcap_file>")
		os.Exit(1)
	}

	reader, err := pcap.NewReader(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan *model.PacketRecord)
	go reader.ReadPackets(ctx, out)

	i := 0
	for info := range out {
		i++
		fmt.Printf("[%s] %s -> %s proto=%s len=%d hdr=%d payload=%d\n",
			info.Timestamp.Format("15:04:05.000"),
			info.Src, info.Dst, info.Protocol(),
			info.Length, info.HeaderLen, info.PayloadLen,
		)
		if *limit > 0 && i >= *limit {
			break
		}
	}
	parsed, skipped := reader.Counts()
	fmt.Printf("%d records parsed, %d frames skipped\n", parsed, skipped)
}
