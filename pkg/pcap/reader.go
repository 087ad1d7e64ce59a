// Package pcap reads packet records from pcap and pcapng files without cgo.
package pcap

import (
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/protocol"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Reader reads packets from a capture file.
type Reader struct {
	file     *os.File
	source   gopacket.PacketDataSource
	linkType layers.LinkType

	parsed  int
	skipped int
}

// NewReader opens a pcap or pcapng file, chosen by its magic number.
func NewReader(filePath string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(file)
	magic, err := br.Peek(4)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	r := &Reader{file: file}
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open pcapng file: %w", err)
		}
		r.source, r.linkType = ng, ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open pcap file: %w", err)
		}
		r.source, r.linkType = pr, pr.LinkType()
	}
	return r, nil
}

// Close closes the underlying file.
func (r *Reader) Close() {
	r.file.Close()
}

// ReadPackets parses every frame in the file and sends the resulting records
// to out, closing out when the file is exhausted or ctx is cancelled. Frames
// that do not carry IP are skipped.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- *model.PacketRecord) error {
	defer close(out)
	for {
		data, ci, err := r.source.ReadPacketData()
		if err == io.EOF {
			log.Printf("Finished reading capture: %d packets parsed, %d skipped", r.parsed, r.skipped)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet %d: %w", r.parsed+r.skipped+1, err)
		}
		info, err := protocol.ParsePacket(data, r.linkType, ci)
		if err != nil {
			r.skipped++
			if r.skipped == 1 {
				log.Printf("Error parsing packet: %v", err)
			}
			continue
		}
		r.parsed++
		select {
		case out <- info:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Counts returns the number of parsed and skipped frames so far.
func (r *Reader) Counts() (parsed, skipped int) {
	return r.parsed, r.skipped
}
