package main

import (
	"FlowSpectra/internal/model"
	"FlowSpectra/pkg/pcap"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gen.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	n, err := generate(f, 4, 1)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reader, err := pcap.NewReader(path)
	require.NoError(t, err)
	defer reader.Close()
	out := make(chan *model.PacketRecord, n)
	require.NoError(t, reader.ReadPackets(context.Background(), out))

	var tcp, udp int
	var last *model.PacketRecord
	for p := range out {
		switch p.Protocol() {
		case model.ProtocolTCP:
			tcp++
		case model.ProtocolUDP:
			udp++
		}
		if last != nil {
			assert.False(t, p.Timestamp.Before(last.Timestamp))
		}
		last = p
	}
	assert.Equal(t, n, tcp+udp)
	assert.Equal(t, 4, udp)
}
