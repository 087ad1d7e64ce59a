package pcap

import (
	"FlowSpectra/internal/model"
	"context"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RoundTrip(t *testing.T) {
	rec, err := NewRecorder(t.TempDir(), layers.LinkTypeEthernet, 16)
	require.NoError(t, err)

	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		data := frame(t, uint16(6000+i), true)
		rec.Record(gopacket.CaptureInfo{Timestamp: base.Add(time.Duration(i) * time.Second), Length: len(data)}, data)
	}
	require.NoError(t, rec.Close())
	written, dropped := rec.Counts()
	assert.Equal(t, uint64(3), written)
	assert.Zero(t, dropped)

	reader, err := NewReader(rec.Path())
	require.NoError(t, err)
	defer reader.Close()

	out := make(chan *model.PacketRecord, 8)
	require.NoError(t, reader.ReadPackets(context.Background(), out))
	var ports []uint16
	for p := range out {
		ports = append(ports, p.Src.Port)
	}
	assert.Equal(t, []uint16{6000, 6001, 6002}, ports)
}
