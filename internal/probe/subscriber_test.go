package probe

import (
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/wire"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberHandle(t *testing.T) {
	s := &Subscriber{subject: "flowspectra.packets"}
	in := &model.PacketRecord{
		Timestamp: time.Unix(1700000000, 0),
		Length:    60,
		Src:       model.Endpoint{Addr: netip.MustParseAddr("10.0.0.1"), Port: 1234},
		Dst:       model.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 80},
		Transport: model.TCPSegment{Flags: model.FlagSYN},
	}
	data, err := wire.EncodePacket(in)
	require.NoError(t, err)

	var got []*model.PacketRecord
	handler := func(p *model.PacketRecord) { got = append(got, p) }
	s.handle(data, handler)
	s.handle([]byte{0x0a, 0xff}, handler)

	require.Len(t, got, 1)
	assert.Equal(t, in.Src, got[0].Src)
	assert.Equal(t, in.Transport, got[0].Transport)
	received, undecoded := s.Counts()
	assert.Equal(t, uint64(2), received)
	assert.Equal(t, uint64(1), undecoded)
}
