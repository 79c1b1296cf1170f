package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wirefish/internal/models"
)

func packet(id uint64, srcIP, dstIP string, sport, dport int, proto models.Protocol) *models.Packet {
	p := &models.Packet{
		ID:      id,
		Link:    &models.Layer{Protocol: models.ProtoEthernet, Source: "02:00:00:00:00:0a", Destination: "02:00:00:00:00:0b"},
		Network: &models.Layer{Protocol: models.ProtoIPv4, Source: srcIP, Destination: dstIP},
	}
	if proto != "" {
		p.Transport = &models.Layer{Protocol: proto, Source: fmt.Sprint(sport), Destination: fmt.Sprint(dport)}
	}
	return p
}

func ids(pkts []*models.Packet) []uint64 {
	out := make([]uint64, 0, len(pkts))
	for _, p := range pkts {
		out = append(out, p.ID)
	}
	return out
}

func TestInsertIndexesEveryAccessor(t *testing.T) {
	c := New()
	c.Insert(packet(0, "10.0.0.1", "10.0.0.2", 40000, 80, models.ProtoTCP))
	c.Insert(packet(1, "10.0.0.1", "10.0.0.3", 40001, 53, models.ProtoUDP))
	c.Insert(&models.Packet{
		ID:      2,
		Link:    &models.Layer{Protocol: models.ProtoEthernet, Source: "02:00:00:00:00:0c", Destination: "ff:ff:ff:ff:ff:ff"},
		Network: &models.Layer{Protocol: models.ProtoARP, Source: "10.0.0.9", Destination: "10.0.0.1"},
	})

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 2, c.IndexLen(IndexSourceIP, "10.0.0.1"))
	assert.Equal(t, 1, c.IndexLen(IndexDestIP, "10.0.0.2"))
	assert.Equal(t, 0, c.IndexLen(IndexSourceIP, "10.0.0.9"), "ARP addresses are not indexed as IPs")
	assert.Equal(t, 2, c.IndexLen(IndexSourceMAC, "02:00:00:00:00:0a"))
	assert.Equal(t, 1, c.IndexLen(IndexDestMAC, "ff:ff:ff:ff:ff:ff"))
	assert.Equal(t, 1, c.IndexLen(IndexSourcePort, "40000"))
	assert.Equal(t, 1, c.IndexLen(IndexDestPort, "53"))

	assert.Equal(t, 3, c.ProtocolLen(models.ProtoEthernet))
	assert.Equal(t, 2, c.ProtocolLen(models.ProtoIPv4))
	assert.Equal(t, 1, c.ProtocolLen(models.ProtoARP))
	assert.Equal(t, 1, c.ProtocolLen(models.ProtoTCP))
	assert.Equal(t, 0, c.ProtocolLen(models.ProtoDNS))
}

func TestQuery(t *testing.T) {
	c := New()
	for i := 0; i < 5; i++ {
		c.Insert(packet(uint64(i), "10.0.0.1", fmt.Sprintf("10.0.0.%d", 10+i%2), 40000+i, 443, models.ProtoTCP))
	}
	c.Insert(packet(5, "10.0.0.2", "10.0.0.10", 40005, 53, models.ProtoUDP))

	tests := []struct {
		name    string
		query   Query
		want    []uint64
		total   int
		wantErr error
	}{
		{name: "all", query: Query{}, want: []uint64{0, 1, 2, 3, 4, 5}, total: 6},
		{name: "none filter paged", query: Query{Filter: "none", Start: 2, End: 4}, want: []uint64{2, 3}, total: 6},
		{name: "end clamped", query: Query{Start: 4, End: 100}, want: []uint64{4, 5}, total: 6},
		{name: "dest ip index", query: Query{Filter: "dest_ip", Value: "10.0.0.10"}, want: []uint64{0, 2, 4, 5}, total: 4},
		{name: "index page", query: Query{Filter: "dest_ip", Value: "10.0.0.10", Start: 1, End: 3}, want: []uint64{2, 4}, total: 4},
		{name: "port index", query: Query{Filter: "dest_port", Value: "53"}, want: []uint64{5}, total: 1},
		{name: "missing key", query: Query{Filter: "source_ip", Value: "192.0.2.1"}, want: []uint64{}, total: 0},
		{name: "protocol list", query: Query{Filter: "udp"}, want: []uint64{5}, total: 1},
		{name: "protocol list case", query: Query{Filter: "TCP", End: 2}, want: []uint64{0, 1}, total: 5},
		{name: "start after end", query: Query{Start: 4, End: 2}, wantErr: ErrInvalidRange},
		{name: "start past sequence", query: Query{Filter: "udp", Start: 1}, wantErr: ErrInvalidRange},
		{name: "negative start", query: Query{Start: -1}, wantErr: ErrInvalidRange},
		{name: "unknown filter", query: Query{Filter: "vlan"}, wantErr: ErrUnknownFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkts, total, err := c.Query(tt.query)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(pkts))
			assert.Equal(t, tt.total, total)
		})
	}
}

func TestIndexedPacketsShareArenaEntries(t *testing.T) {
	c := New()
	p := packet(0, "10.0.0.1", "10.0.0.2", 40000, 80, models.ProtoTCP)
	c.Insert(p)

	all, _, err := c.Query(Query{})
	require.NoError(t, err)
	byIP, _, err := c.Query(Query{Filter: "source_ip", Value: "10.0.0.1"})
	require.NoError(t, err)
	byProto, _, err := c.Query(Query{Filter: "tcp"})
	require.NoError(t, err)

	assert.Same(t, p, all[0])
	assert.Same(t, p, byIP[0])
	assert.Same(t, p, byProto[0])
}

func TestClear(t *testing.T) {
	c := New()
	c.Insert(packet(0, "10.0.0.1", "10.0.0.2", 40000, 80, models.ProtoTCP))
	c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.IndexLen(IndexSourceIP, "10.0.0.1"))
	assert.Equal(t, 0, c.ProtocolLen(models.ProtoTCP))

	c.Insert(packet(1, "10.0.0.1", "10.0.0.2", 40000, 80, models.ProtoTCP))
	pkts, _, err := c.Query(Query{Filter: "source_ip", Value: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids(pkts))
}

func TestConcurrentInsertAndQuery(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			c.Insert(packet(uint64(i), "10.0.0.1", "10.0.0.2", 40000, 80, models.ProtoTCP))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_, _, err := c.Query(Query{Filter: "tcp"})
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	assert.Equal(t, 500, c.Len())
	assert.Equal(t, 500, c.ProtocolLen(models.ProtoTCP))
}
