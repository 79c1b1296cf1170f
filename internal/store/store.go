// Package store keeps every captured packet in arrival order together with
// keyed indices and per-protocol lists over them.
package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"wirefish/internal/models"
)

// IndexKind names one of the keyed indices.
type IndexKind string

const (
	IndexSourceIP   IndexKind = "source_ip"
	IndexDestIP     IndexKind = "dest_ip"
	IndexSourceMAC  IndexKind = "source_mac"
	IndexDestMAC    IndexKind = "dest_mac"
	IndexSourcePort IndexKind = "source_port"
	IndexDestPort   IndexKind = "dest_port"
)

// IndexKinds lists the keyed indices in a stable order.
var IndexKinds = []IndexKind{
	IndexSourceIP, IndexDestIP,
	IndexSourceMAC, IndexDestMAC,
	IndexSourcePort, IndexDestPort,
}

var (
	ErrInvalidRange  = errors.New("store: invalid packet range")
	ErrUnknownFilter = errors.New("store: unknown filter")
)

// keyOf extracts the index key of a packet, if the packet has one.
func keyOf(kind IndexKind, p *models.Packet) (string, bool) {
	switch kind {
	case IndexSourceIP:
		return p.SourceIP()
	case IndexDestIP:
		return p.DestIP()
	case IndexSourceMAC:
		return p.SourceMAC()
	case IndexDestMAC:
		return p.DestMAC()
	case IndexSourcePort:
		port, ok := p.SourcePort()
		return strconv.Itoa(int(port)), ok
	case IndexDestPort:
		port, ok := p.DestPort()
		return strconv.Itoa(int(port)), ok
	}
	return "", false
}

// Query selects a page of packets. Filter is empty or "none" for the
// master sequence, an IndexKind (with Value as key) or a lowercase
// protocol name. End is exclusive and is clamped to the sequence length;
// zero means "to the end".
type Query struct {
	Filter string
	Value  string
	Start  int
	End    int
}

// Collection is the packet store. The packets slice is an arena: indices
// and protocol lists hold positions into it, never packets of their own.
type Collection struct {
	mu        sync.RWMutex
	packets   []*models.Packet
	indices   map[IndexKind]map[string][]int
	protocols map[models.Protocol][]int
}

// New creates an empty collection.
func New() *Collection {
	c := &Collection{}
	c.reset()
	return c
}

func (c *Collection) reset() {
	c.packets = nil
	c.indices = make(map[IndexKind]map[string][]int, len(IndexKinds))
	for _, kind := range IndexKinds {
		c.indices[kind] = make(map[string][]int)
	}
	c.protocols = make(map[models.Protocol][]int, len(models.Protocols))
}

// Insert appends p to the master sequence and to every index and
// protocol list it qualifies for.
func (c *Collection) Insert(p *models.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := len(c.packets)
	c.packets = append(c.packets, p)

	for _, kind := range IndexKinds {
		if key, ok := keyOf(kind, p); ok {
			c.indices[kind][key] = append(c.indices[kind][key], pos)
		}
	}
	for _, proto := range models.Protocols {
		if p.Contains(proto) {
			c.protocols[proto] = append(c.protocols[proto], pos)
		}
	}
}

// Clear drops every packet and index entry.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Len returns the length of the master sequence.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.packets)
}

// IndexLen returns the number of packets stored under key in an index.
func (c *Collection) IndexLen(kind IndexKind, key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.indices[kind][key])
}

// ProtocolLen returns the number of packets classified as proto.
func (c *Collection) ProtocolLen(proto models.Protocol) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.protocols[proto])
}

// Query returns the requested page and the length of the sequence it was
// taken from.
func (c *Collection) Query(q Query) ([]*models.Packet, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	positions, all, err := c.selectSequence(q)
	if err != nil {
		return nil, 0, err
	}
	total := len(positions)
	if all {
		total = len(c.packets)
	}

	end := q.End
	if end <= 0 || end > total {
		end = total
	}
	if q.Start < 0 || q.Start > end || (q.Start > 0 && q.Start >= total) {
		return nil, total, fmt.Errorf("%w: [%d, %d) of %d", ErrInvalidRange, q.Start, q.End, total)
	}

	out := make([]*models.Packet, 0, end-q.Start)
	for i := q.Start; i < end; i++ {
		pos := i
		if !all {
			pos = positions[i]
		}
		out = append(out, c.at(pos))
	}
	return out, total, nil
}

func (c *Collection) selectSequence(q Query) ([]int, bool, error) {
	filter := strings.ToLower(strings.TrimSpace(q.Filter))
	if filter == "" || filter == "none" {
		return nil, true, nil
	}
	if idx, ok := c.indices[IndexKind(filter)]; ok {
		return idx[q.Value], false, nil
	}
	for _, proto := range models.Protocols {
		if strings.ToLower(string(proto)) == filter {
			return c.protocols[proto], false, nil
		}
	}
	return nil, false, fmt.Errorf("%w: %q", ErrUnknownFilter, q.Filter)
}

// at resolves an arena position. Positions come only from Insert, so one
// outside the arena means the indices and the arena have diverged.
func (c *Collection) at(pos int) *models.Packet {
	if pos < 0 || pos >= len(c.packets) {
		panic(fmt.Sprintf("store: index references position %d outside arena of %d", pos, len(c.packets)))
	}
	return c.packets[pos]
}
