package flow

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"wirefish/internal/models"
)

// Placeholder fills a key field whose layer is absent.
const Placeholder = "-"

// Key identifies a directional flow at (network, transport) granularity.
type Key struct {
	NetworkSource        string
	NetworkDestination   string
	TransportSource      string
	TransportDestination string
}

// KeyOf derives the flow key of a packet and the protocol tags it
// contributes to that flow.
func KeyOf(p *models.Packet) (Key, []string) {
	k := Key{
		NetworkSource:        Placeholder,
		NetworkDestination:   Placeholder,
		TransportSource:      Placeholder,
		TransportDestination: Placeholder,
	}
	if ip, ok := p.SourceIP(); ok {
		k.NetworkSource = ip
	}
	if ip, ok := p.DestIP(); ok {
		k.NetworkDestination = ip
	}
	if port, ok := p.SourcePort(); ok {
		k.TransportSource = strconv.Itoa(int(port))
	}
	if port, ok := p.DestPort(); ok {
		k.TransportDestination = strconv.Itoa(int(port))
	}

	var protocols []string
	for _, l := range []*models.Layer{p.Transport, p.Application} {
		if l != nil {
			protocols = append(protocols, string(l.Protocol))
		}
	}
	if len(protocols) == 0 {
		switch {
		case p.Network != nil:
			protocols = append(protocols, string(p.Network.Protocol))
		case p.Link != nil:
			protocols = append(protocols, string(p.Link.Protocol))
		}
	}
	return k, protocols
}

// String returns a human-readable description of the flow.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s -> %s:%s",
		k.NetworkSource, k.TransportSource, k.NetworkDestination, k.TransportDestination)
}

// Stats holds cumulative statistics for a single flow.
type Stats struct {
	Protocols   map[string]struct{} `json:"-"`
	TotalBytes  uint64              `json:"totalBytes"`
	PacketCount uint64              `json:"packetCount"`
	FirstSeen   time.Time           `json:"firstSeen"`
	LastSeen    time.Time           `json:"lastSeen"`
}

func newStats(protocols []string, bytes uint64, ts time.Time) *Stats {
	s := &Stats{
		Protocols: make(map[string]struct{}, len(protocols)),
		FirstSeen: ts,
		LastSeen:  ts,
	}
	s.add(protocols, bytes, ts)
	return s
}

func (s *Stats) add(protocols []string, bytes uint64, ts time.Time) {
	for _, p := range protocols {
		s.Protocols[p] = struct{}{}
	}
	s.TotalBytes += bytes
	s.PacketCount++
	if ts.After(s.LastSeen) {
		s.LastSeen = ts
	}
}

// ProtocolList returns the protocol set sorted by name.
func (s *Stats) ProtocolList() []string {
	out := make([]string, 0, len(s.Protocols))
	for p := range s.Protocols {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Aggregator accumulates per-flow statistics until they are drained.
type Aggregator struct {
	mu    sync.Mutex
	flows map[Key]*Stats
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		flows: make(map[Key]*Stats),
	}
}

// Record adds one packet's contribution to its flow, creating the entry
// on first occurrence.
func (a *Aggregator) Record(key Key, protocols []string, bytes uint64, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.flows[key]; ok {
		s.add(protocols, bytes, ts)
		return
	}
	a.flows[key] = newStats(protocols, bytes, ts)
}

// Drain removes and returns every entry, leaving the aggregator empty.
func (a *Aggregator) Drain() map[Key]*Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.flows
	a.flows = make(map[Key]*Stats)
	return out
}

// Merge folds previously drained entries back in, combining them with any
// entries recorded since.
func (a *Aggregator) Merge(drained map[Key]*Stats) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for k, old := range drained {
		cur, ok := a.flows[k]
		if !ok {
			a.flows[k] = old
			continue
		}
		for p := range old.Protocols {
			cur.Protocols[p] = struct{}{}
		}
		cur.TotalBytes += old.TotalBytes
		cur.PacketCount += old.PacketCount
		if old.FirstSeen.Before(cur.FirstSeen) {
			cur.FirstSeen = old.FirstSeen
		}
		if old.LastSeen.After(cur.LastSeen) {
			cur.LastSeen = old.LastSeen
		}
	}
}

// Get returns a copy of one flow's statistics.
func (a *Aggregator) Get(key Key) (Stats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.flows[key]
	if !ok {
		return Stats{}, false
	}
	cp := *s
	cp.Protocols = make(map[string]struct{}, len(s.Protocols))
	for p := range s.Protocols {
		cp.Protocols[p] = struct{}{}
	}
	return cp, true
}

// Len returns the number of live flows.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.flows)
}

// Reset discards all flows.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flows = make(map[Key]*Stats)
}
