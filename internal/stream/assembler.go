package stream

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/tcpassembly"
)

const maxStreamBuffer = 256 * 1024 // per direction

// StreamData holds the reassembled data for one stream.
type StreamData struct {
	ID         uint64           `json:"id"`
	ClientData []byte           `json:"-"`
	ServerData []byte           `json:"-"`
	HTTPInfo   *HTTPTransaction `json:"httpInfo,omitempty"`
	SrcAddr    string           `json:"srcAddr"`
	DstAddr    string           `json:"dstAddr"`
	SrcPort    string           `json:"srcPort"`
	DstPort    string           `json:"dstPort"`
	StartTime  time.Time        `json:"startTime"`
	LastSeen   time.Time        `json:"lastSeen"`
	Complete   bool             `json:"complete"`
}

// StreamDataResponse is what we send to clients.
type StreamDataResponse struct {
	StreamID   uint64           `json:"streamId"`
	SrcAddr    string           `json:"srcAddr"`
	DstAddr    string           `json:"dstAddr"`
	SrcPort    string           `json:"srcPort"`
	DstPort    string           `json:"dstPort"`
	ClientData string           `json:"clientData"` // base64
	ServerData string           `json:"serverData"` // base64
	HTTPInfo   *HTTPTransaction `json:"httpInfo,omitempty"`
	Complete   bool             `json:"complete"`
}

// Manager reassembles TCP streams across frames. It is the only
// cross-frame state the decoder keeps; Reset releases all of it.
type Manager struct {
	mu        sync.Mutex
	assembler *tcpassembly.Assembler
	streams   map[uint64]*StreamData
	lookupMap map[flowKey]uint64
	nextID    uint64
}

type flowKey struct {
	net       string
	transport string
}

// NewManager creates a new stream reassembly manager.
func NewManager() *Manager {
	m := &Manager{}
	m.resetLocked()
	return m
}

// Assemble feeds one TCP segment to the reassembler and returns the id of
// the stream it belongs to.
func (m *Manager) Assemble(netFlow gopacket.Flow, tcp *layers.TCP, ts time.Time) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.assembler.AssembleWithTimestamp(netFlow, tcp, ts)

	tcpFlow := tcp.TransportFlow()
	if id, ok := m.lookupMap[makeFlowKey(netFlow, tcpFlow)]; ok {
		return id
	}
	if id, ok := m.lookupMap[makeFlowKey(netFlow.Reverse(), tcpFlow.Reverse())]; ok {
		return id
	}
	return 0
}

// GetStreamData returns the reassembled data for a stream.
func (m *Manager) GetStreamData(id uint64) *StreamDataResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	sd, ok := m.streams[id]
	if !ok {
		return nil
	}

	return &StreamDataResponse{
		StreamID:   id,
		SrcAddr:    sd.SrcAddr,
		DstAddr:    sd.DstAddr,
		SrcPort:    sd.SrcPort,
		DstPort:    sd.DstPort,
		ClientData: base64.StdEncoding.EncodeToString(sd.ClientData),
		ServerData: base64.StdEncoding.EncodeToString(sd.ServerData),
		HTTPInfo:   sd.HTTPInfo,
		Complete:   sd.Complete,
	}
}

// Len returns the number of tracked streams.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Reset flushes every open connection and drops all stream data. Stream
// ids keep counting up so ids held by stored packets are never reissued.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assembler.FlushAll()
	m.resetLocked()
}

func (m *Manager) resetLocked() {
	m.streams = make(map[uint64]*StreamData)
	m.lookupMap = make(map[flowKey]uint64)
	m.assembler = tcpassembly.NewAssembler(tcpassembly.NewStreamPool(&streamFactory{mgr: m}))
}

func makeFlowKey(net, transport gopacket.Flow) flowKey {
	return flowKey{
		net:       net.String(),
		transport: transport.String(),
	}
}

// registerStream is called by the assembler with m.mu held.
func (m *Manager) registerStream(netFlow, tcpFlow gopacket.Flow) uint64 {
	key := makeFlowKey(netFlow, tcpFlow)
	reverseKey := makeFlowKey(netFlow.Reverse(), tcpFlow.Reverse())

	// The reverse direction may already own the stream.
	if id, ok := m.lookupMap[reverseKey]; ok {
		return id
	}

	m.nextID++
	id := m.nextID
	now := time.Now()
	m.streams[id] = &StreamData{
		ID:        id,
		SrcAddr:   netFlow.Src().String(),
		DstAddr:   netFlow.Dst().String(),
		SrcPort:   tcpFlow.Src().String(),
		DstPort:   tcpFlow.Dst().String(),
		StartTime: now,
		LastSeen:  now,
	}
	m.lookupMap[key] = id
	return id
}

// appendData is called by the assembler with m.mu held.
func (m *Manager) appendData(id uint64, netFlow gopacket.Flow, data []byte, seen time.Time) {
	sd, ok := m.streams[id]
	if !ok {
		return
	}
	if seen.IsZero() {
		seen = time.Now()
	}
	sd.LastSeen = seen

	if netFlow.Src().String() == sd.SrcAddr {
		sd.ClientData = appendCapped(sd.ClientData, data, maxStreamBuffer)
	} else {
		sd.ServerData = appendCapped(sd.ServerData, data, maxStreamBuffer)
	}

	if sd.HTTPInfo == nil || sd.HTTPInfo.StatusCode == 0 {
		if tx, ok := parseExchange(sd.ClientData, sd.ServerData); ok {
			sd.HTTPInfo = tx
		}
	}
}

func (m *Manager) markComplete(id uint64) {
	if sd, ok := m.streams[id]; ok {
		sd.Complete = true
	}
}

func appendCapped(buf, data []byte, limit int) []byte {
	remaining := limit - len(buf)
	if remaining <= 0 {
		return buf
	}
	if len(data) > remaining {
		data = data[:remaining]
	}
	return append(buf, data...)
}

// streamFactory creates streams for the TCP assembler.
type streamFactory struct {
	mgr *Manager
}

func (f *streamFactory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	return &tcpStream{
		id:      f.mgr.registerStream(netFlow, tcpFlow),
		mgr:     f.mgr,
		netFlow: netFlow,
	}
}

// tcpStream receives in-order data synchronously from the assembler.
type tcpStream struct {
	id      uint64
	mgr     *Manager
	netFlow gopacket.Flow
}

func (s *tcpStream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, r := range rs {
		if len(r.Bytes) == 0 {
			continue
		}
		data := make([]byte, len(r.Bytes))
		copy(data, r.Bytes)
		s.mgr.appendData(s.id, s.netFlow, data, r.Seen)
	}
}

func (s *tcpStream) ReassemblyComplete() {
	s.mgr.markComplete(s.id)
}
