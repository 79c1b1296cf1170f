// Package engine runs capture sessions: it owns the session state, the
// per-interface capture tasks, the packet store and the flow aggregator.
package engine

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/uuid"

	"wirefish/internal/capture"
	"wirefish/internal/flow"
	"wirefish/internal/metrics"
	"wirefish/internal/models"
	"wirefish/internal/parser"
	"wirefish/internal/report"
	"wirefish/internal/store"
	"wirefish/internal/stream"
)

// State is the lifecycle state of the session.
type State string

const (
	StateNoInterface       State = "NoInterface"
	StateInterfaceSelected State = "InterfaceSelected"
	StateRunning           State = "Running"
	StatePaused            State = "Paused"
	StateStopped           State = "Stopped"
)

// Decoder turns raw frames into packets and owns any cross-frame state.
type Decoder interface {
	Decode(frame []byte, ci gopacket.CaptureInfo, id uint64) *models.Packet
	Stream(id uint64) *stream.StreamDataResponse
	Cleanup()
}

// Observer receives session events.
type Observer interface {
	SendMessage(msg models.WSMessage) error
}

// Options configures an Engine. Zero fields get live defaults.
type Options struct {
	Lister  capture.Lister
	Opener  capture.Opener
	Decoder Decoder
	Metrics *metrics.Metrics
}

type sessionInfo struct {
	mu        sync.Mutex
	name      string
	iface     *capture.Interface
	counter   uint64
	sessionID string
	state     State
}

// handle is the controller's side of one capture task.
type handle struct {
	iface string
	stop  chan struct{}
	errs  chan error
	done  chan struct{}
}

func newHandle(iface string) *handle {
	return &handle{
		iface: iface,
		stop:  make(chan struct{}, 1),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
}

// signal requests the task to stop without blocking.
func (h *handle) signal() {
	select {
	case h.stop <- struct{}{}:
	default:
	}
}

// pendingError returns the task's buffered error, if any.
func (h *handle) pendingError() error {
	select {
	case err := <-h.errs:
		return err
	default:
		return nil
	}
}

// Engine is the session controller. Session info, the sniffer registry,
// the packet store and the flow aggregator are locked independently, and
// always acquired in that order.
type Engine struct {
	info sessionInfo

	regMu    sync.Mutex
	sniffers map[string]*handle

	store   *store.Collection
	flows   *flow.Aggregator
	decoder Decoder
	lister  capture.Lister
	opener  capture.Opener
	metrics *metrics.Metrics

	obsMu     sync.Mutex
	observers map[Observer]bool
}

// New creates an Engine with no interface selected.
func New(opts Options) *Engine {
	if opts.Lister == nil {
		opts.Lister = capture.DeviceLister{}
	}
	if opts.Opener == nil {
		opts.Opener = capture.NewLiveOpener(capture.DefaultConfig())
	}
	if opts.Decoder == nil {
		opts.Decoder = parser.NewDecoder()
	}
	e := &Engine{
		sniffers:  make(map[string]*handle),
		store:     store.New(),
		flows:     flow.NewAggregator(),
		decoder:   opts.Decoder,
		lister:    opts.Lister,
		opener:    opts.Opener,
		metrics:   opts.Metrics,
		observers: make(map[Observer]bool),
	}
	e.info.state = StateNoInterface
	return e
}

// RegisterObserver adds an observer to receive session events.
func (e *Engine) RegisterObserver(o Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers[o] = true
}

// UnregisterObserver removes an observer.
func (e *Engine) UnregisterObserver(o Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	delete(e.observers, o)
}

// Interfaces returns the identifiers of all capture interfaces.
func (e *Engine) Interfaces() ([]string, error) {
	ifaces, err := e.lister.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ifaces))
	for _, i := range ifaces {
		out = append(out, i.Identifier())
	}
	return out, nil
}

// SelectInterface makes the interface with the given identifier the
// target of subsequent starts. Running tasks are left alone.
func (e *Engine) SelectInterface(id string) (capture.Interface, error) {
	iface, ok, err := capture.Find(e.lister, id)
	if err != nil {
		return capture.Interface{}, wrapError(err, KindInterfaceNotFound, "listing interfaces for %q", id)
	}
	if !ok {
		return capture.Interface{}, newError(KindInterfaceNotFound, "interface %q not found", id)
	}

	e.info.mu.Lock()
	defer e.info.mu.Unlock()
	e.info.name = id
	e.info.iface = &iface
	e.info.state = StateInterfaceSelected

	log.Printf("[engine] Selected interface %s (%s)", id, iface.Name)
	return iface, nil
}

// StartSniffing opens a channel on the selected interface and spawns a
// capture task on it. Unless resuming, the packet store is cleared and a
// new session id is minted.
func (e *Engine) StartSniffing(resume bool) error {
	e.info.mu.Lock()
	defer e.info.mu.Unlock()

	if e.info.iface == nil {
		return newError(KindStartSniffingWithoutInterfaceSelection, "no interface selected")
	}
	iface := *e.info.iface

	ch, err := e.opener.Open(iface)
	if err != nil {
		if errors.Is(err, capture.ErrUnhandledLinkType) {
			return wrapError(err, KindUnhandledChannelType, "opening channel on %s", e.info.name)
		}
		return wrapError(err, KindFailedChannelCreation, "opening channel on %s", e.info.name)
	}

	h := newHandle(iface.Name)
	e.regMu.Lock()
	for name, old := range e.sniffers {
		old.signal()
		delete(e.sniffers, name)
	}
	e.sniffers[iface.Name] = h
	e.regMu.Unlock()

	transition := "resume"
	if !resume {
		e.store.Clear()
		e.info.sessionID = uuid.NewString()
		transition = "start"
	}
	e.info.state = StateRunning
	e.metrics.ObserveTransition(transition, e.store.Len(), e.flows.Len())

	go e.run(h, ch)

	log.Printf("[engine] Capture %s on %s (session %s)", transition, e.info.name, e.info.sessionID)
	return nil
}

// StopSniffing pauses the capture task of the selected interface, or with
// full set stops it and discards the flow aggregator and the packet
// counter. The packet store is kept either way. A read failure the task
// hit since the last call is returned here.
func (e *Engine) StopSniffing(full bool) error {
	e.info.mu.Lock()
	defer e.info.mu.Unlock()
	// Reassembly state is dropped before the lock is released so a resume
	// cannot decode into it.
	defer e.decoder.Cleanup()

	if e.info.iface == nil {
		return newError(KindStopSniffingWithoutPriorStart, "no interface selected")
	}
	name := e.info.iface.Name

	e.regMu.Lock()
	retired := 0
	for other, old := range e.sniffers {
		if other != name {
			old.signal()
			delete(e.sniffers, other)
			retired++
		}
	}
	h, ok := e.sniffers[name]
	if !ok && retired == 0 {
		e.regMu.Unlock()
		return newError(KindStopSniffingWithoutPriorStart, "no capture started on %s", e.info.name)
	}

	var taskErr error
	if ok {
		select {
		case <-h.done:
			delete(e.sniffers, name)
		default:
			h.signal()
		}
		taskErr = h.pendingError()
	}
	e.regMu.Unlock()

	transition := "pause"
	e.info.state = StatePaused
	if full {
		e.flows.Reset()
		e.info.counter = 0
		e.info.state = StateStopped
		transition = "stop"
	}
	e.metrics.ObserveTransition(transition, e.store.Len(), e.flows.Len())

	log.Printf("[engine] Capture %s on %s", transition, e.info.name)
	return taskErr
}

// GenerateReport drains the flow aggregator into the report at path. On
// failure the drained flows are merged back so no delta is lost.
func (e *Engine) GenerateReport(path string, firstGeneration bool) (bool, error) {
	drained := e.flows.Drain()
	if err := report.Write(path, drained, firstGeneration); err != nil {
		e.flows.Merge(drained)
		e.metrics.ObserveReport(false, e.flows.Len())
		log.Printf("[report] ERROR: failed to write %s: %v", path, err)
		return false, wrapError(err, KindReportGenerationFailed, "generating report %s", path)
	}
	e.metrics.ObserveReport(true, e.flows.Len())
	log.Printf("[report] Wrote %d flows to %s", len(drained), path)
	return true, nil
}

// GetPackets returns a page of stored packets and the length of the
// sequence it was taken from.
func (e *Engine) GetPackets(q store.Query) ([]*models.Packet, int, error) {
	pkts, total, err := e.store.Query(q)
	switch {
	case errors.Is(err, store.ErrUnknownFilter):
		return nil, 0, wrapError(err, KindUnknownFilterType, "querying packets")
	case errors.Is(err, store.ErrInvalidRange):
		return nil, total, wrapError(err, KindGetPacketsIndexNotValid, "querying packets")
	case err != nil:
		return nil, 0, err
	}
	return pkts, total, nil
}

// Stream returns the reassembled data of a TCP stream.
func (e *Engine) Stream(id uint64) (*stream.StreamDataResponse, bool) {
	sd := e.decoder.Stream(id)
	return sd, sd != nil
}

// Status describes the session.
func (e *Engine) Status() models.SessionStatus {
	e.info.mu.Lock()
	defer e.info.mu.Unlock()
	return models.SessionStatus{
		State:         string(e.info.state),
		InterfaceName: e.info.name,
		SessionID:     e.info.sessionID,
		PacketCounter: e.info.counter,
		StoredPackets: e.store.Len(),
		LiveFlows:     e.flows.Len(),
	}
}

// Shutdown signals every capture task and waits up to timeout for them to
// exit.
func (e *Engine) Shutdown(timeout time.Duration) {
	e.regMu.Lock()
	handles := make([]*handle, 0, len(e.sniffers))
	for name, h := range e.sniffers {
		h.signal()
		handles = append(handles, h)
		delete(e.sniffers, name)
	}
	e.regMu.Unlock()

	deadline := time.After(timeout)
	for _, h := range handles {
		select {
		case <-h.done:
		case <-deadline:
			log.Printf("[engine] WARN: capture task on %s did not exit within %v", h.iface, timeout)
			return
		}
	}
}

// run is the capture task. It exits when it finds a stop signal pending or
// when the channel fails.
func (e *Engine) run(h *handle, ch capture.Channel) {
	defer close(h.done)
	defer ch.Close()

	for {
		data, ci, err := ch.ReadPacketData()
		if errors.Is(err, capture.ErrIdle) {
			select {
			case <-h.stop:
				return
			default:
				continue
			}
		}
		if err != nil {
			e.fail(h, err)
			return
		}
		if !e.ingest(h, data, ci) {
			return
		}
		if c, ok := ch.(capture.Committer); ok {
			c.Commit(data, ci)
		}
		e.broadcast(models.WSMessage{Type: models.EventPacketReceived})
	}
}

// ingest stores one frame. It reports false, without storing, when a stop
// is pending.
func (e *Engine) ingest(h *handle, data []byte, ci gopacket.CaptureInfo) bool {
	e.info.mu.Lock()
	defer e.info.mu.Unlock()

	select {
	case <-h.stop:
		return false
	default:
	}

	id := e.info.counter
	e.info.counter++

	p := e.decoder.Decode(data, ci, id)
	e.store.Insert(p)

	key, protocols := flow.KeyOf(p)
	var bytes uint64
	if n, ok := p.LinkPayloadLength(); ok {
		bytes = uint64(n + parser.EthernetHeaderLength)
	}
	e.flows.Record(key, protocols, bytes, p.Timestamp)

	e.metrics.ObservePacket(bytes, e.store.Len(), e.flows.Len())
	return true
}

// fail parks a read failure for the next stop call and tells observers.
// A failure that finds the slot taken is dropped.
func (e *Engine) fail(h *handle, err error) {
	serr := wrapError(err, KindReadingChannelFailed, "reading from channel on %s", h.iface)
	select {
	case h.errs <- serr:
	default:
	}
	select {
	case <-h.stop:
	default:
	}

	e.metrics.ObserveReadError()
	log.Printf("[engine] ERROR: capture task on %s failed: %v", h.iface, err)

	payload, _ := json.Marshal(serr)
	e.broadcast(models.WSMessage{Type: models.EventSniffingError, Payload: payload})
}

func (e *Engine) broadcast(msg models.WSMessage) {
	e.obsMu.Lock()
	observers := make([]Observer, 0, len(e.observers))
	for o := range e.observers {
		observers = append(observers, o)
	}
	e.obsMu.Unlock()

	for _, o := range observers {
		o.SendMessage(msg)
	}
}
