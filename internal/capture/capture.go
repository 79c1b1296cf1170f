// Package capture enumerates interfaces and opens link-layer capture
// channels on them.
package capture

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

const (
	DefaultSnapLen     = 65535
	DefaultBufferSize  = 2 * 1024 * 1024
	DefaultReadTimeout = 100 * time.Millisecond
)

var (
	// ErrIdle is returned by a channel read when no frame arrived within
	// the channel's read granularity. It is not a failure.
	ErrIdle = errors.New("capture: no frame available")

	// ErrUnhandledLinkType is returned when a channel does not deliver
	// Ethernet frames.
	ErrUnhandledLinkType = errors.New("capture: unhandled link type")
)

// Interface describes a network interface.
type Interface struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
}

// Identifier returns the name users select this interface by: the
// description on Windows, where device names are opaque GUIDs, and the
// device name elsewhere.
func (i Interface) Identifier() string {
	return identifierFor(i, runtime.GOOS)
}

func identifierFor(i Interface, goos string) string {
	if goos == "windows" && i.Description != "" {
		return i.Description
	}
	return i.Name
}

// Lister enumerates the interfaces available for capture.
type Lister interface {
	Interfaces() ([]Interface, error)
}

// Find returns the first interface whose identifier equals id.
func Find(l Lister, id string) (Interface, bool, error) {
	ifaces, err := l.Interfaces()
	if err != nil {
		return Interface{}, false, err
	}
	for _, iface := range ifaces {
		if iface.Identifier() == id {
			return iface, true, nil
		}
	}
	return Interface{}, false, nil
}

// DeviceLister lists interfaces through libpcap.
type DeviceLister struct{}

// Interfaces returns all available capture interfaces.
func (DeviceLister) Interfaces() ([]Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	out := make([]Interface, 0, len(devs))
	for _, d := range devs {
		iface := Interface{
			Name:        d.Name,
			Description: d.Description,
		}
		for _, addr := range d.Addresses {
			iface.Addresses = append(iface.Addresses, addr.IP.String())
		}
		out = append(out, iface)
	}
	return out, nil
}

// Channel is an open source of raw link-layer frames.
type Channel interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close()
}

// Opener opens a capture channel on an interface.
type Opener interface {
	Open(iface Interface) (Channel, error)
}

// Config controls how live channels are opened.
type Config struct {
	SnapLen     int
	BufferSize  int
	Promiscuous bool
	ReadTimeout time.Duration
}

// DefaultConfig returns the live channel settings used when none are
// configured.
func DefaultConfig() Config {
	return Config{
		SnapLen:     DefaultSnapLen,
		BufferSize:  DefaultBufferSize,
		Promiscuous: true,
		ReadTimeout: DefaultReadTimeout,
	}
}

// LiveOpener opens channels on real devices.
type LiveOpener struct {
	Config Config
}

// NewLiveOpener creates a LiveOpener, filling unset settings with defaults.
func NewLiveOpener(cfg Config) *LiveOpener {
	def := DefaultConfig()
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = def.SnapLen
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	return &LiveOpener{Config: cfg}
}

// Open activates a pcap handle on the interface.
func (o *LiveOpener) Open(iface Interface) (Channel, error) {
	inactive, err := pcap.NewInactiveHandle(iface.Name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", iface.Name, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(o.Config.SnapLen); err != nil {
		return nil, fmt.Errorf("set snap length: %w", err)
	}
	if err := inactive.SetPromisc(o.Config.Promiscuous); err != nil {
		return nil, fmt.Errorf("set promiscuous mode: %w", err)
	}
	if err := inactive.SetBufferSize(o.Config.BufferSize); err != nil {
		return nil, fmt.Errorf("set buffer size: %w", err)
	}
	if err := inactive.SetTimeout(o.Config.ReadTimeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("activate %s: %w", iface.Name, err)
	}
	if lt := handle.LinkType(); lt != layers.LinkTypeEthernet {
		handle.Close()
		return nil, fmt.Errorf("%w: %s on %s", ErrUnhandledLinkType, lt, iface.Name)
	}
	return &liveChannel{handle: handle}, nil
}

type liveChannel struct {
	handle *pcap.Handle
}

func (c *liveChannel) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := c.handle.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, ErrIdle
	}
	return data, ci, err
}

func (c *liveChannel) LinkType() layers.LinkType {
	return c.handle.LinkType()
}

func (c *liveChannel) Close() {
	c.handle.Close()
}
