package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// DefaultIdleInterval paces reads once a replay file is exhausted.
const DefaultIdleInterval = 100 * time.Millisecond

// ReplayOpener serves frames from a pcap or pcapng file instead of a live
// device. The interface argument of Open is ignored.
type ReplayOpener struct {
	Path         string
	IdleInterval time.Duration
}

// Open opens the replay file, trying pcapng first.
func (o *ReplayOpener) Open(_ Interface) (Channel, error) {
	f, err := os.Open(o.Path)
	if err != nil {
		return nil, fmt.Errorf("open pcap file %q: %w", o.Path, err)
	}

	var src frameReader
	if ng, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions); err == nil {
		src = ng
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("rewind pcap file: %w", err)
		}
		r, err := pcapgo.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("read pcap header of %q: %w", o.Path, err)
		}
		src = r
	}

	if lt := src.LinkType(); lt != layers.LinkTypeEthernet {
		f.Close()
		return nil, fmt.Errorf("%w: %s in %s", ErrUnhandledLinkType, lt, o.Path)
	}

	idle := o.IdleInterval
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	return &replayChannel{file: f, src: src, idle: idle}, nil
}

type frameReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

type replayChannel struct {
	mu   sync.Mutex
	file *os.File
	src  frameReader
	idle time.Duration
	eof  bool
}

// ReadPacketData returns the next frame of the file. After the last frame
// the channel behaves like a silent interface.
func (c *replayChannel) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	c.mu.Lock()
	if !c.eof {
		data, ci, err := c.src.ReadPacketData()
		if !errors.Is(err, io.EOF) {
			c.mu.Unlock()
			return data, ci, err
		}
		c.eof = true
	}
	c.mu.Unlock()

	time.Sleep(c.idle)
	return nil, gopacket.CaptureInfo{}, ErrIdle
}

func (c *replayChannel) LinkType() layers.LinkType {
	return c.src.LinkType()
}

func (c *replayChannel) Close() {
	c.file.Close()
}
