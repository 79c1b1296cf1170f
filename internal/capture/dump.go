package capture

import (
	"fmt"
	"log"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// DumpOpener wraps another Opener and copies every committed frame from
// its channels into a pcap file. The file is appended to across sessions.
type DumpOpener struct {
	Opener  Opener
	Path    string
	SnapLen int
}

// Open opens the underlying channel and the dump file.
func (o *DumpOpener) Open(iface Interface) (Channel, error) {
	ch, err := o.Opener.Open(iface)
	if err != nil {
		return nil, err
	}
	t, err := Tee(ch, o.Path, o.SnapLen)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return t, nil
}

// Committer is implemented by channels that persist a frame once the
// reader has accepted it. Frames read but never committed are not kept.
type Committer interface {
	Commit(data []byte, ci gopacket.CaptureInfo)
}

// Tee returns a channel that writes each committed frame to the pcap file
// at path. A new file gets a pcap header; an existing one is appended to.
func Tee(ch Channel, path string, snapLen int) (Channel, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dump file %q: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat dump file %q: %w", path, err)
	}

	if snapLen <= 0 {
		snapLen = DefaultSnapLen
	}
	w := pcapgo.NewWriter(f)
	if st.Size() == 0 {
		if err := w.WriteFileHeader(uint32(snapLen), ch.LinkType()); err != nil {
			f.Close()
			return nil, fmt.Errorf("write pcap header: %w", err)
		}
	}
	return &teeChannel{Channel: ch, file: f, w: w}, nil
}

type teeChannel struct {
	Channel
	file   *os.File
	w      *pcapgo.Writer
	failed bool
}

// Commit appends one frame to the dump. After a write failure the dump
// is disabled for the rest of the session.
func (t *teeChannel) Commit(data []byte, ci gopacket.CaptureInfo) {
	if t.failed {
		return
	}
	ci.CaptureLength = len(data)
	if ci.Length < ci.CaptureLength {
		ci.Length = ci.CaptureLength
	}
	if err := t.w.WritePacket(ci, data); err != nil {
		log.Printf("[capture] WARN: dump disabled after write failure: %v", err)
		t.failed = true
	}
}

func (t *teeChannel) LinkType() layers.LinkType {
	return t.Channel.LinkType()
}

func (t *teeChannel) Close() {
	t.Channel.Close()
	t.file.Close()
}
