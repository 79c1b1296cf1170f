// Package parser turns raw link-layer frames into layered packets.
package parser

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"wirefish/internal/models"
	"wirefish/internal/stream"
)

// EthernetHeaderLength is the fixed length of an Ethernet II header.
const EthernetHeaderLength = 14

// Decoder decodes Ethernet frames. It keeps TCP reassembly state across
// frames until Cleanup is called.
type Decoder struct {
	streams *stream.Manager
	opts    gopacket.DecodeOptions
}

// NewDecoder creates a Decoder with empty reassembly state.
func NewDecoder() *Decoder {
	return &Decoder{
		streams: stream.NewManager(),
		opts:    gopacket.Default,
	}
}

// Decode converts one frame into a Packet carrying the given sequence id.
func (d *Decoder) Decode(frame []byte, ci gopacket.CaptureInfo, id uint64) *models.Packet {
	ts := ci.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	length := ci.Length
	if length == 0 {
		length = len(frame)
	}
	out := &models.Packet{
		ID:        id,
		Timestamp: ts,
		Length:    length,
	}

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, d.opts)

	var (
		tcp     *layers.TCP
		payload []byte
	)
	for _, layer := range pkt.Layers() {
		switch l := layer.(type) {
		case *layers.Ethernet:
			out.Link = &models.Layer{
				Protocol:      models.ProtoEthernet,
				Detail:        ethernetDetail(l),
				Source:        l.SrcMAC.String(),
				Destination:   l.DstMAC.String(),
				PayloadLength: len(l.Payload),
			}
		case *layers.ARP:
			if out.Network == nil {
				out.Network = &models.Layer{
					Protocol:    models.ProtoARP,
					Detail:      arpDetail(l),
					Source:      net.IP(l.SourceProtAddress).String(),
					Destination: net.IP(l.DstProtAddress).String(),
				}
			}
		case *layers.IPv4:
			if out.Network == nil {
				out.Network = &models.Layer{
					Protocol:      models.ProtoIPv4,
					Detail:        ipv4Detail(l),
					Source:        l.SrcIP.String(),
					Destination:   l.DstIP.String(),
					PayloadLength: len(l.Payload),
				}
			}
		case *layers.IPv6:
			if out.Network == nil {
				out.Network = &models.Layer{
					Protocol:      models.ProtoIPv6,
					Detail:        ipv6Detail(l),
					Source:        l.SrcIP.String(),
					Destination:   l.DstIP.String(),
					PayloadLength: len(l.Payload),
				}
			}
		case *layers.TCP:
			if out.Transport == nil {
				tcp = l
				payload = l.Payload
				out.Transport = &models.Layer{
					Protocol:      models.ProtoTCP,
					Detail:        tcpDetail(l),
					Source:        strconv.Itoa(int(l.SrcPort)),
					Destination:   strconv.Itoa(int(l.DstPort)),
					PayloadLength: len(l.Payload),
				}
			}
		case *layers.UDP:
			if out.Transport == nil {
				payload = l.Payload
				out.Transport = &models.Layer{
					Protocol:      models.ProtoUDP,
					Detail:        udpDetail(l),
					Source:        strconv.Itoa(int(l.SrcPort)),
					Destination:   strconv.Itoa(int(l.DstPort)),
					PayloadLength: len(l.Payload),
				}
			}
		case *layers.ICMPv4:
			if out.Transport == nil {
				out.Transport = &models.Layer{
					Protocol:      models.ProtoICMP,
					Detail:        icmpv4Detail(l),
					PayloadLength: len(l.Payload),
				}
			}
		case *layers.ICMPv6:
			if out.Transport == nil {
				out.Transport = &models.Layer{
					Protocol:      models.ProtoICMPv6,
					Detail:        icmpv6Detail(l),
					PayloadLength: len(l.Payload),
				}
			}
		case *layers.DNS:
			if out.Application == nil {
				out.Application = &models.Layer{
					Protocol:      models.ProtoDNS,
					Detail:        dnsDetail(l),
					PayloadLength: len(l.Contents),
				}
			}
		}
	}

	if out.Application == nil && len(payload) > 0 {
		switch {
		case stream.IsHTTP(payload):
			out.Application = &models.Layer{
				Protocol:      models.ProtoHTTP,
				Detail:        httpDetail(payload),
				PayloadLength: len(payload),
			}
		case isTLSRecord(payload):
			out.Application = &models.Layer{
				Protocol:      models.ProtoTLS,
				Detail:        tlsRecordDetail(payload),
				PayloadLength: len(payload),
			}
		}
	}

	if el := pkt.ErrorLayer(); el != nil && !unsupported(out) {
		markMalformed(out, el.Error())
	} else {
		markUnknown(out)
	}

	if tcp != nil && pkt.NetworkLayer() != nil {
		out.StreamID = d.streams.Assemble(pkt.NetworkLayer().NetworkFlow(), tcp, ts)
	}

	return out
}

// Stream returns the reassembled data of a TCP stream, or nil.
func (d *Decoder) Stream(id uint64) *stream.StreamDataResponse {
	return d.streams.GetStreamData(id)
}

// Cleanup releases all cross-frame state. Frames decoded afterwards start
// new streams.
func (d *Decoder) Cleanup() {
	d.streams.Reset()
}

// markMalformed places the decoding failure at the first layer slot that
// could not be filled.
func markMalformed(p *models.Packet, err error) {
	l := &models.Layer{Protocol: models.ProtoMalformed, Detail: malformedDetail(err)}
	switch {
	case p.Link == nil:
		p.Link = l
	case p.Network == nil:
		p.Network = l
	case p.Transport == nil && p.Network.Protocol != models.ProtoARP:
		p.Transport = l
	case p.Application == nil:
		p.Application = l
	}
}

// markUnknown tags payload the decoder has no variant for.
func markUnknown(p *models.Packet) {
	if p.Link != nil && p.Link.Protocol == models.ProtoEthernet && p.Network == nil && p.Link.PayloadLength > 0 {
		p.Network = &models.Layer{
			Protocol:      models.ProtoUnknown,
			Detail:        unknownDetail("EtherType", ethernetType(p)),
			PayloadLength: p.Link.PayloadLength,
		}
		return
	}
	if p.Network == nil || p.Transport != nil {
		return
	}
	switch p.Network.Protocol {
	case models.ProtoIPv4, models.ProtoIPv6:
		if p.Network.PayloadLength > 0 {
			p.Transport = &models.Layer{
				Protocol:      models.ProtoUnknown,
				Detail:        unknownDetail("Next Protocol", nextProtocol(p)),
				PayloadLength: p.Network.PayloadLength,
			}
		}
	}
}

// unsupported reports whether decoding stopped at a type gopacket has no
// decoder for, rather than at a damaged header.
func unsupported(p *models.Packet) bool {
	switch {
	case p.Link != nil && p.Network == nil:
		return ethernetType(p) == "UnknownEthernetType"
	case p.Network != nil && p.Transport == nil:
		return nextProtocol(p) == "UnknownIPProtocol"
	}
	return false
}

func ethernetType(p *models.Packet) string {
	for _, f := range p.Link.Detail.Fields {
		if f.Name == "Type" {
			return f.Value
		}
	}
	return "unknown"
}

func nextProtocol(p *models.Packet) string {
	for _, f := range p.Network.Detail.Fields {
		if f.Name == "Protocol" || f.Name == "Next Header" {
			return f.Value
		}
	}
	return fmt.Sprintf("unknown (%s)", p.Network.Protocol)
}
