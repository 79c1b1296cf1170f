package models

import (
	"strconv"
	"time"
)

// Protocol tags one decoded layer.
type Protocol string

const (
	ProtoEthernet  Protocol = "Ethernet"
	ProtoARP       Protocol = "ARP"
	ProtoIPv4      Protocol = "IPv4"
	ProtoIPv6      Protocol = "IPv6"
	ProtoTCP       Protocol = "TCP"
	ProtoUDP       Protocol = "UDP"
	ProtoICMP      Protocol = "ICMP"
	ProtoICMPv6    Protocol = "ICMPv6"
	ProtoDNS       Protocol = "DNS"
	ProtoHTTP      Protocol = "HTTP"
	ProtoTLS       Protocol = "TLS"
	ProtoMalformed Protocol = "Malformed"
	ProtoUnknown   Protocol = "Unknown"
)

// Protocols lists every classification tag in a stable order.
var Protocols = []Protocol{
	ProtoEthernet, ProtoARP, ProtoIPv4, ProtoIPv6,
	ProtoTCP, ProtoUDP, ProtoICMP, ProtoICMPv6,
	ProtoDNS, ProtoHTTP, ProtoTLS,
	ProtoMalformed, ProtoUnknown,
}

// Layer is one decoded OSI layer of a packet.
type Layer struct {
	Protocol Protocol    `json:"protocol"`
	Detail   LayerDetail `json:"detail"`

	// Source and Destination hold the layer's addressing: MACs for
	// Ethernet, IPs for ARP/IPv4/IPv6, ports for TCP/UDP.
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`

	// PayloadLength is the number of bytes this layer carries.
	PayloadLength int `json:"payloadLength"`
}

// Packet is a decoded frame. It is never modified after the decoder
// returns it, so it can be shared by every index that references it.
type Packet struct {
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Length    int       `json:"length"`
	StreamID  uint64    `json:"streamId,omitempty"`

	Link        *Layer `json:"link,omitempty"`
	Network     *Layer `json:"network,omitempty"`
	Transport   *Layer `json:"transport,omitempty"`
	Application *Layer `json:"application,omitempty"`
}

// Layers returns the present layers from link to application.
func (p *Packet) Layers() []*Layer {
	out := make([]*Layer, 0, 4)
	for _, l := range []*Layer{p.Link, p.Network, p.Transport, p.Application} {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

// Contains reports whether any layer of the packet is tagged proto.
func (p *Packet) Contains(proto Protocol) bool {
	for _, l := range p.Layers() {
		if l.Protocol == proto {
			return true
		}
	}
	return false
}

func (p *Packet) ContainsEthernet() bool  { return p.Contains(ProtoEthernet) }
func (p *Packet) ContainsARP() bool       { return p.Contains(ProtoARP) }
func (p *Packet) ContainsIPv4() bool      { return p.Contains(ProtoIPv4) }
func (p *Packet) ContainsIPv6() bool      { return p.Contains(ProtoIPv6) }
func (p *Packet) ContainsTCP() bool       { return p.Contains(ProtoTCP) }
func (p *Packet) ContainsUDP() bool       { return p.Contains(ProtoUDP) }
func (p *Packet) ContainsICMP() bool      { return p.Contains(ProtoICMP) }
func (p *Packet) ContainsICMPv6() bool    { return p.Contains(ProtoICMPv6) }
func (p *Packet) ContainsDNS() bool       { return p.Contains(ProtoDNS) }
func (p *Packet) ContainsHTTP() bool      { return p.Contains(ProtoHTTP) }
func (p *Packet) ContainsTLS() bool       { return p.Contains(ProtoTLS) }
func (p *Packet) ContainsMalformed() bool { return p.Contains(ProtoMalformed) }
func (p *Packet) ContainsUnknown() bool   { return p.Contains(ProtoUnknown) }

// SourceIP returns the network-layer source address.
func (p *Packet) SourceIP() (string, bool) {
	return networkAddr(p.Network, true)
}

// DestIP returns the network-layer destination address.
func (p *Packet) DestIP() (string, bool) {
	return networkAddr(p.Network, false)
}

// SourceMAC returns the Ethernet source address.
func (p *Packet) SourceMAC() (string, bool) {
	if p.Link == nil || p.Link.Protocol != ProtoEthernet {
		return "", false
	}
	return p.Link.Source, true
}

// DestMAC returns the Ethernet destination address.
func (p *Packet) DestMAC() (string, bool) {
	if p.Link == nil || p.Link.Protocol != ProtoEthernet {
		return "", false
	}
	return p.Link.Destination, true
}

// SourcePort returns the TCP or UDP source port.
func (p *Packet) SourcePort() (uint16, bool) {
	return transportPort(p.Transport, true)
}

// DestPort returns the TCP or UDP destination port.
func (p *Packet) DestPort() (uint16, bool) {
	return transportPort(p.Transport, false)
}

// LinkPayloadLength returns the Ethernet payload length, or false when the
// frame carries no decoded Ethernet layer.
func (p *Packet) LinkPayloadLength() (int, bool) {
	if p.Link == nil || p.Link.Protocol != ProtoEthernet {
		return 0, false
	}
	return p.Link.PayloadLength, true
}

func networkAddr(l *Layer, src bool) (string, bool) {
	if l == nil {
		return "", false
	}
	switch l.Protocol {
	case ProtoIPv4, ProtoIPv6:
	default:
		return "", false
	}
	if src {
		return l.Source, true
	}
	return l.Destination, true
}

func transportPort(l *Layer, src bool) (uint16, bool) {
	if l == nil {
		return 0, false
	}
	switch l.Protocol {
	case ProtoTCP, ProtoUDP:
	default:
		return 0, false
	}
	s := l.Destination
	if src {
		s = l.Source
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// LayerDetail represents one protocol layer in the packet.
type LayerDetail struct {
	Name   string       `json:"name"`
	Fields []LayerField `json:"fields"`
}

// LayerField represents a single field within a protocol layer.
type LayerField struct {
	Name     string       `json:"name"`
	Value    string       `json:"value"`
	Children []LayerField `json:"children,omitempty"`
}
