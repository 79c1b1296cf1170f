package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"maps"
	"net"
	"net/textproto"
	"slices"
	"strconv"
	"strings"

	"github.com/google/gopacket/layers"

	"wirefish/internal/models"
)

// detail accumulates the display fields of one layer.
type detail struct {
	models.LayerDetail
}

func newDetail(name string) *detail {
	return &detail{models.LayerDetail{Name: name}}
}

func (d *detail) add(name, value string) *detail {
	d.Fields = append(d.Fields, models.LayerField{Name: name, Value: value})
	return d
}

func (d *detail) addf(name, format string, args ...any) *detail {
	return d.add(name, fmt.Sprintf(format, args...))
}

func (d *detail) num(name string, v uint64) *detail {
	return d.add(name, strconv.FormatUint(v, 10))
}

func (d *detail) hex16(name string, v uint16) *detail {
	return d.addf(name, "0x%04x", v)
}

func (d *detail) build() models.LayerDetail {
	return d.LayerDetail
}

// Field names "Type", "Protocol" and "Next Header" are read back by
// ethernetType and nextProtocol.

func ethernetDetail(eth *layers.Ethernet) models.LayerDetail {
	return newDetail("Ethernet II").
		add("Source", eth.SrcMAC.String()).
		add("Destination", eth.DstMAC.String()).
		add("Type", eth.EthernetType.String()).
		build()
}

var arpOperations = map[uint16]string{
	layers.ARPRequest: "Request",
	layers.ARPReply:   "Reply",
}

func arpDetail(arp *layers.ARP) models.LayerDetail {
	op, ok := arpOperations[arp.Operation]
	if !ok {
		op = "Unknown"
	}
	return newDetail("ARP").
		addf("Operation", "%s (%d)", op, arp.Operation).
		add("Sender MAC", net.HardwareAddr(arp.SourceHwAddress).String()).
		add("Sender IP", net.IP(arp.SourceProtAddress).String()).
		add("Target MAC", net.HardwareAddr(arp.DstHwAddress).String()).
		add("Target IP", net.IP(arp.DstProtAddress).String()).
		build()
}

func ipv4Detail(ip *layers.IPv4) models.LayerDetail {
	return newDetail("IPv4").
		num("Version", uint64(ip.Version)).
		addf("Header Length", "%d bytes", int(ip.IHL)*4).
		addf("DSCP / ECN", "%d / %d", ip.TOS>>2, ip.TOS&0x03).
		num("Total Length", uint64(ip.Length)).
		addf("Identification", "0x%04x (%d)", ip.Id, ip.Id).
		add("Flags", ip.Flags.String()).
		num("Fragment Offset", uint64(ip.FragOffset)).
		num("TTL", uint64(ip.TTL)).
		add("Protocol", ip.Protocol.String()).
		hex16("Checksum", ip.Checksum).
		add("Source", ip.SrcIP.String()).
		add("Destination", ip.DstIP.String()).
		build()
}

func ipv6Detail(ip *layers.IPv6) models.LayerDetail {
	return newDetail("IPv6").
		num("Version", uint64(ip.Version)).
		addf("Traffic Class", "0x%02x", ip.TrafficClass).
		addf("Flow Label", "0x%05x", ip.FlowLabel).
		num("Payload Length", uint64(ip.Length)).
		add("Next Header", ip.NextHeader.String()).
		num("Hop Limit", uint64(ip.HopLimit)).
		add("Source", ip.SrcIP.String()).
		add("Destination", ip.DstIP.String()).
		build()
}

func tcpFlags(tcp *layers.TCP) string {
	flags := []struct {
		on   bool
		name string
	}{
		{tcp.SYN, "SYN"}, {tcp.ACK, "ACK"}, {tcp.FIN, "FIN"},
		{tcp.RST, "RST"}, {tcp.PSH, "PSH"}, {tcp.URG, "URG"},
		{tcp.ECE, "ECE"}, {tcp.CWR, "CWR"}, {tcp.NS, "NS"},
	}
	var set []string
	for _, f := range flags {
		if f.on {
			set = append(set, f.name)
		}
	}
	return "[" + strings.Join(set, ", ") + "]"
}

func tcpDetail(tcp *layers.TCP) models.LayerDetail {
	d := newDetail("TCP").
		num("Source Port", uint64(tcp.SrcPort)).
		num("Destination Port", uint64(tcp.DstPort)).
		num("Sequence Number", uint64(tcp.Seq)).
		num("Acknowledgment Number", uint64(tcp.Ack)).
		addf("Data Offset", "%d bytes", int(tcp.DataOffset)*4).
		add("Flags", tcpFlags(tcp)).
		num("Window Size", uint64(tcp.Window)).
		hex16("Checksum", tcp.Checksum).
		num("Urgent Pointer", uint64(tcp.Urgent))
	if len(tcp.Options) > 0 {
		kinds := make([]string, 0, len(tcp.Options))
		for _, o := range tcp.Options {
			kinds = append(kinds, o.OptionType.String())
		}
		d.add("Options", strings.Join(kinds, ", "))
	}
	return d.build()
}

func udpDetail(udp *layers.UDP) models.LayerDetail {
	return newDetail("UDP").
		num("Source Port", uint64(udp.SrcPort)).
		num("Destination Port", uint64(udp.DstPort)).
		num("Length", uint64(udp.Length)).
		hex16("Checksum", udp.Checksum).
		build()
}

func icmpv4Detail(icmp *layers.ICMPv4) models.LayerDetail {
	d := newDetail("ICMPv4").
		add("Type", icmp.TypeCode.String()).
		num("Code", uint64(icmp.TypeCode.Code())).
		hex16("Checksum", icmp.Checksum)
	switch icmp.TypeCode.Type() {
	case layers.ICMPv4TypeEchoRequest, layers.ICMPv4TypeEchoReply:
		d.hex16("Identifier", icmp.Id).num("Sequence", uint64(icmp.Seq))
	}
	return d.build()
}

func icmpv6Detail(icmp *layers.ICMPv6) models.LayerDetail {
	return newDetail("ICMPv6").
		add("Type", icmp.TypeCode.String()).
		num("Code", uint64(icmp.TypeCode.Code())).
		hex16("Checksum", icmp.Checksum).
		build()
}

func dnsDetail(dns *layers.DNS) models.LayerDetail {
	kind := "Query"
	if dns.QR {
		kind = "Response"
	}
	d := newDetail("DNS").
		hex16("Transaction ID", dns.ID).
		add("Message", kind).
		add("Opcode", dns.OpCode.String())
	if dns.QR {
		d.add("Response Code", dns.ResponseCode.String())
	}
	for _, q := range dns.Questions {
		d.addf("Query", "%s %s %s", q.Name, q.Type, q.Class)
	}
	for _, a := range dns.Answers {
		d.addf("Answer", "%s %s %s (TTL %d)", a.Name, a.Type, dnsRData(a), a.TTL)
	}
	return d.build()
}

func dnsRData(rr layers.DNSResourceRecord) string {
	switch rr.Type {
	case layers.DNSTypeA, layers.DNSTypeAAAA:
		return rr.IP.String()
	case layers.DNSTypeCNAME:
		return string(rr.CNAME)
	case layers.DNSTypeNS:
		return string(rr.NS)
	case layers.DNSTypePTR:
		return string(rr.PTR)
	case layers.DNSTypeMX:
		return fmt.Sprintf("%d %s", rr.MX.Preference, rr.MX.Name)
	case layers.DNSTypeTXT:
		return string(bytes.Join(rr.TXTs, []byte(" ")))
	}
	return fmt.Sprintf("%d bytes", len(rr.Data))
}

// httpDetail shows the start line and the headers present in one segment.
// Headers cut off by the segment boundary are dropped.
func httpDetail(payload []byte) models.LayerDetail {
	d := newDetail("HTTP")
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(payload)))
	line, err := r.ReadLine()
	if err != nil {
		return d.build()
	}
	d.add("Start Line", line)

	hdr, _ := r.ReadMIMEHeader()
	for _, k := range slices.Sorted(maps.Keys(hdr)) {
		d.add(k, strings.Join(hdr[k], ", "))
	}
	return d.build()
}

func malformedDetail(err error) models.LayerDetail {
	return newDetail("Malformed").add("Error", err.Error()).build()
}

func unknownDetail(name, value string) models.LayerDetail {
	return newDetail("Unknown").add(name, value).build()
}
