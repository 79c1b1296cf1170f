package parser

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"wirefish/internal/models"
)

// Only the first record of a segment is inspected. Records split across
// segments are left to the TCP layer.

const (
	recordHandshake   = 22
	handshakeHello    = 1
	extServerName     = 0x0000
	extSupportedGroup = 0x000a
	extPointFormats   = 0x000b
)

var recordTypes = map[byte]string{
	20: "ChangeCipherSpec",
	21: "Alert",
	22: "Handshake",
	23: "Application Data",
}

var tlsVersions = map[uint16]string{
	0x0300: "SSL 3.0",
	0x0301: "TLS 1.0",
	0x0302: "TLS 1.1",
	0x0303: "TLS 1.2",
	0x0304: "TLS 1.3",
}

func versionName(v uint16) string {
	if name, ok := tlsVersions[v]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", v)
}

// isTLSRecord reports whether data starts with a TLS record header.
func isTLSRecord(data []byte) bool {
	if len(data) < 5 {
		return false
	}
	if _, ok := recordTypes[data[0]]; !ok {
		return false
	}
	return data[1] == 0x03 && data[2] <= 0x04
}

// tlsRecordDetail describes the record header and, for a ClientHello,
// its fingerprint-relevant fields.
func tlsRecordDetail(data []byte) models.LayerDetail {
	fields := []models.LayerField{
		{Name: "Content Type", Value: recordTypes[data[0]]},
		{Name: "Version", Value: versionName(binary.BigEndian.Uint16(data[1:3]))},
		{Name: "Record Length", Value: strconv.Itoa(int(binary.BigEndian.Uint16(data[3:5])))},
	}
	if data[0] == recordHandshake {
		if hello, ok := parseClientHello(data[5:]); ok {
			fields = append(fields, hello.fields()...)
		}
	}
	return models.LayerDetail{Name: "TLS", Fields: fields}
}

// cursor reads big-endian values and stops at the first short read.
type cursor struct {
	buf []byte
	bad bool
}

func (c *cursor) take(n int) []byte {
	if c.bad || n > len(c.buf) {
		c.bad = true
		return nil
	}
	out := c.buf[:n]
	c.buf = c.buf[n:]
	return out
}

func (c *cursor) u8() int {
	b := c.take(1)
	if b == nil {
		return 0
	}
	return int(b[0])
}

func (c *cursor) u16() int {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return int(binary.BigEndian.Uint16(b))
}

// vector reads a length-prefixed block whose prefix is width bytes wide.
// A block that runs past the segment is clipped instead of rejected.
func (c *cursor) vector(width int) *cursor {
	var n int
	if width == 1 {
		n = c.u8()
	} else {
		n = c.u16()
	}
	if c.bad {
		return &cursor{bad: true}
	}
	if n > len(c.buf) {
		n = len(c.buf)
	}
	return &cursor{buf: c.take(n)}
}

func (c *cursor) u16s() []uint16 {
	var out []uint16
	for len(c.buf) >= 2 {
		out = append(out, uint16(c.u16()))
	}
	return out
}

type clientHello struct {
	version      uint16
	serverName   string
	ciphers      []uint16
	extensions   []uint16
	groups       []uint16
	pointFormats []byte
}

// parseClientHello reads a handshake message. Fields past a truncation
// point are left empty.
func parseClientHello(msg []byte) (*clientHello, bool) {
	c := &cursor{buf: msg}
	if c.u8() != handshakeHello {
		return nil, false
	}
	c.take(3) // handshake length
	h := &clientHello{version: uint16(c.u16())}
	c.take(32) // random
	if c.bad {
		return nil, false
	}
	c.vector(1) // session id
	h.ciphers = c.vector(2).u16s()
	c.vector(1) // compression methods
	if c.bad {
		return h, true
	}

	exts := c.vector(2)
	for !exts.bad && len(exts.buf) >= 4 {
		typ := uint16(exts.u16())
		body := exts.vector(2)
		if body.bad {
			break
		}
		h.extensions = append(h.extensions, typ)
		switch typ {
		case extServerName:
			list := body.vector(2)
			list.u8() // name type
			if name := list.vector(2); !name.bad {
				h.serverName = string(name.buf)
			}
		case extSupportedGroup:
			h.groups = body.vector(2).u16s()
		case extPointFormats:
			h.pointFormats = body.vector(1).buf
		}
	}
	return h, true
}

// GREASE values (RFC 8701) are excluded from fingerprints.
func isGREASE(v uint16) bool {
	return v&0x0f0f == 0x0a0a
}

func joinValues[T uint16 | byte](vals []T, sep string, skipGREASE bool) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		if skipGREASE && isGREASE(uint16(v)) {
			continue
		}
		parts = append(parts, strconv.Itoa(int(v)))
	}
	return strings.Join(parts, sep)
}

// ja3 returns the MD5 of version,ciphers,extensions,groups,formats.
func (h *clientHello) ja3() string {
	s := strings.Join([]string{
		strconv.Itoa(int(h.version)),
		joinValues(h.ciphers, "-", true),
		joinValues(h.extensions, "-", true),
		joinValues(h.groups, "-", true),
		joinValues(h.pointFormats, "-", false),
	}, ",")
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

var cipherNames = map[uint16]string{
	0x1301: "TLS_AES_128_GCM_SHA256",
	0x1302: "TLS_AES_256_GCM_SHA384",
	0x1303: "TLS_CHACHA20_POLY1305_SHA256",
	0xc02b: "ECDHE_ECDSA_AES_128_GCM",
	0xc02c: "ECDHE_ECDSA_AES_256_GCM",
	0xc02f: "ECDHE_RSA_AES_128_GCM",
	0xc030: "ECDHE_RSA_AES_256_GCM",
	0xcca8: "ECDHE_RSA_CHACHA20_POLY1305",
	0xcca9: "ECDHE_ECDSA_CHACHA20_POLY1305",
	0x009c: "RSA_AES_128_GCM",
	0x009d: "RSA_AES_256_GCM",
	0x00ff: "EMPTY_RENEGOTIATION_INFO",
}

func (h *clientHello) cipherList() string {
	names := make([]string, 0, len(h.ciphers))
	for _, cs := range h.ciphers {
		if isGREASE(cs) {
			continue
		}
		if name, ok := cipherNames[cs]; ok {
			names = append(names, name)
		} else {
			names = append(names, fmt.Sprintf("0x%04x", cs))
		}
	}
	list := strings.Join(names, ", ")
	if len(list) > 300 {
		list = list[:300] + "..."
	}
	return fmt.Sprintf("%d offered: %s", len(h.ciphers), list)
}

func (h *clientHello) fields() []models.LayerField {
	out := []models.LayerField{{Name: "Handshake", Value: "ClientHello"}}
	if h.serverName != "" {
		out = append(out, models.LayerField{Name: "SNI", Value: h.serverName})
	}
	out = append(out, models.LayerField{Name: "Client Version", Value: versionName(h.version)})
	if len(h.ciphers) > 0 {
		out = append(out, models.LayerField{Name: "Cipher Suites", Value: h.cipherList()})
	}
	if len(h.extensions) > 0 {
		out = append(out, models.LayerField{Name: "Extensions", Value: joinValues(h.extensions, ", ", true)})
	}
	out = append(out, models.LayerField{Name: "JA3", Value: h.ja3()})
	return out
}
