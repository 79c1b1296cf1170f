package stream

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"
)

const bodyPreviewLen = 512

// HTTPTransaction is the first request/response exchange of a stream.
type HTTPTransaction struct {
	Method      string            `json:"method,omitempty"`
	URL         string            `json:"url,omitempty"`
	StatusCode  int               `json:"statusCode,omitempty"`
	StatusText  string            `json:"statusText,omitempty"`
	ReqHeaders  map[string]string `json:"reqHeaders,omitempty"`
	RespHeaders map[string]string `json:"respHeaders,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	BodyPreview string            `json:"bodyPreview,omitempty"`
}

var methodPrefixes = [][]byte{
	[]byte("GET "), []byte("POST"), []byte("PUT "), []byte("DELE"), []byte("HEAD"),
	[]byte("PATC"), []byte("OPTI"), []byte("CONN"), []byte("TRAC"),
}

// IsHTTPRequest reports whether data starts with an HTTP request method.
func IsHTTPRequest(data []byte) bool {
	for _, p := range methodPrefixes {
		if bytes.HasPrefix(data, p) {
			return true
		}
	}
	return false
}

// IsHTTP reports whether data starts an HTTP request or response.
func IsHTTP(data []byte) bool {
	return IsHTTPRequest(data) || bytes.HasPrefix(data, []byte("HTTP/"))
}

// parseExchange reads the request in client and, if present, the response
// in server. It reports false unless at least one side parsed.
func parseExchange(client, server []byte) (*HTTPTransaction, bool) {
	if !IsHTTPRequest(client) {
		return nil, false
	}
	tx := &HTTPTransaction{}
	readRequest(tx, client)
	readResponse(tx, server)
	return tx, tx.Method != "" || tx.StatusCode != 0
}

func readRequest(tx *HTTPTransaction, data []byte) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return
	}
	defer req.Body.Close()

	tx.Method = req.Method
	tx.URL = req.URL.String()
	tx.ReqHeaders = flattenHeader(req.Header)
	tx.ContentType = req.Header.Get("Content-Type")
}

func readResponse(tx *HTTPTransaction, data []byte) {
	if !bytes.HasPrefix(data, []byte("HTTP/")) {
		return
	}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), nil)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	tx.StatusCode = resp.StatusCode
	tx.StatusText = resp.Status
	tx.RespHeaders = flattenHeader(resp.Header)
	if tx.ContentType == "" {
		tx.ContentType = resp.Header.Get("Content-Type")
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, bodyPreviewLen))
	tx.BodyPreview = string(bytes.Map(printable, body))
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// printable maps control and non-ASCII runes to '.'.
func printable(r rune) rune {
	switch {
	case r == '\n' || r == '\r' || r == '\t':
		return r
	case r < 32 || r >= 127:
		return '.'
	}
	return r
}
