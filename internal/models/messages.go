package models

import "encoding/json"

// WSMessage is the envelope for all WebSocket communication.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event types pushed to observers.
const (
	EventPacketReceived = "packet_received"
	EventSniffingError  = "sniffing_error"
)

// SelectInterfaceRequest selects the capture interface.
type SelectInterfaceRequest struct {
	InterfaceName string `json:"interface_name" binding:"required"`
}

// StartSniffingRequest starts or resumes a capture.
type StartSniffingRequest struct {
	IsResume bool `json:"is_resume"`
}

// StopSniffingRequest pauses (Stop=false) or terminates (Stop=true) a capture.
type StopSniffingRequest struct {
	Stop bool `json:"stop"`
}

// GenerateReportRequest flushes the current flow deltas to a report file.
type GenerateReportRequest struct {
	ReportPath      string `json:"report_path" binding:"required"`
	FirstGeneration bool   `json:"first_generation"`
}

// GetPacketsRequest pages through stored packets.
type GetPacketsRequest struct {
	Filter string `json:"filter" form:"filter"`
	Value  string `json:"value" form:"value"`
	Start  int    `json:"start" form:"start"`
	End    int    `json:"end" form:"end"`
}

// GetPacketsResponse is one page of stored packets.
type GetPacketsResponse struct {
	Total   int       `json:"total"`
	Packets []*Packet `json:"packets"`
}

// SessionStatus describes the current capture session.
type SessionStatus struct {
	State         string `json:"state"`
	InterfaceName string `json:"interfaceName,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	PacketCounter uint64 `json:"packetCounter"`
	StoredPackets int    `json:"storedPackets"`
	LiveFlows     int    `json:"liveFlows"`
}

// ErrorPayload describes an error sent to the client.
type ErrorPayload struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}
