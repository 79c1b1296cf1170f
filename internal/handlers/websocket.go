package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"wirefish/internal/engine"
	"wirefish/internal/models"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 512 // queued messages per client
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient wraps a WebSocket connection. It observes engine events and
// accepts the engine operations as commands.
type WSClient struct {
	conn   *websocket.Conn
	eng    *engine.Engine
	sendCh chan models.WSMessage
	done   chan struct{}
}

// NewWSClient creates a WSClient and registers it with the engine.
func NewWSClient(conn *websocket.Conn, eng *engine.Engine) *WSClient {
	c := &WSClient{
		conn:   conn,
		eng:    eng,
		sendCh: make(chan models.WSMessage, sendBuffer),
		done:   make(chan struct{}),
	}
	eng.RegisterObserver(c)
	go c.writeLoop()
	return c
}

// SendMessage queues a message for async delivery. Packet notifications
// are dropped when the buffer is full; other messages evict the oldest
// queued one.
func (c *WSClient) SendMessage(msg models.WSMessage) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case c.sendCh <- msg:
		return nil
	default:
	}
	if msg.Type == models.EventPacketReceived {
		return nil
	}
	select {
	case <-c.sendCh:
	default:
	}
	select {
	case c.sendCh <- msg:
	default:
	}
	return nil
}

// writeLoop drains the send channel and writes to the WebSocket.
func (c *WSClient) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// ReadLoop reads messages from the client and dispatches commands.
func (c *WSClient) ReadLoop() {
	defer func() {
		c.eng.UnregisterObserver(c)
		close(c.done)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg models.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(models.ErrorPayload{Type: "BadRequest", Description: "invalid message format"})
			continue
		}
		c.handleCommand(msg)
	}
}

func (c *WSClient) handleCommand(msg models.WSMessage) {
	switch msg.Type {
	case "get_interfaces":
		ifaces, err := c.eng.Interfaces()
		if err != nil {
			c.sendError(models.ErrorPayload{Type: "Internal", Description: err.Error()})
			return
		}
		c.reply("interfaces", ifaces)

	case "select_interface":
		var req models.SelectInterfaceRequest
		if !c.decode(msg, &req) {
			return
		}
		iface, err := c.eng.SelectInterface(req.InterfaceName)
		if err != nil {
			c.sendError(errorPayload(err))
			return
		}
		c.reply("interface_selected", iface)

	case "start_sniffing":
		var req models.StartSniffingRequest
		if !c.decode(msg, &req) {
			return
		}
		if err := c.eng.StartSniffing(req.IsResume); err != nil {
			c.sendError(errorPayload(err))
			return
		}
		c.reply("status", c.eng.Status())

	case "stop_sniffing":
		var req models.StopSniffingRequest
		if !c.decode(msg, &req) {
			return
		}
		if err := c.eng.StopSniffing(req.Stop); err != nil {
			c.sendError(errorPayload(err))
			return
		}
		c.reply("status", c.eng.Status())

	case "generate_report":
		var req models.GenerateReportRequest
		if !c.decode(msg, &req) {
			return
		}
		ok, err := c.eng.GenerateReport(req.ReportPath, req.FirstGeneration)
		if err != nil {
			c.sendError(errorPayload(err))
			return
		}
		c.reply("report_generated", gin.H{"success": ok})

	case "get_packets":
		var req models.GetPacketsRequest
		if !c.decode(msg, &req) {
			return
		}
		pkts, total, err := c.eng.GetPackets(queryOf(req))
		if err != nil {
			c.sendError(errorPayload(err))
			return
		}
		c.reply("packets", models.GetPacketsResponse{Total: total, Packets: pkts})

	case "get_status":
		c.reply("status", c.eng.Status())

	default:
		c.sendError(models.ErrorPayload{Type: "BadRequest", Description: "unknown command: " + msg.Type})
	}
}

// decode unmarshals a command payload. An absent payload leaves v zeroed.
func (c *WSClient) decode(msg models.WSMessage, v any) bool {
	if len(msg.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		c.sendError(models.ErrorPayload{Type: "BadRequest", Description: "invalid " + msg.Type + " payload"})
		return false
	}
	return true
}

func (c *WSClient) reply(typ string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("[handlers] ERROR: failed to encode %s: %v", typ, err)
		return
	}
	c.SendMessage(models.WSMessage{Type: typ, Payload: payload})
}

func (c *WSClient) sendError(e models.ErrorPayload) {
	c.reply("error", e)
}

// HandleWebSocket is the handler for WebSocket upgrades.
func HandleWebSocket(eng *engine.Engine) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if err != nil {
			log.Printf("[handlers] WARN: WebSocket upgrade error: %v", err)
			return
		}
		client := NewWSClient(conn, eng)
		client.ReadLoop()
	}
}
