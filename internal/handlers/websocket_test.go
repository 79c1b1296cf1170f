package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wirefish/internal/models"
)

func dial(t *testing.T) *websocket.Conn {
	t.Helper()
	r, _ := newTestRouter(t, RouterOptions{})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func command(t *testing.T, conn *websocket.Conn, typ string, payload any) models.WSMessage {
	t.Helper()
	msg := models.WSMessage{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		msg.Payload = raw
	}
	require.NoError(t, conn.WriteJSON(msg))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var reply models.WSMessage
		require.NoError(t, conn.ReadJSON(&reply))
		if reply.Type != models.EventPacketReceived {
			return reply
		}
	}
}

func TestWebSocketCommands(t *testing.T) {
	conn := dial(t)

	reply := command(t, conn, "get_interfaces", nil)
	assert.Equal(t, "interfaces", reply.Type)
	assert.JSONEq(t, `["eth0","lo"]`, string(reply.Payload))

	reply = command(t, conn, "start_sniffing", models.StartSniffingRequest{})
	require.Equal(t, "error", reply.Type)
	var e models.ErrorPayload
	require.NoError(t, json.Unmarshal(reply.Payload, &e))
	assert.Equal(t, "StartSniffingWithoutInterfaceSelection", e.Type)

	reply = command(t, conn, "select_interface", models.SelectInterfaceRequest{InterfaceName: "lo"})
	assert.Equal(t, "interface_selected", reply.Type)

	reply = command(t, conn, "start_sniffing", models.StartSniffingRequest{})
	require.Equal(t, "status", reply.Type)
	var st models.SessionStatus
	require.NoError(t, json.Unmarshal(reply.Payload, &st))
	assert.Equal(t, "Running", st.State)

	reply = command(t, conn, "get_packets", models.GetPacketsRequest{Filter: "none"})
	assert.Equal(t, "packets", reply.Type)
	assert.JSONEq(t, `{"total":0,"packets":[]}`, string(reply.Payload))

	reply = command(t, conn, "stop_sniffing", models.StopSniffingRequest{Stop: true})
	require.Equal(t, "status", reply.Type)
	require.NoError(t, json.Unmarshal(reply.Payload, &st))
	assert.Equal(t, "Stopped", st.State)

	reply = command(t, conn, "self_destruct", nil)
	assert.Equal(t, "error", reply.Type)
}

func TestSendMessageBackpressure(t *testing.T) {
	c := &WSClient{sendCh: make(chan models.WSMessage, 2), done: make(chan struct{})}

	require.NoError(t, c.SendMessage(models.WSMessage{Type: "status"}))
	require.NoError(t, c.SendMessage(models.WSMessage{Type: models.EventPacketReceived}))

	// Full: a packet notification is dropped.
	require.NoError(t, c.SendMessage(models.WSMessage{Type: models.EventPacketReceived}))
	assert.Len(t, c.sendCh, 2)

	// Full: an error evicts the oldest queued message.
	require.NoError(t, c.SendMessage(models.WSMessage{Type: models.EventSniffingError}))
	assert.Equal(t, models.EventPacketReceived, (<-c.sendCh).Type)
	assert.Equal(t, models.EventSniffingError, (<-c.sendCh).Type)

	close(c.done)
	require.NoError(t, c.SendMessage(models.WSMessage{Type: "status"}))
	assert.Empty(t, c.sendCh)
}
