// Package hub is the single network endpoint of the runtime: a multiplexed
// websocket server fanning telemetry, camera and thermal streams out to
// remote operators, and funnelling control and firmware traffic back in.
package hub

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/JocelynWordSmith/polly/internal/monitoring"
)

// Endpoint paths served by the hub.
const (
	EndpointArduino  = "/arduino"
	EndpointIMU      = "/imu"
	EndpointCamera   = "/camera"
	EndpointFlir     = "/flir"
	EndpointControl  = "/control"
	EndpointFirmware = "/firmware"
)

var publishEndpoints = []string{EndpointArduino, EndpointIMU, EndpointCamera, EndpointFlir}

// motorLogInterval rate-limits motor-command logging: the first command and
// every twentieth after it.
const motorLogInterval = 20

// ControlRouter handles parsed control messages. The supervisor implements
// it; responses are sent back to the originating client only.
type ControlRouter interface {
	// RouteArduino forwards a raw command line to the MCU.
	RouteArduino(line string)
	// Dispatch runs a named remote command and returns the JSON response.
	Dispatch(raw []byte) []byte
}

// FirmwareStarter launches a firmware upload from a hex payload. Progress
// events are delivered through the callback as JSON lines.
type FirmwareStarter interface {
	StartUpload(hexText string, progress func(eventJSON string))
}

// client is one connected websocket peer. The hub exclusively owns the
// handle; a client is removed on close or on any send error.
type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// Hub owns the per-endpoint client sets and the broadcast fan-out.
type Hub struct {
	control  ControlRouter
	firmware FirmwareStarter

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[string]*client // endpoint → client id → client

	motorCmdCount int
}

// New creates a Hub routing control traffic to the given router and firmware
// payloads to the given starter.
func New(control ControlRouter, firmware FirmwareStarter) *Hub {
	h := &Hub{
		control:  control,
		firmware: firmware,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]map[string]*client),
	}
	for _, ep := range append(publishEndpoints, EndpointControl, EndpointFirmware) {
		h.clients[ep] = make(map[string]*client)
	}
	return h
}

// Attach registers the websocket endpoints on the given mux.
func (h *Hub) Attach(mux *http.ServeMux) {
	for _, ep := range publishEndpoints {
		endpoint := ep
		mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
			h.servePublish(endpoint, w, r)
		})
	}
	mux.HandleFunc(EndpointControl, h.serveControl)
	mux.HandleFunc(EndpointFirmware, h.serveFirmware)
}

// RejectUnknown closes websocket upgrades on unregistered paths with a
// policy violation, and 404s plain HTTP.
func (h *Hub) RejectUnknown(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.NotFound(w, r)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	deadline := closeDeadline()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown endpoint "+r.URL.Path), deadline)
	conn.Close()
}

// add registers a freshly upgraded connection under an endpoint.
func (h *Hub) add(endpoint string, conn *websocket.Conn) *client {
	c := &client{id: uuid.NewString(), conn: conn}
	h.mu.Lock()
	h.clients[endpoint][c.id] = c
	count := len(h.clients[endpoint])
	h.mu.Unlock()
	monitoring.Logf("hub: client joined %s (%d connected)", endpoint, count)
	return c
}

// remove drops a client and closes its connection. Safe to call twice.
func (h *Hub) remove(endpoint string, c *client) {
	h.mu.Lock()
	_, present := h.clients[endpoint][c.id]
	delete(h.clients[endpoint], c.id)
	h.mu.Unlock()
	if present {
		c.conn.Close()
		monitoring.Logf("hub: client left %s", endpoint)
	}
}

// snapshot copies an endpoint's client set so broadcasts can iterate without
// holding the lock across writes.
func (h *Hub) snapshot(endpoint string) []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients[endpoint]))
	for _, c := range h.clients[endpoint] {
		out = append(out, c)
	}
	return out
}

// BroadcastText fans a text message out to every client of the endpoint.
// Send failures evict the failing client and do not cascade.
func (h *Hub) BroadcastText(endpoint, msg string) {
	for _, c := range h.snapshot(endpoint) {
		if err := c.send(websocket.TextMessage, []byte(msg)); err != nil {
			h.remove(endpoint, c)
		}
	}
}

// BroadcastBinary fans a binary message out to every client of the endpoint.
func (h *Hub) BroadcastBinary(endpoint string, data []byte) {
	for _, c := range h.snapshot(endpoint) {
		if err := c.send(websocket.BinaryMessage, data); err != nil {
			h.remove(endpoint, c)
		}
	}
}

// ClientCounts returns the number of connected clients per endpoint name
// (path without the leading slash).
func (h *Hub) ClientCounts() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.clients))
	for ep, set := range h.clients {
		out[ep[1:]] = len(set)
	}
	return out
}

// servePublish upgrades a connection on a server→client endpoint. Inbound
// frames are read and discarded to service pings and detect closes.
func (h *Hub) servePublish(endpoint string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("hub: upgrade failed on %s: %v", endpoint, err)
		return
	}
	c := h.add(endpoint, conn)
	defer h.remove(endpoint, c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
