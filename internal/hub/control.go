package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JocelynWordSmith/polly/internal/monitoring"
)

func closeDeadline() time.Time {
	return time.Now().Add(2 * time.Second)
}

// controlMessage is the envelope every /control message must carry. Only the
// targets "map", "mode" and "robot" are dispatched; any other target is
// answered with an unknown-target error.
type controlMessage struct {
	Target string `json:"target"`
	N      *int   `json:"N,omitempty"`
	Cmd    string `json:"cmd,omitempty"`
}

// serveControl handles the bidirectional command endpoint.
func (h *Hub) serveControl(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("hub: upgrade failed on %s: %v", EndpointControl, err)
		return
	}
	c := h.add(EndpointControl, conn)
	defer h.remove(EndpointControl, c)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if response := h.handleControl(payload); response != nil {
			if err := c.send(websocket.TextMessage, response); err != nil {
				return
			}
		}
	}
}

// handleControl routes one control message. Malformed JSON is dropped with
// an error reply; it never corrupts bridge state.
func (h *Hub) handleControl(payload []byte) []byte {
	var msg controlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return errorReply("invalid JSON: " + err.Error())
	}

	switch msg.Target {
	case "arduino":
		h.logMotorCommand(msg, payload)
		h.control.RouteArduino(string(payload))
		return nil
	case "map", "mode", "robot":
		return h.control.Dispatch(payload)
	default:
		return errorReply("unknown target " + msg.Target)
	}
}

// logMotorCommand rate-logs motor traffic: the first command and every
// twentieth after it, so teleoperation doesn't flood the log.
func (h *Hub) logMotorCommand(msg controlMessage, payload []byte) {
	if msg.N == nil || *msg.N != 7 {
		return
	}
	h.mu.Lock()
	count := h.motorCmdCount
	h.motorCmdCount++
	h.mu.Unlock()
	if count%motorLogInterval == 0 {
		monitoring.Logf("hub: motor command %s (#%d)", payload, count+1)
	}
}

func errorReply(message string) []byte {
	data, _ := json.Marshal(map[string]string{"error": message})
	return data
}

// serveFirmware accepts a full Intel-HEX payload as one text message and
// streams progress events back to the uploader.
func (h *Hub) serveFirmware(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("hub: upgrade failed on %s: %v", EndpointFirmware, err)
		return
	}
	c := h.add(EndpointFirmware, conn)
	defer h.remove(EndpointFirmware, c)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage || len(payload) == 0 {
			continue
		}
		monitoring.Logf("hub: firmware payload received (%d bytes)", len(payload))
		h.firmware.StartUpload(string(payload), func(eventJSON string) {
			c.send(websocket.TextMessage, []byte(eventJSON))
		})
	}
}
