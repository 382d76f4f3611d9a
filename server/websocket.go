package server

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/nvr-ai/go-cheatdetect/detector"
	"github.com/nvr-ai/go-cheatdetect/images"
	"github.com/nvr-ai/go-cheatdetect/internal/log"
	"github.com/pkg/errors"
)

// Message types exchanged on /ws/detect.
const (
	MessageFrame           = "frame"
	MessagePing            = "ping"
	MessagePong            = "pong"
	MessageDetectionResult = "detection_result"
	MessageError           = "error"
)

// ClientMessage is a message sent by a WebSocket client. Data is an image
// data URI for frame messages.
type ClientMessage struct {
	Type      string          `json:"type"`
	Data      string          `json:"data,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// ServerMessage is a message sent back to a WebSocket client. Timestamp
// echoes the frame's timestamp verbatim.
type ServerMessage struct {
	Type      string           `json:"type"`
	Timestamp json.RawMessage  `json:"timestamp,omitempty"`
	Results   *detector.Result `json:"results,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// socket is one registered connection. Writes are serialized so the
// shutdown path can close it while the read loop is replying.
type socket struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *socket) send(msg ServerMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *socket) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
	_ = s.conn.Close()
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "request_id", c.GetString(requestIDKey), "error", err)
		return
	}
	conn.SetReadLimit(s.opts.MaxUploadBytes)

	sock := &socket{id: uuid.NewString(), conn: conn}
	s.sockets.Set(sock.id, sock)
	defer func() {
		s.sockets.Remove(sock.id)
		conn.Close()
		log.Info("websocket disconnected", "connection_id", sock.id, "open", s.sockets.Count())
	}()
	log.Info("websocket connected", "connection_id", sock.id, "open", s.sockets.Count())

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("websocket read failed", "connection_id", sock.id, "error", err)
			}
			return
		}

		reply, ok := s.handleMessage(payload)
		if !ok {
			continue
		}
		if err := sock.send(reply); err != nil {
			log.Warn("websocket write failed", "connection_id", sock.id, "error", err)
			return
		}
	}
}

// handleMessage answers one client message. Unknown message types get no
// reply.
func (s *Server) handleMessage(payload []byte) (ServerMessage, bool) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ServerMessage{Type: MessageError, Message: "Invalid JSON format"}, true
	}

	switch msg.Type {
	case MessagePing:
		return ServerMessage{Type: MessagePong}, true
	case MessageFrame:
		defer s.timeOperation("detect_frame")()

		result, err := s.detectDataURI(msg.Data)
		if err != nil {
			return ServerMessage{Type: MessageError, Message: "Processing error: " + err.Error()}, true
		}
		ts := msg.Timestamp
		if ts == nil {
			ts = json.RawMessage("null")
		}
		return ServerMessage{Type: MessageDetectionResult, Timestamp: ts, Results: result}, true
	default:
		return ServerMessage{}, false
	}
}

// detectDataURI decodes a "data:<mime>;base64,<payload>" string and runs
// detection on it.
func (s *Server) detectDataURI(uri string) (*detector.Result, error) {
	_, encoded, found := strings.Cut(uri, ",")
	if !found {
		return nil, errors.Wrap(common.ErrInvalidInput, "frame data is not a data URI")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(common.ErrInvalidInput, err.Error())
	}

	img, err := images.Decode(data)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	return s.session.Detect(img)
}

// closeSockets disconnects every registered client.
func (s *Server) closeSockets() {
	for item := range s.sockets.IterBuffered() {
		item.Val.close()
		s.sockets.Remove(item.Key)
	}
}
