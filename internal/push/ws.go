package push

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 4096
)

// Registered is the payload of the registered acknowledgement.
type Registered struct {
	Room string `json:"room"`
}

// Handler upgrades GET requests to the push channel websocket.
type Handler struct {
	hub      *Hub
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the websocket handler. checkOrigin may be nil to accept
// every origin; cmd/api passes the CORS allow-list.
func NewHandler(hub *Hub, log *slog.Logger, checkOrigin func(r *http.Request) bool) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("push upgrade failed", "err", err)
		return
	}
	sub := h.hub.Subscribe()
	log := h.log.With("remote", c.ClientIP())
	log.Debug("push connection opened")

	done := make(chan struct{})
	go h.writePump(conn, sub, done)
	h.readLoop(conn, sub, log)

	h.hub.Unsubscribe(sub)
	<-done
	log.Debug("push connection closed")
}

func (h *Handler) readLoop(conn *websocket.Conn, sub *Subscriber, log *slog.Logger) {
	conn.SetReadLimit(maxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("push read failed", "err", err)
			}
			return
		}

		switch msg.Event {
		case EventRegisterOfficer, EventRegisterKiosk:
			id, ok := decodeID(msg.Data)
			if !ok {
				log.Warn("push register ignored: bad id", "event", msg.Event)
				continue
			}
			room := KioskRoom(id)
			if msg.Event == EventRegisterOfficer {
				room = OfficerRoom(id)
			}
			h.hub.Join(sub, room)
			log.Info("push room joined", "room", room)
			ack, _ := NewMessage(EventRegistered, Registered{Room: room})
			h.hub.deliverTo(sub, ack)
		case EventLeave:
			var room string
			if len(msg.Data) > 0 {
				_ = json.Unmarshal(msg.Data, &room)
			}
			if room == "" {
				h.hub.LeaveAll(sub)
			} else {
				h.hub.Leave(sub, room)
			}
		default:
			log.Debug("push event ignored", "event", msg.Event)
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *Subscriber, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// decodeID accepts a JSON number or a numeric string. Zero and negative ids are rejected.
func decodeID(raw json.RawMessage) (int64, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		n = json.Number(strings.TrimSpace(s))
	}
	id, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
