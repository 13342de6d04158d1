package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/carryconnect/carryconnect/internal/model"
	"github.com/carryconnect/carryconnect/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// WSHandler pushes live trip and chat updates over WebSockets.
type WSHandler struct {
	Trips    *service.TripService
	Chat     *service.ChatService
	Receipts *service.ReceiptService
	upgrader websocket.Upgrader
}

func NewWSHandler(trips *service.TripService, chat *service.ChatService, receipts *service.ReceiptService) *WSHandler {
	return &WSHandler{
		Trips:    trips,
		Chat:     chat,
		Receipts: receipts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// tokens travel in the query string, so cookies grant nothing
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.SetWriteDeadline(time.Now().Add(writeWait))
	return w.WriteJSON(v)
}

func (w *wsConn) keepalive(done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			w.mu.Lock()
			err := w.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) upgrade(c echo.Context) (*wsConn, error) {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsConn{Conn: conn}, nil
}

type chatFrame struct {
	Type    string            `json:"type"`
	Message *model.Message    `json:"message,omitempty"`
	Marker  *model.ReadMarker `json:"marker,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// TripsFeed handles GET /v1/ws/trips: the available-trip snapshot followed
// by added/updated/removed frames, filtered like GET /v1/trips.
func (h *WSHandler) TripsFeed(c echo.Context) error {
	f, ok := filterFromQuery(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid max_price"})
	}
	ws, err := h.upgrade(c)
	if err != nil {
		return nil
	}
	defer ws.Close()
	ctx := c.Request().Context()

	sub, err := h.Trips.SubscribeAvailableTrips(ctx, f.Match, func(ev service.TripEvent) {
		_ = ws.send(ev)
	})
	if err != nil {
		_ = ws.send(chatFrame{Type: "error", Error: "subscribe failed"})
		return nil
	}
	defer sub.Cancel()

	done := make(chan struct{})
	defer close(done)
	go ws.keepalive(done)
	for {
		if _, _, err := ws.NextReader(); err != nil {
			return nil
		}
	}
}

// ChatSocket handles GET /v1/ws/trips/:id/chat.  It streams message and
// read_marker frames and accepts {"text": ...} frames from the client.
// The caller's read marker advances on open and whenever a message from
// the other party is pushed to this socket.
func (h *WSHandler) ChatSocket(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	tripID := c.Param("id")
	ctx := c.Request().Context()

	// access errors are reported as plain HTTP before upgrading
	m, err := h.Receipts.MarkRead(ctx, tripID, uid)
	if err != nil {
		return writeError(c, err)
	}
	readAt := m.ReadAt

	ws, err := h.upgrade(c)
	if err != nil {
		return nil
	}
	defer ws.Close()

	chatSub, err := h.Chat.Subscribe(ctx, tripID, uid, func(msg model.Message) {
		_ = ws.send(chatFrame{Type: "message", Message: &msg})
		if msg.SenderID == uid || !msg.SentAt.After(readAt) {
			return
		}
		if mk, err := h.Receipts.MarkRead(ctx, tripID, uid); err == nil {
			readAt = mk.ReadAt
		} else {
			c.Logger().Warnf("chat %s: mark read failed: %v", tripID, err)
		}
	})
	if err != nil {
		_ = ws.send(chatFrame{Type: "error", Error: "subscribe failed"})
		return nil
	}
	defer chatSub.Cancel()

	markerSub, err := h.Receipts.SubscribeReadMarkers(ctx, tripID, uid, func(mk model.ReadMarker) {
		_ = ws.send(chatFrame{Type: "read_marker", Marker: &mk})
	})
	if err != nil {
		_ = ws.send(chatFrame{Type: "error", Error: "subscribe failed"})
		return nil
	}
	defer markerSub.Cancel()

	done := make(chan struct{})
	defer close(done)
	go ws.keepalive(done)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil
		}
		var in sendReq
		if err := json.Unmarshal(data, &in); err != nil {
			_ = ws.send(chatFrame{Type: "error", Error: "invalid frame"})
			continue
		}
		if _, err := h.Chat.Send(ctx, tripID, uid, in.Text); err != nil {
			_ = ws.send(chatFrame{Type: "error", Error: err.Error()})
		}
	}
}
