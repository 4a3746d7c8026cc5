package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/SteelMorgan/journal-ingest/internal/dispatch"
	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientBuffer   = 512
	maxClientFrame = 4096

	// Client -> server text frames
	MsgTypePing = "ping"
	// Server -> client reply to ping
	MsgTypePong = "pong"
)

// controlMessage is a client request on the socket
type controlMessage struct {
	Type string `json:"type"`
}

// WebSocketHandler pushes dispatcher messages to websocket clients
type WebSocketHandler struct {
	hub      Broadcaster
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates the push handler
func NewWebSocketHandler(hub Broadcaster) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			// Local overlay tools connect from arbitrary origins
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// wsClient is one connection registered as a dispatcher subscriber
type wsClient struct {
	conn    *websocket.Conn
	msgpack bool

	mu sync.Mutex // Serializes writes
}

// Deliver writes msg as one frame: a JSON text frame, or a binary msgpack
// frame when the client asked for ?format=msgpack
func (cl *wsClient) Deliver(_ context.Context, msg domain.Message) error {
	if cl.msgpack {
		data, err := msgpack.Marshal(msg)
		if err != nil {
			return err
		}
		return cl.write(websocket.BinaryMessage, data)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return cl.write(websocket.TextMessage, data)
}

func (cl *wsClient) write(frameType int, data []byte) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if err := cl.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return cl.conn.WriteMessage(frameType, data)
}

// HandleWebSocket upgrades the connection, replays the cached last values and
// then streams every dispatched message until the client disconnects
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return nil
	}
	defer ws.Close()

	client := &wsClient{conn: ws, msgpack: c.QueryParam(formatParam) == formatMsgpack}

	// A stalled client loses messages instead of stalling the pipeline
	async := dispatch.NewAsync(client,
		dispatch.WithBufferSize(clientBuffer),
		dispatch.WithDropOnFull(),
		dispatch.WithOnError(func(err error) {
			log.Debug().Err(err).Msg("WebSocket write failed")
			ws.Close()
		}),
	)
	id := wsh.hub.SubscribeWithReplay(c.Request().Context(), async)
	defer func() {
		wsh.hub.Unsubscribe(id)
		async.Close()
	}()

	log.Info().
		Str("subscriber", id).
		Str("remote", c.RealIP()).
		Bool("msgpack", client.msgpack).
		Msg("WebSocket client connected")

	stopPing := make(chan struct{})
	defer close(stopPing)
	go wsh.keepAlive(client, stopPing)

	ws.SetReadLimit(maxClientFrame)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg controlMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("subscriber", id).Msg("WebSocket connection error")
			}
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		if msg.Type == MsgTypePing {
			data, _ := json.Marshal(controlMessage{Type: MsgTypePong})
			if err := client.write(websocket.TextMessage, data); err != nil {
				break
			}
		}
	}

	log.Info().Str("subscriber", id).Msg("WebSocket client disconnected")
	return nil
}

func (wsh *WebSocketHandler) keepAlive(client *wsClient, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			client.mu.Lock()
			err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			client.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
