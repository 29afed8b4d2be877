package rpc

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kindlyrobotics/voltnetwork/internal/txapply"
)

// Hub fans out applied updates to every /rpc/subscribe client,
// grounded on the teacher's messaging-service hub/client-pump pair:
// one registered client per websocket connection, a buffered Send
// channel per client, and a non-blocking broadcast that drops a
// client (closing its channel) rather than stall on a slow reader.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
}

// wsClient is one subscribed connection and its outbound queue.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]bool)}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcast pushes the given bytes to every registered client,
// dropping any client whose send buffer is full instead of blocking.
func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// pushUpdate is the wire shape streamed to subscribers: the applied
// message and the resulting root, reusing the same MessageJSON the
// gossip layer already speaks.
type pushUpdate struct {
	Msg     txapply.MessageJSON `json:"msg"`
	RootHex string              `json:"root_hex"`
}

// BroadcastResult renders a successful Apply's Result as a pushUpdate
// and fans it out to subscribers. Marshal errors are logged and
// otherwise ignored — a malformed push is not worth failing the RPC
// call that produced it.
func (h *Hub) BroadcastResult(result txapply.Result) {
	payload := pushUpdate{
		Msg:     txapply.ToMessageJSON(result.Msg, nil),
		RootHex: result.Root.String(),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Msg("[RPC] failed to marshal push update")
		return
	}
	h.broadcast(b)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleSubscribe upgrades GET /rpc/subscribe to a websocket and
// streams, until the client disconnects, every update this server
// applies through send, mint, broadcast_mint or p3p_mintToken.
// Updates applied through p3p_issueToken or broadcastUpdate, or from
// the gossip bus, are not pushed. It never reads from the connection beyond discarding
// frames, matching a pure push stream.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[RPC] websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 32)}
	s.Hub.register(client)

	go client.readPump(s.Hub)
	client.writePump()
}

// readPump discards inbound frames but detects disconnects so the
// client gets unregistered promptly.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
