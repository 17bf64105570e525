package api

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/contentpipe/contentpipe/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans run events out to connected WebSocket clients.
type Hub struct {
	store      *store.Store
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
}

func newHub(st *store.Store) *Hub {
	return &Hub{
		store:      st,
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// run owns the client set for the life of the process; ctx only bounds
// the Redis subscription feeding it.
func (h *Hub) run(ctx context.Context) {
	go h.listenForRunEvents(ctx)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			log.Printf("WebSocket client connected. Total clients: %d", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("WebSocket client disconnected. Total clients: %d", len(h.clients))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client is not keeping up, drop it.
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// listenForRunEvents bridges the store's run event channel into the hub.
func (h *Hub) listenForRunEvents(ctx context.Context) {
	pubsub := h.store.Subscribe(ctx)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast <- []byte(msg.Payload)
		}
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// wsClient is one connected subscriber.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump drains the connection so close frames are noticed; inbound
// messages are ignored.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

// writePump serializes all writes to the connection.
func (c *wsClient) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	// The hub closed the channel.
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
