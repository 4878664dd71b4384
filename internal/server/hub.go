package server

import "github.com/gorilla/websocket"

// websocketHub fans a single broadcast stream out to every connected
// websocket client, registering and unregistering connections through
// channels so the client set is only ever touched from one goroutine.
type websocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func newWebsocketHub() *websocketHub {
	return &websocketHub{
		clients:    map[*websocket.Conn]bool{},
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *websocketHub) run() {
	for {
		select {
		case conn := <-h.register:
			h.clients[conn] = true

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
			}

		case msg := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
		}
	}
}
