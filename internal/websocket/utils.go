package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// WriteEvent sends an enveloped event over the WebSocket.
func WriteEvent(conn *websocket.Conn, event Event, data interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(Envelope{Event: event, Data: data})
}

// WriteError sends an enveloped error over the WebSocket.
func WriteError(conn *websocket.Conn, errMsg string) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(Envelope{Event: EventError, Error: errMsg})
}

// ReadRequest reads and decodes the next client message. It sets a read
// deadline so a dead connection cannot hold the loop forever.
func ReadRequest(conn *websocket.Conn, req *Request) error {
	conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	return conn.ReadJSON(req)
}
