package signal

import (
	"encoding/json"

	"github.com/gorilla/websocket"
)

// readPump reads messages from the WebSocket until the connection drops.
// A dropped connection is treated exactly like an explicit leave.
func (c *client) readPump() {
	defer func() {
		c.server.leave(c)
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.WithError(err).WithField("participant", c.id).Warn("websocket error")
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.server.log.WithError(err).WithField("participant", c.id).Warn("invalid message format")
			continue
		}

		c.handleMessage(msg)
	}
}

// writePump is the single writer for this connection, so messages queued
// for one participant are delivered in queue order.
func (c *client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.server.log.WithError(err).WithField("participant", c.id).Warn("websocket write error")
			return
		}
	}
}

// handleMessage dispatches one incoming signaling message.
func (c *client) handleMessage(msg Message) {
	switch msg.Type {
	case TypeJoin:
		c.server.requestJoin(c, msg.Room, msg.Name)
	case TypeSignal:
		c.server.relaySignal(c, msg)
	case TypeChat:
		c.server.relayChat(c, msg)
	default:
		c.server.log.WithField("type", msg.Type).Warn("unknown message type")
	}
}

// sendMessage marshals and queues a message for this participant.
func (c *client) sendMessage(msg Message) {
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
		// Buffer full: the client stopped draining. Dropping here keeps one
		// slow participant from stalling the whole room.
		c.server.log.WithField("participant", c.id).Warn("send buffer full, dropping message")
	}
}
