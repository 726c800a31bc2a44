package signal

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// client represents a connected participant on the relay side.
type client struct {
	id     string
	name   string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// Server is the signaling relay. It routes envelopes between named
// participants in the same room, fans out join/leave notifications, and
// relays chat. Media never flows through it.
type Server struct {
	registry *Registry
	mu       sync.RWMutex
	clients  map[string]*client // participant id -> connection
	upgrader websocket.Upgrader
	log      *logrus.Logger
}

// NewServer creates a new signaling relay.
func NewServer(log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		registry: NewRegistry(),
		clients:  make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		log: log,
	}
}

// HandleWebSocket upgrades the connection, assigns a participant id, and
// starts the read/write pumps.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	// Queue the welcome before the read pump starts so the assigned id is
	// always the first thing the participant sees.
	c.sendMessage(Message{Type: TypeWelcome, PeerID: c.id})

	go c.writePump()
	go c.readPump()
}

// StartServer starts the relay HTTP server.
func (s *Server) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)

	s.log.WithField("addr", addr).Info("signal relay starting")
	return http.ListenAndServe(addr, mux)
}

// requestJoin registers the participant in the room and broadcasts a single
// joined event, carrying the full post-join membership, to every member
// including the joiner. Each recipient derives from that event both which
// links to create and who initiates each negotiation.
func (s *Server) requestJoin(c *client, roomCode, name string) {
	roomCode = NormalizeRoomCode(roomCode)
	if roomCode == "" {
		c.sendMessage(Message{Type: TypeError, Error: "missing room code"})
		return
	}
	c.name = name

	// Joining a new room implies leaving the old one; the old room's
	// members need the left event to tear down their peer links.
	if prev, ok := s.registry.RoomOf(c.id); ok && prev != roomCode {
		_, remaining, _ := s.registry.Leave(c.id)
		s.log.WithFields(logrus.Fields{
			"room":        prev,
			"participant": c.id,
		}).Info("participant switched rooms")

		event := Message{Type: TypeLeft, PeerID: c.id}
		for _, id := range remaining {
			s.sendTo(id, event)
		}
	}

	existing := s.registry.Join(roomCode, c.id)
	clients := append(existing, c.id)

	s.log.WithFields(logrus.Fields{
		"room":        roomCode,
		"participant": c.id,
		"members":     len(clients),
	}).Info("participant joined")

	event := Message{Type: TypeJoined, Room: roomCode, JoinedID: c.id, Clients: clients}
	for _, id := range clients {
		s.sendTo(id, event)
	}
}

// relaySignal forwards the envelope verbatim to the target participant.
// A missing target means the peer already left; the message is dropped.
func (s *Server) relaySignal(c *client, msg Message) {
	if msg.To == "" {
		return
	}
	out := Message{Type: TypeSignal, From: c.id, Payload: msg.Payload}
	if !s.sendTo(msg.To, out) {
		s.log.WithFields(logrus.Fields{
			"from": c.id,
			"to":   msg.To,
		}).Debug("dropping signal for unknown participant")
	}
}

// relayChat broadcasts a chat message to every other member of the
// sender's room. The sender renders its own message locally.
func (s *Server) relayChat(c *client, msg Message) {
	roomCode, ok := s.registry.RoomOf(c.id)
	if !ok {
		return
	}
	out := Message{Type: TypeChat, From: c.id, Name: msg.Name, Text: msg.Text}
	for _, id := range s.registry.MembersOf(roomCode) {
		if id == c.id {
			continue
		}
		s.sendTo(id, out)
	}
}

// leave removes the participant and tells the remaining members so they
// can tear down their side of the peer link.
func (s *Server) leave(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		// Ends the write pump. sendTo queues under the read lock, so no
		// send can race this close.
		close(c.send)
	}
	s.mu.Unlock()

	roomCode, remaining, ok := s.registry.Leave(c.id)
	if !ok {
		return
	}

	s.log.WithFields(logrus.Fields{
		"room":        roomCode,
		"participant": c.id,
	}).Info("participant left")

	event := Message{Type: TypeLeft, PeerID: c.id}
	for _, id := range remaining {
		s.sendTo(id, event)
	}
}

// sendTo queues a message on one participant's channel. Returns false if
// the participant is not connected. The queueing happens under the read
// lock so it cannot race the channel close in leave.
func (s *Server) sendTo(id string, msg Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return false
	}
	c.sendMessage(msg)
	return true
}
