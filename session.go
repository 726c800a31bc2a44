package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/mkarlsen/gomeet/pkg/signal"
)

// RelayChannel is the ordered, reliable channel to the relay. Implemented
// by signal.Client; tests substitute a fake.
type RelayChannel interface {
	Send(msg *signal.Message)
	Incoming() <-chan *signal.Message
	Close()
}

// SessionEvent is a notification for the UI layer.
type SessionEvent interface{}

// EventJoined reports that the relay accepted us into the room.
type EventJoined struct {
	Room   string
	SelfID string
}

// EventPeerJoined reports a new peer link.
type EventPeerJoined struct{ ID string }

// EventPeerLeft reports a torn-down peer link.
type EventPeerLeft struct{ ID string }

// EventLinkState reports a negotiation state change on one link.
type EventLinkState struct {
	ID    string
	State LinkState
	Role  LinkRole
}

// EventConnState reports the media transport state of one link.
type EventConnState struct {
	ID       string
	State    string
	ConnType string // direct, relay or unknown
}

// EventRemoteTrack reports incoming remote media.
type EventRemoteTrack struct {
	ID   string
	Kind string // audio or video
}

// EventChat is an incoming chat message.
type EventChat struct {
	From string
	Name string
	Text string
}

// EventError is a relay-reported error.
type EventError struct{ Err string }

// Session is one participant's endpoint: a single event loop that owns
// every peer link, so no two handlers for the same link ever run
// concurrently. Signaling messages, media changes, and transport callbacks
// all funnel through the loop as discrete events.
type Session struct {
	room string
	name string
	id   string

	channel     RelayChannel
	connFactory ConnFactory
	publisher   *Publisher

	links map[string]*Link

	cmds   chan func()
	events chan SessionEvent
	done   chan struct{}
	once   sync.Once

	log *logrus.Logger
}

// NewSession wires a session for the given room. Run must be called for
// anything to happen.
func NewSession(room, name string, channel RelayChannel, factory ConnFactory, publisher *Publisher, log *logrus.Logger) *Session {
	s := &Session{
		room:        signal.NormalizeRoomCode(room),
		name:        name,
		channel:     channel,
		connFactory: factory,
		publisher:   publisher,
		links:       make(map[string]*Link),
		cmds:        make(chan func(), 64),
		events:      make(chan SessionEvent, 64),
		done:        make(chan struct{}),
		log:         log,
	}
	publisher.SetOnChange(func() {
		s.do(s.renegotiateAll)
	})
	return s
}

// ID returns the relay-assigned participant id (empty until welcomed).
func (s *Session) ID() string { return s.id }

// Room returns the normalized room code.
func (s *Session) Room() string { return s.room }

// Events returns the UI notification channel.
func (s *Session) Events() <-chan SessionEvent { return s.events }

// Run drives the event loop until the context is cancelled or the relay
// channel closes. Either way every peer link is closed before it returns.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.channel.Incoming():
			if !ok {
				// Channel loss is handled like an explicit leave.
				return nil
			}
			s.handleMessage(msg)
		case fn := <-s.cmds:
			fn()
		}
	}
}

// SendChat relays a chat line to the room. The local UI renders its own
// copy; the relay does not echo.
func (s *Session) SendChat(text string) {
	s.channel.Send(&signal.Message{Type: signal.TypeChat, Name: s.name, Text: text})
}

// Publish switches the published media descriptor; renegotiation of every
// link follows through the publisher's change hook.
func (s *Session) Publish(kind MediaKind) error {
	return s.publisher.Publish(kind)
}

// SendSignal implements SignalSender.
func (s *Session) SendSignal(to string, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		s.log.WithError(err).Error("encode signal payload")
		return
	}
	s.channel.Send(&signal.Message{Type: signal.TypeSignal, To: to, Payload: payload})
}

// do posts work onto the event loop.
func (s *Session) do(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.done:
	}
}

func (s *Session) emit(ev SessionEvent) {
	select {
	case s.events <- ev:
	default:
		// UI is not draining; state display is best effort.
	}
}

func (s *Session) handleMessage(msg *signal.Message) {
	switch msg.Type {
	case signal.TypeWelcome:
		s.id = msg.PeerID
		s.channel.Send(&signal.Message{Type: signal.TypeJoin, Room: s.room, Name: s.name})
		s.emit(EventJoined{Room: s.room, SelfID: s.id})

	case signal.TypeJoined:
		s.handleJoined(msg.JoinedID, msg.Clients)

	case signal.TypeLeft:
		s.handleLeft(msg.PeerID)

	case signal.TypeSignal:
		env, err := ParseEnvelope(msg.Payload)
		if err != nil {
			s.log.WithError(err).WithField("from", msg.From).Warn("malformed signal payload")
			return
		}
		s.handleSignal(msg.From, env)

	case signal.TypeChat:
		s.emit(EventChat{From: msg.From, Name: msg.Name, Text: msg.Text})

	case signal.TypeError:
		s.log.WithField("error", msg.Error).Warn("relay error")
		s.emit(EventError{Err: msg.Error})

	default:
		s.log.WithField("type", msg.Type).Debug("unknown relay message")
	}
}

// handleJoined applies the join-ordering rule: everyone creates a link to
// any peer they do not have one for yet, but only the participant named in
// joinedId sends offers. That keeps exactly one initiator per pair, so
// simultaneous-offer glare cannot happen on the first round.
func (s *Session) handleJoined(joinedID string, clients []string) {
	for _, peerID := range clients {
		if peerID == s.id || peerID == "" {
			continue
		}
		if _, ok := s.links[peerID]; ok {
			continue // duplicate or reordered joined event
		}
		link, err := s.createLink(peerID)
		if err != nil {
			s.log.WithError(err).WithField("peer", peerID).Error("create peer link")
			continue
		}
		s.links[peerID] = link
		s.emit(EventPeerJoined{ID: peerID})
	}

	if joinedID != s.id {
		return
	}

	// We are the newcomer: initiate with everyone already in the room.
	for _, peerID := range clients {
		if peerID == s.id {
			continue
		}
		link := s.links[peerID]
		if link == nil || link.State() != LinkIdle {
			continue
		}
		if err := link.StartOffer(); err != nil {
			s.log.WithError(err).WithField("peer", peerID).Warn("initial offer failed")
			continue
		}
		s.emit(EventLinkState{ID: peerID, State: link.State(), Role: link.Role()})
	}
}

func (s *Session) handleLeft(peerID string) {
	link, ok := s.links[peerID]
	if !ok {
		return // duplicate left, or a peer we never linked
	}
	link.Close()
	delete(s.links, peerID)
	s.emit(EventPeerLeft{ID: peerID})
}

func (s *Session) handleSignal(from string, env Envelope) {
	if from == "" || from == s.id {
		return
	}

	link, ok := s.links[from]
	if !ok {
		// An offer can race ahead of the joined event; create the link on
		// demand so nothing is lost.
		var err error
		link, err = s.createLink(from)
		if err != nil {
			s.log.WithError(err).WithField("peer", from).Error("create peer link")
			return
		}
		s.links[from] = link
		s.emit(EventPeerJoined{ID: from})
	}

	if env.SDP != nil {
		if err := link.HandleSDP(*env.SDP); err != nil {
			// Transient negotiation error: logged, link remains usable.
			s.log.WithError(err).WithField("peer", from).Warn("sdp rejected")
		}
		s.emit(EventLinkState{ID: from, State: link.State(), Role: link.Role()})
	}
	if env.ICE != nil {
		if err := link.HandleICE(*env.ICE); err != nil {
			s.log.WithError(err).WithField("peer", from).Warn("ice rejected")
		}
	}
}

func (s *Session) createLink(peerID string) (*Link, error) {
	conn, err := s.connFactory(peerID, ConnHooks{
		OnICECandidate: func(candidate webrtc.ICECandidateInit) {
			s.SendSignal(peerID, Envelope{ICE: &candidate})
		},
		OnTrack: func(track *webrtc.TrackRemote) {
			s.emit(EventRemoteTrack{ID: peerID, Kind: track.Kind().String()})
		},
		OnStateChange: func(state webrtc.PeerConnectionState) {
			s.do(func() { s.reportConnState(peerID, state) })
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.SyncTracks(s.publisher.Tracks()); err != nil {
		conn.Close()
		return nil, err
	}
	return newLink(peerID, RoleResponder, conn, s, s.log), nil
}

func (s *Session) reportConnState(peerID string, state webrtc.PeerConnectionState) {
	link, ok := s.links[peerID]
	if !ok || link.State() == LinkClosed {
		return
	}
	connType := "unknown"
	if d, ok := link.conn.(interface{ ConnectionType() string }); ok &&
		state == webrtc.PeerConnectionStateConnected {
		connType = d.ConnectionType()
	}
	s.emit(EventConnState{ID: peerID, State: state.String(), ConnType: connType})
}

// renegotiateAll repeats the offer/answer cycle on every negotiated link
// after a media change. Links still mid-negotiation get a fresh offer too
// and the older round is superseded, matching the last-offer-wins policy.
// Idle links only sync tracks: their peer owes us the first offer and the
// answer will carry the updated set, so initiating here would break the
// join-ordering rule.
func (s *Session) renegotiateAll() {
	tracks := s.publisher.Tracks()
	for peerID, link := range s.links {
		switch link.State() {
		case LinkClosed:
			continue
		case LinkIdle:
			if err := link.SyncTracks(tracks); err != nil {
				s.log.WithError(err).WithField("peer", peerID).Warn("track sync failed")
			}
			continue
		}
		if err := link.Renegotiate(tracks); err != nil {
			s.log.WithError(err).WithField("peer", peerID).Warn("renegotiation failed")
			continue
		}
		s.emit(EventLinkState{ID: peerID, State: link.State(), Role: link.Role()})
	}
}

// shutdown synchronously closes every peer link, stops the publisher, and
// drops the relay channel. After it returns no renegotiation can touch a
// closed link.
func (s *Session) shutdown() {
	s.once.Do(func() {
		close(s.done)
		for peerID, link := range s.links {
			link.Close()
			delete(s.links, peerID)
		}
		s.publisher.Stop()
		s.channel.Close()
	})
}
