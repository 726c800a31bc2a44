package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// ErrLinkClosed is returned when an operation is attempted on a link that
// has already been torn down.
var ErrLinkClosed = errors.New("peer link closed")

// Envelope is the payload of a relayed signal message: exactly one of SDP
// or ICE is set. The relay never looks inside it.
type Envelope struct {
	SDP *webrtc.SessionDescription `json:"sdp,omitempty"`
	ICE *webrtc.ICECandidateInit   `json:"ice,omitempty"`
}

// ParseEnvelope decodes a relayed signal payload.
func ParseEnvelope(raw json.RawMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode signal payload: %w", err)
	}
	return env, nil
}

// LinkState is the negotiation state of one side of a peer link.
type LinkState int

const (
	LinkIdle LinkState = iota
	LinkNegotiating
	LinkStable
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkNegotiating:
		return "negotiating"
	case LinkStable:
		return "stable"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LinkRole is the negotiation role for the current round.
type LinkRole int

const (
	RoleIdle LinkRole = iota
	RoleInitiator
	RoleResponder
)

func (r LinkRole) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "idle"
	}
}

// Conn is the connection-handle abstraction behind a peer link: the media
// stack's offer/answer/candidate surface. The pion implementation lives in
// conn.go; tests substitute a fake.
type Conn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	SyncTracks(tracks []webrtc.TrackLocal) error
	Close() error
}

// SignalSender delivers an envelope to one peer through the relay.
type SignalSender interface {
	SendSignal(to string, env Envelope)
}

// Link is one side of a peer link: the negotiation state machine for a
// single remote participant. All methods must be called from the session
// event loop; a Link is never shared between goroutines.
type Link struct {
	peerID string
	role   LinkRole
	state  LinkState

	conn   Conn
	sender SignalSender

	// Candidates that arrived before the remote description; flushed when
	// it is applied, discarded only on close.
	pendingICE []webrtc.ICECandidateInit
	hasRemote  bool

	log *logrus.Entry
}

func newLink(peerID string, role LinkRole, conn Conn, sender SignalSender, log *logrus.Logger) *Link {
	return &Link{
		peerID: peerID,
		role:   role,
		state:  LinkIdle,
		conn:   conn,
		sender: sender,
		log:    log.WithField("peer", peerID),
	}
}

func (l *Link) PeerID() string   { return l.peerID }
func (l *Link) Role() LinkRole   { return l.role }
func (l *Link) State() LinkState { return l.state }

// StartOffer begins (or restarts) a negotiation round with this side as
// initiator: create an offer, apply it locally, send it.
func (l *Link) StartOffer() error {
	if l.state == LinkClosed {
		return ErrLinkClosed
	}

	offer, err := l.conn.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := l.conn.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("apply local offer: %w", err)
	}

	l.role = RoleInitiator
	l.state = LinkNegotiating
	l.sender.SendSignal(l.peerID, Envelope{SDP: &offer})
	l.log.WithField("state", l.state).Debug("offer sent")
	return nil
}

// SyncTracks reconciles the published tracks with the connection without
// starting a negotiation round. Used on idle links, where the peer's
// first offer is still pending and will pick the tracks up in the answer.
func (l *Link) SyncTracks(tracks []webrtc.TrackLocal) error {
	if l.state == LinkClosed {
		return ErrLinkClosed
	}
	if err := l.conn.SyncTracks(tracks); err != nil {
		return fmt.Errorf("sync tracks: %w", err)
	}
	return nil
}

// Renegotiate reconciles the published tracks with the connection and runs
// a fresh offer/answer round. Triggered whenever the local published media
// changes.
func (l *Link) Renegotiate(tracks []webrtc.TrackLocal) error {
	if err := l.SyncTracks(tracks); err != nil {
		return err
	}
	return l.StartOffer()
}

// HandleSDP processes a remote session description.
//
// Offers are always accepted, even while we have our own offer in flight:
// when both sides change media at the same instant the incoming offer
// simply supersedes ours (last-offer-wins, no rollback) and we answer it
// as a new round. A stray answer outside a negotiation round is a protocol
// violation and is logged and dropped.
func (l *Link) HandleSDP(sd webrtc.SessionDescription) error {
	if l.state == LinkClosed {
		l.log.Debug("ignoring sdp for closed link")
		return nil
	}

	switch sd.Type {
	case webrtc.SDPTypeOffer:
		if l.state == LinkNegotiating && l.role == RoleInitiator {
			l.log.Debug("incoming offer supersedes outstanding local offer")
		}
		if err := l.conn.SetRemoteDescription(sd); err != nil {
			return fmt.Errorf("apply remote offer: %w", err)
		}
		l.hasRemote = true
		l.flushPendingICE()

		answer, err := l.conn.CreateAnswer()
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := l.conn.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("apply local answer: %w", err)
		}

		l.role = RoleResponder
		l.state = LinkStable
		l.sender.SendSignal(l.peerID, Envelope{SDP: &answer})
		l.log.Debug("answered offer, link stable")
		return nil

	case webrtc.SDPTypeAnswer:
		if l.state != LinkNegotiating {
			l.log.WithField("state", l.state).Warn("answer outside negotiation, ignoring")
			return nil
		}
		if err := l.conn.SetRemoteDescription(sd); err != nil {
			return fmt.Errorf("apply remote answer: %w", err)
		}
		l.hasRemote = true
		l.flushPendingICE()
		l.state = LinkStable
		l.log.Debug("answer applied, link stable")
		return nil

	default:
		l.log.WithField("type", sd.Type).Warn("unexpected sdp type, ignoring")
		return nil
	}
}

// HandleICE applies a remote candidate, or queues it until a remote
// description exists.
func (l *Link) HandleICE(candidate webrtc.ICECandidateInit) error {
	if l.state == LinkClosed {
		l.log.Debug("ignoring candidate for closed link")
		return nil
	}
	if !l.hasRemote {
		l.pendingICE = append(l.pendingICE, candidate)
		return nil
	}
	if err := l.conn.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (l *Link) flushPendingICE() {
	for _, candidate := range l.pendingICE {
		if err := l.conn.AddICECandidate(candidate); err != nil {
			l.log.WithError(err).Warn("queued ice candidate rejected")
		}
	}
	l.pendingICE = nil
}

// Close releases the connection handle and discards queued candidates.
// Further events for this link are ignored. Safe to call more than once.
func (l *Link) Close() {
	if l.state == LinkClosed {
		return
	}
	l.state = LinkClosed
	l.role = RoleIdle
	l.pendingICE = nil
	if err := l.conn.Close(); err != nil {
		l.log.WithError(err).Debug("connection close")
	}
}
