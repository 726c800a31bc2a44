package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// ICE servers for NAT traversal
var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
	{URLs: []string{"stun:stun2.l.google.com:19302"}},
}

// ICEConfig holds ICE server configuration
type ICEConfig struct {
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

func (c ICEConfig) webrtcConfiguration() webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(defaultICEServers)+1)
	iceServers = append(iceServers, defaultICEServers...)

	if c.TURNServer != "" {
		turnServer := webrtc.ICEServer{
			URLs:     []string{c.TURNServer},
			Username: c.TURNUser,
		}
		if c.TURNPass != "" {
			turnServer.Credential = c.TURNPass
			turnServer.CredentialType = webrtc.ICECredentialTypePassword
		}
		iceServers = append(iceServers, turnServer)
	}

	iceTransportPolicy := webrtc.ICETransportPolicyAll
	if c.ForceRelay {
		iceTransportPolicy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: iceTransportPolicy,
	}
}

// ConnHooks are the callbacks a session registers on each new connection.
type ConnHooks struct {
	// OnICECandidate fires for every locally gathered candidate (trickle).
	OnICECandidate func(candidate webrtc.ICECandidateInit)
	// OnTrack fires when the remote side's media arrives.
	OnTrack func(track *webrtc.TrackRemote)
	// OnStateChange fires on transport state transitions.
	OnStateChange func(state webrtc.PeerConnectionState)
}

// ConnFactory creates the connection handle for a new peer link.
type ConnFactory func(peerID string, hooks ConnHooks) (Conn, error)

// NewPionConnFactory returns a factory producing pion-backed connections
// with the given ICE configuration.
func NewPionConnFactory(cfg ICEConfig, log *logrus.Logger) ConnFactory {
	config := cfg.webrtcConfiguration()

	return func(peerID string, hooks ConnHooks) (Conn, error) {
		pc, err := webrtc.NewPeerConnection(config)
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}

		pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
			if candidate == nil || hooks.OnICECandidate == nil {
				return
			}
			hooks.OnICECandidate(candidate.ToJSON())
		})

		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if hooks.OnTrack != nil {
				hooks.OnTrack(track)
			}
			// Keep the receiver drained; rendering is up to the UI layer.
			go func() {
				buf := make([]byte, 1500)
				for {
					if _, _, err := track.Read(buf); err != nil {
						if err != io.EOF {
							log.WithError(err).WithField("peer", peerID).Debug("remote track read")
						}
						return
					}
				}
			}()
		})

		if hooks.OnStateChange != nil {
			pc.OnConnectionStateChange(hooks.OnStateChange)
		}

		return &pionConn{pc: pc, senders: make(map[webrtc.TrackLocal]*webrtc.RTPSender)}, nil
	}
}

// pionConn implements Conn over a webrtc.PeerConnection.
type pionConn struct {
	pc      *webrtc.PeerConnection
	mu      sync.Mutex
	senders map[webrtc.TrackLocal]*webrtc.RTPSender
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sd)
}

func (c *pionConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

func (c *pionConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

// SyncTracks makes the connection's outbound senders match the given track
// set: stale senders are removed, missing tracks are added.
func (c *pionConn) SyncTracks(tracks []webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := make(map[webrtc.TrackLocal]bool, len(tracks))
	for _, t := range tracks {
		want[t] = true
	}

	for track, sender := range c.senders {
		if want[track] {
			continue
		}
		if err := c.pc.RemoveTrack(sender); err != nil {
			return fmt.Errorf("remove track: %w", err)
		}
		delete(c.senders, track)
	}

	for _, track := range tracks {
		if _, ok := c.senders[track]; ok {
			continue
		}
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track: %w", err)
		}
		c.senders[track] = sender
	}
	return nil
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

// ConnectionType reports whether the link went direct or through a relay.
func (c *pionConn) ConnectionType() string {
	stats := c.pc.GetStats()

	for _, stat := range stats {
		candidatePair, ok := stat.(webrtc.ICECandidatePairStats)
		if !ok || candidatePair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		for _, s := range stats {
			localCandidate, ok := s.(webrtc.ICECandidateStats)
			if !ok || localCandidate.ID != candidatePair.LocalCandidateID {
				continue
			}
			switch localCandidate.CandidateType {
			case webrtc.ICECandidateTypeRelay:
				return "relay"
			case webrtc.ICECandidateTypeHost,
				webrtc.ICECandidateTypeSrflx,
				webrtc.ICECandidateTypePrflx:
				return "direct"
			}
		}
	}
	return "unknown"
}
