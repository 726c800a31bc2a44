package main

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeConn records the calls a Link makes against its connection handle.
type fakeConn struct {
	offers     int
	answers    int
	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	synced     [][]webrtc.TrackLocal
	closes     int

	offerErr  error
	answerErr error
	remoteErr error
	iceErr    error
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.offers++
	if c.offerErr != nil {
		return webrtc.SessionDescription{}, c.offerErr
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer-%d", c.offers),
	}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.answers++
	if c.answerErr != nil {
		return webrtc.SessionDescription{}, c.answerErr
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("answer-%d", c.answers),
	}, nil
}

func (c *fakeConn) SetLocalDescription(sd webrtc.SessionDescription) error {
	c.local = append(c.local, sd)
	return nil
}

func (c *fakeConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	if c.remoteErr != nil {
		return c.remoteErr
	}
	c.remote = append(c.remote, sd)
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if c.iceErr != nil {
		return c.iceErr
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeConn) SyncTracks(tracks []webrtc.TrackLocal) error {
	c.synced = append(c.synced, tracks)
	return nil
}

func (c *fakeConn) Close() error {
	c.closes++
	return nil
}

type sentSignal struct {
	to  string
	env Envelope
}

type fakeSender struct {
	sent []sentSignal
}

func (f *fakeSender) SendSignal(to string, env Envelope) {
	f.sent = append(f.sent, sentSignal{to: to, env: env})
}

func remoteOffer(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
}

func remoteAnswer(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
}

func TestStartOfferBeginsNegotiation(t *testing.T) {
	conn := &fakeConn{}
	sender := &fakeSender{}
	link := newLink("peer1", RoleResponder, conn, sender, newTestLogger())

	if err := link.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}

	if link.State() != LinkNegotiating || link.Role() != RoleInitiator {
		t.Fatalf("state=%v role=%v, want negotiating initiator", link.State(), link.Role())
	}
	if len(conn.local) != 1 || conn.local[0].Type != webrtc.SDPTypeOffer {
		t.Fatalf("local descriptions = %v, want one offer applied before sending", conn.local)
	}
	if len(sender.sent) != 1 || sender.sent[0].to != "peer1" || sender.sent[0].env.SDP == nil {
		t.Fatalf("sent = %+v, want one sdp envelope to peer1", sender.sent)
	}
}

func TestInitiatorRoundCompletesOnAnswer(t *testing.T) {
	conn := &fakeConn{}
	link := newLink("peer1", RoleResponder, conn, &fakeSender{}, newTestLogger())

	if err := link.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	if err := link.HandleSDP(remoteAnswer("a")); err != nil {
		t.Fatalf("HandleSDP: %v", err)
	}

	if link.State() != LinkStable {
		t.Fatalf("state = %v, want stable", link.State())
	}
	if len(conn.remote) != 1 || conn.remote[0].Type != webrtc.SDPTypeAnswer {
		t.Fatalf("remote descriptions = %v", conn.remote)
	}
}

func TestResponderRoundAnswersOffer(t *testing.T) {
	conn := &fakeConn{}
	sender := &fakeSender{}
	link := newLink("peer1", RoleResponder, conn, sender, newTestLogger())

	if err := link.HandleSDP(remoteOffer("o")); err != nil {
		t.Fatalf("HandleSDP: %v", err)
	}

	if link.State() != LinkStable || link.Role() != RoleResponder {
		t.Fatalf("state=%v role=%v, want stable responder", link.State(), link.Role())
	}
	if conn.answers != 1 {
		t.Fatalf("answers created = %d, want 1", conn.answers)
	}
	if len(sender.sent) != 1 || sender.sent[0].env.SDP == nil ||
		sender.sent[0].env.SDP.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("sent = %+v, want one answer envelope", sender.sent)
	}
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	conn := &fakeConn{}
	link := newLink("peer1", RoleResponder, conn, &fakeSender{}, newTestLogger())

	first := webrtc.ICECandidateInit{Candidate: "candidate-1"}
	second := webrtc.ICECandidateInit{Candidate: "candidate-2"}
	if err := link.HandleICE(first); err != nil {
		t.Fatalf("HandleICE: %v", err)
	}
	if err := link.HandleICE(second); err != nil {
		t.Fatalf("HandleICE: %v", err)
	}
	if len(conn.candidates) != 0 {
		t.Fatalf("candidates applied before remote description: %v", conn.candidates)
	}

	if err := link.HandleSDP(remoteOffer("o")); err != nil {
		t.Fatalf("HandleSDP: %v", err)
	}
	if len(conn.candidates) != 2 ||
		conn.candidates[0].Candidate != "candidate-1" ||
		conn.candidates[1].Candidate != "candidate-2" {
		t.Fatalf("flushed candidates = %v, want both in arrival order", conn.candidates)
	}

	// Once the remote description exists candidates apply immediately.
	third := webrtc.ICECandidateInit{Candidate: "candidate-3"}
	if err := link.HandleICE(third); err != nil {
		t.Fatalf("HandleICE: %v", err)
	}
	if len(conn.candidates) != 3 {
		t.Fatalf("late candidate not applied, got %v", conn.candidates)
	}
}

func TestAnswerOutsideNegotiationIsIgnored(t *testing.T) {
	conn := &fakeConn{}
	link := newLink("peer1", RoleResponder, conn, &fakeSender{}, newTestLogger())

	if err := link.HandleSDP(remoteAnswer("stray")); err != nil {
		t.Fatalf("HandleSDP: %v", err)
	}
	if len(conn.remote) != 0 {
		t.Fatalf("stray answer applied: %v", conn.remote)
	}
	if link.State() != LinkIdle {
		t.Fatalf("state = %v, want idle", link.State())
	}

	// Same for a stable link: a duplicate answer must not disturb it.
	if err := link.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	if err := link.HandleSDP(remoteAnswer("a")); err != nil {
		t.Fatalf("HandleSDP: %v", err)
	}
	if err := link.HandleSDP(remoteAnswer("dup")); err != nil {
		t.Fatalf("HandleSDP: %v", err)
	}
	if len(conn.remote) != 1 {
		t.Fatalf("duplicate answer applied: %v", conn.remote)
	}
	if link.State() != LinkStable {
		t.Fatalf("state = %v, want stable", link.State())
	}
}

func TestIncomingOfferSupersedesOutstandingOffer(t *testing.T) {
	conn := &fakeConn{}
	sender := &fakeSender{}
	link := newLink("peer1", RoleResponder, conn, sender, newTestLogger())

	if err := link.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	// Both sides changed media at once: their offer arrives while ours is
	// still in flight. Last offer wins, we answer theirs.
	if err := link.HandleSDP(remoteOffer("theirs")); err != nil {
		t.Fatalf("HandleSDP: %v", err)
	}

	if link.State() != LinkStable || link.Role() != RoleResponder {
		t.Fatalf("state=%v role=%v, want stable responder", link.State(), link.Role())
	}
	if len(sender.sent) != 2 || sender.sent[1].env.SDP.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("sent = %+v, want offer then answer", sender.sent)
	}
}

func TestRenegotiateSyncsTracksAndOffers(t *testing.T) {
	conn := &fakeConn{}
	link := newLink("peer1", RoleResponder, conn, &fakeSender{}, newTestLogger())

	if err := link.HandleSDP(remoteOffer("o")); err != nil {
		t.Fatalf("HandleSDP: %v", err)
	}

	if err := link.Renegotiate(nil); err != nil {
		t.Fatalf("Renegotiate: %v", err)
	}
	if len(conn.synced) != 1 {
		t.Fatalf("SyncTracks calls = %d, want 1", len(conn.synced))
	}
	if link.State() != LinkNegotiating || link.Role() != RoleInitiator {
		t.Fatalf("state=%v role=%v, want negotiating initiator", link.State(), link.Role())
	}
	if conn.offers != 1 {
		t.Fatalf("offers created = %d, want 1", conn.offers)
	}
}

func TestClosedLinkIgnoresEverything(t *testing.T) {
	conn := &fakeConn{}
	link := newLink("peer1", RoleResponder, conn, &fakeSender{}, newTestLogger())

	link.Close()
	if link.State() != LinkClosed {
		t.Fatalf("state = %v, want closed", link.State())
	}

	if err := link.StartOffer(); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("StartOffer on closed link = %v, want ErrLinkClosed", err)
	}
	if err := link.Renegotiate(nil); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("Renegotiate on closed link = %v, want ErrLinkClosed", err)
	}
	if err := link.HandleSDP(remoteOffer("o")); err != nil {
		t.Fatalf("HandleSDP on closed link: %v", err)
	}
	if err := link.HandleICE(webrtc.ICECandidateInit{Candidate: "c"}); err != nil {
		t.Fatalf("HandleICE on closed link: %v", err)
	}
	if len(conn.remote) != 0 || len(conn.candidates) != 0 {
		t.Fatal("closed link still touched the connection")
	}

	link.Close()
	if conn.closes != 1 {
		t.Fatalf("connection closed %d times, want once", conn.closes)
	}
}

func TestCloseDiscardsQueuedCandidates(t *testing.T) {
	conn := &fakeConn{}
	link := newLink("peer1", RoleResponder, conn, &fakeSender{}, newTestLogger())

	if err := link.HandleICE(webrtc.ICECandidateInit{Candidate: "c"}); err != nil {
		t.Fatalf("HandleICE: %v", err)
	}
	link.Close()

	if len(conn.candidates) != 0 {
		t.Fatalf("queued candidates applied on close: %v", conn.candidates)
	}
}

func TestStartOfferFailureLeavesLinkUsable(t *testing.T) {
	conn := &fakeConn{offerErr: errors.New("boom")}
	link := newLink("peer1", RoleResponder, conn, &fakeSender{}, newTestLogger())

	if err := link.StartOffer(); err == nil {
		t.Fatal("StartOffer returned nil, want error")
	}
	if link.State() == LinkClosed {
		t.Fatal("offer failure closed the link")
	}

	// A later incoming offer still completes a round.
	conn.offerErr = nil
	if err := link.HandleSDP(remoteOffer("o")); err != nil {
		t.Fatalf("HandleSDP: %v", err)
	}
	if link.State() != LinkStable {
		t.Fatalf("state = %v, want stable", link.State())
	}
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"sdp":{"type":"offer","sdp":"v=0"}}`))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.SDP == nil || env.SDP.Type != webrtc.SDPTypeOffer || env.ICE != nil {
		t.Fatalf("env = %+v, want sdp offer only", env)
	}

	env, err = ParseEnvelope([]byte(`{"ice":{"candidate":"candidate-1"}}`))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.ICE == nil || env.ICE.Candidate != "candidate-1" || env.SDP != nil {
		t.Fatalf("env = %+v, want ice only", env)
	}

	if _, err := ParseEnvelope([]byte(`{`)); err == nil {
		t.Fatal("ParseEnvelope accepted malformed payload")
	}
}
