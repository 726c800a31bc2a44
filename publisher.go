package main

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// MediaKind is the published media descriptor: exactly one is active at a
// time per participant.
type MediaKind int

const (
	MediaPlaceholder MediaKind = iota // silent audio + black video
	MediaCamera                       // camera + mic
	MediaScreen                       // screen capture
)

func (k MediaKind) String() string {
	switch k {
	case MediaCamera:
		return "camera"
	case MediaScreen:
		return "screen"
	default:
		return "placeholder"
	}
}

// Stream is an active local media source.
type Stream interface {
	// Tracks returns the outbound tracks this source publishes.
	Tracks() []webrtc.TrackLocal
	// Stop releases the source. Must not fire the OnEnded callback.
	Stop()
	// OnEnded registers a callback for the source dying unexpectedly
	// (device unplugged, permission revoked).
	OnEnded(fn func())
}

// Provider acquires media sources. Camera and screen capture are platform
// collaborators; PlaceholderProvider is the builtin fallback.
type Provider interface {
	Acquire(kind MediaKind) (Stream, error)
}

// Publisher owns the participant's single active media descriptor. Every
// change stops the previous source, activates the new one, and triggers
// renegotiation on all peer links through the OnChange hook. Acquisition
// failures and unexpected source death both degrade to the placeholder
// instead of surfacing an error.
type Publisher struct {
	mu       sync.Mutex
	provider Provider
	current  Stream
	kind     MediaKind
	gen      int // invalidates stale OnEnded callbacks

	onChange func()
	log      *logrus.Entry
}

// NewPublisher creates a publisher starting on the placeholder descriptor.
func NewPublisher(provider Provider, log *logrus.Logger) (*Publisher, error) {
	p := &Publisher{
		provider: provider,
		log:      log.WithField("component", "publisher"),
	}
	stream, err := provider.Acquire(MediaPlaceholder)
	if err != nil {
		return nil, fmt.Errorf("acquire placeholder: %w", err)
	}
	p.current = stream
	p.kind = MediaPlaceholder
	return p, nil
}

// SetOnChange registers the renegotiation trigger. Called once the session
// exists; fires after every successful Publish.
func (p *Publisher) SetOnChange(fn func()) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Publish switches the active descriptor. If the requested source cannot
// be acquired the publisher falls back to the placeholder; the meeting
// continues with a degraded stream rather than failing.
func (p *Publisher) Publish(kind MediaKind) error {
	p.mu.Lock()

	stream, err := p.provider.Acquire(kind)
	if err != nil {
		p.log.WithError(err).WithField("kind", kind).Warn("media acquisition failed, using placeholder")
		kind = MediaPlaceholder
		stream, err = p.provider.Acquire(MediaPlaceholder)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("acquire placeholder: %w", err)
		}
	}

	if p.current != nil {
		p.current.Stop()
	}
	p.current = stream
	p.kind = kind
	p.gen++
	gen := p.gen
	onChange := p.onChange
	p.mu.Unlock()

	// A live source that dies (device unplugged, permission revoked) flips
	// back to the placeholder on its own; peers keep a link that carries
	// something.
	if kind != MediaPlaceholder {
		stream.OnEnded(func() {
			p.mu.Lock()
			stale := p.gen != gen
			p.mu.Unlock()
			if stale {
				return
			}
			p.log.WithField("kind", kind).Info("media source ended, falling back to placeholder")
			if err := p.Publish(MediaPlaceholder); err != nil {
				p.log.WithError(err).Error("placeholder fallback failed")
			}
		})
	}

	p.log.WithField("kind", kind).Info("published media changed")
	if onChange != nil {
		onChange()
	}
	return nil
}

// Kind returns the active descriptor.
func (p *Publisher) Kind() MediaKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kind
}

// Tracks returns the active source's outbound tracks.
func (p *Publisher) Tracks() []webrtc.TrackLocal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current.Tracks()
}

// Stop releases the active source. Used on session teardown only.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.Stop()
		p.current = nil
	}
	p.gen++
}

// PlaceholderProvider is the builtin provider used when no platform
// capture backend is wired in: it serves the silent-audio/black-video
// stream and refuses live descriptors, so camera/screen requests degrade
// through the publisher's fallback path.
type PlaceholderProvider struct{}

func (PlaceholderProvider) Acquire(kind MediaKind) (Stream, error) {
	if kind != MediaPlaceholder {
		return nil, fmt.Errorf("no capture backend for %s", kind)
	}
	return newPlaceholderStream()
}

// placeholderStream holds one silent audio and one black video track.
// No samples are written: the negotiated tracks simply carry nothing,
// which renders as silence and black on the remote side.
type placeholderStream struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample
}

func newPlaceholderStream() (*placeholderStream, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "gomeet-placeholder",
	)
	if err != nil {
		return nil, fmt.Errorf("create placeholder audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "gomeet-placeholder",
	)
	if err != nil {
		return nil, fmt.Errorf("create placeholder video track: %w", err)
	}
	return &placeholderStream{audio: audio, video: video}, nil
}

func (s *placeholderStream) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio, s.video}
}

func (s *placeholderStream) Stop() {}

func (s *placeholderStream) OnEnded(func()) {}
