// Package core declares the interfaces between the call/chat application
// layer and the transport/media adapters. Adapters own the concrete
// resources; the application layer only ever sees these.
package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/peercall/peercall/internal/protocol"
)

// SignalSender is the outbound half of the signaling transport.
// Send fails with domain.ErrTransportClosed when the link is not open.
type SignalSender interface {
	Send(env protocol.Envelope) error
}

// LinkState mirrors the peer connection state the call layer cares about.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkConnecting
	LinkConnected
	LinkDisconnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDisconnected:
		return "disconnected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether the link can no longer carry media.
func (s LinkState) Terminal() bool {
	return s == LinkDisconnected || s == LinkFailed || s == LinkClosed
}

// PeerLink is the negotiated point-to-point media transport for one call.
// Owned exclusively by the session; must be closed before the session
// returns to idle.
type PeerLink interface {
	// AttachMedia adds every local track as an outgoing sender.
	AttachMedia(m LocalMedia) error
	CreateOfferAndSet() (*webrtc.SessionDescription, error)
	ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error

	// SetSending pauses or resumes outgoing senders of the given kind
	// without stopping the capture track, so mute/camera-off can be
	// undone without re-acquiring hardware.
	SetSending(kind webrtc.RTPCodecType, enabled bool) error
	// StopSenders stops the track of every outgoing sender. Teardown only.
	StopSenders()
	Close()

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnTrack(fn func(id string, kind webrtc.RTPCodecType))
	OnStateChange(fn func(LinkState))
}

// PeerLinkFactory creates one PeerLink per call attempt.
type PeerLinkFactory interface {
	NewLink() (PeerLink, error)
}

// LocalMedia is one acquired capture stream (mic, and camera when video).
// Exclusively owned by the current session, never reused after Stop.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	HasVideo() bool
	// Stop stops every capture track and releases the hardware.
	Stop()
}

// MediaSource acquires local capture. Acquire maps hardware/permission
// failures to domain.ErrMediaAccessDenied / domain.ErrMediaDeviceMissing.
type MediaSource interface {
	Acquire(ctx context.Context, video bool) (LocalMedia, error)
}
