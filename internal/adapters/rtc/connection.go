// Package rtc adapts pion/webrtc peer connections to the core.PeerLink
// surface the call state machine drives.
package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
)

type peerLink struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[webrtc.RTPCodecType]senderSlot

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(id string, kind webrtc.RTPCodecType)
	onState func(core.LinkState)
}

// senderSlot remembers the capture track so a paused sender can be resumed
// without touching the hardware.
type senderSlot struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

func newPeerLink(pc *webrtc.PeerConnection) *peerLink {
	l := &peerLink{pc: pc, senders: make(map[webrtc.RTPCodecType]senderSlot)}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if fn := l.onICE; fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		if fn := l.onTrack; fn != nil {
			fn(track.ID(), track.Kind())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		if fn := l.onState; fn != nil {
			fn(mapState(s))
		}
	})

	return l
}

func mapState(s webrtc.PeerConnectionState) core.LinkState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return core.LinkNew
	case webrtc.PeerConnectionStateConnecting:
		return core.LinkConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.LinkConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.LinkDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.LinkFailed
	default:
		return core.LinkClosed
	}
}

func (l *peerLink) OnICECandidate(fn func(webrtc.ICECandidateInit)) { l.onICE = fn }

func (l *peerLink) OnTrack(fn func(id string, kind webrtc.RTPCodecType)) { l.onTrack = fn }

func (l *peerLink) OnStateChange(fn func(core.LinkState)) { l.onState = fn }

func (l *peerLink) AttachMedia(m core.LocalMedia) error {
	for _, track := range m.Tracks() {
		sender, err := l.pc.AddTrack(track)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.senders[track.Kind()] = senderSlot{sender: sender, track: track}
		l.mu.Unlock()
	}
	return nil
}

func (l *peerLink) CreateOfferAndSet() (*webrtc.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return l.pc.LocalDescription(), nil
}

func (l *peerLink) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return l.pc.LocalDescription(), nil
}

func (l *peerLink) ApplyAnswer(answer webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(answer)
}

func (l *peerLink) AddICECandidate(c webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(c)
}

// SetSending swaps the sender's track out (pause) or back in (resume).
// The capture track keeps running so resume needs no new permission.
func (l *peerLink) SetSending(kind webrtc.RTPCodecType, enabled bool) error {
	l.mu.Lock()
	slot, ok := l.senders[kind]
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if enabled {
		return slot.sender.ReplaceTrack(slot.track)
	}
	return slot.sender.ReplaceTrack(nil)
}

// StopSenders stops every outgoing sender. Only called during teardown,
// after the local capture tracks themselves were stopped.
func (l *peerLink) StopSenders() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for kind, slot := range l.senders {
		if err := slot.sender.Stop(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("kind", kind.String()).Msg("sender stop")
		}
	}
	l.senders = make(map[webrtc.RTPCodecType]senderSlot)
}

func (l *peerLink) Close() {
	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Msg("closed")
	}
}
