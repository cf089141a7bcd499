// Package call implements the session manager for a single relayed call:
// one state machine that owns the peer link, the local capture, the ICE
// candidate buffer and the duration tracker for the call's whole lifetime.
//
// Every trigger is turned into an event and handled run-to-completion, one
// at a time. Callbacks from the transport and the peer link only enqueue;
// they never touch session state themselves.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
	"github.com/peercall/peercall/internal/protocol"
)

// ErrNoIncomingCall is returned by AcceptCall/RejectCall when there is no
// pending offer to act on.
var ErrNoIncomingCall = errors.New("no incoming call")

// Clock abstracts time for the duration logic.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config wires the manager's collaborators. Signal, Links, Media and Self
// are required; the rest default sensibly.
type Config struct {
	Signal core.SignalSender
	Links  core.PeerLinkFactory
	Media  core.MediaSource

	// Self reports the relay-assigned identity; called lazily because the
	// userId envelope arrives after connect.
	Self func() (id, displayName string)

	// OnMessage receives system transcript entries (call ended, rejected).
	OnMessage func(domain.Message)
	// OnError receives every user-visible failure, wrapped around the
	// domain taxonomy so callers can match with errors.Is.
	OnError func(error)

	Clock        Clock
	TickInterval time.Duration
	// Spawn runs asynchronous steps (media acquisition). Tests replace it
	// with an inline runner for determinism.
	Spawn func(func())
}

// session is the mutable call state. Only handle() touches it.
type session struct {
	status          domain.CallStatus
	video           bool
	muted           bool
	cameraOff       bool
	incoming        bool
	acquiring       bool
	pendingOffer    *protocol.Envelope
	remoteParty     string
	remotePartyName string
	local           core.LocalMedia
	link            core.PeerLink
	remoteDescSet   bool
	remoteStreams   []string
	startedAt       time.Time
	elapsed         string
	cands           candidateQueue
	tracker         *durationTracker
	transportDown   bool

	// gen increments on every teardown; async resumes and peer-link
	// callbacks carry the gen they were created under and are ignored
	// when it no longer matches.
	gen uint64
}

type Manager struct {
	cfg Config

	mu      sync.Mutex
	queue   []event
	running bool

	st session

	snapMu sync.RWMutex
	snap   Snapshot
}

func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Spawn == nil {
		cfg.Spawn = func(fn func()) { go fn() }
	}
	m := &Manager{cfg: cfg}
	m.st.elapsed = FormatDuration(0)
	m.publish()
	return m
}

// Snapshot returns the last published session view.
func (m *Manager) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// StartCall begins an outbound call. Fails immediately with
// domain.ErrCallInProgress when a call already exists in any form; media
// acquisition and negotiation then proceed asynchronously, reporting
// failures through OnError.
func (m *Manager) StartCall(video bool) error {
	reply := make(chan error, 1)
	m.post(evStart{video: video, reply: reply})
	return <-reply
}

// AcceptCall answers the pending incoming offer.
func (m *Manager) AcceptCall() error {
	reply := make(chan error, 1)
	m.post(evAccept{reply: reply})
	return <-reply
}

// RejectCall declines the pending incoming offer. No-op when there is none.
func (m *Manager) RejectCall() { m.post(evReject{}) }

// EndCall hangs up. Effective even while media acquisition is still pending;
// calling it twice is a no-op the second time.
func (m *Manager) EndCall() { m.post(evEnd{}) }

func (m *Manager) ToggleMute() { m.post(evToggleMute{}) }

func (m *Manager) ToggleCamera() { m.post(evToggleCamera{}) }

// HandleEnvelope feeds an inbound signaling envelope to the state machine.
// Only call-* kinds are meaningful here; anything else is ignored.
func (m *Manager) HandleEnvelope(env protocol.Envelope) { m.post(evEnvelope{env: env}) }

// TransportStatus records signaling-link health. A recoverable drop never
// ends a call; err is non-nil only when the reconnect budget is spent.
func (m *Manager) TransportStatus(down bool, err error) { m.post(evTransport{down: down, err: err}) }

// post enqueues one event and, unless another goroutine is already draining,
// drains the queue run-to-completion. Events enqueued from inside a handler
// are processed by the active drain loop in order, so state transitions are
// strictly serial without a dedicated goroutine.
func (m *Manager) post(ev event) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	for {
		if len(m.queue) == 0 {
			m.running = false
			m.mu.Unlock()
			return
		}
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.handle(next)
		m.publish()

		m.mu.Lock()
	}
}

func (m *Manager) handle(ev event) {
	switch ev := ev.(type) {
	case evStart:
		ev.reply <- m.startCall(ev.video)
	case evAccept:
		ev.reply <- m.acceptCall()
	case evReject:
		m.rejectCall()
	case evEnd:
		m.endCall()
	case evToggleMute:
		m.toggleMute()
	case evToggleCamera:
		m.toggleCamera()
	case evEnvelope:
		m.handleEnvelope(ev.env)
	case evMediaReady:
		m.mediaReady(ev)
	case evLocalCandidate:
		m.localCandidate(ev)
	case evRemoteTrack:
		if ev.gen == m.st.gen {
			m.st.remoteStreams = append(m.st.remoteStreams, ev.id)
		}
	case evLinkState:
		m.linkStateChanged(ev)
	case evTick:
		if m.st.status == domain.CallConnected {
			m.st.elapsed = FormatDuration(m.cfg.Clock.Now().Sub(m.st.startedAt))
		}
	case evTransport:
		m.st.transportDown = ev.down
		if ev.err != nil {
			m.emitError(ev.err)
		}
	}
}

func (m *Manager) startCall(video bool) error {
	if m.st.status != domain.CallIdle || m.st.acquiring || m.st.incoming {
		return domain.ErrCallInProgress
	}
	m.st.acquiring = true
	m.st.video = video
	m.acquire(m.st.gen, video, false)
	log.Info().Str("module", "call").Bool("video", video).Msg("starting call")
	return nil
}

func (m *Manager) acceptCall() error {
	if !m.st.incoming || m.st.pendingOffer == nil {
		return ErrNoIncomingCall
	}
	if m.st.acquiring || m.st.status != domain.CallIdle {
		return domain.ErrCallInProgress
	}
	m.st.acquiring = true
	m.acquire(m.st.gen, m.st.video, true)
	log.Info().Str("module", "call").Str("caller", m.st.remoteParty).Msg("accepting call")
	return nil
}

// acquire runs capture acquisition off the event loop and reports back with
// the generation it was started under.
func (m *Manager) acquire(gen uint64, video, accept bool) {
	m.cfg.Spawn(func() {
		lm, err := m.cfg.Media.Acquire(context.Background(), video)
		m.post(evMediaReady{gen: gen, media: lm, err: err, accept: accept})
	})
}

func (m *Manager) mediaReady(ev evMediaReady) {
	if ev.gen != m.st.gen || !m.st.acquiring {
		// The call this acquisition belonged to is gone. Release the
		// hardware and do nothing else.
		if ev.media != nil {
			ev.media.Stop()
		}
		return
	}
	m.st.acquiring = false
	if ev.err != nil {
		if m.st.incoming {
			// Accepting failed before a peer link existed; drop the
			// pending offer so the session is not left half-open.
			m.teardown()
		}
		m.emitError(ev.err)
		return
	}
	if ev.accept {
		m.completeAccept(ev.media)
	} else {
		m.completeOffer(ev.media)
	}
}

// completeOffer finishes startCall once capture is ready: peer link, local
// offer, call-offer envelope, Calling.
func (m *Manager) completeOffer(lm core.LocalMedia) {
	link, err := m.newWiredLink(lm)
	if err != nil {
		lm.Stop()
		m.emitError(fmt.Errorf("%w: %s", domain.ErrNegotiationFailed, err))
		return
	}
	offer, err := link.CreateOfferAndSet()
	if err != nil {
		lm.Stop()
		link.Close()
		m.emitError(fmt.Errorf("%w: create offer: %s", domain.ErrNegotiationFailed, err))
		return
	}

	id, name := m.cfg.Self()
	env := protocol.Envelope{
		Type:       protocol.KindCallOffer,
		Offer:      offer,
		IsVideo:    m.st.video,
		Caller:     id,
		CallerName: name,
	}
	if err := m.cfg.Signal.Send(env); err != nil {
		// The offer never left, so there is no call to preserve.
		lm.Stop()
		link.StopSenders()
		link.Close()
		m.emitError(err)
		return
	}

	m.st.local = lm
	m.st.link = link
	m.st.cands = candidateQueue{}
	m.st.remoteDescSet = false
	m.st.status = domain.CallCalling
}

// completeAccept finishes acceptCall: peer link, stored offer as remote
// description, answer out, queued candidates flushed, Connected.
func (m *Manager) completeAccept(lm core.LocalMedia) {
	offer := m.st.pendingOffer
	if offer == nil || offer.Offer == nil {
		lm.Stop()
		m.teardown()
		m.emitError(fmt.Errorf("%w: pending offer vanished", domain.ErrNegotiationFailed))
		return
	}

	link, err := m.newWiredLink(lm)
	if err != nil {
		lm.Stop()
		m.teardown()
		m.emitError(fmt.Errorf("%w: %s", domain.ErrNegotiationFailed, err))
		return
	}
	answer, err := link.ApplyOfferAndCreateAnswer(*offer.Offer)
	if err != nil {
		lm.Stop()
		link.Close()
		m.teardown()
		m.emitError(fmt.Errorf("%w: apply offer: %s", domain.ErrNegotiationFailed, err))
		return
	}

	id, _ := m.cfg.Self()
	env := protocol.Envelope{
		Type:   protocol.KindCallAnswer,
		Answer: answer,
		Target: offer.Caller,
		Sender: id,
	}
	if err := m.cfg.Signal.Send(env); err != nil {
		lm.Stop()
		link.StopSenders()
		link.Close()
		m.teardown()
		m.emitError(err)
		return
	}

	m.st.local = lm
	m.st.link = link
	m.st.remoteDescSet = true
	m.st.cands.flush(link.AddICECandidate)
	m.st.incoming = false
	m.st.pendingOffer = nil
	m.connect()
}

// newWiredLink builds a peer link with media attached and its callbacks
// feeding the event queue under the current generation.
func (m *Manager) newWiredLink(lm core.LocalMedia) (core.PeerLink, error) {
	link, err := m.cfg.Links.NewLink()
	if err != nil {
		return nil, err
	}
	gen := m.st.gen
	link.OnICECandidate(func(c webrtc.ICECandidateInit) {
		m.post(evLocalCandidate{gen: gen, cand: c})
	})
	link.OnTrack(func(id string, _ webrtc.RTPCodecType) {
		m.post(evRemoteTrack{gen: gen, id: id})
	})
	link.OnStateChange(func(s core.LinkState) {
		m.post(evLinkState{gen: gen, state: s})
	})
	if err := link.AttachMedia(lm); err != nil {
		link.Close()
		return nil, err
	}
	return link, nil
}

// connect marks the session live and starts the duration tracker.
func (m *Manager) connect() {
	m.st.status = domain.CallConnected
	m.st.startedAt = m.cfg.Clock.Now()
	m.st.elapsed = FormatDuration(0)
	m.st.tracker = startDurationTracker(m.cfg.TickInterval, func() { m.post(evTick{}) })
}

func (m *Manager) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.KindCallOffer:
		m.remoteOffer(env)
	case protocol.KindCallAnswer:
		m.remoteAnswer(env)
	case protocol.KindICECandidate:
		m.remoteCandidate(env)
	case protocol.KindCallRejected:
		m.remoteRejected()
	case protocol.KindCallEnded:
		m.remoteEnded(env)
	}
}

func (m *Manager) remoteOffer(env protocol.Envelope) {
	if m.st.status != domain.CallIdle || m.st.incoming || m.st.acquiring {
		// Simultaneous initiation (glare) has no resolution policy in
		// this protocol; the late offer is dropped, both sides keep
		// whatever call they believe they are in.
		log.Warn().Str("module", "call").Str("caller", env.Caller).Msg("offer while busy, ignored")
		return
	}
	if env.Offer == nil {
		log.Warn().Str("module", "call").Msg("offer envelope without description")
		return
	}
	name := env.CallerName
	if name == "" {
		name = "Someone"
	}
	offer := env
	m.st.incoming = true
	m.st.pendingOffer = &offer
	m.st.remoteParty = env.Caller
	m.st.remotePartyName = name
	m.st.video = env.IsVideo
	m.st.cands = candidateQueue{}
	log.Info().Str("module", "call").Str("caller", env.Caller).Bool("video", env.IsVideo).Msg("incoming call")
}

func (m *Manager) remoteAnswer(env protocol.Envelope) {
	if m.st.status != domain.CallCalling || m.st.link == nil || m.st.remoteDescSet {
		// An answer with no matching offer in flight is logically
		// invalid for this peer link; never applied out of order.
		log.Warn().Str("module", "call").Str("status", m.st.status.String()).Msg("answer out of order, ignored")
		return
	}
	if env.Answer == nil {
		log.Warn().Str("module", "call").Msg("answer envelope without description")
		return
	}
	if err := m.st.link.ApplyAnswer(*env.Answer); err != nil {
		m.failCall(fmt.Errorf("%w: apply answer: %s", domain.ErrNegotiationFailed, err))
		return
	}
	if env.Sender != "" {
		m.st.remoteParty = env.Sender
	}
	m.st.remoteDescSet = true
	m.st.cands.flush(m.st.link.AddICECandidate)
	m.connect()
}

func (m *Manager) remoteCandidate(env protocol.Envelope) {
	if env.Candidate == nil {
		return
	}
	if m.st.status == domain.CallIdle && !m.st.incoming && !m.st.acquiring {
		// Late candidate for a call that no longer exists. Expected
		// after reject/end; dropped without noise.
		log.Debug().Str("module", "call").Msg("candidate without session, dropped")
		return
	}
	if m.st.remoteDescSet && m.st.link != nil {
		if err := m.st.link.AddICECandidate(*env.Candidate); err != nil {
			log.Error().Err(err).Str("module", "call").Msg("add ice candidate")
		}
		return
	}
	m.st.cands.enqueue(*env.Candidate)
}

func (m *Manager) remoteRejected() {
	if !m.st.status.InCall() {
		return
	}
	m.teardown()
	// Brief rejected phase after cleanup so UIs can show the outcome; the
	// peer link is already gone, then the session settles back to idle.
	m.st.status = domain.CallRejected
	m.publish()
	m.st.status = domain.CallIdle
	m.systemMessage("Call rejected")
}

func (m *Manager) remoteEnded(env protocol.Envelope) {
	if !m.st.status.InCall() && !m.st.incoming && !m.st.acquiring {
		return
	}
	wasConnected := m.st.status == domain.CallConnected
	duration := env.Duration
	if duration == "" {
		duration = m.st.elapsed
	}
	kind := callKind(m.st.video)
	m.teardown()
	if wasConnected {
		m.systemMessage(fmt.Sprintf("%s call ended: %s", kind, duration))
	}
}

func (m *Manager) endCall() {
	switch {
	case m.st.incoming:
		// Hanging up an unanswered incoming call declines it, even when
		// accept's media acquisition is still pending.
		m.rejectCall()
	case m.st.status.InCall():
		wasConnected := m.st.status == domain.CallConnected
		duration := m.st.elapsed
		target := m.st.remoteParty
		kind := callKind(m.st.video)
		m.teardown()
		id, _ := m.cfg.Self()
		err := m.cfg.Signal.Send(protocol.Envelope{
			Type:     protocol.KindCallEnded,
			Duration: duration,
			Target:   target,
			Sender:   id,
		})
		if err != nil {
			// Recoverable: the hangup may not reach the peer, but the
			// local session is already cleaned up.
			log.Warn().Err(err).Str("module", "call").Msg("call-ended not sent")
		}
		if wasConnected {
			m.systemMessage(fmt.Sprintf("%s call ended: %s", kind, duration))
		}
	case m.st.acquiring:
		// startCall still waiting on media; cancel it.
		m.teardown()
	}
}

func (m *Manager) rejectCall() {
	if !m.st.incoming {
		return
	}
	target := m.st.remoteParty
	m.teardown()
	id, _ := m.cfg.Self()
	err := m.cfg.Signal.Send(protocol.Envelope{
		Type:   protocol.KindCallRejected,
		Target: target,
		Sender: id,
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("call-rejected not sent")
	}
}

func (m *Manager) localCandidate(ev evLocalCandidate) {
	if ev.gen != m.st.gen || !m.st.status.InCall() {
		return
	}
	id, _ := m.cfg.Self()
	err := m.cfg.Signal.Send(protocol.Envelope{
		Type:      protocol.KindICECandidate,
		Candidate: &ev.cand,
		Target:    m.st.remoteParty,
		Sender:    id,
	})
	if err != nil {
		// Best effort; trickle ICE tolerates lost candidates.
		log.Warn().Err(err).Str("module", "call").Msg("candidate not sent")
	}
}

func (m *Manager) linkStateChanged(ev evLinkState) {
	if ev.gen != m.st.gen || !ev.state.Terminal() || !m.st.status.InCall() {
		return
	}
	wasConnected := m.st.status == domain.CallConnected
	duration := m.st.elapsed
	kind := callKind(m.st.video)
	if ev.state == core.LinkFailed {
		m.emitError(fmt.Errorf("%w: %s", domain.ErrPeerLinkFailed, ev.state))
	}
	// The peer link speaks for itself: treat as a remote-initiated end.
	m.teardown()
	if wasConnected {
		m.systemMessage(fmt.Sprintf("%s call ended: %s", kind, duration))
	}
}

func (m *Manager) toggleMute() {
	if m.st.local == nil || m.st.link == nil {
		return
	}
	m.st.muted = !m.st.muted
	if err := m.st.link.SetSending(webrtc.RTPCodecTypeAudio, !m.st.muted); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("toggle mute")
	}
}

func (m *Manager) toggleCamera() {
	if m.st.local == nil || m.st.link == nil || !m.st.video {
		return
	}
	m.st.cameraOff = !m.st.cameraOff
	if err := m.st.link.SetSending(webrtc.RTPCodecTypeVideo, !m.st.cameraOff); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("toggle camera")
	}
}

// teardown releases everything a call holds and resets the session to idle.
// Idempotent: local and remote triggers can race to it. The release order is
// fixed — capture tracks first, then peer-link senders, then the link, then
// sink references — so camera and microphone locks cannot leak.
func (m *Manager) teardown() {
	m.st.gen++
	m.st.acquiring = false
	if m.st.tracker != nil {
		m.st.tracker.Stop()
		m.st.tracker = nil
	}
	if m.st.local != nil {
		m.st.local.Stop()
	}
	if m.st.link != nil {
		m.st.link.StopSenders()
		m.st.link.Close()
	}
	m.st.local = nil
	m.st.link = nil
	m.st.remoteStreams = nil
	m.st.pendingOffer = nil
	m.st.incoming = false
	m.st.remoteDescSet = false
	m.st.cands = candidateQueue{}
	m.st.muted = false
	m.st.cameraOff = false
	m.st.video = false
	m.st.startedAt = time.Time{}
	m.st.elapsed = FormatDuration(0)
	m.st.remoteParty = ""
	m.st.remotePartyName = ""
	m.st.status = domain.CallIdle
}

// failCall is teardown for mid-negotiation failures: full cleanup, never a
// half-open session, and the error surfaced to the user.
func (m *Manager) failCall(err error) {
	m.teardown()
	m.emitError(err)
}

func (m *Manager) emitError(err error) {
	log.Error().Err(err).Str("module", "call").Msg("call error")
	if m.cfg.OnError != nil {
		m.cfg.OnError(err)
	}
}

func (m *Manager) systemMessage(text string) {
	if m.cfg.OnMessage == nil {
		return
	}
	m.cfg.OnMessage(domain.Message{
		Kind:      domain.MessageSystem,
		Text:      text,
		Timestamp: m.cfg.Clock.Now(),
	})
}

func callKind(video bool) string {
	if video {
		return "Video"
	}
	return "Audio"
}

// publish copies the session into the read-side snapshot.
func (m *Manager) publish() {
	streams := make([]string, len(m.st.remoteStreams))
	copy(streams, m.st.remoteStreams)

	m.snapMu.Lock()
	m.snap = Snapshot{
		Status:          m.st.status,
		IsVideo:         m.st.video,
		IncomingCall:    m.st.incoming,
		RemoteParty:     m.st.remoteParty,
		RemotePartyName: m.st.remotePartyName,
		Muted:           m.st.muted,
		CameraOff:       m.st.cameraOff,
		HasLocalMedia:   m.st.local != nil,
		HasPeerLink:     m.st.link != nil,
		RemoteStreams:   streams,
		StartedAt:       m.st.startedAt,
		Elapsed:         m.st.elapsed,
		TransportDown:   m.st.transportDown,
	}
	m.snapMu.Unlock()
}
