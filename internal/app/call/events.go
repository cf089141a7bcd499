package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/protocol"
)

// Every trigger — user action, inbound envelope, peer-link callback, timer
// tick, async completion — becomes one of these events. The manager handles
// them strictly one at a time; nothing else ever mutates session state.
type event interface{ isEvent() }

type evStart struct {
	video bool
	reply chan error
}

type evAccept struct {
	reply chan error
}

type evReject struct{}

type evEnd struct{}

type evToggleMute struct{}

type evToggleCamera struct{}

type evEnvelope struct {
	env protocol.Envelope
}

// evMediaReady resolves an asynchronous capture acquisition. gen guards the
// cancellation contract: a resolve for a call that was since ended or
// rejected must release its media and do nothing else.
type evMediaReady struct {
	gen    uint64
	media  core.LocalMedia
	err    error
	accept bool
}

type evLocalCandidate struct {
	gen  uint64
	cand webrtc.ICECandidateInit
}

type evRemoteTrack struct {
	gen uint64
	id  string
}

type evLinkState struct {
	gen   uint64
	state core.LinkState
}

type evTick struct{}

type evTransport struct {
	down bool
	err  error // non-nil only for the terminal reconnect-budget case
}

func (evStart) isEvent()          {}
func (evAccept) isEvent()         {}
func (evReject) isEvent()         {}
func (evEnd) isEvent()            {}
func (evToggleMute) isEvent()     {}
func (evToggleCamera) isEvent()   {}
func (evEnvelope) isEvent()       {}
func (evMediaReady) isEvent()     {}
func (evLocalCandidate) isEvent() {}
func (evRemoteTrack) isEvent()    {}
func (evLinkState) isEvent()      {}
func (evTick) isEvent()           {}
func (evTransport) isEvent()      {}
