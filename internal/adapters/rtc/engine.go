package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/peercall/peercall/internal/core"
)

// Engine builds PeerLinks that share one webrtc.API (media engine, codecs,
// interceptors) and one ICE server set.
type Engine struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

// ICEConfig assembles the ICE server list from configured STUN urls and an
// optional TURN relay with credentials.
func ICEConfig(stun []string, turnURL, turnUser, turnCred string) webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(stun)+1)
	for _, u := range stun {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	if turnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{turnURL},
			Username:   turnUser,
			Credential: turnCred,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// NewEngine prepares the shared API. registerCodecs lets the media source
// advertise exactly the codecs it can produce (mediadevices selector); when
// nil the pion defaults are registered instead.
func NewEngine(cfg webrtc.Configuration, registerCodecs func(*webrtc.MediaEngine) error) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if registerCodecs != nil {
		if err := registerCodecs(mediaEngine); err != nil {
			return nil, err
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)
	return &Engine{api: api, cfg: cfg}, nil
}

// NewLink creates one peer connection for one call attempt.
func (e *Engine) NewLink() (core.PeerLink, error) {
	pc, err := e.api.NewPeerConnection(e.cfg)
	if err != nil {
		return nil, err
	}
	return newPeerLink(pc), nil
}
