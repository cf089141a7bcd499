// Package media acquires local capture via pion/mediadevices and hands it
// to the call layer as core.LocalMedia.
package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone driver
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
)

// Source produces capture streams encoded with VP8 + Opus.
type Source struct {
	selector *mediadevices.CodecSelector
}

func NewSource() (*Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return &Source{selector: selector}, nil
}

// RegisterCodecs advertises the selector's codecs on the peer connection's
// media engine. Must be used for the same engine the links are built from,
// or the encoded tracks will not match any negotiated payload type.
func (s *Source) RegisterCodecs(me *webrtc.MediaEngine) error {
	s.selector.Populate(me)
	return nil
}

// Acquire opens the microphone, and the camera when video is requested.
// The caller owns the returned media and must Stop it on every exit path.
func (s *Source) Acquire(ctx context.Context, video bool) (core.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{
		Codec: s.selector,
		Audio: func(c *mediadevices.MediaTrackConstraints) {},
	}
	if video {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(1280)
			c.Height = prop.Int(720)
			// Raw formats only: some cameras expose an MJPEG node that
			// produces frames the VP8 encoder cannot ingest.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, mapAcquireError(err)
	}
	for _, track := range stream.GetTracks() {
		track.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Msg("local track ended")
			}
		})
	}
	return &localMedia{stream: stream, video: video}, nil
}

func mapAcquireError(err error) error {
	if len(mediadevices.EnumerateDevices()) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrMediaDeviceMissing, err)
	}
	return fmt.Errorf("%w: %s", domain.ErrMediaAccessDenied, err)
}

type localMedia struct {
	stream mediadevices.MediaStream
	video  bool
	stop   sync.Once
}

func (m *localMedia) Tracks() []webrtc.TrackLocal {
	tracks := m.stream.GetTracks()
	out := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	return out
}

func (m *localMedia) HasVideo() bool { return m.video }

// Stop closes every capture track. Idempotent; releasing twice must stay a
// no-op because local and remote teardown can race.
func (m *localMedia) Stop() {
	m.stop.Do(func() {
		for _, track := range m.stream.GetTracks() {
			if err := track.Close(); err != nil {
				log.Error().Err(err).Str("module", "media").Msg("track close")
			}
		}
		log.Info().Str("module", "media").Bool("video", m.video).Msg("capture released")
	})
}
