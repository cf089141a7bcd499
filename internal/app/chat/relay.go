// Package chat relays text messages, file transfers and typing activity over
// the signaling transport, independent of call state.
package chat

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peercall/peercall/internal/core"
	"github.com/peercall/peercall/internal/domain"
	"github.com/peercall/peercall/internal/protocol"
)

// typingIdle is how long after the last keystroke the typing indicator is
// retracted.
const typingIdle = 2 * time.Second

type Relay struct {
	signal       core.SignalSender
	self         func() (id, displayName string)
	onMessage    func(domain.Message)
	onTyping     func(sender string, active bool)
	maxFileBytes int64

	mu          sync.Mutex
	typing      bool
	typingTimer *time.Timer
}

type Config struct {
	Signal core.SignalSender
	Self   func() (id, displayName string)
	// OnMessage receives every inbound chat and file message.
	OnMessage func(domain.Message)
	// OnTyping reports remote typing state changes. Optional.
	OnTyping func(sender string, active bool)
	// MaxFileBytes caps outbound file payloads. Zero means the default
	// 64 MiB, matching what the relay will accept on a single frame.
	MaxFileBytes int64
}

func NewRelay(cfg Config) *Relay {
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = 64 << 20
	}
	return &Relay{
		signal:       cfg.Signal,
		self:         cfg.Self,
		onMessage:    cfg.OnMessage,
		onTyping:     cfg.OnTyping,
		maxFileBytes: cfg.MaxFileBytes,
	}
}

// SendText broadcasts a chat line. Sending also retracts any live typing
// indicator, since the composed text just went out.
func (r *Relay) SendText(text string) error {
	if text == "" {
		return nil
	}
	id, _ := r.self()
	err := r.signal.Send(protocol.Envelope{
		Type:      protocol.KindChat,
		Message:   text,
		Sender:    id,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	r.stopTyping()
	return nil
}

// SendFile encodes the payload as a base64 data URL and broadcasts it. Files
// over the configured cap are refused locally without touching the wire.
func (r *Relay) SendFile(name, mime string, payload []byte) error {
	if int64(len(payload)) > r.maxFileBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit %d",
			domain.ErrFileTooLarge, name, len(payload), r.maxFileBytes)
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	id, _ := r.self()
	data := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(payload)
	return r.signal.Send(protocol.Envelope{
		Type:      protocol.KindFile,
		FileName:  name,
		FileType:  mime,
		FileSize:  int64(len(payload)),
		Data:      data,
		Sender:    id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NotifyTyping is called on every local keystroke. The first call announces
// typing; each subsequent call pushes the idle deadline out. When the
// deadline passes without another keystroke, the retraction goes out.
func (r *Relay) NotifyTyping() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.typingTimer != nil {
		r.typingTimer.Reset(typingIdle)
		return
	}
	r.typingTimer = time.AfterFunc(typingIdle, r.stopTyping)
	r.typing = true
	r.sendTypingLocked(true)
}

func (r *Relay) stopTyping() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.typingTimer == nil {
		return
	}
	r.typingTimer.Stop()
	r.typingTimer = nil
	r.typing = false
	r.sendTypingLocked(false)
}

func (r *Relay) sendTypingLocked(active bool) {
	id, _ := r.self()
	err := r.signal.Send(protocol.Envelope{
		Type:     protocol.KindTyping,
		IsTyping: active,
		Sender:   id,
	})
	if err != nil {
		// Typing state is cosmetic; a lost frame corrects itself on the
		// next keystroke or the idle retraction.
		log.Debug().Err(err).Str("module", "chat").Msg("typing not sent")
	}
}

// HandleEnvelope consumes inbound chat, file and typing envelopes. Frames
// echoed back with our own sender id are dropped.
func (r *Relay) HandleEnvelope(env protocol.Envelope) {
	id, _ := r.self()
	if env.Sender != "" && env.Sender == id {
		return
	}
	switch env.Type {
	case protocol.KindChat:
		r.deliver(domain.Message{
			Kind:      domain.MessageText,
			Text:      env.Message,
			Sender:    domain.UserID(env.Sender),
			Timestamp: time.UnixMilli(env.Timestamp),
		})
	case protocol.KindFile:
		r.deliver(domain.Message{
			Kind:      domain.MessageFile,
			Sender:    domain.UserID(env.Sender),
			FileName:  env.FileName,
			FileType:  env.FileType,
			FileData:  env.Data,
			Timestamp: time.UnixMilli(env.Timestamp),
		})
	case protocol.KindTyping:
		if r.onTyping != nil {
			r.onTyping(env.Sender, env.IsTyping)
		}
	}
}

func (r *Relay) deliver(msg domain.Message) {
	if r.onMessage != nil {
		r.onMessage(msg)
	}
}
