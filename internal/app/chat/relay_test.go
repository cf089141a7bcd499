package chat

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/peercall/peercall/internal/domain"
	"github.com/peercall/peercall/internal/protocol"
)

type fakeSignal struct {
	mu   sync.Mutex
	sent []protocol.Envelope
}

func (s *fakeSignal) Send(env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

func (s *fakeSignal) frames() []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Envelope, len(s.sent))
	copy(out, s.sent)
	return out
}

func newTestRelay(sig *fakeSignal, onMsg func(domain.Message), onTyping func(string, bool)) *Relay {
	return NewRelay(Config{
		Signal:    sig,
		Self:      func() (string, string) { return "me", "Me" },
		OnMessage: onMsg,
		OnTyping:  onTyping,
	})
}

func TestSendText(t *testing.T) {
	sig := &fakeSignal{}
	r := newTestRelay(sig, nil, nil)

	if err := r.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	frames := sig.frames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	env := frames[0]
	if env.Type != protocol.KindChat || env.Message != "hello" || env.Sender != "me" || env.Timestamp == 0 {
		t.Fatalf("chat frame = %+v", env)
	}

	// Empty input never touches the wire.
	if err := r.SendText(""); err != nil {
		t.Fatalf("SendText(empty): %v", err)
	}
	if len(sig.frames()) != 1 {
		t.Fatal("empty text was sent")
	}
}

func TestSendFileEncodesDataURL(t *testing.T) {
	sig := &fakeSignal{}
	r := newTestRelay(sig, nil, nil)

	payload := []byte("file contents")
	if err := r.SendFile("notes.txt", "text/plain", payload); err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	frames := sig.frames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	env := frames[0]
	if env.Type != protocol.KindFile || env.FileName != "notes.txt" || env.FileSize != int64(len(payload)) {
		t.Fatalf("file frame = %+v", env)
	}
	wantPrefix := "data:text/plain;base64,"
	if !strings.HasPrefix(env.Data, wantPrefix) {
		t.Fatalf("data url = %q, want prefix %q", env.Data, wantPrefix)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(env.Data, wantPrefix))
	if err != nil || string(decoded) != "file contents" {
		t.Fatalf("payload round trip = %q, %v", decoded, err)
	}
}

func TestSendFileOverLimit(t *testing.T) {
	sig := &fakeSignal{}
	r := NewRelay(Config{
		Signal:       sig,
		Self:         func() (string, string) { return "me", "Me" },
		MaxFileBytes: 8,
	})

	err := r.SendFile("big.bin", "application/octet-stream", make([]byte, 9))
	if !errors.Is(err, domain.ErrFileTooLarge) {
		t.Fatalf("SendFile = %v, want ErrFileTooLarge", err)
	}
	if len(sig.frames()) != 0 {
		t.Fatal("oversized file reached the wire")
	}
}

func TestTypingDebounce(t *testing.T) {
	sig := &fakeSignal{}
	r := newTestRelay(sig, nil, nil)

	r.NotifyTyping()
	r.NotifyTyping()
	r.NotifyTyping()

	frames := sig.frames()
	if len(frames) != 1 || frames[0].Type != protocol.KindTyping || !frames[0].IsTyping {
		t.Fatalf("frames = %+v, want single typing=true", frames)
	}

	// Sending the message retracts the indicator immediately.
	if err := r.SendText("done"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	frames = sig.frames()
	last := frames[len(frames)-1]
	if last.Type != protocol.KindTyping || last.IsTyping {
		t.Fatalf("last frame = %+v, want typing=false", last)
	}

	// Retraction without an active indicator is a no-op.
	n := len(sig.frames())
	r.stopTyping()
	if len(sig.frames()) != n {
		t.Fatal("idle retraction sent a frame")
	}
}

func TestHandleEnvelopeDropsOwnEcho(t *testing.T) {
	sig := &fakeSignal{}
	var got []domain.Message
	r := newTestRelay(sig, func(m domain.Message) { got = append(got, m) }, nil)

	r.HandleEnvelope(protocol.Envelope{Type: protocol.KindChat, Message: "echo", Sender: "me"})
	if len(got) != 0 {
		t.Fatalf("own echo delivered: %+v", got)
	}

	r.HandleEnvelope(protocol.Envelope{Type: protocol.KindChat, Message: "hi", Sender: "peer", Timestamp: 1700000000000})
	if len(got) != 1 || got[0].Kind != domain.MessageText || got[0].Text != "hi" || got[0].Sender != "peer" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestHandleEnvelopeFile(t *testing.T) {
	sig := &fakeSignal{}
	var got []domain.Message
	r := newTestRelay(sig, func(m domain.Message) { got = append(got, m) }, nil)

	r.HandleEnvelope(protocol.Envelope{
		Type:     protocol.KindFile,
		Sender:   "peer",
		FileName: "pic.png",
		FileType: "image/png",
		Data:     "data:image/png;base64,AAAA",
	})
	if len(got) != 1 {
		t.Fatalf("messages = %+v", got)
	}
	m := got[0]
	if m.Kind != domain.MessageFile || m.FileName != "pic.png" || m.FileData != "data:image/png;base64,AAAA" {
		t.Fatalf("file message = %+v", m)
	}
}

func TestHandleEnvelopeTyping(t *testing.T) {
	sig := &fakeSignal{}
	type state struct {
		sender string
		active bool
	}
	var got []state
	r := newTestRelay(sig, nil, func(sender string, active bool) {
		got = append(got, state{sender, active})
	})

	r.HandleEnvelope(protocol.Envelope{Type: protocol.KindTyping, Sender: "peer", IsTyping: true})
	r.HandleEnvelope(protocol.Envelope{Type: protocol.KindTyping, Sender: "peer", IsTyping: false})
	if len(got) != 2 || !got[0].active || got[1].active {
		t.Fatalf("typing states = %+v", got)
	}
}
