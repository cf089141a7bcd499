package protocol

import (
	"strings"
	"testing"
)

func TestDecodeChat(t *testing.T) {
	raw := `{"type":"chat","message":"hello","sender":"u1","timestamp":1700000000000}`
	env, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != KindChat || env.Message != "hello" || env.Sender != "u1" {
		t.Fatalf("env = %+v", env)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	env, err := Decode([]byte(`{"type":"presence","who":"u1"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type.Known() {
		t.Fatalf("kind %q reported as known", env.Type)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("malformed frame decoded without error")
	}
}

func TestEncodeOmitsUnusedFields(t *testing.T) {
	b, err := Envelope{Type: KindTyping, IsTyping: true, Sender: "u1"}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	s := string(b)
	for _, field := range []string{"offer", "answer", "candidate", "fileName", "duration"} {
		if strings.Contains(s, field) {
			t.Errorf("typing frame carries %q: %s", field, s)
		}
	}
}

func TestKindKnown(t *testing.T) {
	for _, k := range []Kind{KindUserID, KindChat, KindFile, KindCallOffer,
		KindCallAnswer, KindICECandidate, KindCallRejected, KindCallEnded, KindTyping} {
		if !k.Known() {
			t.Errorf("%q not known", k)
		}
	}
	if Kind("").Known() || Kind("nope").Known() {
		t.Error("unknown kinds reported as known")
	}
}
