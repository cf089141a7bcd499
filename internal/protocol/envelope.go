// Package protocol defines the JSON envelope exchanged over the signaling
// relay. Both the client and the relay speak exactly this format; the
// browser clients of the original deployment do too, so field names follow
// the wire, not Go convention.
package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Kind is the mandatory "type" discriminator of every envelope.
type Kind string

const (
	KindUserID       Kind = "userId"
	KindChat         Kind = "chat"
	KindFile         Kind = "file"
	KindCallOffer    Kind = "call-offer"
	KindCallAnswer   Kind = "call-answer"
	KindICECandidate Kind = "ice-candidate"
	KindCallRejected Kind = "call-rejected"
	KindCallEnded    Kind = "call-ended"
	KindTyping       Kind = "typing"
)

// Known reports whether the kind is part of the protocol. Unknown kinds are
// ignored by receivers, never treated as errors.
func (k Kind) Known() bool {
	switch k {
	case KindUserID, KindChat, KindFile, KindCallOffer, KindCallAnswer,
		KindICECandidate, KindCallRejected, KindCallEnded, KindTyping:
		return true
	}
	return false
}

// Envelope is the unit exchanged over the transport. One flat struct covers
// every kind; unused fields are omitted on the wire. Immutable once sent.
type Envelope struct {
	Type Kind `json:"type"`

	// identity (userId)
	UserID string `json:"userId,omitempty"`

	// chat / typing
	Message   string `json:"message,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	IsTyping  bool   `json:"isTyping,omitempty"`

	// file
	FileName string `json:"fileName,omitempty"`
	FileType string `json:"fileType,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	Data     string `json:"data,omitempty"` // base64 data URL

	// call signaling
	Offer      *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer     *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate  *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	IsVideo    bool                       `json:"isVideo,omitempty"`
	Caller     string                     `json:"caller,omitempty"`
	CallerName string                     `json:"callerName,omitempty"`
	Target     string                     `json:"target,omitempty"`
	Duration   string                     `json:"duration,omitempty"`
}

// Decode parses a raw frame into an Envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
