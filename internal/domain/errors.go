package domain

import "errors"

// Call and transport failures surfaced to the user. Every one of these maps
// to a human-readable message in the client; lower layers wrap the root
// cause with %w so callers can still match with errors.Is.
var (
	// ErrMediaAccessDenied: capture permission refused by the OS or user.
	ErrMediaAccessDenied = errors.New("media access denied")
	// ErrMediaDeviceMissing: no camera/microphone present at all.
	ErrMediaDeviceMissing = errors.New("media device missing")
	// ErrNegotiationFailed: offer/answer exchange malformed or rejected.
	ErrNegotiationFailed = errors.New("negotiation failed")
	// ErrPeerLinkFailed: ICE or connection state reached failed/disconnected.
	ErrPeerLinkFailed = errors.New("peer link failed")
	// ErrTransportClosed: send attempted while the signaling link is not open.
	ErrTransportClosed = errors.New("transport closed")
	// ErrConnectionLost: reconnect budget exhausted; terminal, no auto-recover.
	ErrConnectionLost = errors.New("connection lost")
	// ErrCallInProgress: startCall while a call already exists.
	ErrCallInProgress = errors.New("call already in progress")
	// ErrFileTooLarge: file payload above the configured relay limit.
	ErrFileTooLarge = errors.New("file too large")
)
