package call

import (
	"time"

	"github.com/peercall/peercall/internal/domain"
)

// Snapshot is the read-only view of the session that UIs render. Published
// after every handled event; never mutated by readers.
type Snapshot struct {
	Status          domain.CallStatus
	IsVideo         bool
	IncomingCall    bool
	RemoteParty     string
	RemotePartyName string
	Muted           bool
	CameraOff       bool
	HasLocalMedia   bool
	HasPeerLink     bool
	RemoteStreams   []string
	StartedAt       time.Time
	Elapsed         string
	TransportDown   bool
}
