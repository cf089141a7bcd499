package domain

// CallStatus is the lifecycle phase of session's single call.
type CallStatus int

const (
	CallIdle CallStatus = iota
	CallCalling
	CallRinging
	CallConnected
	CallRejected
	CallEnded
)

func (s CallStatus) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallCalling:
		return "calling"
	case CallRinging:
		return "ringing"
	case CallConnected:
		return "connected"
	case CallRejected:
		return "rejected"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// InCall reports whether a peer link is supposed to exist in this status.
func (s CallStatus) InCall() bool {
	return s == CallCalling || s == CallRinging || s == CallConnected
}
