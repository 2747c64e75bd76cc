package xferclient

type State int

const (
	StateIdle State = iota
	StateConnected
	StateAwaitingDataChannelReady
	StateSending
	StateAwaitingAck
	StateResend
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateAwaitingDataChannelReady:
		return "awaiting-data-channel"
	case StateSending:
		return "sending"
	case StateAwaitingAck:
		return "awaiting-ack"
	case StateResend:
		return "resend"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
