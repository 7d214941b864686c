package types

import "fmt"

// ProcessID uniquely identifies a peer within the fixed-size group, in [0, N).
type ProcessID int32

// LamportTime is a monotonically non-decreasing logical clock value.
type LamportTime uint64

// SubscriptionID is a monotonically allocated handle returned by Dispatcher.Subscribe.
type SubscriptionID uint64

// MutexName identifies a distributed mutex / monitor.
type MutexName string

// CondName identifies a distributed condition variable.
type CondName string

// MessageType is the closed set of wire message kinds the protocol exchanges.
type MessageType uint8

const (
	MutexRequest MessageType = iota
	MutexAgreement
	CondWait
	CondWaitEnd
	CondWaitEndConfirm
	CondNotify
	Sync
)

func (t MessageType) String() string {
	switch t {
	case MutexRequest:
		return "MUTEX_REQUEST"
	case MutexAgreement:
		return "MUTEX_AGREEMENT"
	case CondWait:
		return "COND_WAIT"
	case CondWaitEnd:
		return "COND_WAIT_END"
	case CondWaitEndConfirm:
		return "COND_WAIT_END_CONFIRM"
	case CondNotify:
		return "COND_NOTIFY"
	case Sync:
		return "SYNC"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}
