package core

import "github.com/distmon/distmon/pkg/distmon/types"

// Channel is the external collaborator the core synchronization runtime is
// built against: a reliable, point-to-point, per-pair FIFO transport. FIFO
// delivery per (sender, recipient) pair is required for correctness of the
// monitor's SYNC-then-release sequence (see Monitor).
//
// Implementations: TCPChannel for real processes, LoopbackChannel for
// in-process tests.
type Channel interface {
	// Send delivers message reliably, exactly once, to recipient, returning
	// the Packet actually sent with its assigned LamportTime.
	Send(msgType types.MessageType, message []byte, recipient types.ProcessID) (types.Packet, error)

	// SendMulti delivers the same logical message to every process in
	// recipients, which all observe the same LamportTime.
	SendMulti(msgType types.MessageType, message []byte, recipients map[types.ProcessID]struct{}) (types.Packet, error)

	// SendOthers is shorthand for sending to every peer except self.
	SendOthers(msgType types.MessageType, message []byte) (types.Packet, error)

	// Receive blocks until the next inbound Packet arrives, advancing the
	// local LamportTime per the standard rule (receive sets local time to
	// max(local, received)+1). It returns an error once the channel is
	// closed.
	Receive() (types.Packet, error)

	ProcessID() types.ProcessID
	NumberOfProcesses() int
	CurrentLamportTime() types.LamportTime

	Close() error
}
