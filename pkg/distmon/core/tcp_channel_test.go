package core_test

import (
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/distmon/distmon/internal/config"
	"github.com/distmon/distmon/pkg/distmon/core"
	"github.com/distmon/distmon/pkg/distmon/logging"
	"github.com/distmon/distmon/pkg/distmon/types"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// Two real TCPChannel processes must be able to dial/accept each other and
// exchange a Packet over an actual socket, with the receiver's Lamport
// clock advancing per the standard receive rule.
func TestTCPChannel_TwoProcessesExchangePacket(t *testing.T) {
	portA, portB := freePort(t), freePort(t)
	addrs := []string{
		"127.0.0.1:" + strconv.Itoa(portA),
		"127.0.0.1:" + strconv.Itoa(portB),
	}

	groupA := &config.PeerGroup{Self: 0, Peers: addrs, DialTimeout: time.Second, DialBackoff: 10 * time.Millisecond}
	groupB := &config.PeerGroup{Self: 1, Peers: addrs, DialTimeout: time.Second, DialBackoff: 10 * time.Millisecond}

	log := logging.NewDiscard()

	chanA, err := core.NewTCPChannel(groupA, log)
	if err != nil {
		t.Fatalf("process A: %v", err)
	}
	defer chanA.Close()

	chanB, err := core.NewTCPChannel(groupB, log)
	if err != nil {
		t.Fatalf("process B: %v", err)
	}
	defer chanB.Close()

	sent, err := chanA.Send(types.MutexRequest, []byte("hello"), 1)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	received, err := receiveWithTimeout(t, chanB, 5*time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if received.Source != 0 || received.Type != types.MutexRequest || string(received.Message) != "hello" {
		t.Fatalf("unexpected packet: %+v", received)
	}
	if clock := chanB.CurrentLamportTime(); clock <= sent.LamportTime {
		t.Fatalf("receiver clock did not advance past sender's timestamp: sent=%d receiver clock=%d", sent.LamportTime, clock)
	}
}

func receiveWithTimeout(t *testing.T, ch core.Channel, timeout time.Duration) (types.Packet, error) {
	t.Helper()
	type result struct {
		p   types.Packet
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := ch.Receive()
		done <- result{p, err}
	}()

	select {
	case r := <-done:
		return r.p, r.err
	case <-time.After(timeout):
		return types.Packet{}, errors.New("timed out waiting to receive")
	}
}
