package types_test

import (
	"bytes"
	"testing"

	"github.com/distmon/distmon/pkg/distmon/types"
)

func TestPacket_EncodeDecodeRoundTrip(t *testing.T) {
	original := types.Packet{
		LamportTime: 42,
		Source:      3,
		Type:        types.MutexRequest,
		Message:     []byte("some-mutex-name"),
	}

	var buf bytes.Buffer
	if err := types.EncodePacket(&buf, original); err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := types.DecodePacket(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.LamportTime != original.LamportTime ||
		decoded.Source != original.Source ||
		decoded.Type != original.Type ||
		!bytes.Equal(decoded.Message, original.Message) {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestPacket_EqualIgnoresLamportTime(t *testing.T) {
	a := types.Packet{LamportTime: 1, Source: 1, Type: types.CondNotify, Message: []byte("x")}
	b := types.Packet{LamportTime: 99, Source: 1, Type: types.CondNotify, Message: []byte("x")}

	if !a.Equal(b) {
		t.Fatal("expected packets differing only in LamportTime to be Equal")
	}
}

func TestPacket_Less(t *testing.T) {
	earlier := types.Packet{LamportTime: 1, Source: 5}
	later := types.Packet{LamportTime: 2, Source: 0}
	if !earlier.Less(later) {
		t.Fatal("lower LamportTime should sort first regardless of Source")
	}

	tieLowID := types.Packet{LamportTime: 3, Source: 1}
	tieHighID := types.Packet{LamportTime: 3, Source: 2}
	if !tieLowID.Less(tieHighID) {
		t.Fatal("a LamportTime tie should be broken by the lower ProcessID")
	}
}

func TestMessageType_String(t *testing.T) {
	cases := map[types.MessageType]string{
		types.MutexRequest:       "MUTEX_REQUEST",
		types.MutexAgreement:     "MUTEX_AGREEMENT",
		types.CondWait:           "COND_WAIT",
		types.CondWaitEnd:        "COND_WAIT_END",
		types.CondWaitEndConfirm: "COND_WAIT_END_CONFIRM",
		types.CondNotify:         "COND_NOTIFY",
		types.Sync:               "SYNC",
	}
	for msgType, want := range cases {
		if got := msgType.String(); got != want {
			t.Errorf("MessageType(%d).String() = %q, want %q", msgType, got, want)
		}
	}
}
