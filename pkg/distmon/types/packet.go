package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Packet is the unit of communication between peers.
//
// Two packets are equal for deduplication purposes iff their
// (Source, Type, Message) triples are equal; LamportTime is excluded.
// Ordering between packets is by LamportTime, ties broken by Source,
// matching the Ricart-Agrawala total order used for the mutex tie-break.
type Packet struct {
	LamportTime LamportTime
	Source      ProcessID
	Type        MessageType
	Message     []byte
}

// Equal reports whether two packets carry the same logical content,
// ignoring LamportTime.
func (p Packet) Equal(other Packet) bool {
	return p.Source == other.Source && p.Type == other.Type && bytes.Equal(p.Message, other.Message)
}

// Less implements the (lamportTime, processId) total order used to
// break ties between concurrent requests.
func (p Packet) Less(other Packet) bool {
	if p.LamportTime != other.LamportTime {
		return p.LamportTime < other.LamportTime
	}
	return p.Source < other.Source
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet{ts=%d, src=%d, type=%s, message=%q}", p.LamportTime, p.Source, p.Type, p.Message)
}

// wire frame layout (see spec's External Interfaces section):
//
//	header:  lamportTime u64 | source i32 | messageType u8 | nextPacketLength u32
//	payload: nextPacketLength bytes, present iff non-zero
//
// The reference leaves endianness to "the native machine". Go has no portable
// way to express that at compile time without unsafe, so this concretizes it
// to little-endian, which is what every realistic deployment target for this
// exercise (amd64/arm64) actually uses natively.
const headerSize = 8 + 4 + 1 + 4

var byteOrder = binary.LittleEndian

// EncodePacket writes the wire frame for p to w.
func EncodePacket(w io.Writer, p Packet) error {
	header := make([]byte, headerSize)
	byteOrder.PutUint64(header[0:8], uint64(p.LamportTime))
	byteOrder.PutUint32(header[8:12], uint32(p.Source))
	header[12] = byte(p.Type)
	byteOrder.PutUint32(header[13:17], uint32(len(p.Message)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("distmon: write packet header: %w", err)
	}
	if len(p.Message) > 0 {
		if _, err := w.Write(p.Message); err != nil {
			return fmt.Errorf("distmon: write packet payload: %w", err)
		}
	}
	return nil
}

// DecodePacket reads a single wire frame from r.
func DecodePacket(r io.Reader) (Packet, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Packet{}, err
	}

	p := Packet{
		LamportTime: LamportTime(byteOrder.Uint64(header[0:8])),
		Source:      ProcessID(int32(byteOrder.Uint32(header[8:12]))),
		Type:        MessageType(header[12]),
	}
	length := byteOrder.Uint32(header[13:17])
	if length > 0 {
		p.Message = make([]byte, length)
		if _, err := io.ReadFull(r, p.Message); err != nil {
			return Packet{}, fmt.Errorf("distmon: read packet payload: %w", err)
		}
	}
	return p, nil
}
