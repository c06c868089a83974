// Package udptransport provides the UDP reliability envelope of spec §4.C:
// an ordered, retransmitting, ACKed channel over unreliable UDP, exposed as
// a plain io.ReadWriteCloser so internal/wire's codec can read BC frames
// from it exactly as it would from a TCP socket — fragmentation of an
// oversized frame, and its reassembly, fall out of ordered-byte delivery.
package udptransport

import (
	"encoding/binary"
	"fmt"
)

// PacketKind selects the reliability envelope's purpose (spec §6).
type PacketKind uint8

const (
	PacketData PacketKind = iota
	PacketAck
	PacketControl
)

func (k PacketKind) String() string {
	switch k {
	case PacketData:
		return "data"
	case PacketAck:
		return "ack"
	case PacketControl:
		return "control"
	default:
		return "unknown"
	}
}

// EnvelopeHeaderSize is the fixed small header preceding every fragment:
// kind(1) + session-id(4) + sequence(4) + payload-len(2) = 11 bytes.
const EnvelopeHeaderSize = 11

// MaxEnvelopePayload bounds a single UDP datagram's BC payload so the
// wire packet (header + payload) stays comfortably under common path MTUs.
const MaxEnvelopePayload = 1400

// envelope is one UDP reliability-layer packet.
type envelope struct {
	Kind      PacketKind
	SessionID uint32
	Seq       uint32
	Payload   []byte
}

func encodeEnvelope(e envelope) []byte {
	buf := make([]byte, EnvelopeHeaderSize+len(e.Payload))
	buf[0] = byte(e.Kind)
	binary.LittleEndian.PutUint32(buf[1:5], e.SessionID)
	binary.LittleEndian.PutUint32(buf[5:9], e.Seq)
	binary.LittleEndian.PutUint16(buf[9:11], uint16(len(e.Payload)))
	copy(buf[EnvelopeHeaderSize:], e.Payload)
	return buf
}

func decodeEnvelope(buf []byte) (envelope, error) {
	if len(buf) < EnvelopeHeaderSize {
		return envelope{}, fmt.Errorf("udptransport: short envelope (%d bytes)", len(buf))
	}
	e := envelope{
		Kind:      PacketKind(buf[0]),
		SessionID: binary.LittleEndian.Uint32(buf[1:5]),
		Seq:       binary.LittleEndian.Uint32(buf[5:9]),
	}
	n := binary.LittleEndian.Uint16(buf[9:11])
	if int(n) != len(buf)-EnvelopeHeaderSize {
		return envelope{}, fmt.Errorf("udptransport: payload-len mismatch: header says %d, have %d", n, len(buf)-EnvelopeHeaderSize)
	}
	e.Payload = buf[EnvelopeHeaderSize:]
	return e, nil
}
