package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/cybergarage/go-safecast/safecast"

	"github.com/camlink/bc-go/internal/bcerr"
)

// header is the on-wire representation shared by encodeHeader,
// decodeCommonAndClass and decodeHeaderTail.
type header struct {
	MessageID    uint32
	BodyLength   uint32
	ChannelID    uint8
	StreamKind   uint8
	MessageNum   uint16
	Modern       bool
	ResponseCode uint16
	ExtLength    uint16
	HasExtension bool
}

// encodeHeader serializes h to its legacy or modern wire form, little-endian.
func encodeHeader(h header) []byte {
	size := LegacyHeaderSize
	class := classLegacy
	if h.Modern {
		size = ModernHeaderSize
		class = classModern
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], MagicValue)
	binary.LittleEndian.PutUint32(buf[4:8], h.MessageID)
	binary.LittleEndian.PutUint32(buf[8:12], h.BodyLength)
	buf[12] = h.ChannelID
	buf[13] = h.StreamKind
	binary.LittleEndian.PutUint16(buf[14:16], h.MessageNum)
	binary.LittleEndian.PutUint16(buf[16:18], class)
	if h.Modern {
		binary.LittleEndian.PutUint16(buf[18:20], h.ResponseCode)
		binary.LittleEndian.PutUint16(buf[20:22], h.ExtLength)
		var flags uint16
		if h.HasExtension {
			flags |= flagHasExtension
		}
		binary.LittleEndian.PutUint16(buf[22:24], flags)
	}
	return buf
}

// decodeCommonAndClass parses the common prefix and the class marker from
// buf, returning the partly filled header and the full on-wire header size
// for that class. buf must contain at least CommonHeaderSize+2 bytes; the
// caller reads the remaining tail bytes up to that size and then calls
// decodeHeaderTail for the modern-only fields.
func decodeCommonAndClass(buf []byte) (h header, size int, err error) {
	if len(buf) < CommonHeaderSize+2 {
		return header{}, 0, bcerr.New(bcerr.KindProtocolError, "wire.decodeHeader", "truncated header prefix")
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != MagicValue {
		return header{}, 0, bcerr.New(bcerr.KindProtocolError, "wire.decodeHeader", fmt.Sprintf("bad magic 0x%08x", magic))
	}
	h.MessageID = binary.LittleEndian.Uint32(buf[4:8])
	h.BodyLength = binary.LittleEndian.Uint32(buf[8:12])
	h.ChannelID = buf[12]
	h.StreamKind = buf[13]
	h.MessageNum = binary.LittleEndian.Uint16(buf[14:16])

	if h.BodyLength > MaxBodyLength {
		return header{}, 0, bcerr.New(bcerr.KindProtocolError, "wire.decodeHeader",
			fmt.Sprintf("implausible body_length %d", h.BodyLength))
	}

	class := binary.LittleEndian.Uint16(buf[16:18])
	switch class {
	case classLegacy:
		return h, LegacyHeaderSize, nil
	case classModern:
		h.Modern = true
		return h, ModernHeaderSize, nil
	default:
		return header{}, 0, bcerr.New(bcerr.KindProtocolError, "wire.decodeHeader", fmt.Sprintf("unknown class marker 0x%04x", class))
	}
}

// decodeHeaderTail fills in the modern-only fields from the tail bytes
// (buf must be the ModernHeaderSize-length buffer, including the prefix
// already parsed by decodeCommonAndClass).
func decodeHeaderTail(h *header, buf []byte) error {
	if !h.Modern {
		return nil
	}
	if len(buf) < ModernHeaderSize {
		return bcerr.New(bcerr.KindProtocolError, "wire.decodeHeader", "truncated modern header tail")
	}
	h.ResponseCode = binary.LittleEndian.Uint16(buf[18:20])
	h.ExtLength = binary.LittleEndian.Uint16(buf[20:22])
	flags := binary.LittleEndian.Uint16(buf[22:24])
	h.HasExtension = flags&flagHasExtension != 0

	var extLenInt int
	if err := safecast.ToInt(h.ExtLength, &extLenInt); err != nil {
		return bcerr.Wrap(bcerr.KindProtocolError, "wire.decodeHeader", err)
	}
	if extLenInt > MaxBodyLength {
		return bcerr.New(bcerr.KindProtocolError, "wire.decodeHeader", "implausible ext_length")
	}
	return nil
}
