package wire

import (
	"bytes"
	"io"
	"sync"

	"github.com/cybergarage/go-safecast/safecast"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/crypto"
)

// Codec encodes and decodes BC frames over a byte stream. It holds the
// connection's current encryption mode: the header is always plaintext,
// but the body (and, under AES, the extension) is enciphered in place on
// both directions. Mutating the mode is the caller's responsibility and
// must only happen while no frame is in flight (see internal/mux).
type Codec struct {
	mu    sync.RWMutex
	mode  crypto.Mode
	state *crypto.State
}

// NewCodec returns a codec starting in plaintext mode.
func NewCodec() *Codec {
	return &Codec{mode: crypto.ModeNone}
}

// SetEncryption installs mode/state for all subsequent Encode/Decode calls.
// Transitions must be monotonic (none -> bcencrypt|aes); see spec invariant
// in §3. Callers enforce the "no frame in flight" timing requirement.
func (c *Codec) SetEncryption(mode crypto.Mode, state *crypto.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != crypto.ModeNone && mode != c.mode {
		return bcerr.New(bcerr.KindProtocolError, "wire.SetEncryption", "encryption mode may not change once installed")
	}
	c.mode = mode
	c.state = state
	return nil
}

func (c *Codec) current() (crypto.Mode, *crypto.State) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode, c.state
}

// Encode serializes f, encrypting its body (and extension, under AES)
// under the codec's current mode.
func (c *Codec) Encode(f *Frame) ([]byte, error) {
	mode, state := c.current()

	body := f.Body
	var err error
	if len(body) > 0 {
		body, err = crypto.Encrypt(mode, state, body)
		if err != nil {
			return nil, bcerr.Wrap(bcerr.KindProtocolError, "wire.Encode", err)
		}
	}

	ext := f.Extension
	if f.HasExtension && len(ext) > 0 && mode == crypto.ModeAES {
		ext, err = crypto.Encrypt(mode, state, ext)
		if err != nil {
			return nil, bcerr.Wrap(bcerr.KindProtocolError, "wire.Encode", err)
		}
	}

	var bodyLen, extLen uint32
	if err := safecast.ToUint32(len(body), &bodyLen); err != nil {
		return nil, bcerr.Wrap(bcerr.KindProtocolError, "wire.Encode", err)
	}
	if err := safecast.ToUint32(len(ext), &extLen); err != nil {
		return nil, bcerr.Wrap(bcerr.KindProtocolError, "wire.Encode", err)
	}

	h := header{
		MessageID:    f.MessageID,
		BodyLength:   bodyLen,
		ChannelID:    f.ChannelID,
		StreamKind:   uint8(f.StreamKind),
		MessageNum:   f.MessageNum,
		Modern:       f.Modern,
		ResponseCode: f.ResponseCode,
		HasExtension: f.HasExtension,
	}
	if f.Modern {
		var extLen16 uint16
		if err := safecast.ToUint16(extLen, &extLen16); err != nil {
			return nil, bcerr.Wrap(bcerr.KindProtocolError, "wire.Encode", err)
		}
		h.ExtLength = extLen16
	}

	out := make([]byte, 0, len(h2buf(h))+len(ext)+len(body))
	out = append(out, encodeHeader(h)...)
	if f.Modern && f.HasExtension {
		out = append(out, ext...)
	}
	out = append(out, body...)
	return out, nil
}

func h2buf(h header) []byte { return encodeHeader(h) }

// ReadFrame decodes exactly one frame from r, applying the codec's current
// decryption mode to the body and (under AES) the extension. It returns a
// *bcerr.Error of KindProtocolError on magic mismatch, an implausible
// length, or a read cut short after the first CommonHeaderSize+2 header
// bytes. A failure while reading those first bytes (io.EOF,
// io.ErrUnexpectedEOF or a socket error) is returned unwrapped, so a
// connection that ends at a frame boundary is not reported as a framing bug.
func (c *Codec) ReadFrame(r io.Reader) (*Frame, error) {
	prefix := make([]byte, CommonHeaderSize+2)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}
	h, size, err := decodeCommonAndClass(prefix)
	if err != nil {
		return nil, err
	}

	full := make([]byte, size)
	copy(full, prefix)
	if size > len(prefix) {
		if _, err := io.ReadFull(r, full[len(prefix):]); err != nil {
			return nil, bcerr.Wrap(bcerr.KindProtocolError, "wire.ReadFrame", err)
		}
	}
	if err := decodeHeaderTail(&h, full); err != nil {
		return nil, err
	}

	mode, state := c.current()

	f := &Frame{
		MessageID:    h.MessageID,
		MessageNum:   h.MessageNum,
		ChannelID:    h.ChannelID,
		StreamKind:   StreamKind(h.StreamKind),
		Modern:       h.Modern,
		ResponseCode: h.ResponseCode,
		HasExtension: h.HasExtension,
	}

	if h.Modern && h.HasExtension {
		var extLenInt int
		if err := safecast.ToInt(h.ExtLength, &extLenInt); err != nil {
			return nil, bcerr.Wrap(bcerr.KindProtocolError, "wire.ReadFrame", err)
		}
		raw := make([]byte, extLenInt)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, bcerr.Wrap(bcerr.KindProtocolError, "wire.ReadFrame", err)
		}
		if mode == crypto.ModeAES {
			raw, err = crypto.Decrypt(mode, state, raw)
			if err != nil {
				return nil, bcerr.Wrap(bcerr.KindProtocolError, "wire.ReadFrame", err)
			}
		}
		f.Extension = raw
		if v, ok := decodeExtension(h.MessageID, raw); ok {
			f.ExtensionValue = v
		}
	}

	var bodyLenInt int
	if err := safecast.ToInt(h.BodyLength, &bodyLenInt); err != nil {
		return nil, bcerr.Wrap(bcerr.KindProtocolError, "wire.ReadFrame", err)
	}
	body := make([]byte, bodyLenInt)
	if bodyLenInt > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, bcerr.Wrap(bcerr.KindProtocolError, "wire.ReadFrame", err)
		}
		body, err = crypto.Decrypt(mode, state, body)
		if err != nil {
			return nil, bcerr.Wrap(bcerr.KindProtocolError, "wire.ReadFrame", err)
		}
	}
	f.Body = body
	if h.Modern {
		if v, ok := decodeBody(h.MessageID, body); ok {
			f.BodyValue = v
		}
	}

	return f, nil
}

// ReadFrameFromBytes is a convenience wrapper for transports (like the UDP
// reliability layer) that reassemble a complete frame into memory before
// handing it to the codec, rather than streaming from a live socket.
func (c *Codec) ReadFrameFromBytes(data []byte) (*Frame, error) {
	return c.ReadFrame(bytes.NewReader(data))
}
