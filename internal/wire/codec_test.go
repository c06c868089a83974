package wire

import (
	"bytes"
	"testing"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/crypto"
)

func roundTrip(t *testing.T, mode crypto.Mode, f *Frame) *Frame {
	t.Helper()
	enc := NewCodec()
	dec := NewCodec()
	var state *crypto.State
	if mode != crypto.ModeNone {
		state = crypto.NewState("4242", "hunter2")
		if err := enc.SetEncryption(mode, state); err != nil {
			t.Fatalf("enc.SetEncryption: %v", err)
		}
		if err := dec.SetEncryption(mode, state); err != nil {
			t.Fatalf("dec.SetEncryption: %v", err)
		}
	}

	wire, err := enc.Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := dec.ReadFrame(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return got
}

func TestCodecRoundTripLegacy(t *testing.T) {
	for _, mode := range []crypto.Mode{crypto.ModeNone, crypto.ModeBCEncrypt, crypto.ModeAES} {
		f := &Frame{
			MessageID:  MsgIDPing,
			MessageNum: 7,
			ChannelID:  0,
			StreamKind: StreamKindNone,
			Body:       []byte("legacy body payload"),
		}
		got := roundTrip(t, mode, f)
		if got.MessageID != f.MessageID || got.MessageNum != f.MessageNum {
			t.Fatalf("mode %v: header mismatch: %+v", mode, got)
		}
		if string(got.Body) != string(f.Body) {
			t.Fatalf("mode %v: body mismatch: got %q want %q", mode, got.Body, f.Body)
		}
	}
}

func TestCodecRoundTripModernWithExtension(t *testing.T) {
	for _, mode := range []crypto.Mode{crypto.ModeNone, crypto.ModeBCEncrypt, crypto.ModeAES} {
		f := &Frame{
			MessageID:    MsgIDLoginModern,
			MessageNum:   1,
			Modern:       true,
			ResponseCode: 0,
			HasExtension: true,
			Extension:    []byte(`<Encryption><nonce>4242</nonce></Encryption>`),
			Body:         []byte(`<LoginUser><userName>admin</userName><password>x</password></LoginUser>`),
		}
		got := roundTrip(t, mode, f)
		if !got.Modern || !got.HasExtension {
			t.Fatalf("mode %v: modern/extension flags lost", mode)
		}
		if string(got.Extension) != string(f.Extension) {
			t.Fatalf("mode %v: extension mismatch: got %q want %q", mode, got.Extension, f.Extension)
		}
		if string(got.Body) != string(f.Body) {
			t.Fatalf("mode %v: body mismatch: got %q want %q", mode, got.Body, f.Body)
		}
		lu, ok := got.BodyValue.(*LoginUser)
		if !ok {
			t.Fatalf("mode %v: expected decoded LoginUser, got %T", mode, got.BodyValue)
		}
		if lu.UserName != "admin" {
			t.Fatalf("mode %v: decoded username mismatch: %q", mode, lu.UserName)
		}
	}
}

func TestCodecRejectsBadMagic(t *testing.T) {
	dec := NewCodec()
	buf := make([]byte, LegacyHeaderSize)
	buf[0] = 0xFF // corrupt magic
	_, err := dec.ReadFrame(bytes.NewReader(buf))
	if !bcerr.Is(err, bcerr.KindProtocolError) {
		t.Fatalf("expected ProtocolError for bad magic, got %v", err)
	}
}

func TestCodecRejectsTruncatedHeader(t *testing.T) {
	dec := NewCodec()
	_, err := dec.ReadFrame(bytes.NewReader([]byte{1, 2, 3}))
	if err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestCodecRejectsImplausibleLength(t *testing.T) {
	enc := NewCodec()
	f := &Frame{MessageID: MsgIDPing, MessageNum: 1}
	wire, err := enc.Encode(f)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Corrupt body_length (bytes 8-11, little-endian) to an implausible value.
	wire[8], wire[9], wire[10], wire[11] = 0xFF, 0xFF, 0xFF, 0x7F

	dec := NewCodec()
	_, err = dec.ReadFrame(bytes.NewReader(wire))
	if !bcerr.Is(err, bcerr.KindProtocolError) {
		t.Fatalf("expected ProtocolError for implausible body_length, got %v", err)
	}
}

func TestEncryptionModeTransitionIsMonotonic(t *testing.T) {
	c := NewCodec()
	state := crypto.NewState("1", "p")
	if err := c.SetEncryption(crypto.ModeBCEncrypt, state); err != nil {
		t.Fatalf("first SetEncryption: %v", err)
	}
	if err := c.SetEncryption(crypto.ModeAES, state); err == nil {
		t.Fatal("expected error switching encryption mode mid-session")
	}
}
