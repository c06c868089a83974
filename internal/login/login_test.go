package login

import (
	"context"
	"encoding/xml"
	"net"
	"testing"
	"time"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/crypto"
	"github.com/camlink/bc-go/internal/mux"
	"github.com/camlink/bc-go/internal/wire"
)

// fakeCamera runs the two-round-trip server side of the handshake over a
// net.Pipe half, offering the given encryption modes and always accepting
// the credentials it receives.
func fakeCamera(t *testing.T, conn net.Conn, offer string, nonce string) {
	t.Helper()
	codec := wire.NewCodec()

	probe, err := codec.ReadFrame(conn)
	if err != nil {
		t.Errorf("camera: read probe: %v", err)
		return
	}
	capsXML, _ := xml.Marshal(wire.EncryptionCaps{Nonce: nonce, NonceValue: offer})
	reply := &wire.Frame{
		MessageID:    wire.MsgIDLoginLegacy,
		MessageNum:   probe.MessageNum,
		Modern:       true,
		HasExtension: true,
		Extension:    capsXML,
		ResponseCode: 0,
	}
	buf, err := codec.Encode(reply)
	if err != nil {
		t.Errorf("camera: encode probe reply: %v", err)
		return
	}
	if _, err := conn.Write(buf); err != nil {
		t.Errorf("camera: write probe reply: %v", err)
		return
	}

	modernReq, err := codec.ReadFrame(conn)
	if err != nil {
		t.Errorf("camera: read modern login: %v", err)
		return
	}
	ack := &wire.Frame{
		MessageID:    wire.MsgIDLoginModern,
		MessageNum:   modernReq.MessageNum,
		Modern:       true,
		ResponseCode: 0,
	}
	buf, err = codec.Encode(ack)
	if err != nil {
		t.Errorf("camera: encode modern ack: %v", err)
		return
	}
	conn.Write(buf)
}

func sequentialMessageNum() func() uint16 {
	var n uint16
	return func() uint16 {
		v := n
		n++
		return v
	}
}

func TestLoginNegotiatesStrongestAllowedMode(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go fakeCamera(t, server, "none bcencrypt aes", "1234")

	codec := wire.NewCodec()
	m := mux.New(client, codec, nil)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := Login(ctx, m, codec, "admin", "hunter2", crypto.ModeBCEncrypt, sequentialMessageNum())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Mode != crypto.ModeBCEncrypt {
		t.Fatalf("got mode %v want %v (capped by ceiling, even though camera also offers aes)", result.Mode, crypto.ModeBCEncrypt)
	}
}

func TestLoginFailsWhenNoModeSatisfiesCeiling(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go fakeCamera(t, server, "aes", "5678")

	codec := wire.NewCodec()
	m := mux.New(client, codec, nil)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Login(ctx, m, codec, "admin", "hunter2", crypto.ModeNone, sequentialMessageNum())
	if !bcerr.Is(err, bcerr.KindAuthFailure) {
		t.Fatalf("expected AuthFailure, got %v", err)
	}
}
