package session

import (
	"context"
	"encoding/xml"
	"net"
	"testing"
	"time"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/crypto"
	"github.com/camlink/bc-go/internal/wire"
)

// fakeCameraConn runs the full handshake a real camera would, then answers
// pings and logout over the same connection until the test tears it down.
func fakeCameraConn(t *testing.T, conn net.Conn, offer, nonce string) {
	t.Helper()
	codec := wire.NewCodec()

	probe, err := codec.ReadFrame(conn)
	if err != nil {
		return
	}
	capsXML, _ := xml.Marshal(wire.EncryptionCaps{Nonce: nonce, NonceValue: offer})
	writeFrame(t, conn, codec, &wire.Frame{
		MessageID:    wire.MsgIDLoginLegacy,
		MessageNum:   probe.MessageNum,
		Modern:       true,
		HasExtension: true,
		Extension:    capsXML,
	})

	modernReq, err := codec.ReadFrame(conn)
	if err != nil {
		return
	}
	writeFrame(t, conn, codec, &wire.Frame{
		MessageID:  wire.MsgIDLoginModern,
		MessageNum: modernReq.MessageNum,
		Modern:     true,
	})

	for {
		req, err := codec.ReadFrame(conn)
		if err != nil {
			return
		}
		switch req.MessageID {
		case wire.MsgIDPing, wire.MsgIDLogout:
			writeFrame(t, conn, codec, &wire.Frame{
				MessageID:  req.MessageID,
				MessageNum: req.MessageNum,
				Modern:     true,
			})
		default:
			writeFrame(t, conn, codec, &wire.Frame{
				MessageID:  req.MessageID,
				MessageNum: req.MessageNum,
				Modern:     true,
			})
		}
	}
}

func writeFrame(t *testing.T, conn net.Conn, codec *wire.Codec, f *wire.Frame) {
	t.Helper()
	buf, err := codec.Encode(f)
	if err != nil {
		t.Errorf("camera: encode: %v", err)
		return
	}
	conn.Write(buf)
}

func listenAndServe(t *testing.T, offer, nonce string) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go fakeCameraConn(t, conn, offer, nonce)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestOpenLogsInAndClosesCleanly(t *testing.T) {
	addr, stop := listenAndServe(t, "none bcencrypt aes", "42")
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Open(ctx, addr, Credentials{Username: "admin", Password: "hunter2"}, Options{
		ChannelID:     0,
		MaxEncryption: crypto.ModeBCEncrypt,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !s.LoggedIn() {
		t.Fatal("expected session to be logged in")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.LoggedIn() {
		t.Fatal("expected session to report logged out after Close")
	}
}

func TestOpenFailsWhenCeilingRejectsAllOfferedModes(t *testing.T) {
	addr, stop := listenAndServe(t, "aes", "7")
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Open(ctx, addr, Credentials{Username: "admin", Password: "hunter2"}, Options{
		MaxEncryption: crypto.ModeNone,
	})
	if !bcerr.Is(err, bcerr.KindAuthFailure) {
		t.Fatalf("expected AuthFailure, got %v", err)
	}
}

func TestRequestRejectsWhenNotLoggedIn(t *testing.T) {
	addr, stop := listenAndServe(t, "none", "1")
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := Open(ctx, addr, Credentials{Username: "admin", Password: "hunter2"}, Options{
		MaxEncryption: crypto.ModeNone,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	_, err = s.Request(context.Background(), &wire.Frame{MessageID: wire.MsgIDPing, Modern: true})
	if !bcerr.Is(err, bcerr.KindCancelled) {
		t.Fatalf("expected Cancelled after Close, got %v", err)
	}
}
