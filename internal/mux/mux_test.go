package mux

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/camlink/bc-go/internal/wire"
)

// pipeConn adapts a net.Pipe half into io.ReadWriteCloser for the mux.
func pipeConn(t *testing.T) (io.ReadWriteCloser, io.ReadWriteCloser) {
	t.Helper()
	a, b := net.Pipe()
	return a, b
}

func TestRequestReplyCorrelatesByMessageNum(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()
	defer server.Close()

	m := New(client, wire.NewCodec(), nil)
	defer m.Close()

	serverCodec := wire.NewCodec()
	go func() {
		f, err := serverCodec.ReadFrame(server)
		if err != nil {
			return
		}
		reply := &wire.Frame{MessageID: f.MessageID, MessageNum: f.MessageNum, Modern: true, ResponseCode: 0}
		buf, err := serverCodec.Encode(reply)
		if err != nil {
			return
		}
		server.Write(buf)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := m.Request(ctx, &wire.Frame{MessageID: wire.MsgIDPing, MessageNum: 42, Modern: true})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if reply.MessageNum != 42 {
		t.Fatalf("got message_num %d want 42", reply.MessageNum)
	}
}

func TestRequestTimesOutOnCancelledContext(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()
	defer server.Close()

	m := New(client, wire.NewCodec(), nil)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.Request(ctx, &wire.Frame{MessageID: wire.MsgIDPing, MessageNum: 1, Modern: true})
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestSubscribeBroadcastsPushedFrames(t *testing.T) {
	client, server := pipeConn(t)
	defer client.Close()
	defer server.Close()

	m := New(client, wire.NewCodec(), nil)
	defer m.Close()

	sub1 := m.Subscribe(wire.MsgIDMotion)
	sub2 := m.Subscribe(wire.MsgIDMotion)

	serverCodec := wire.NewCodec()
	go func() {
		push := &wire.Frame{MessageID: wire.MsgIDMotion, MessageNum: 0, Modern: true}
		buf, err := serverCodec.Encode(push)
		if err != nil {
			return
		}
		server.Write(buf)
	}()

	timeout := time.After(2 * time.Second)
	select {
	case f := <-sub1.Frames():
		if f.MessageID != wire.MsgIDMotion {
			t.Fatalf("sub1 got wrong message_id %d", f.MessageID)
		}
	case <-timeout:
		t.Fatal("sub1 never received pushed frame")
	}
	select {
	case f := <-sub2.Frames():
		if f.MessageID != wire.MsgIDMotion {
			t.Fatalf("sub2 got wrong message_id %d", f.MessageID)
		}
	case <-timeout:
		t.Fatal("sub2 never received pushed frame — broadcast is not fanning out to every subscriber")
	}

	sub1.Close()
	sub2.Close()
}
