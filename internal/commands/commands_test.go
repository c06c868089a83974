package commands

import (
	"context"
	"encoding/xml"
	"testing"
	"time"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/mux"
	"github.com/camlink/bc-go/internal/wire"
)

// fakeSession answers every Request with a canned reply keyed by
// message_id, decoding the body the same way the real wire codec would
// for a registered schema, so commands can be tested without a live mux.
type fakeSession struct {
	replies map[uint32]*wire.Frame
	sent    []*wire.Frame
}

func newFakeSession() *fakeSession {
	return &fakeSession{replies: make(map[uint32]*wire.Frame)}
}

func (f *fakeSession) Request(ctx context.Context, req *wire.Frame) (*wire.Frame, error) {
	reply, ok := f.replies[req.MessageID]
	if !ok {
		return nil, bcerr.New(bcerr.KindProtocolError, "fakeSession.Request", "no canned reply")
	}
	return reply, nil
}

func (f *fakeSession) Subscribe(messageID uint32) *mux.Subscription {
	return nil
}

func (f *fakeSession) Send(req *wire.Frame) error {
	f.sent = append(f.sent, req)
	return nil
}

func withBody(messageID uint32, v interface{}) *wire.Frame {
	body, _ := xml.Marshal(v)
	return &wire.Frame{MessageID: messageID, Modern: true, Body: body, BodyValue: v}
}

func TestGetLEDDecodesState(t *testing.T) {
	fs := newFakeSession()
	fs.replies[wire.MsgIDLEDState] = withBody(wire.MsgIDLEDState, &wire.LedState{State: 1})

	state, err := GetLED(context.Background(), fs)
	if err != nil {
		t.Fatalf("GetLED: %v", err)
	}
	if state.State != 1 {
		t.Fatalf("got state %d want 1", state.State)
	}
}

func TestSetPIRChecksResponseCode(t *testing.T) {
	fs := newFakeSession()
	fs.replies[wire.MsgIDPIRState] = &wire.Frame{MessageID: wire.MsgIDPIRState, Modern: true, ResponseCode: 1}

	err := SetPIR(context.Background(), fs, true)
	if !bcerr.Is(err, bcerr.KindProtocolError) {
		t.Fatalf("expected ProtocolError on non-zero response code, got %v", err)
	}
}

func TestGetTimeConvertsFields(t *testing.T) {
	fs := newFakeSession()
	fs.replies[wire.MsgIDTime] = withBody(wire.MsgIDTime, &wire.DeviceTime{
		Year: 2026, Month: 7, Day: 31, Hour: 12, Minute: 0, Second: 0,
	})

	got, err := GetTime(context.Background(), fs)
	if err != nil {
		t.Fatalf("GetTime: %v", err)
	}
	want := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestTalkSendUsesFireAndForgetSend(t *testing.T) {
	fs := newFakeSession()
	pcm := []byte{1, 2, 3, 4}
	if err := TalkSend(fs, pcm); err != nil {
		t.Fatalf("TalkSend: %v", err)
	}
	if len(fs.sent) != 1 || string(fs.sent[0].Body) != string(pcm) {
		t.Fatalf("expected one sent frame carrying the pcm payload, got %+v", fs.sent)
	}
}

func TestRebootPropagatesNonTransportError(t *testing.T) {
	fs := newFakeSession() // no canned reply -> fakeSession returns ProtocolError, not Transport
	_ = fs
	// A real camera severs the connection mid-reboot; verify Reboot only
	// swallows TransportError, not other kinds.
	err := Reboot(context.Background(), fs)
	if err == nil {
		t.Fatal("expected ProtocolError to propagate, only TransportError should be swallowed")
	}
}
