// Package commands implements spec §4.I: one function per BC operation,
// each a thin request/reply (or subscribe) built on top of a session's
// public Request/Subscribe primitives. Nothing here touches a transport,
// a mux, or a codec directly — that separation is what lets a new command
// be added without ever looking at framing or encryption.
package commands

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/mux"
	"github.com/camlink/bc-go/internal/wire"
)

// requester is the subset of *session.Session commands need. Depending on
// the interface rather than the concrete type keeps this package free of
// an import cycle back to session, and makes each command trivially
// testable against a fake.
type requester interface {
	Request(ctx context.Context, f *wire.Frame) (*wire.Frame, error)
	Subscribe(messageID uint32) *mux.Subscription
}

func requestXML(ctx context.Context, s requester, messageID uint32, body interface{}) (*wire.Frame, error) {
	payload, err := xml.Marshal(body)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.KindProtocolError, "commands.requestXML", err)
	}
	return s.Request(ctx, &wire.Frame{MessageID: messageID, Modern: true, Body: payload})
}

func requestEmpty(ctx context.Context, s requester, messageID uint32) (*wire.Frame, error) {
	return s.Request(ctx, &wire.Frame{MessageID: messageID, Modern: true})
}

func checkSuccess(f *wire.Frame, op string) error {
	if f.ResponseCode != 0 {
		return bcerr.New(bcerr.KindProtocolError, op, "camera returned non-zero response code")
	}
	return nil
}

// Reboot asks the camera to restart. The camera drops the connection as
// part of executing the command; a transport error on the reply is
// expected and not itself a failure of the reboot request.
func Reboot(ctx context.Context, s requester) error {
	_, err := requestEmpty(ctx, s, wire.MsgIDReboot)
	if err != nil && !bcerr.Is(err, bcerr.KindTransportError) {
		return err
	}
	return nil
}

// GetLED reads the current LED state (on/off/auto).
func GetLED(ctx context.Context, s requester) (*wire.LedState, error) {
	reply, err := requestEmpty(ctx, s, wire.MsgIDLEDState)
	if err != nil {
		return nil, err
	}
	state, ok := reply.BodyValue.(*wire.LedState)
	if !ok {
		return nil, bcerr.New(bcerr.KindProtocolError, "commands.GetLED", "camera reply had no decodable LedState body")
	}
	return state, nil
}

// SetLED sets the LED to state (0 off, 1 on, 2 auto).
func SetLED(ctx context.Context, s requester, state int) error {
	reply, err := requestXML(ctx, s, wire.MsgIDLEDState, wire.LedState{State: state})
	if err != nil {
		return err
	}
	return checkSuccess(reply, "commands.SetLED")
}

// GetPIR reads whether the passive-infrared motion sensor is enabled.
func GetPIR(ctx context.Context, s requester) (bool, error) {
	reply, err := requestEmpty(ctx, s, wire.MsgIDPIRState)
	if err != nil {
		return false, err
	}
	state, ok := reply.BodyValue.(*wire.PirState)
	if !ok {
		return false, bcerr.New(bcerr.KindProtocolError, "commands.GetPIR", "camera reply had no decodable PirState body")
	}
	return state.Enable != 0, nil
}

// SetPIR enables or disables the passive-infrared motion sensor.
func SetPIR(ctx context.Context, s requester, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	reply, err := requestXML(ctx, s, wire.MsgIDPIRState, wire.PirState{Enable: val})
	if err != nil {
		return err
	}
	return checkSuccess(reply, "commands.SetPIR")
}

// GetResolution reads the camera's current named resolution profile.
func GetResolution(ctx context.Context, s requester) (string, error) {
	reply, err := requestEmpty(ctx, s, wire.MsgIDResolution)
	if err != nil {
		return "", err
	}
	res, ok := reply.BodyValue.(*wire.Resolution)
	if !ok {
		return "", bcerr.New(bcerr.KindProtocolError, "commands.GetResolution", "camera reply had no decodable Resolution body")
	}
	return res.ResolutionName, nil
}

// SetResolution switches the camera to a named resolution profile (e.g.
// "4MP", "1080P" — the set of valid names is camera-model-specific and
// not validated here).
func SetResolution(ctx context.Context, s requester, name string) error {
	reply, err := requestXML(ctx, s, wire.MsgIDResolution, wire.Resolution{ResolutionName: name})
	if err != nil {
		return err
	}
	return checkSuccess(reply, "commands.SetResolution")
}

// PTZDirection names a pan/tilt/zoom move.
type PTZDirection string

const (
	PTZUp      PTZDirection = "up"
	PTZDown    PTZDirection = "down"
	PTZLeft    PTZDirection = "left"
	PTZRight   PTZDirection = "right"
	PTZZoomIn  PTZDirection = "zoomIn"
	PTZZoomOut PTZDirection = "zoomOut"
	PTZStop    PTZDirection = "stop"
)

// PTZMove issues one PTZ command at the given speed (camera-defined
// units, typically 1-64). Movement continues until a matching PTZStop is
// sent; the camera does not auto-stop.
func PTZMove(ctx context.Context, s requester, dir PTZDirection, speed int) error {
	reply, err := requestXML(ctx, s, wire.MsgIDPtz, wire.PtzControl{Command: string(dir), Speed: speed})
	if err != nil {
		return err
	}
	return checkSuccess(reply, "commands.PTZMove")
}

// GetTime reads the camera's onboard clock.
func GetTime(ctx context.Context, s requester) (time.Time, error) {
	reply, err := requestEmpty(ctx, s, wire.MsgIDTime)
	if err != nil {
		return time.Time{}, err
	}
	dt, ok := reply.BodyValue.(*wire.DeviceTime)
	if !ok {
		return time.Time{}, bcerr.New(bcerr.KindProtocolError, "commands.GetTime", "camera reply had no decodable Time body")
	}
	return time.Date(dt.Year, time.Month(dt.Month), dt.Day, dt.Hour, dt.Minute, dt.Second, 0, time.UTC), nil
}

// SetTime sets the camera's onboard clock.
func SetTime(ctx context.Context, s requester, t time.Time) error {
	t = t.UTC()
	body := wire.DeviceTime{
		Year: t.Year(), Month: int(t.Month()), Day: t.Day(),
		Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(),
	}
	reply, err := requestXML(ctx, s, wire.MsgIDTime, body)
	if err != nil {
		return err
	}
	return checkSuccess(reply, "commands.SetTime")
}

// GetBattery takes one battery reading on demand, independent of the
// session's periodic background monitor.
func GetBattery(ctx context.Context, s requester) (*wire.BatteryInfo, error) {
	reply, err := requestEmpty(ctx, s, wire.MsgIDBattery)
	if err != nil {
		return nil, err
	}
	info, ok := reply.BodyValue.(*wire.BatteryInfo)
	if !ok {
		return nil, bcerr.New(bcerr.KindProtocolError, "commands.GetBattery", "camera reply had no decodable BatteryInfo body")
	}
	return info, nil
}

// GetVersion reads the camera's firmware and hardware version strings.
func GetVersion(ctx context.Context, s requester) (*wire.VersionInfo, error) {
	reply, err := requestEmpty(ctx, s, wire.MsgIDVersion)
	if err != nil {
		return nil, err
	}
	v, ok := reply.BodyValue.(*wire.VersionInfo)
	if !ok {
		return nil, bcerr.New(bcerr.KindProtocolError, "commands.GetVersion", "camera reply had no decodable VersionInfo body")
	}
	return v, nil
}

// SubscribeMotion returns a live feed of motion-alarm push frames. The
// caller owns the subscription and must Close it when done.
func SubscribeMotion(s requester) *mux.Subscription {
	return s.Subscribe(wire.MsgIDMotion)
}

// SubscribeVideo returns a live feed of video-stream push frames for
// whichever stream the camera is currently sending (main or sub, selected
// camera-side by the stream request that isn't modeled here — spec
// Non-goal: no RTSP/media parsing, frames are handed back raw).
func SubscribeVideo(s requester) *mux.Subscription {
	return s.Subscribe(wire.MsgIDVideoStream)
}

// TalkStart begins an audio talk-back session: opens the two-way audio
// channel by sending one empty request, then the caller pushes raw PCM
// frames with TalkSend until TalkStop.
func TalkStart(ctx context.Context, s requester) error {
	reply, err := requestEmpty(ctx, s, wire.MsgIDAudioTalk)
	if err != nil {
		return err
	}
	return checkSuccess(reply, "commands.TalkStart")
}

// TalkSend pushes one frame of raw PCM audio to the camera's speaker.
// Audio frames are fire-and-forget: the camera does not ack each one.
func TalkSend(s requester, pcm []byte) error {
	sender, ok := s.(interface {
		Send(f *wire.Frame) error
	})
	if !ok {
		return bcerr.New(bcerr.KindOther, "commands.TalkSend", "session does not support fire-and-forget send")
	}
	return sender.Send(&wire.Frame{MessageID: wire.MsgIDAudioTalk, Modern: true, Body: pcm})
}

// TalkStop ends an audio talk-back session.
func TalkStop(ctx context.Context, s requester) error {
	reply, err := requestEmpty(ctx, s, wire.MsgIDAudioTalk)
	if err != nil {
		return err
	}
	return checkSuccess(reply, "commands.TalkStop")
}
