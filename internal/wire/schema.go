package wire

import "encoding/xml"

// Message IDs that carry a known XML schema. The command layer (component
// I, external to this package per spec §4.I) references these constants
// when building requests; the codec uses them only to decide whether to
// attempt a typed decode.
const (
	MsgIDLoginLegacy  uint32 = 1
	MsgIDLoginModern  uint32 = 1141
	MsgIDLogout       uint32 = 2
	MsgIDPing         uint32 = 93
	MsgIDReboot       uint32 = 23
	MsgIDPtz          uint32 = 30030 // not a real reolink id, placeholder for PTZ control
	MsgIDLEDState     uint32 = 1306
	MsgIDPIRState     uint32 = 212
	MsgIDResolution   uint32 = 225
	MsgIDMotion       uint32 = 33
	MsgIDAudioTalk    uint32 = 10020
	MsgIDTime         uint32 = 20
	MsgIDBattery      uint32 = 252
	MsgIDVersion      uint32 = 80
	MsgIDVideoStream  uint32 = 3
)

// LoginUser is the <LoginUser> element of a modern login body.
type LoginUser struct {
	XMLName  xml.Name `xml:"LoginUser"`
	UserName string   `xml:"userName"`
	Password string   `xml:"password"`
}

// LoginNet is the <LoginNet> element accompanying LoginUser.
type LoginNet struct {
	XMLName xml.Name `xml:"LoginNet"`
	Type    string   `xml:"type"`
	UDPPort int      `xml:"udpPort"`
}

// EncryptionCaps is the nonce/encryption-offer extension the camera
// returns after the legacy login probe (spec §4.G stage 1 reply).
type EncryptionCaps struct {
	XMLName    xml.Name `xml:"Encryption"`
	Nonce      string   `xml:"nonce"`
	NonceValue string   `xml:"nonceValue,omitempty"`
}

// LedState is the body of a MsgIDLEDState get/set.
type LedState struct {
	XMLName xml.Name `xml:"LedState"`
	State   int      `xml:"state"` // 0 off, 1 on, 2 auto
}

// PirState is the body of a MsgIDPIRState get/set.
type PirState struct {
	XMLName xml.Name `xml:"PirState"`
	Enable  int      `xml:"enable"`
}

// Resolution is the body of a MsgIDResolution get/set.
type Resolution struct {
	XMLName        xml.Name `xml:"Resolution"`
	ResolutionName string   `xml:"resolutionName"`
}

// PtzControl is the body of a MsgIDPtz request.
type PtzControl struct {
	XMLName xml.Name `xml:"PtzControl"`
	Command string   `xml:"command"`
	Speed   int      `xml:"speed"`
}

// DeviceTime is the body of a MsgIDTime get/set.
type DeviceTime struct {
	XMLName xml.Name `xml:"Time"`
	Year    int      `xml:"year"`
	Month   int      `xml:"month"`
	Day     int      `xml:"day"`
	Hour    int      `xml:"hour"`
	Minute  int      `xml:"minute"`
	Second  int      `xml:"second"`
}

// BatteryInfo is the body of a MsgIDBattery reply, used both by the
// one-shot GetBattery command and the session's background monitor task.
type BatteryInfo struct {
	XMLName    xml.Name `xml:"BatteryInfo"`
	Percentage int      `xml:"batteryPercent"`
	Charging   bool     `xml:"chargeStatus"`
}

// VersionInfo is the body of a MsgIDVersion reply.
type VersionInfo struct {
	XMLName         xml.Name `xml:"Version"`
	FirmwareVersion string   `xml:"firmwareVersion"`
	HardwareVersion string   `xml:"hardwareVersion"`
}

// MotionEvent is the body of an unsolicited MsgIDMotion push frame.
type MotionEvent struct {
	XMLName xml.Name `xml:"AlarmEvent"`
	Status  string   `xml:"status"`
}

// bodySchema (and extensionSchema below) map a message_id to the Go type
// its body/extension decodes into. message_ids with no entry are left as raw bytes by the
// codec (Frame.Body/Frame.Extension), matching spec §4.A's passthrough
// requirement for unknown fields.
var bodySchema = map[uint32]func() interface{}{
	MsgIDLoginModern: func() interface{} { return new(LoginUser) },
	MsgIDLEDState:    func() interface{} { return new(LedState) },
	MsgIDPIRState:    func() interface{} { return new(PirState) },
	MsgIDResolution:  func() interface{} { return new(Resolution) },
	MsgIDPtz:         func() interface{} { return new(PtzControl) },
	MsgIDTime:        func() interface{} { return new(DeviceTime) },
	MsgIDBattery:     func() interface{} { return new(BatteryInfo) },
	MsgIDVersion:     func() interface{} { return new(VersionInfo) },
	MsgIDMotion:      func() interface{} { return new(MotionEvent) },
}

var extensionSchema = map[uint32]func() interface{}{
	// The legacy probe's reply is where the camera actually advertises its
	// nonce and offered encryption set (spec §4.G stage 1); the modern
	// login's own reply extension reuses the same schema when a camera
	// echoes it there too.
	MsgIDLoginLegacy: func() interface{} { return new(EncryptionCaps) },
	MsgIDLoginModern: func() interface{} { return new(EncryptionCaps) },
}

func decodeBody(messageID uint32, data []byte) (interface{}, bool) {
	return decodeXMLSchema(bodySchema, messageID, data)
}

func decodeExtension(messageID uint32, data []byte) (interface{}, bool) {
	return decodeXMLSchema(extensionSchema, messageID, data)
}

func decodeXMLSchema(registry map[uint32]func() interface{}, messageID uint32, data []byte) (interface{}, bool) {
	if len(data) == 0 {
		return nil, false
	}
	ctor, ok := registry[messageID]
	if !ok {
		return nil, false
	}
	v := ctor()
	if err := xml.Unmarshal(data, v); err != nil {
		// Malformed XML for a known schema is not fatal to framing: the
		// caller still has the raw bytes via Frame.Body/Frame.Extension.
		return nil, false
	}
	return v, true
}
