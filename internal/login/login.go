// Package login implements the two-round-trip BC handshake of spec §4.G:
// a legacy probe that always succeeds unencrypted so the camera can hand
// back its nonce and offered encryption set, from which the client picks
// the encryption mode to install, followed by a modern XML login that
// actually authenticates.
package login

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/crypto"
	"github.com/camlink/bc-go/internal/mux"
	"github.com/camlink/bc-go/internal/wire"
)

const (
	legacyUsernameFieldLen = 32
	legacyPasswordFieldLen = 32
)

// Result is what a successful handshake leaves the caller with: the
// negotiated cipher and the keying material derived from the nonce.
type Result struct {
	Mode  crypto.Mode
	State *crypto.State
}

// Login runs both round trips over m, installing the negotiated cipher on
// codec before returning. maxEncryption caps the strongest mode Login will
// accept even if the camera offers something stronger (spec §6
// max_encryption). username/password are sent exactly as configured; BC's
// own credential mangling (MD5 ZeroLast/Truncate) happens internally.
// nextMessageNum is the session's new_message_num() allocator (spec §4.H);
// login does not own message_num sequencing, only consumes it.
func Login(ctx context.Context, m *mux.Mux, codec *wire.Codec, username, password string, maxEncryption crypto.Mode, nextMessageNum func() uint16) (*Result, error) {
	nonce, offered, err := probe(ctx, m, username, password, nextMessageNum())
	if err != nil {
		return nil, err
	}

	mode, err := negotiate(offered, maxEncryption)
	if err != nil {
		return nil, err
	}

	state := crypto.NewState(nonce, password)

	// BC-encrypt must be installed before the modern login frame is sent
	// (the camera expects the request itself enciphered); AES is only
	// confirmed once the reply arrives, so it is installed after.
	if mode == crypto.ModeBCEncrypt {
		if err := codec.SetEncryption(mode, state); err != nil {
			return nil, bcerr.Wrap(bcerr.KindProtocolError, "login.Login", err)
		}
	}

	if err := modernLogin(ctx, m, username, password, nextMessageNum()); err != nil {
		return nil, err
	}

	if mode == crypto.ModeAES {
		if err := codec.SetEncryption(mode, state); err != nil {
			return nil, bcerr.Wrap(bcerr.KindProtocolError, "login.Login", err)
		}
	}

	return &Result{Mode: mode, State: state}, nil
}

// probe sends the unencrypted legacy login and returns the camera's nonce
// and its offered encryption modes, parsed from the reply's extension.
func probe(ctx context.Context, m *mux.Mux, username, password string, messageNum uint16) (nonce string, offered []crypto.Mode, err error) {
	f := &wire.Frame{
		MessageID:  wire.MsgIDLoginLegacy,
		MessageNum: messageNum,
		Modern:     false,
		Body:       legacyBody(username, password),
	}

	reply, err := m.Request(ctx, f)
	if err != nil {
		return "", nil, bcerr.Wrap(bcerr.KindAuthFailure, "login.probe", err)
	}

	caps, ok := reply.ExtensionValue.(*wire.EncryptionCaps)
	if !ok || caps.Nonce == "" {
		return "", nil, bcerr.New(bcerr.KindProtocolError, "login.probe", "legacy login reply carried no nonce")
	}

	return caps.Nonce, parseOffered(caps.NonceValue), nil
}

func legacyBody(username, password string) []byte {
	buf := make([]byte, legacyUsernameFieldLen+legacyPasswordFieldLen)
	copy(buf[:legacyUsernameFieldLen], crypto.MD5Hex(username, crypto.ZeroLast))
	copy(buf[legacyUsernameFieldLen:], crypto.MD5Hex(password, crypto.ZeroLast))
	return buf
}

// parseOffered reads a whitespace-separated capability list (e.g. "none
// bcencrypt aes") out of the nonce reply extension. An empty or
// unparseable list is treated as "the camera only offers AES", the
// strictest assumption, rather than silently downgrading.
func parseOffered(s string) []crypto.Mode {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return []crypto.Mode{crypto.ModeAES}
	}
	modes := make([]crypto.Mode, 0, len(fields))
	for _, f := range fields {
		modes = append(modes, crypto.ParseMode(f))
	}
	return modes
}

// negotiate picks the strongest mode the camera offers that does not
// exceed the caller's ceiling, failing AuthFailure if nothing overlaps.
func negotiate(offered []crypto.Mode, ceiling crypto.Mode) (crypto.Mode, error) {
	best := crypto.Mode(-1)
	for _, mode := range offered {
		if mode <= ceiling && mode > best {
			best = mode
		}
	}
	if best < crypto.ModeNone {
		return 0, bcerr.New(bcerr.KindAuthFailure, "login.negotiate",
			fmt.Sprintf("no offered encryption mode satisfies ceiling %s", ceiling))
	}
	return best, nil
}

func modernLogin(ctx context.Context, m *mux.Mux, username, password string, messageNum uint16) error {
	body, err := modernLoginBody(username, password)
	if err != nil {
		return bcerr.Wrap(bcerr.KindProtocolError, "login.modernLogin", err)
	}

	f := &wire.Frame{
		MessageID:    wire.MsgIDLoginModern,
		MessageNum:   messageNum,
		Modern:       true,
		HasExtension: false,
		Body:         body,
	}

	reply, err := m.Request(ctx, f)
	if err != nil {
		return bcerr.Wrap(bcerr.KindAuthFailure, "login.modernLogin", err)
	}
	if !reply.Success() {
		return bcerr.New(bcerr.KindAuthFailure, "login.modernLogin",
			fmt.Sprintf("camera rejected login (response code %d)", reply.ResponseCode))
	}
	return nil
}

func modernLoginBody(username, password string) ([]byte, error) {
	user := wire.LoginUser{UserName: username, Password: crypto.MD5Hex(password, crypto.Truncate)}
	return xml.Marshal(user)
}
