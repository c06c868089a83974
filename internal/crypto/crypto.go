// Package crypto implements the BC wire ciphers: the proprietary
// byte-xor "BC-encrypt" cipher, AES-128-CFB keyed from the login nonce
// and password, and the MD5 credential mangling both login stages need.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Mode is the negotiated on-wire encryption level (spec §4.G). Modes form
// a monotonic chain within one session: None -> {BCEncrypt, AES}, never
// back to None and never between BCEncrypt and AES.
type Mode int

const (
	ModeNone Mode = iota
	ModeBCEncrypt
	ModeAES
)

func (m Mode) String() string {
	switch m {
	case ModeBCEncrypt:
		return "bcencrypt"
	case ModeAES:
		return "aes"
	default:
		return "none"
	}
}

// ParseMode parses a case-insensitive config value, defaulting to the
// strictest level (AES) for anything unrecognized per spec §6.
func ParseMode(s string) Mode {
	switch lower(s) {
	case "none":
		return ModeNone
	case "bcencrypt", "bc-encrypt":
		return ModeBCEncrypt
	case "aes":
		return ModeAES
	default:
		return ModeAES
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// State holds the keys derived once a login nonce is known: the BC-encrypt
// table offset and the AES key/IV. Built by NewState once and then shared
// read-only between the reader and writer tasks (see internal/mux).
type State struct {
	bcOffset int
	aesKey   []byte
	aesIV    []byte
}

// NewState derives both ciphers' keying material from the login nonce and
// password; whichever the negotiated Mode turns out to be, the State is
// ready to serve it. nonce is the camera-supplied 16-bit value as a
// decimal string (the wire form the modern login challenge carries it in).
func NewState(nonce string, password string) *State {
	return &State{
		bcOffset: bcEncryptOffset(nonce),
		aesKey:   aesKeyFromNonce(nonce, password),
		aesIV:    aesIVFromNonce(nonce),
	}
}

// aesKeyFromNonce implements spec §6: key = first 16 bytes of
// hex(MD5(nonce + "-" + password)) — the *hex string*, not the raw digest.
func aesKeyFromNonce(nonce, password string) []byte {
	sum := md5.Sum([]byte(nonce + "-" + password))
	return []byte(hex.EncodeToString(sum[:])[:16])
}

// aesIVFromNonce implements spec §6: IV = first 16 bytes of hex(MD5(nonce)).
func aesIVFromNonce(nonce string) []byte {
	sum := md5.Sum([]byte(nonce))
	return []byte(hex.EncodeToString(sum[:])[:16])
}

// Encrypt enciphers data under mode using state. ModeNone returns a copy
// of data unchanged. BC-encrypt is its own inverse; AES-CFB is not, so
// Encrypt and Decrypt diverge there.
func Encrypt(mode Mode, state *State, data []byte) ([]byte, error) {
	switch mode {
	case ModeNone:
		return clone(data), nil
	case ModeBCEncrypt:
		if state == nil {
			return nil, fmt.Errorf("bcencrypt: no keying material installed")
		}
		return bcEncryptXOR(data, state.bcOffset), nil
	case ModeAES:
		if state == nil {
			return nil, fmt.Errorf("aes: no keying material installed")
		}
		return aesCFB(data, state.aesKey, state.aesIV, true)
	default:
		return nil, fmt.Errorf("unknown encryption mode %d", mode)
	}
}

// Decrypt deciphers data under mode using state.
func Decrypt(mode Mode, state *State, data []byte) ([]byte, error) {
	switch mode {
	case ModeNone:
		return clone(data), nil
	case ModeBCEncrypt:
		if state == nil {
			return nil, fmt.Errorf("bcencrypt: no keying material installed")
		}
		return bcEncryptXOR(data, state.bcOffset), nil
	case ModeAES:
		if state == nil {
			return nil, fmt.Errorf("aes: no keying material installed")
		}
		return aesCFB(data, state.aesKey, state.aesIV, false)
	default:
		return nil, fmt.Errorf("unknown encryption mode %d", mode)
	}
}

func clone(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// aesCFB applies AES-128-CFB in the given direction. A fresh stream is
// built from the session's fixed IV on every call, matching spec §4.B:
// "IV = a fixed per-session value derived from the nonce. Applied per
// frame body" — the feedback register does not carry over between frames.
func aesCFB(data, key, iv []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	out := make([]byte, len(data))
	var stream cipher.Stream
	if encrypt {
		stream = cipher.NewCFBEncrypter(block, iv)
	} else {
		stream = cipher.NewCFBDecrypter(block, iv)
	}
	stream.XORKeyStream(out, data)
	return out, nil
}
