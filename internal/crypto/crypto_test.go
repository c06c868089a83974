package crypto

import (
	"bytes"
	"testing"
)

// TestMD5ManglingVectors pins the exact byte forms spec §8 requires.
func TestMD5ManglingVectors(t *testing.T) {
	got := MD5Hex("admin", ZeroLast)
	want := "21232F297A57A5A743894A0E4A801FC\x00"
	if got != want {
		t.Fatalf("ZeroLast: got %q (%d bytes), want %q (%d bytes)", got, len(got), want, len(want))
	}
	if len(got) != 32 {
		t.Fatalf("ZeroLast must be 32 bytes, got %d", len(got))
	}

	got = MD5Hex("admin", Truncate)
	want = "21232F297A57A5A743894A0E4A801FC"
	if got != want {
		t.Fatalf("Truncate: got %q, want %q", got, want)
	}
	if len(got) != 31 {
		t.Fatalf("Truncate must be 31 bytes, got %d", len(got))
	}
}

func TestBCEncryptRoundTrip(t *testing.T) {
	state := NewState("12345", "hunter2")
	plain := []byte("the quick brown fox jumps over the lazy dog, twice for good luck")

	enc, err := Encrypt(ModeBCEncrypt, state, plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(enc, plain) {
		t.Fatal("ciphertext equals plaintext")
	}
	dec, err := Decrypt(ModeBCEncrypt, state, enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Fatalf("round trip mismatch: got %q want %q", dec, plain)
	}
}

func TestAESRoundTrip(t *testing.T) {
	state := NewState("98765", "swordfish")
	plain := []byte("PTZ stop command body, padded out past one AES block boundary for good measure")

	enc, err := Encrypt(ModeAES, state, plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(enc, plain) {
		t.Fatal("ciphertext equals plaintext")
	}
	dec, err := Decrypt(ModeAES, state, enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Fatalf("round trip mismatch: got %q want %q", dec, plain)
	}
}

func TestModeNonePassthrough(t *testing.T) {
	plain := []byte("plaintext body")
	enc, err := Encrypt(ModeNone, nil, plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !bytes.Equal(enc, plain) {
		t.Fatalf("ModeNone must not transform data: got %q want %q", enc, plain)
	}
}

func TestParseModeDefaultsStrictest(t *testing.T) {
	if ParseMode("bogus") != ModeAES {
		t.Fatal("unrecognized max_encryption must default to the strictest level (AES)")
	}
	if ParseMode("BCEncrypt") != ModeBCEncrypt {
		t.Fatal("ParseMode must be case-insensitive")
	}
	if ParseMode("None") != ModeNone {
		t.Fatal("ParseMode must be case-insensitive")
	}
}
