package udptransport

import (
	"net"
	"testing"
	"time"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	sock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return sock
}

func TestOrderedDeliveryAndReassembly(t *testing.T) {
	aSock := listenLoopback(t)
	bSock := listenLoopback(t)

	a := New(aSock, bSock.LocalAddr().(*net.UDPAddr), 1, nil)
	b := New(bSock, aSock.LocalAddr().(*net.UDPAddr), 1, nil)
	defer a.Close()
	defer b.Close()

	// A body larger than one envelope payload forces fragmentation at the
	// reliability layer; the reader must see it reassembled transparently.
	big := make([]byte, MaxEnvelopePayload*3+123)
	for i := range big {
		big[i] = byte(i)
	}

	go func() {
		if _, err := a.Write(big); err != nil {
			t.Errorf("write: %v", err)
		}
	}()

	got := make([]byte, len(big))
	off := 0
	deadline := time.Now().Add(5 * time.Second)
	for off < len(got) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out reassembling, got %d/%d bytes", off, len(got))
		}
		n, err := b.Read(got[off:])
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		off += n
	}

	for i := range big {
		if got[i] != big[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], big[i])
		}
	}
}

func TestSequenceNumbersStrictlyIncreasing(t *testing.T) {
	aSock := listenLoopback(t)
	bSock := listenLoopback(t)
	a := New(aSock, bSock.LocalAddr().(*net.UDPAddr), 7, nil)
	defer a.Close()

	a.Write([]byte("one"))
	a.Write([]byte("two"))
	a.Write([]byte("three"))

	a.mu.Lock()
	next := a.nextSeq
	a.mu.Unlock()
	if next != 4 {
		t.Fatalf("expected nextSeq to have advanced to 4, got %d", next)
	}
}
