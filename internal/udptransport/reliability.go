package udptransport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/camlink/bc-go/internal/bclog"
	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/metrics"
)

const (
	// window bounds in-flight unacked packets; the peer's own buffering is
	// limited (spec §4.C design tradeoffs), so this stays small.
	window = 48

	baseRetransmit = 250 * time.Millisecond
	maxRetransmit  = 4 * time.Second
	maxRetries     = 8

	idleKeepAliveInterval = 15 * time.Second
	retransmitTick        = 50 * time.Millisecond
)

type pendingPacket struct {
	data     []byte
	sentAt   time.Time
	attempts int
}

// Conn is a reliable, ordered channel layered over an unconnected UDP
// socket that addresses remote on every send.
// It implements io.ReadWriteCloser so internal/wire's codec can decode BC
// frames from it exactly as it decodes them from a TCP stream.
type Conn struct {
	sock      *net.UDPConn
	remote    *net.UDPAddr
	sessionID uint32
	log       *bclog.Logger
	limiter   *rate.Limiter

	mu        sync.Mutex
	nextSeq   uint32
	pending   map[uint32]*pendingPacket
	sendCond  *sync.Cond
	closed    bool

	recvMu   sync.Mutex
	expected uint32
	reorder  map[uint32][]byte
	readBuf  bytes.Buffer
	readCh   chan struct{}

	closeOnce sync.Once
	closeCh   chan struct{}
	errCh     chan error

	lastSend time.Time
}

// New wraps an unconnected UDP socket with the reliability layer; every
// envelope is sent to remote with WriteToUDP. sessionID is chosen by the
// caller (internal/session derives it from the camera UID).
func New(sock *net.UDPConn, remote *net.UDPAddr, sessionID uint32, log *bclog.Logger) *Conn {
	if log == nil {
		log = bclog.Nop()
	}
	c := &Conn{
		sock:      sock,
		remote:    remote,
		sessionID: sessionID,
		log:       log,
		limiter:   rate.NewLimiter(rate.Limit(200), 50),
		nextSeq:   1,
		pending:   make(map[uint32]*pendingPacket),
		expected:  1,
		reorder:   make(map[uint32][]byte),
		readCh:    make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	c.sendCond = sync.NewCond(&c.mu)
	go c.recvLoop()
	go c.retransmitLoop()
	go c.idleKeepAliveLoop()
	return c
}

// Write fragments p into MTU-sized envelopes and sends each reliably.
func (c *Conn) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		n := len(p)
		if n > MaxEnvelopePayload {
			n = MaxEnvelopePayload
		}
		if err := c.sendFragment(p[:n]); err != nil {
			return total - len(p), err
		}
		p = p[n:]
	}
	return total, nil
}

func (c *Conn) sendFragment(payload []byte) error {
	c.mu.Lock()
	for len(c.pending) >= window && !c.closed {
		c.sendCond.Wait()
	}
	if c.closed {
		c.mu.Unlock()
		return bcerr.New(bcerr.KindTransportError, "udptransport.Write", "connection closed")
	}
	seq := c.nextSeq
	c.nextSeq++
	data := make([]byte, len(payload))
	copy(data, payload)
	c.pending[seq] = &pendingPacket{data: data, sentAt: time.Now(), attempts: 0}
	c.mu.Unlock()

	return c.sendEnvelope(envelope{Kind: PacketData, SessionID: c.sessionID, Seq: seq, Payload: data})
}

func (c *Conn) sendEnvelope(e envelope) error {
	c.mu.Lock()
	c.lastSend = time.Now()
	c.mu.Unlock()
	_, err := c.sock.WriteToUDP(encodeEnvelope(e), c.remote)
	if err != nil {
		return bcerr.Wrap(bcerr.KindTransportError, "udptransport.send", err)
	}
	return nil
}

// Read blocks until reassembled, in-order bytes are available.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		c.recvMu.Lock()
		if c.readBuf.Len() > 0 {
			n, _ := c.readBuf.Read(p)
			c.recvMu.Unlock()
			return n, nil
		}
		c.recvMu.Unlock()

		select {
		case <-c.readCh:
			continue
		case err := <-c.errCh:
			return 0, err
		case <-c.closeCh:
			return 0, fmt.Errorf("udptransport: closed")
		}
	}
}

func (c *Conn) recvLoop() {
	buf := make([]byte, 65535)
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}
		c.sock.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, _, err := c.sock.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-c.closeCh:
			default:
				c.fail(bcerr.Wrap(bcerr.KindTransportError, "udptransport.recv", err))
			}
			return
		}
		e, err := decodeEnvelope(buf[:n])
		if err != nil {
			c.log.Warnf("dropping malformed envelope: %v", err)
			continue
		}
		c.handleEnvelope(e)
	}
}

func (c *Conn) handleEnvelope(e envelope) {
	switch e.Kind {
	case PacketAck:
		c.mu.Lock()
		for seq := range c.pending {
			if seq <= e.Seq {
				delete(c.pending, seq)
			}
		}
		c.sendCond.Broadcast()
		c.mu.Unlock()

	case PacketControl:
		c.log.Debug("received idle keep-alive control packet")

	case PacketData:
		c.recvMu.Lock()
		switch {
		case e.Seq < c.expected:
			c.log.Debug("dropping duplicate packet", bclog.Fields{"seq": e.Seq})
		case e.Seq == c.expected:
			c.readBuf.Write(e.Payload)
			c.expected++
			for {
				next, ok := c.reorder[c.expected]
				if !ok {
					break
				}
				c.readBuf.Write(next)
				delete(c.reorder, c.expected)
				c.expected++
			}
			select {
			case c.readCh <- struct{}{}:
			default:
			}
		default:
			c.reorder[e.Seq] = append([]byte(nil), e.Payload...)
		}
		acked := c.expected - 1
		c.recvMu.Unlock()
		c.sendEnvelope(envelope{Kind: PacketAck, SessionID: c.sessionID, Seq: acked})
	}
}

func (c *Conn) retransmitLoop() {
	ticker := time.NewTicker(retransmitTick)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.retransmitDue()
		}
	}
}

func (c *Conn) retransmitDue() {
	now := time.Now()
	c.mu.Lock()
	var failed bool
	for seq, p := range c.pending {
		backoff := baseRetransmit << p.attempts
		if backoff > maxRetransmit {
			backoff = maxRetransmit
		}
		if now.Sub(p.sentAt) < backoff {
			continue
		}
		if p.attempts >= maxRetries {
			failed = true
			break
		}
		p.attempts++
		p.sentAt = now
		data := p.data
		seqCopy := seq
		c.mu.Unlock()
		if c.limiter.Allow() {
			c.sendEnvelope(envelope{Kind: PacketData, SessionID: c.sessionID, Seq: seqCopy, Payload: data})
			metrics.UDPRetransmits.WithLabelValues(fmt.Sprintf("%d", c.sessionID)).Inc()
		}
		c.mu.Lock()
	}
	c.mu.Unlock()
	if failed {
		c.fail(bcerr.New(bcerr.KindTransportError, "udptransport.retransmit", "retransmission retries exhausted"))
	}
}

func (c *Conn) idleKeepAliveLoop() {
	ticker := time.NewTicker(idleKeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			idle := time.Since(c.lastSend) >= idleKeepAliveInterval
			c.mu.Unlock()
			if idle {
				c.sendEnvelope(envelope{Kind: PacketControl, SessionID: c.sessionID, Seq: 0})
			}
		}
	}
}

func (c *Conn) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
	c.Close()
}

// Close tears down the reliability layer and the underlying socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.sendCond.Broadcast()
		c.mu.Unlock()
		close(c.closeCh)
		c.sock.Close()
	})
	return nil
}

// LocalAddr returns the local UDP endpoint.
func (c *Conn) LocalAddr() net.Addr { return c.sock.LocalAddr() }

// RemoteAddr returns the peer's UDP endpoint.
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// Dial opens a new UDP socket and wraps it with the reliability layer,
// targeting remote with the given session id.
func Dial(ctx context.Context, remote *net.UDPAddr, sessionID uint32, log *bclog.Logger) (*Conn, error) {
	sock, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, bcerr.Wrap(bcerr.KindTransportError, "udptransport.Dial", err)
	}
	return New(sock, remote, sessionID, log), nil
}
