// Package mux multiplexes one BC connection (Component F): a single reader
// task demultiplexes inbound frames to either a one-shot waiter keyed by
// message_num (request/reply correlation) or a broadcast subscription keyed
// by message_id (unsolicited pushes such as motion alerts and video frames),
// and a serialized writer protects the underlying stream from interleaved
// writes by concurrent callers.
package mux

import (
	"context"
	"io"
	"sync"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/bclog"
	"github.com/camlink/bc-go/internal/metrics"
	"github.com/camlink/bc-go/internal/wire"
)

// subscriber is one caller's share of a message_id's broadcast: its own
// channel, fed independently so two subscribers to the same message_id
// each see every frame in arrival order rather than competing for one.
type subscriber struct {
	ch chan *wire.Frame
}

// Mux owns the single reader task and dispatch tables for one BC connection.
type Mux struct {
	conn  io.ReadWriteCloser
	codec *wire.Codec
	log   *bclog.Logger

	// label identifies this connection for metrics (typically the camera
	// channel id), fixed at construction time.
	label string

	writeMu sync.Mutex

	mu      sync.Mutex
	waiters map[uint16]chan *wire.Frame
	subs    map[uint32][]*subscriber

	closeOnce sync.Once
	closeCh   chan struct{}
	closeErr  error
}

// New starts the reader task over conn, decoding frames with codec. The
// mux's metrics are labeled "default"; use NewLabeled to distinguish
// multiple concurrent connections (e.g. one per camera channel).
func New(conn io.ReadWriteCloser, codec *wire.Codec, log *bclog.Logger) *Mux {
	return NewLabeled(conn, codec, log, "default")
}

// NewLabeled is New with an explicit metrics label.
func NewLabeled(conn io.ReadWriteCloser, codec *wire.Codec, log *bclog.Logger, label string) *Mux {
	if log == nil {
		log = bclog.Nop()
	}
	m := &Mux{
		conn:    conn,
		codec:   codec,
		log:     log,
		label:   label,
		waiters: make(map[uint16]chan *wire.Frame),
		subs:    make(map[uint32][]*subscriber),
		closeCh: make(chan struct{}),
	}
	go m.readLoop()
	return m
}

// Send writes a frame without waiting for a reply.
func (m *Mux) Send(f *wire.Frame) error {
	buf, err := m.codec.Encode(f)
	if err != nil {
		return bcerr.Wrap(bcerr.KindProtocolError, "mux.Send", err)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if _, err := m.conn.Write(buf); err != nil {
		return bcerr.Wrap(bcerr.KindTransportError, "mux.Send", err)
	}
	metrics.BytesSent.WithLabelValues(m.label).Add(float64(len(buf)))
	return nil
}

// Request sends f and waits for the reply carrying the same message_num,
// honoring ctx cancellation. Late replies for a cancelled Request are
// dropped silently by readLoop (the waiter is removed on return).
func (m *Mux) Request(ctx context.Context, f *wire.Frame) (*wire.Frame, error) {
	ch := make(chan *wire.Frame, 1)
	m.mu.Lock()
	m.waiters[f.MessageNum] = ch
	label := m.label
	m.mu.Unlock()
	metrics.PendingWaiters.WithLabelValues(label).Inc()

	defer func() {
		m.mu.Lock()
		delete(m.waiters, f.MessageNum)
		m.mu.Unlock()
		metrics.PendingWaiters.WithLabelValues(label).Dec()
	}()

	// The write runs on its own goroutine so a peer that stops reading
	// cannot hold Request past ctx; an abandoned write ends when the
	// connection is closed.
	sent := make(chan error, 1)
	go func() { sent <- m.Send(f) }()
	select {
	case err := <-sent:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, bcerr.Wrap(bcerr.KindCancelled, "mux.Request", ctx.Err())
	case <-m.closeCh:
		return nil, m.closedErr()
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return nil, bcerr.Wrap(bcerr.KindCancelled, "mux.Request", ctx.Err())
	case <-m.closeCh:
		return nil, m.closedErr()
	}
}

// Subscription is a live handle on a broadcast stream for one message_id.
// Each Subscription has its own channel, fed independently of every other
// subscriber to the same message_id.
type Subscription struct {
	mux       *Mux
	messageID uint32
	sub       *subscriber
	closeOnce sync.Once
}

// Frames returns the channel of frames pushed for this subscription's message_id.
func (s *Subscription) Frames() <-chan *wire.Frame { return s.sub.ch }

// Close removes this subscription from its message_id's broadcast list and
// closes its channel. Other subscribers to the same message_id are unaffected.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mux.mu.Lock()
		list := s.mux.subs[s.messageID]
		for i, sub := range list {
			if sub == s.sub {
				s.mux.subs[s.messageID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(s.mux.subs[s.messageID]) == 0 {
			delete(s.mux.subs, s.messageID)
		}
		s.mux.mu.Unlock()
		close(s.sub.ch)
	})
}

// Subscribe registers interest in every inbound frame carrying messageID
// (e.g. motion events, video stream data) that isn't claimed by a pending
// Request waiter. Every call returns an independent Subscription: two
// callers subscribed to the same message_id each receive every frame, in
// arrival order, rather than splitting them as competing consumers.
func (m *Mux) Subscribe(messageID uint32) *Subscription {
	sub := &subscriber{ch: make(chan *wire.Frame, 16)}
	m.mu.Lock()
	m.subs[messageID] = append(m.subs[messageID], sub)
	m.mu.Unlock()
	return &Subscription{mux: m, messageID: messageID, sub: sub}
}

// countingReader tallies bytes read through it for the BytesReceived metric
// without the codec needing to know metrics exist.
type countingReader struct {
	io.Reader
	n *int64
}

func (r countingReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	*r.n += int64(n)
	return n, err
}

func (m *Mux) readLoop() {
	var n int64
	cr := countingReader{Reader: m.conn, n: &n}
	for {
		f, err := m.codec.ReadFrame(cr)
		if err != nil {
			m.fail(bcerr.Wrap(bcerr.KindTransportError, "mux.readLoop", err))
			return
		}
		metrics.BytesReceived.WithLabelValues(m.label).Add(float64(n))
		n = 0
		m.dispatch(f)
	}
}

func (m *Mux) dispatch(f *wire.Frame) {
	m.mu.Lock()
	waiter, hasWaiter := m.waiters[f.MessageNum]
	subs := append([]*subscriber(nil), m.subs[f.MessageID]...)
	m.mu.Unlock()

	if hasWaiter {
		select {
		case waiter <- f:
		default:
			m.log.Debug("dropping reply for cancelled request", bclog.Fields{
				"message_id": f.MessageID, "message_num": f.MessageNum,
			})
		}
		return
	}
	if len(subs) > 0 {
		for _, sub := range subs {
			select {
			case sub.ch <- f:
			default:
				m.log.Warnf("subscriber backlog full for message_id %d, dropping frame", f.MessageID)
			}
		}
		return
	}
	m.log.Debug("unclaimed frame", bclog.Fields{"message_id": f.MessageID, "message_num": f.MessageNum})
}

func (m *Mux) fail(err error) {
	m.closeOnce.Do(func() {
		m.closeErr = err
		close(m.closeCh)
		m.conn.Close()
	})
}

func (m *Mux) closedErr() error {
	if m.closeErr != nil {
		return m.closeErr
	}
	return bcerr.New(bcerr.KindCancelled, "mux", "connection closed")
}

// Close tears down the reader task and underlying connection.
func (m *Mux) Close() error {
	m.fail(bcerr.New(bcerr.KindCancelled, "mux.Close", "closed by caller"))
	return nil
}
