// Package session implements the BC session façade of spec §4.H: the
// object a caller actually holds. It owns the channel id, the credentials,
// the logged-in flag, and the session-scoped message_num counter, and
// supervises the keep-alive and battery-monitor background tasks for as
// long as the session is open. The four public constructor forms (by
// address, by UID, by both, by either) all collapse into one internal
// constructor over a tagged endpoint, per spec §9's design note.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/bclog"
	"github.com/camlink/bc-go/internal/crypto"
	"github.com/camlink/bc-go/internal/discovery"
	"github.com/camlink/bc-go/internal/login"
	"github.com/camlink/bc-go/internal/metrics"
	"github.com/camlink/bc-go/internal/mux"
	"github.com/camlink/bc-go/internal/tcptransport"
	"github.com/camlink/bc-go/internal/udptransport"
	"github.com/camlink/bc-go/internal/wire"
)

// PrintFormat selects how battery readings are surfaced to the caller
// (spec §6 print_format).
type PrintFormat int

const (
	PrintFormatNone PrintFormat = iota
	PrintFormatHuman
	PrintFormatXML
)

const (
	keepAliveInterval      = 5 * time.Second
	keepAliveRequestTime   = 3 * time.Second
	keepAliveFailThreshold = 3

	batteryPollInterval = 60 * time.Second

	logoutTimeout = 2 * time.Second
)

// Credentials are held for the session's lifetime: logout and AES key
// derivation both need the original password, not just its MD5 form.
type Credentials struct {
	Username string
	Password string
}

// Options configures a session beyond the bare target endpoint.
type Options struct {
	ChannelID     uint8
	MaxEncryption crypto.Mode
	PrintFormat   PrintFormat
	Discovery     discovery.EngineConfig
	AllowedMask   discovery.MethodMask
	Log           *bclog.Logger

	// OnBattery, if set, receives every successful battery poll.
	OnBattery func(BatteryReading)
}

// BatteryReading is one battery-monitor sample.
type BatteryReading struct {
	Percentage int
	Charging   bool
}

// endpoint is the tagged union spec §9 describes: either a direct socket
// address, or a UID to resolve via discovery (optionally with a direct
// address that is dialed before discovery runs).
type endpoint struct {
	addr string
	uid  string
}

// Session is a logged-in BC connection to one camera channel.
type Session struct {
	log   *bclog.Logger
	creds Credentials

	channelID uint8
	codec     *wire.Codec
	mux       *mux.Mux
	transport interface {
		Close() error
	}

	loggedIn   atomic.Bool
	msgNumCtr  uint32
	printFmt   PrintFormat
	onBattery  func(BatteryReading)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	failOnce sync.Once
	failErr  error
}

// Open establishes a session directly against addr, skipping discovery.
func Open(ctx context.Context, addr string, creds Credentials, opts Options) (*Session, error) {
	return open(ctx, endpoint{addr: addr}, creds, opts)
}

// OpenUID resolves uid via discovery and establishes a session against
// whichever endpoint wins the race.
func OpenUID(ctx context.Context, uid string, creds Credentials, opts Options) (*Session, error) {
	return open(ctx, endpoint{uid: uid}, creds, opts)
}

// OpenAddrAndUID tries addr directly first; if that fails, it falls back
// to UID discovery. addr is not passed to the discovery methods.
func OpenAddrAndUID(ctx context.Context, addr, uid string, creds Credentials, opts Options) (*Session, error) {
	return open(ctx, endpoint{addr: addr, uid: uid}, creds, opts)
}

// OpenEither is DNS-first, UID-fallback: identical tagged endpoint to
// OpenAddrAndUID (spec §9 — the four constructors are ergonomic sugar
// over one internal shape, not distinct behaviors).
func OpenEither(ctx context.Context, addr, uid string, creds Credentials, opts Options) (*Session, error) {
	return open(ctx, endpoint{addr: addr, uid: uid}, creds, opts)
}

func open(ctx context.Context, ep endpoint, creds Credentials, opts Options) (*Session, error) {
	log := opts.Log
	if log == nil {
		log = bclog.Nop()
	}

	conn, err := dialEndpoint(ctx, ep, opts, log)
	if err != nil {
		return nil, err
	}

	codec := wire.NewCodec()
	m := mux.NewLabeled(conn, codec, log, fmt.Sprintf("%d", opts.ChannelID))

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		log:       log,
		creds:     creds,
		channelID: opts.ChannelID,
		codec:     codec,
		mux:       m,
		transport: conn,
		printFmt:  opts.PrintFormat,
		onBattery: opts.OnBattery,
		ctx:       sessionCtx,
		cancel:    cancel,
	}

	result, err := login.Login(ctx, m, codec, creds.Username, creds.Password, opts.MaxEncryption, s.newMessageNum)
	if err != nil {
		cancel()
		m.Close()
		return nil, err
	}
	s.loggedIn.Store(true)
	log.Info("session logged in", bclog.Fields{"mode": result.Mode.String(), "channel_id": opts.ChannelID})

	s.wg.Add(2)
	go s.keepAliveLoop()
	go s.batteryLoop()

	return s, nil
}

// dialEndpoint picks the transport per spec §2's dataflow: a direct
// address always gets a plain TCP transport; a UID goes through
// discovery, which decides TCP or UDP-reliable depending on which method
// won. With both, the direct address is dialed first and discovery runs
// only if that dial fails.
func dialEndpoint(ctx context.Context, ep endpoint, opts Options, log *bclog.Logger) (connCloser, error) {
	if ep.addr != "" {
		conn, err := tcptransport.Dial(ctx, ep.addr)
		if err == nil {
			return conn, nil
		}
		if ep.uid == "" {
			return nil, err
		}
		// This is the "either" / "addr and uid" collapse in practice.
		log.Debug("direct dial failed, falling back to uid discovery", bclog.Fields{"addr": ep.addr, "err": err.Error()})
	}

	engine := discovery.NewEngine(opts.Discovery, log)
	result, err := engine.Discover(ctx, ep.uid, discovery.Config{Allowed: opts.AllowedMask})
	if err != nil {
		return nil, err
	}

	if result.UDPAddr != nil {
		return udptransport.Dial(ctx, result.UDPAddr, sessionIDFromUID(ep.uid), log)
	}
	return tcptransport.Dial(ctx, result.TCPAddr)
}

type connCloser interface {
	io.ReadWriteCloser
}

// sessionIDFromUID derives a stable 32-bit session id from the camera's
// UID; it only needs to be unlikely to collide with another concurrently
// open UDP session from this client, not globally unique.
func sessionIDFromUID(uid string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(uid); i++ {
		h ^= uint32(uid[i])
		h *= 16777619
	}
	return h
}

// newMessageNum implements spec §4.H's new_message_num(): an atomic
// fetch-add that wraps at 16 bits without coordination between callers.
func (s *Session) newMessageNum() uint16 {
	return uint16(atomic.AddUint32(&s.msgNumCtr, 1))
}

func (s *Session) keepAliveLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, keepAliveRequestTime)
			_, err := s.mux.Request(ctx, &wire.Frame{
				MessageID:  wire.MsgIDPing,
				MessageNum: s.newMessageNum(),
				ChannelID:  s.channelID,
				Modern:     true,
			})
			cancel()
			if err != nil {
				consecutiveFailures++
				metrics.KeepAliveFailures.WithLabelValues(fmt.Sprintf("%d", s.channelID)).Inc()
				s.log.Warnf("keep-alive ping failed (%d/%d): %v", consecutiveFailures, keepAliveFailThreshold, err)
				if consecutiveFailures >= keepAliveFailThreshold {
					s.fail(bcerr.Wrap(bcerr.KindTransportError, "session.keepAlive", err))
					return
				}
				continue
			}
			consecutiveFailures = 0
		}
	}
}

func (s *Session) batteryLoop() {
	defer s.wg.Done()
	if s.onBattery == nil {
		return
	}
	ticker := time.NewTicker(batteryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, keepAliveRequestTime)
			reply, err := s.mux.Request(ctx, &wire.Frame{
				MessageID:  wire.MsgIDBattery,
				MessageNum: s.newMessageNum(),
				ChannelID:  s.channelID,
				Modern:     true,
			})
			cancel()
			if err != nil {
				s.log.Debug("battery poll failed", bclog.Fields{"err": err.Error()})
				continue
			}
			info, ok := reply.BodyValue.(*wire.BatteryInfo)
			if !ok {
				s.log.Debug("battery reply had no decoded body", nil)
				continue
			}
			s.emitBattery(BatteryReading{Percentage: info.Percentage, Charging: info.Charging})
		}
	}
}

func (s *Session) emitBattery(r BatteryReading) {
	switch s.printFmt {
	case PrintFormatHuman:
		s.log.Infof("battery: %d%% (charging=%v)", r.Percentage, r.Charging)
	case PrintFormatXML:
		s.log.Info("battery", bclog.Fields{"percentage": r.Percentage, "charging": r.Charging})
	}
	if s.onBattery != nil {
		s.onBattery(r)
	}
}

func (s *Session) fail(err error) {
	s.failOnce.Do(func() {
		s.failErr = err
		s.loggedIn.Store(false)
		s.cancel()
	})
}

// Request sends f and waits for its reply, via the underlying multiplexer.
func (s *Session) Request(ctx context.Context, f *wire.Frame) (*wire.Frame, error) {
	if !s.loggedIn.Load() {
		return nil, bcerr.New(bcerr.KindCancelled, "session.Request", "session is not logged in")
	}
	f.MessageNum = s.newMessageNum()
	f.ChannelID = s.channelID
	return s.mux.Request(ctx, f)
}

// Send pushes f without waiting for a reply, for fire-and-forget traffic
// like outbound audio-talk frames (spec §4.I).
func (s *Session) Send(f *wire.Frame) error {
	if !s.loggedIn.Load() {
		return bcerr.New(bcerr.KindCancelled, "session.Send", "session is not logged in")
	}
	f.ChannelID = s.channelID
	return s.mux.Send(f)
}

// Subscribe registers a long-lived subscriber for messageID (spec §4.I
// streaming commands: motion events, video, audio).
func (s *Session) Subscribe(messageID uint32) *mux.Subscription {
	return s.mux.Subscribe(messageID)
}

// ChannelID returns the NVR channel this session addresses (0 = standalone camera).
func (s *Session) ChannelID() uint8 { return s.channelID }

// LoggedIn reports whether the session is currently authenticated and open.
func (s *Session) LoggedIn() bool { return s.loggedIn.Load() }

// Close tears the session down: background tasks are cancelled, a
// best-effort bounded-timeout logout is sent, and the transport is closed.
func (s *Session) Close() error {
	s.cancel()
	s.wg.Wait()

	if s.loggedIn.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
		_, err := s.mux.Request(ctx, &wire.Frame{
			MessageID:  wire.MsgIDLogout,
			MessageNum: s.newMessageNum(),
			ChannelID:  s.channelID,
			Modern:     true,
		})
		cancel()
		if err != nil {
			s.log.Debug("best-effort logout failed", bclog.Fields{"err": err.Error()})
		}
		s.loggedIn.Store(false)
	}

	s.mux.Close()
	return s.transport.Close()
}

// FailErr returns the error that caused an unsolicited session failure
// (a keep-alive threshold breach), or nil if the session was closed
// normally or is still open.
func (s *Session) FailErr() error {
	return s.failErr
}
