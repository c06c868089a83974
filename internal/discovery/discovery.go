// Package discovery implements spec §4.E: resolving a camera's UID to a
// reachable endpoint by racing four methods — Local (LAN broadcast/mDNS),
// Remote (registration server lookup), Map (NAT hole-punch candidate
// exchange), and Relay (tunneled forwarding) — and taking whichever
// answers first. Concurrent callers resolving the same UID share one
// in-flight race via singleflight.
package discovery

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/bclog"
	"github.com/camlink/bc-go/internal/metrics"
)

// Method is one discovery strategy.
type Method uint8

const (
	MethodLocal Method = iota
	MethodRemote
	MethodMap
	MethodRelay
)

func (m Method) String() string {
	switch m {
	case MethodLocal:
		return "local"
	case MethodRemote:
		return "remote"
	case MethodMap:
		return "map"
	case MethodRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// MethodMask selects which methods a Discover call is allowed to try.
// The sets are cumulative per spec §6: None admits nothing, Local admits
// only Local, Remote admits Local+Remote, Map admits Local+Remote+Map,
// Relay admits all four. Debug is a separate bit that admits only Relay,
// for forcing relay-path testing regardless of what would otherwise win.
type MethodMask uint8

// The cumulative bits are spelled out explicitly rather than left to iota
// shifts, since "Remote implies Local" is a semantic requirement, not an
// accident of bit position.
const (
	MaskNone   MethodMask = 0
	MaskLocal  MethodMask = 1 << 0
	MaskRemote MethodMask = MaskLocal | 1<<1
	MaskMap    MethodMask = MaskRemote | 1<<2
	MaskRelay  MethodMask = MaskMap | 1<<3
	MaskDebug  MethodMask = 1 << 4 // enables Relay only, bypassing the cumulative chain
)

// Allows reports whether mask permits method m.
func (mask MethodMask) Allows(m Method) bool {
	if mask&MaskDebug != 0 {
		return m == MethodRelay
	}
	switch m {
	case MethodLocal:
		return mask&MaskLocal != 0
	case MethodRemote:
		return mask&MaskRemote == MaskRemote
	case MethodMap:
		return mask&MaskMap == MaskMap
	case MethodRelay:
		return mask&MaskRelay == MaskRelay
	default:
		return false
	}
}

// Endpoint is a resolved way to reach a camera: either a plain address for
// TCP dialing or a UDP remote ready for the reliability layer, never both.
type Endpoint struct {
	Method  Method
	TCPAddr string
	UDPAddr *net.UDPAddr
}

// Config bounds one Discover call.
type Config struct {
	Allowed MethodMask
	// Ceiling bounds the whole race, regardless of how many methods are
	// tried (Open Question decision: 30s, see SPEC_FULL.md).
	Ceiling time.Duration
}

// DefaultCeiling is the overall race timeout absent an explicit Config.
const DefaultCeiling = 30 * time.Second

// Engine runs discovery races, deduping concurrent lookups of the same UID.
type Engine struct {
	log    *bclog.Logger
	group  singleflight.Group
	local  *localMethod
	remote *remoteMethod
	mapm   *mapMethod
	relay  *relayMethod
}

// EngineConfig names the external endpoints each discovery method talks
// to. Any field left at its zero value disables that method: Discover
// still runs, it just never wins a race through the disabled path.
type EngineConfig struct {
	RegistrationURL string        // Remote method's lookup server
	RendezvousURL   string        // Map method's candidate-exchange server
	RelayAddr       string        // Relay method's standing-tunnel server
	Cache           *redis.Client // optional Remote-method address cache
	RelayTLSConfig  *tls.Config   // optional, defaults to a bare ALPN config
}

// NewEngine builds a discovery engine with one instance of each method,
// configured from cfg.
func NewEngine(cfg EngineConfig, log *bclog.Logger) *Engine {
	if log == nil {
		log = bclog.Nop()
	}
	return &Engine{
		log:    log,
		local:  newLocalMethod(log),
		remote: newRemoteMethod(cfg.RegistrationURL, cfg.Cache, log),
		mapm:   newMapMethod(cfg.RendezvousURL, log),
		relay:  newRelayMethod(cfg.RelayAddr, cfg.RelayTLSConfig, log),
	}
}

// Discover resolves uid to an Endpoint, racing every method cfg.Allowed
// permits and returning the first to succeed. Losers are cancelled.
func (e *Engine) Discover(ctx context.Context, uid string, cfg Config) (*Endpoint, error) {
	ceiling := cfg.Ceiling
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}

	v, err, _ := e.group.Do(uid, func() (interface{}, error) {
		raceCtx, cancel := context.WithTimeout(ctx, ceiling)
		defer cancel()
		return e.race(raceCtx, uid, cfg.Allowed)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Endpoint), nil
}

type attempt struct {
	method Method
	ep     *Endpoint
	err    error
}

func (e *Engine) race(ctx context.Context, uid string, allowed MethodMask) (*Endpoint, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan attempt, 4)
	started := 0

	tryMethod := func(m Method, fn func(context.Context, string) (*Endpoint, error)) {
		if fn == nil || !allowed.Allows(m) {
			return
		}
		started++
		go func() {
			ep, err := fn(ctx, uid)
			results <- attempt{method: m, ep: ep, err: err}
		}()
	}

	tryMethod(MethodLocal, e.localLookup)
	tryMethod(MethodRemote, e.remoteLookup)
	tryMethod(MethodMap, e.mapLookup)
	tryMethod(MethodRelay, e.relayLookup)

	if started == 0 {
		return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.Discover", "no discovery method permitted by configuration")
	}

	var lastErr error
	for i := 0; i < started; i++ {
		select {
		case a := <-results:
			if a.err == nil {
				metrics.DiscoveryWins.WithLabelValues(a.method.String()).Inc()
				e.log.Info("discovery method won race", bclog.Fields{"method": a.method.String(), "uid": uid})
				return a.ep, nil
			}
			e.log.Debug("discovery method failed", bclog.Fields{"method": a.method.String(), "err": a.err.Error()})
			lastErr = a.err
		case <-ctx.Done():
			return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.Discover", ctx.Err())
		}
	}
	if lastErr == nil {
		lastErr = bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.Discover", "all permitted methods exhausted")
	}
	return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.Discover", lastErr)
}

func (e *Engine) localLookup(ctx context.Context, uid string) (*Endpoint, error) {
	if e.local == nil {
		return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.local", "local method not configured")
	}
	return e.local.lookup(ctx, uid)
}

func (e *Engine) remoteLookup(ctx context.Context, uid string) (*Endpoint, error) {
	if e.remote == nil {
		return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.remote", "remote method not configured")
	}
	return e.remote.lookup(ctx, uid)
}

func (e *Engine) mapLookup(ctx context.Context, uid string) (*Endpoint, error) {
	if e.mapm == nil {
		return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.map", "map method not configured")
	}
	return e.mapm.lookup(ctx, uid)
}

func (e *Engine) relayLookup(ctx context.Context, uid string) (*Endpoint, error) {
	if e.relay == nil {
		return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.relay", "relay method not configured")
	}
	return e.relay.lookup(ctx, uid)
}
