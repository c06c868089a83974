package discovery

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/bclog"
)

const relayDialTimeout = 8 * time.Second

// relayMethod is the discovery fallback of last resort: a relay server the
// camera maintains a standing QUIC tunnel to, through which the client's
// BC traffic is forwarded end to end (spec §4.E Relay). It's the slowest
// method and the only one the Debug mask bit permits in isolation.
type relayMethod struct {
	relayAddr string
	tlsConfig *tls.Config
	log       *bclog.Logger
}

func newRelayMethod(relayAddr string, tlsConfig *tls.Config, log *bclog.Logger) *relayMethod {
	if log == nil {
		log = bclog.Nop()
	}
	if tlsConfig == nil {
		tlsConfig = &tls.Config{NextProtos: []string{"bc-relay"}}
	}
	return &relayMethod{relayAddr: relayAddr, tlsConfig: tlsConfig, log: log}
}

// relayHello is sent on the tunnel's first stream to ask the relay to
// forward to a specific camera UID; the relay's ack carries nothing
// beyond confirming the tunnel is now bound to that UID.
type relayHello struct {
	UID string `json:"uid"`
}

func (r *relayMethod) lookup(ctx context.Context, uid string) (*Endpoint, error) {
	if r.relayAddr == "" {
		return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.relay", "no relay server configured")
	}

	ctx, cancel := context.WithTimeout(ctx, relayDialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, r.relayAddr, r.tlsConfig, nil)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.relay", err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "stream open failed")
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.relay", err)
	}

	hello, err := json.Marshal(relayHello{UID: uid})
	if err != nil {
		return nil, bcerr.Wrap(bcerr.KindProtocolError, "discovery.relay", err)
	}
	if _, err := stream.Write(hello); err != nil {
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.relay", err)
	}

	ack := make([]byte, 2)
	if _, err := stream.Read(ack); err != nil {
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.relay", err)
	}
	if string(ack) != "OK" {
		return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.relay", fmt.Sprintf("relay refused uid %s", uid))
	}

	r.log.Info("relay tunnel bound", bclog.Fields{"uid": uid, "relay": r.relayAddr})
	return &Endpoint{
		Method:  MethodRelay,
		TCPAddr: r.relayAddr,
	}, nil
}
