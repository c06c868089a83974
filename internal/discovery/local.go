package discovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/cybergarage/go-mdns/mdns"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/bclog"
)

// mdnsServiceType is the service the camera's own mDNS responder (when
// present) advertises itself under. Cameras that don't run an mDNS
// responder still answer the plain broadcast probe below.
const mdnsServiceType = "_bc-camera._udp"

const (
	localBroadcastPort = 2015
	localProbeMagic    = 0x4243 // "BC" — distinguishes our probe from noise on the broadcast port
	localProbeTimeout  = 3 * time.Second
)

// localMethod discovers a camera on the same LAN segment, first via mDNS
// service browsing and, failing that, via a UDP broadcast probe carrying
// the target UID (spec §4.E Local).
type localMethod struct {
	log *bclog.Logger
}

func newLocalMethod(log *bclog.Logger) *localMethod {
	if log == nil {
		log = bclog.Nop()
	}
	return &localMethod{log: log}
}

func (l *localMethod) lookup(ctx context.Context, uid string) (*Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, localProbeTimeout)
	defer cancel()

	if ep, err := l.lookupMDNS(ctx, uid); err == nil {
		return ep, nil
	}
	return l.lookupBroadcast(ctx, uid)
}

// lookupMDNS browses mdnsServiceType for a service instance named uid. Cameras
// without an mDNS responder simply never show up here, which is not
// treated as an error at this layer — lookup() falls through to broadcast.
func (l *localMethod) lookupMDNS(ctx context.Context, uid string) (*Endpoint, error) {
	client := mdns.NewClient()
	if err := client.Start(); err != nil {
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.local.mdns", err)
	}
	defer client.Stop()

	query := mdns.NewQuery(mdns.WithQueryServices(mdnsServiceType))
	services, err := client.Query(ctx, query)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.local.mdns", err)
	}
	for _, svc := range services {
		if svc.Name() != uid {
			continue
		}
		addrs := svc.Addrs()
		if len(addrs) == 0 {
			continue
		}
		return &Endpoint{
			Method:  MethodLocal,
			TCPAddr: fmt.Sprintf("%s:%d", addrs[0].String(), svc.Port()),
		}, nil
	}
	return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.local.mdns", "uid not advertised via mdns")
}

// lookupBroadcast sends one UID probe to the limited broadcast address
// (255.255.255.255) and waits for the first matching reply; the reply's
// source address is the camera's UDP endpoint.
func (l *localMethod) lookupBroadcast(ctx context.Context, uid string) (*Endpoint, error) {
	sock, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.local.broadcast", err)
	}
	defer sock.Close()

	probe := buildProbe(uid)
	broadcastAddr := &net.UDPAddr{IP: net.IPv4bcast, Port: localBroadcastPort}
	if _, err := sock.WriteToUDP(probe, broadcastAddr); err != nil {
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.local.broadcast", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(localProbeTimeout)
	}
	sock.SetReadDeadline(deadline)

	buf := make([]byte, 512)
	for {
		select {
		case <-ctx.Done():
			return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.local.broadcast", ctx.Err())
		default:
		}
		n, from, err := sock.ReadFromUDP(buf)
		if err != nil {
			return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.local.broadcast", err)
		}
		respUID, ok := parseProbeReply(buf[:n])
		if !ok || respUID != uid {
			l.log.Debug("ignoring unrelated broadcast reply", bclog.Fields{"from": from.String()})
			continue
		}
		return &Endpoint{Method: MethodLocal, UDPAddr: from}, nil
	}
}

func buildProbe(uid string) []byte {
	buf := make([]byte, 2+len(uid))
	binary.BigEndian.PutUint16(buf[:2], localProbeMagic)
	copy(buf[2:], uid)
	return buf
}

func parseProbeReply(buf []byte) (uid string, ok bool) {
	if len(buf) < 2 || binary.BigEndian.Uint16(buf[:2]) != localProbeMagic {
		return "", false
	}
	return string(buf[2:]), true
}
