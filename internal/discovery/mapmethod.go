package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/bclog"
)

const (
	mapCandidateTimeout = 5 * time.Second
	mapPunchCount       = 5
	mapPunchInterval    = 100 * time.Millisecond
)

// mapMethod resolves a UID via a rendezvous server that hands back the
// camera's last-known candidate addresses (its own view of its address
// across any NATs it sits behind), then races a UDP hole-punch attempt
// against every candidate in parallel (spec §4.E Map).
type mapMethod struct {
	rendezvousURL string
	httpClient    *http.Client
	log           *bclog.Logger
}

func newMapMethod(rendezvousURL string, log *bclog.Logger) *mapMethod {
	if log == nil {
		log = bclog.Nop()
	}
	return &mapMethod{
		rendezvousURL: rendezvousURL,
		httpClient:    &http.Client{Timeout: mapCandidateTimeout},
		log:           log,
	}
}

type candidate struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (m *mapMethod) lookup(ctx context.Context, uid string) (*Endpoint, error) {
	if m.rendezvousURL == "" {
		return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.map", "no rendezvous server configured")
	}

	candidates, err := m.fetchCandidates(ctx, uid)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.map", "rendezvous server returned no candidates")
	}

	sock, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.map", err)
	}
	defer sock.Close()

	ctx, cancel := context.WithTimeout(ctx, mapCandidateTimeout)
	defer cancel()

	results := make(chan *net.UDPAddr, len(candidates))
	for _, c := range candidates {
		go m.punchCandidate(ctx, sock, c, results)
	}

	select {
	case addr := <-results:
		return &Endpoint{Method: MethodMap, UDPAddr: addr}, nil
	case <-ctx.Done():
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.map", ctx.Err())
	}
}

func (m *mapMethod) fetchCandidates(ctx context.Context, uid string) ([]candidate, error) {
	url := fmt.Sprintf("%s/cameras/%s/candidates", m.rendezvousURL, uid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.map", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.map", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.map", fmt.Sprintf("rendezvous server returned %d", resp.StatusCode))
	}
	var out struct {
		Candidates []candidate `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, bcerr.Wrap(bcerr.KindProtocolError, "discovery.map", err)
	}
	return out.Candidates, nil
}

// punchCandidate sends a burst of punch packets to one candidate and
// listens for any reply from that exact address, signalling success on
// results. Cancelled candidates (a sibling already won) exit silently.
func (m *mapMethod) punchCandidate(ctx context.Context, sock *net.UDPConn, c candidate, results chan<- *net.UDPAddr) {
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", c.IP, c.Port))
	if err != nil {
		return
	}

	punch := []byte("BC-PUNCH")
	for i := 0; i < mapPunchCount; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		sock.WriteToUDP(punch, remote)
		time.Sleep(mapPunchInterval)
	}

	buf := make([]byte, 512)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		sock.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, from, err := sock.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		if from.IP.Equal(remote.IP) && from.Port == remote.Port {
			select {
			case results <- from:
			default:
			}
			return
		}
		m.log.Debug("map candidate reply from unexpected address", bclog.Fields{"from": from.String(), "expected": remote.String()})
	}
}
