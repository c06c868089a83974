package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/camlink/bc-go/internal/bcerr"
	"github.com/camlink/bc-go/internal/bclog"
)

const (
	remoteLookupTimeout = 5 * time.Second
	remoteCacheTTL      = 5 * time.Minute
)

// remoteMethod resolves a UID against a registration server the camera
// periodically checks in with (spec §4.E Remote), optionally caching
// answers in Redis so repeated lookups of the same UID within the TTL
// skip the network round trip entirely.
type remoteMethod struct {
	registrationURL string
	httpClient      *http.Client
	cache           *redis.Client
	log             *bclog.Logger
}

func newRemoteMethod(registrationURL string, cache *redis.Client, log *bclog.Logger) *remoteMethod {
	if log == nil {
		log = bclog.Nop()
	}
	return &remoteMethod{
		registrationURL: registrationURL,
		httpClient:      &http.Client{Timeout: remoteLookupTimeout},
		cache:           cache,
		log:             log,
	}
}

type remoteRecord struct {
	Addr string `json:"addr"`
}

func (r *remoteMethod) lookup(ctx context.Context, uid string) (*Endpoint, error) {
	if r.registrationURL == "" {
		return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.remote", "no registration server configured")
	}

	if r.cache != nil {
		if addr, err := r.cache.Get(ctx, cacheKey(uid)).Result(); err == nil && addr != "" {
			return &Endpoint{Method: MethodRemote, TCPAddr: addr}, nil
		}
	}

	rec, err := r.fetch(ctx, uid)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey(uid), rec.Addr, remoteCacheTTL).Err(); err != nil {
			r.log.Debug("remote discovery cache write failed", bclog.Fields{"err": err.Error()})
		}
	}

	return &Endpoint{Method: MethodRemote, TCPAddr: rec.Addr}, nil
}

func (r *remoteMethod) fetch(ctx context.Context, uid string) (*remoteRecord, error) {
	url := fmt.Sprintf("%s/cameras/%s", r.registrationURL, uid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.remote", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, bcerr.Wrap(bcerr.KindDiscoveryTimeout, "discovery.remote", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, bcerr.New(bcerr.KindDiscoveryTimeout, "discovery.remote",
			fmt.Sprintf("registration server returned %d for uid %s", resp.StatusCode, uid))
	}

	var rec remoteRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, bcerr.Wrap(bcerr.KindProtocolError, "discovery.remote", err)
	}
	return &rec, nil
}

func cacheKey(uid string) string { return "bc:discovery:" + uid }
