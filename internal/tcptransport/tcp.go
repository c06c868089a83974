// Package tcptransport is the TCP transport of spec §4.D: a thin
// length-delimited stream over a stream socket, with no reliability layer
// of its own beyond what TCP already provides. internal/wire's codec reads
// BC frames directly off Conn using the frame header's own length fields,
// so this package only owns dialing, timeouts, and lifecycle.
package tcptransport

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/camlink/bc-go/internal/bcerr"
)

// DefaultDialTimeout bounds how long Dial waits for the TCP handshake.
const DefaultDialTimeout = 5 * time.Second

// Conn is a dialed TCP connection to a camera.
type Conn struct {
	net.Conn
}

// Dial connects to addr. A name-resolution failure is wrapped in
// bcerr.KindAddressResolutionFailure and any other dial failure in
// bcerr.KindCannotInitCamera, so callers can tell the two apart.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	d := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return nil, bcerr.Wrap(bcerr.KindAddressResolutionFailure, "tcptransport.Dial", err)
		}
		return nil, bcerr.Wrap(bcerr.KindCannotInitCamera, "tcptransport.Dial", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &Conn{Conn: conn}, nil
}

// SetDeadline forwards to the underlying socket's combined read/write deadline.
func (c *Conn) SetDeadline(t time.Time) error { return c.Conn.SetDeadline(t) }
