package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/objlink/objlink-go/pkg/log"
)

// DefaultConnectTimeout bounds Dial when ctx has no deadline.
const DefaultConnectTimeout = 30 * time.Second

// Dial connects to address over TCP and wraps the connection in a Socket
// with the dialer role. The caller adds listeners and then calls Run.
func Dial(ctx context.Context, address string, cfg SocketConfig) (*Socket, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	cfg.Role = log.RoleDialer
	return NewSocket(conn, cfg), nil
}
