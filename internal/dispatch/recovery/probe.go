package recovery

import (
	"context"
	"net"
	"time"
)

const probeDialTimeout = 2 * time.Second

// probeTCP checks connectivity with a short TCP dial.
func probeTCP(ctx context.Context, addr string) error {
	dialer := net.Dialer{Timeout: probeDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
