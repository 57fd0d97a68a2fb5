package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/nicktill/tinystatsd/pkg/config"
)

// Listener reads StatsD datagrams from a UDP socket and feeds them to a
// Receiver.
type Listener struct {
	conn   net.PacketConn
	recv   *Receiver
	logger *zap.Logger
}

// Listen binds addr ("host:port", ":8125", "127.0.0.1:0") for UDP.
func Listen(addr string, recv *Receiver) (*Listener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return &Listener{
		conn:   conn,
		recv:   recv,
		logger: recv.logger.Named("udp"),
	}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve reads datagrams until ctx is done or the socket is closed. It
// closes the socket on return.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.conn.Close() })
	defer stop()
	defer l.conn.Close()

	l.logger.Info("listening for statsd datagrams", zap.Stringer("addr", l.Addr()))

	buf := make([]byte, config.MaxDatagramSize)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("read datagram: %w", err)
		}

		res := l.recv.Ingest(ctx, buf[:n])
		if res.Rejected > 0 {
			l.logger.Debug("datagram had rejected lines",
				zap.Stringer("from", from),
				zap.Int("accepted", res.Accepted),
				zap.Int("rejected", res.Rejected),
			)
		}
	}
}

// Close closes the socket, unblocking Serve.
func (l *Listener) Close() error {
	return l.conn.Close()
}
