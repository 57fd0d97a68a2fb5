package statsd

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/nicktill/tinystatsd/pkg/statsd/transport"
)

// SendFunc is called once for every line the client tries to send.
// ok is true and err nil on success; on failure ok is false and err wraps
// one of the transport error kinds.
type SendFunc func(ok bool, err error)

// DiscardSends ignores every outcome. It is the default when
// ClientConfig.OnSend is nil.
func DiscardSends(bool, error) {}

// LogSends returns a SendFunc that logs failed sends at warn level.
// Successful sends are not logged.
func LogSends(logger *zap.Logger) SendFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ok bool, err error) {
		if ok && err == nil {
			return
		}
		logger.Warn("statsd send failed",
			zap.String("kind", ErrorKind(err)),
			zap.Error(err),
		)
	}
}

// SendStats counts send outcomes. The zero value is ready to use.
type SendStats struct {
	sent   atomic.Int64
	failed atomic.Int64
}

// Sent returns the number of successful sends.
func (s *SendStats) Sent() int64 { return s.sent.Load() }

// Failed returns the number of failed sends.
func (s *SendStats) Failed() int64 { return s.failed.Load() }

// CountSends returns a SendFunc that tallies outcomes into stats.
func CountSends(stats *SendStats) SendFunc {
	return func(ok bool, err error) {
		if ok && err == nil {
			stats.sent.Add(1)
			return
		}
		stats.failed.Add(1)
	}
}

// ChainSends calls every non-nil fn in order.
func ChainSends(fns ...SendFunc) SendFunc {
	chained := make([]SendFunc, 0, len(fns))
	for _, fn := range fns {
		if fn != nil {
			chained = append(chained, fn)
		}
	}
	return func(ok bool, err error) {
		for _, fn := range chained {
			fn(ok, err)
		}
	}
}

// ErrorKind names the transport error kind err wraps, for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, transport.ErrUnableToCreateSocket):
		return "unable_to_create_socket"
	case errors.Is(err, transport.ErrFailedToResolveAddress):
		return "failed_to_resolve_address"
	case errors.Is(err, transport.ErrFailedToSendData):
		return "failed_to_send_data"
	default:
		return "unknown"
	}
}
