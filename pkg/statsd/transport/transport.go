package transport

import "errors"

// Error kinds reported by Socket implementations. Callers match them with
// errors.Is; implementations wrap the underlying cause.
var (
	ErrUnableToCreateSocket   = errors.New("unable to create socket")
	ErrFailedToResolveAddress = errors.New("failed to resolve address")
	ErrFailedToSendData       = errors.New("failed to send data")
)

// Socket delivers one formatted line to host:port.
// Write reports success as (true, nil) and failure as (false, err) where err
// wraps one of the error kinds above. Implementations must be safe for
// concurrent use.
type Socket interface {
	Write(host string, port int, data string) (bool, error)
}

// SocketFunc adapts an ordinary function to the Socket interface.
type SocketFunc func(host string, port int, data string) (bool, error)

// Write calls f(host, port, data).
func (f SocketFunc) Write(host string, port int, data string) (bool, error) {
	return f(host, port, data)
}
