package transport

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultDialTimeout bounds socket creation for UDPSocket.
const DefaultDialTimeout = 2 * time.Second

// UDPSocket sends each line as a single datagram. A fresh socket is opened
// for every Write and closed afterwards, so there is no connection state to
// manage between flush cycles.
type UDPSocket struct {
	// DialTimeout bounds address resolution and socket creation.
	// Zero means DefaultDialTimeout.
	DialTimeout time.Duration

	resolve func(network, address string) (*net.UDPAddr, error)
}

// NewUDP creates a UDP socket with the default dial timeout.
func NewUDP() *UDPSocket {
	return &UDPSocket{DialTimeout: DefaultDialTimeout}
}

// Write implements Socket.
func (s *UDPSocket) Write(host string, port int, data string) (bool, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))

	resolve := s.resolve
	if resolve == nil {
		resolve = net.ResolveUDPAddr
	}
	addr, err := resolve("udp", address)
	if err != nil {
		return false, fmt.Errorf("%w %s: %v", ErrFailedToResolveAddress, address, err)
	}

	timeout := s.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("udp", addr.String())
	if err != nil {
		return false, fmt.Errorf("%w for %s: %v", ErrUnableToCreateSocket, address, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return false, fmt.Errorf("%w for %s: %v", ErrUnableToCreateSocket, address, err)
	}

	n, err := conn.Write([]byte(data))
	if err != nil {
		return false, fmt.Errorf("%w to %s: %v", ErrFailedToSendData, address, err)
	}
	if n == 0 && len(data) > 0 {
		return false, fmt.Errorf("%w to %s: no bytes written", ErrFailedToSendData, address)
	}

	return true, nil
}
