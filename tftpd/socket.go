package tftpd

import (
	"net"
	"sync"
)

// Datagram is one received UDP payload and the peer it came from.
type Datagram struct {
	Data []byte
	Peer *net.UDPAddr
}

// Endpoint is the socket abstraction the dispatcher and every session
// bind against, per spec.md §6. It is the Go realization of
// AbstractSocket/UdpSocketFactory from
// _examples/original_source/lib/include/{abstractsocket,udpsocketfactory}.h,
// and of the teacher's bare *requestConn + net.PacketConn pair — folded
// into one interface so tests can swap in memnet instead of a real
// socket, exactly as the original's stub factory does.
type Endpoint interface {
	// Bind attaches the endpoint to address:port. port == 0 asks the OS
	// for any free ephemeral port.
	Bind(address string, port int) error
	LocalPort() int
	HasPending() bool
	PendingSize() int
	ReadDatagram(buf []byte) (n int, peer *net.UDPAddr, err error)
	WriteDatagram(data []byte, peer *net.UDPAddr) (int, error)
	Close() error
	// ReadyRead signals at least one datagram is waiting. It is the Go
	// channel realization of AbstractSocket::readyRead().
	ReadyRead() <-chan struct{}
}

// EndpointFactory produces bound Endpoints. The dispatcher is handed a
// single factory, used for every configured listening address; each
// Session gets its own ephemeral endpoint from the same factory.
type EndpointFactory interface {
	New() Endpoint
}

// osEndpointFactory is the production EndpointFactory, backed by real
// OS UDP sockets.
type osEndpointFactory struct{}

// NewOSEndpointFactory returns the EndpointFactory used outside tests.
func NewOSEndpointFactory() EndpointFactory { return osEndpointFactory{} }

func (osEndpointFactory) New() Endpoint { return &osEndpoint{} }

// osEndpoint wraps a *net.UDPConn. A single goroutine owns the blocking
// read loop and hands completed datagrams to a queue drained by the
// dispatcher/session goroutine that owns this endpoint — preserving the
// run-to-completion-per-handler guarantee of spec.md §5 without
// requiring the caller to poll.
type osEndpoint struct {
	conn *net.UDPConn

	mu      sync.Mutex
	pending []Datagram
	ready   chan struct{}
	closed  bool
}

func (e *osEndpoint) Bind(address string, port int) error {
	addr := &net.UDPAddr{IP: net.ParseIP(address), Port: port}
	if addr.IP == nil && address != "" {
		resolved, err := net.ResolveIPAddr("ip", address)
		if err != nil {
			return err
		}
		addr.IP = resolved.IP
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	e.conn = conn
	e.ready = make(chan struct{}, 1)
	go e.readLoop()
	return nil
}

func (e *osEndpoint) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, peer, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		datagram := Datagram{Data: append([]byte(nil), buf[:n]...), Peer: peer}

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		e.pending = append(e.pending, datagram)
		e.mu.Unlock()

		select {
		case e.ready <- struct{}{}:
		default:
		}
	}
}

func (e *osEndpoint) LocalPort() int {
	if e.conn == nil {
		return 0
	}
	return e.conn.LocalAddr().(*net.UDPAddr).Port
}

func (e *osEndpoint) HasPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) > 0
}

func (e *osEndpoint) PendingSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return 0
	}
	return len(e.pending[0].Data)
}

func (e *osEndpoint) ReadDatagram(buf []byte) (int, *net.UDPAddr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return 0, nil, net.ErrClosed
	}

	next := e.pending[0]
	e.pending = e.pending[1:]
	if len(e.pending) > 0 {
		select {
		case e.ready <- struct{}{}:
		default:
		}
	}

	n := copy(buf, next.Data)
	return n, next.Peer, nil
}

func (e *osEndpoint) WriteDatagram(data []byte, peer *net.UDPAddr) (int, error) {
	return e.conn.WriteToUDP(data, peer)
}

func (e *osEndpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}

func (e *osEndpoint) ReadyRead() <-chan struct{} { return e.ready }
