package tftpd

import (
	"net"
	"sync"
)

// MemNetwork is the Go analogue of
// _examples/original_source/test/unit/stubs/{udpsocketstub,simulatednetworkstream}:
// an in-memory hub routing datagrams between Endpoints keyed by bound
// address, so tests drive a Session or Dispatcher without a real OS
// socket. Every table-driven test in this package uses one.
type MemNetwork struct {
	mu        sync.Mutex
	endpoints map[string]*memEndpoint
	nextPort  int
}

// NewMemNetwork creates an empty in-memory network. Ephemeral ports
// handed out via Bind(addr, 0) start at 40000 and increment, purely to
// keep test output stable and human-readable.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{endpoints: make(map[string]*memEndpoint), nextPort: 40000}
}

// Factory returns an EndpointFactory that binds new endpoints into this
// network.
func (n *MemNetwork) Factory() EndpointFactory { return &memEndpointFactory{net: n} }

// Send injects a datagram as if it arrived from peer at the endpoint
// bound to local. Used by tests to play the client side of a transfer.
func (n *MemNetwork) Send(local *net.UDPAddr, peer *net.UDPAddr, data []byte) {
	n.mu.Lock()
	ep, ok := n.endpoints[local.String()]
	n.mu.Unlock()
	if !ok {
		return
	}
	ep.deliver(Datagram{Data: append([]byte(nil), data...), Peer: peer})
}

func (n *MemNetwork) register(ep *memEndpoint, addr *net.UDPAddr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints[addr.String()] = ep
}

func (n *MemNetwork) unregister(addr *net.UDPAddr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, addr.String())
}

func (n *MemNetwork) allocatePort() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := n.nextPort
	n.nextPort++
	return p
}

// routeToPeer is how one memEndpoint's WriteDatagram reaches another
// memEndpoint's inbox, simulating the wire between two bound addresses.
func (n *MemNetwork) routeToPeer(from *net.UDPAddr, to *net.UDPAddr, data []byte) (int, error) {
	n.mu.Lock()
	dest, ok := n.endpoints[to.String()]
	n.mu.Unlock()
	if ok {
		dest.deliver(Datagram{Data: append([]byte(nil), data...), Peer: from})
	}
	// A real UDP write succeeds even with nobody listening; mirror that.
	return len(data), nil
}

type memEndpointFactory struct {
	net *MemNetwork
}

func (f *memEndpointFactory) New() Endpoint {
	return &memEndpoint{net: f.net}
}

// memEndpoint is the in-memory Endpoint implementation. Captured
// outbound writes are also recorded verbatim in Sent, which tests use
// to assert byte-identical retransmission (invariant 4 of spec.md §3)
// the same way the teacher's testPacketConn (send_test.go) does.
type memEndpoint struct {
	net  *MemNetwork
	addr *net.UDPAddr

	mu      sync.Mutex
	pending []Datagram
	ready   chan struct{}
	closed  bool

	Sent []SentDatagram
}

// SentDatagram records one outbound write for test assertions.
type SentDatagram struct {
	Data []byte
	Peer *net.UDPAddr
}

func (e *memEndpoint) Bind(address string, port int) error {
	ip := net.ParseIP(address)
	if ip == nil {
		ip = net.ParseIP("127.0.0.1")
	}
	if port == 0 {
		port = e.net.allocatePort()
	}
	e.addr = &net.UDPAddr{IP: ip, Port: port}
	e.ready = make(chan struct{}, 1)
	e.net.register(e, e.addr)
	return nil
}

func (e *memEndpoint) LocalPort() int {
	if e.addr == nil {
		return 0
	}
	return e.addr.Port
}

func (e *memEndpoint) deliver(d Datagram) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.pending = append(e.pending, d)
	select {
	case e.ready <- struct{}{}:
	default:
	}
}

func (e *memEndpoint) HasPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) > 0
}

func (e *memEndpoint) PendingSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return 0
	}
	return len(e.pending[0].Data)
}

func (e *memEndpoint) ReadDatagram(buf []byte) (int, *net.UDPAddr, error) {
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

func (e *memEndpoint) WriteDatagram(data []byte, peer *net.UDPAddr) (int, error) {
	e.mu.Lock()
	e.Sent = append(e.Sent, SentDatagram{Data: append([]byte(nil), data...), Peer: peer})
	e.mu.Unlock()
	return e.net.routeToPeer(e.addr, peer, data)
}

func (e *memEndpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	if e.addr != nil {
		e.net.unregister(e.addr)
	}
	return nil
}

func (e *memEndpoint) ReadyRead() <-chan struct{} { return e.ready }
