package tftpd

import (
	"net"
	"sync"

	"github.com/pkg/errors"
)

// listenerState pairs one bound Endpoint with the files directory it
// serves. Grounded on the teacher's server struct (lfkeitel-tftp-go/server.go),
// generalized to support more than one bound address per spec.md §1
// ("one or more UDP endpoints").
type listenerState struct {
	config   EndpointConfig
	endpoint Endpoint
}

// Dispatcher owns the well-known listening endpoints, demultiplexes new
// RRQs into freshly-spawned Sessions, and reaps finished ones — spec.md
// §4.5. Grounded on the teacher's server.processRequest plus the
// original's TftpServer::dataReceived/removeSession
// (_examples/original_source/lib/src/tftpserver.cpp).
type Dispatcher struct {
	factory  EndpointFactory
	defaults Defaults
	sink     Sink
	logger   Logger

	listeners []*listenerState

	mu       sync.Mutex
	sessions map[string]*Session

	closing chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher binds one listening Endpoint per EndpointConfig and
// returns a Dispatcher ready for ListenAndServe. Binding failure on any
// configured endpoint is fatal to construction, matching the teacher's
// listenAndServe, which log.Fatalln's on a failed bind.
func NewDispatcher(configs []EndpointConfig, factory EndpointFactory, defaults Defaults, sink Sink, logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		factory:  factory,
		defaults: defaults,
		sink:     sink,
		logger:   logger,
		sessions: make(map[string]*Session),
		closing:  make(chan struct{}),
	}

	for _, cfg := range configs {
		ep := factory.New()
		if err := ep.Bind(cfg.BindAddr, cfg.Port); err != nil {
			return nil, errors.Wrapf(err, "failed to bind listener %s:%d", cfg.BindAddr, cfg.Port)
		}
		d.listeners = append(d.listeners, &listenerState{config: cfg, endpoint: ep})
	}

	return d, nil
}

// ListenAndServe starts one accept loop per configured listener and
// blocks until Close is called.
func (d *Dispatcher) ListenAndServe() {
	var lwg sync.WaitGroup
	for _, ls := range d.listeners {
		lwg.Add(1)
		go func(ls *listenerState) {
			defer lwg.Done()
			d.serveListener(ls)
		}(ls)
	}
	lwg.Wait()
}

// Close unbinds all listening endpoints. Per spec.md §5 "Cancellation",
// in-flight sessions are permitted to complete or time out naturally —
// Close does not wait for them.
func (d *Dispatcher) Close() {
	close(d.closing)
	for _, ls := range d.listeners {
		ls.endpoint.Close()
	}
}

// Wait blocks until every session this dispatcher has ever spawned has
// finished. Tests use this instead of sleeping.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) serveListener(ls *listenerState) {
	for {
		select {
		case <-d.closing:
			return
		case <-ls.endpoint.ReadyRead():
			for ls.endpoint.HasPending() {
				buf := make([]byte, maxDatagram)
				n, peer, err := ls.endpoint.ReadDatagram(buf)
				if err != nil {
					break
				}
				d.handleListenerPacket(ls, peer, buf[:n])
			}
		}
	}
}

// handleListenerPacket implements spec.md §4.5's per-endpoint routing.
func (d *Dispatcher) handleListenerPacket(ls *listenerState, peer *net.UDPAddr, raw []byte) {
	pkt, err := decodePacket(raw)
	if err != nil {
		d.rejectIllegalOp(ls, peer)
		return
	}

	if pkt.op != opRRQ {
		d.rejectIllegalOp(ls, peer)
		return
	}

	d.handleRRQ(ls, peer, pkt.rrq)
}

func (d *Dispatcher) rejectIllegalOp(ls *listenerState, peer *net.UDPAddr) {
	ls.endpoint.WriteDatagram(encodeError(errIllegalOp, "Illegal TFTP opcode"), peer)
}

func (d *Dispatcher) handleRRQ(ls *listenerState, peer *net.UDPAddr, req *rrq) {
	key := peer.String()

	d.mu.Lock()
	if _, exists := d.sessions[key]; exists {
		d.mu.Unlock()
		// Policy choice per spec.md §4.5: clients have been observed to
		// send duplicate RRQs; drop silently rather than erroring.
		return
	}
	d.mu.Unlock()

	sess := newSession(newSessionParams{
		peer:     peer,
		req:      req,
		filesDir: ls.config.FilesDir,
		factory:  d.factory,
		defaults: d.defaults,
		sink:     d.sink,
		logger:   d.logger,
		onDone:   d.removeSession,
	})

	d.mu.Lock()
	d.sessions[key] = sess
	d.mu.Unlock()

	d.sink.NewReadSession(peer, sess.ID, sess.filePath)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sess.Run()
	}()
}

func (d *Dispatcher) removeSession(peer *net.UDPAddr) {
	d.mu.Lock()
	delete(d.sessions, peer.String())
	d.mu.Unlock()
}

// SessionCount returns the number of sessions currently tracked, for
// tests asserting the session set shrinks once a transfer ends.
func (d *Dispatcher) SessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}
