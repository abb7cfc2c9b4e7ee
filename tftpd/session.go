package tftpd

import (
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxDatagram is large enough for any negotiated block size plus the
// 4-byte DATA header.
const maxDatagram = maxBlockSize + 4

// Session is one RRQ's entire lifetime: the per-transfer state machine
// of spec.md §3-§4.3. It owns an ephemeral Endpoint, a read-only file
// handle, and runs on exactly one goroutine for its whole life (see
// SPEC_FULL §5) — grounded on the teacher's goroutine-per-transfer
// client (lfkeitel-tftp-go/client.go's sendFile, invoked via `go
// client2.run()` in server.go) and on the original's single-threaded
// ReadSession (_examples/original_source/lib/src/readsession.cpp).
type Session struct {
	ID   uuid.UUID
	peer *net.UDPAddr

	endpoint Endpoint
	sink     Sink
	logger   Logger

	filePath string
	file     *os.File
	fileSize int64
	haveSize bool

	mode       Mode
	blockSize  int
	timeout    time.Duration
	maxRetries int

	mu sync.Mutex

	blockNr      uint16
	pendingBlock []byte
	overflow     []byte

	lastSentBytes []byte
	lastDataLen   int
	haveLastData  bool

	retries      int
	lastSendTime time.Time
	timer        *time.Timer

	ackDelays []time.Duration

	slowThresholdUs int64
	slowReported    bool

	bytesSent int64

	state State

	onDone func(peer *net.UDPAddr)
}

// newSessionParams bundles the inputs newSession needs; kept as a
// struct because the dispatcher threads through several pieces of
// per-listener configuration the teacher's flat server.go passes as
// loose arguments instead.
type newSessionParams struct {
	peer     *net.UDPAddr
	req      *rrq
	filesDir string
	factory  EndpointFactory
	defaults Defaults
	sink     Sink
	logger   Logger
	onDone   func(peer *net.UDPAddr)
}

// newSession validates and constructs a Session from a decoded RRQ, per
// spec.md §4.3 construction steps 1-6. A Session is always returned
// (never nil); on validation failure it comes back already in
// StateInError, having already sent the corresponding ERROR datagram —
// the dispatcher still tracks it so Run() can clean it up uniformly.
func newSession(p newSessionParams) *Session {
	s := &Session{
		ID:              uuid.New(),
		peer:            p.peer,
		sink:            p.sink,
		logger:          p.logger,
		maxRetries:      p.defaults.MaxRetries,
		slowThresholdUs: p.defaults.SlowNetworkThresholdUs,
		timeout:         p.defaults.RetransmitTimeout,
		blockSize:       defaultBlockSize,
		onDone:          p.onDone,
	}

	s.endpoint = p.factory.New()
	if err := s.endpoint.Bind("", 0); err != nil {
		s.setState(StateInError)
		s.sink.Error(s.peer, s.ID, wrapFailure(FailureSocketIO, errUndefined, err, "failed to bind session endpoint"))
		return s
	}

	mode := lowerASCII(p.req.mode)
	switch mode {
	case "mail":
		s.abort(FailureBadTransferMode, errIllegalOp, "Mail transfer not supported")
		return s
	case "netascii":
		s.mode = ModeNetASCII
	case "octet":
		s.mode = ModeOctet
	default:
		s.abort(FailureBadTransferMode, errIllegalOp, "Illegal transfer mode")
		return s
	}

	s.filePath = filepath.Join(p.filesDir, p.req.filename)

	if _, err := os.Stat(s.filePath); err != nil {
		s.abort(FailureFileNotFound, errFileNotFound, "File not found")
		return s
	}

	file, err := os.Open(s.filePath)
	if err != nil {
		s.abort(FailureOpenFailed, errUndefined, err.Error())
		return s
	}
	s.file = file

	if stat, err := file.Stat(); err == nil {
		s.fileSize = stat.Size()
		s.haveSize = true
	}

	opts := negotiateOptions(p.req.options, s.fileSize, s.haveSize)
	s.blockSize = opts.blockSize
	for _, p := range opts.accepted {
		if p.name == optionTimeout {
			s.timeout = time.Duration(opts.timeout) * time.Second
		}
	}

	if len(opts.accepted) > 0 {
		s.setState(StateOptionsNegotiation)
		s.sendAndArm(encodeOACK(opts.accepted))
		return s
	}

	s.setState(StateBusy)
	if err := s.loadNextBlock(); err != nil {
		s.abort(FailureSocketIO, errUndefined, err.Error())
		return s
	}
	s.sendDataBlock()
	return s
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Run drives this session's event loop to completion. It must be
// called on its own goroutine; per SPEC_FULL §5 no other goroutine ever
// touches this session's unexported state once Run starts.
func (s *Session) Run() {
	defer s.cleanup()

	for !s.isTerminal() {
		var timerC <-chan time.Time
		if s.timer != nil {
			timerC = s.timer.C
		}

		select {
		case <-s.endpoint.ReadyRead():
			for s.endpoint.HasPending() && !s.isTerminal() {
				buf := make([]byte, maxDatagram)
				n, _, err := s.endpoint.ReadDatagram(buf)
				if err != nil {
					break
				}
				pkt, decErr := decodePacket(buf[:n])
				if decErr != nil {
					s.abort(FailureMalformed, errUndefined, "Malformed datagram")
					break
				}
				s.handleDatagram(pkt)
			}
		case <-timerC:
			s.handleRetransmitTimeout()
		}
	}
}

func (s *Session) isTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateFinished || s.state == StateInError
}

// setState and incBlockNr are the only writers of s.state/s.blockNr;
// both take s.mu so the exported accessors below never observe a
// half-written value from the session's own goroutine.
func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) incBlockNr() {
	s.mu.Lock()
	s.blockNr++
	s.mu.Unlock()
}

// handleDatagram implements spec.md §4.3 "Handling inbound datagram".
func (s *Session) handleDatagram(pkt *decodedPacket) {
	if s.state == StateOptionsNegotiation && pkt.op == opERROR &&
		(pkt.errorCode == errOptionNegotiationAbort || pkt.errorCode == errDiskFull) {
		s.disarmTimer()
		s.setState(StateFinished)
		s.sink.Finished(s.peer, s.ID, s.filePath)
		return
	}

	if pkt.op != opACK {
		s.abort(FailureUnexpectedOpcode, errIllegalOp, "Unexpected TFTP opcode")
		return
	}

	ackBlockNr := pkt.blockNr

	// Duplicate-ACK rule: the next block was already produced and sent
	// on the previous ACK, so this one is a no-op retransmission from
	// the peer, not from us.
	if s.blockNr > 0 && ackBlockNr == s.blockNr-1 {
		return
	}

	if ackBlockNr != s.blockNr {
		s.abort(FailureWrongBlock, errIllegalOp, "Ack contains wrong block number")
		return
	}

	s.disarmTimer()
	s.retries = 0

	wasNegotiating := s.state == StateOptionsNegotiation

	if !wasNegotiating && s.haveLastData && s.lastDataLen < s.blockSize {
		s.setState(StateFinished)
		s.sink.Finished(s.peer, s.ID, s.filePath)
		return
	}

	if wasNegotiating {
		s.setState(StateBusy)
	} else {
		s.recordAckLatency()
	}

	if err := s.loadNextBlock(); err != nil {
		s.abort(FailureSocketIO, errUndefined, err.Error())
		return
	}
	s.sendDataBlock()
}

func (s *Session) handleRetransmitTimeout() {
	if s.isTerminal() {
		return
	}
	if s.retries >= s.maxRetries {
		s.abort(FailureRetryExhausted, errUndefined, "Maximum nr of re-transmissions reached")
		return
	}
	s.retries++
	s.endpoint.WriteDatagram(s.lastSentBytes, s.peer)
	s.armTimer()
}

// loadNextBlock implements spec.md §4.3 "Block loading". At EOF it
// produces an empty payload, yielding the terminating zero-length DATA
// packet for exact-multiple file sizes (invariant 7 of spec.md §3).
func (s *Session) loadNextBlock() error {
	block := make([]byte, 0, s.blockSize)

	if s.mode == ModeNetASCII && len(s.overflow) > 0 {
		block = append(block, s.overflow...)
		s.overflow = nil
	}

	remaining := s.blockSize - len(block)
	if remaining > 0 && s.file != nil {
		raw := make([]byte, remaining)
		n, err := s.file.Read(raw)
		if err != nil && err != io.EOF {
			return err
		}
		raw = raw[:n]

		if s.mode == ModeNetASCII {
			block = append(block, netasciiExpand(raw)...)
		} else {
			block = append(block, raw...)
		}
	}

	if len(block) > s.blockSize {
		var kept []byte
		kept, s.overflow = netasciiOverflow(block, s.blockSize)
		block = kept
	}

	s.pendingBlock = block
	return nil
}

// sendDataBlock sends a freshly-produced block, pre-incrementing the
// block counter per invariant 3 of spec.md §3. Never called for a
// retransmission — that path is handleRetransmitTimeout, which resends
// s.lastSentBytes byte-for-byte (invariant 4).
func (s *Session) sendDataBlock() {
	s.incBlockNr()
	s.lastDataLen = len(s.pendingBlock)
	s.haveLastData = true
	s.bytesSent += int64(len(s.pendingBlock))

	s.sendAndArm(encodeDATA(s.blockNr, s.pendingBlock))
	s.reportProgress()
}

func (s *Session) sendAndArm(payload []byte) {
	s.lastSentBytes = payload
	s.endpoint.WriteDatagram(payload, s.peer)
	s.lastSendTime = time.Now()
	s.armTimer()
}

func (s *Session) armTimer() {
	s.timer = time.NewTimer(s.timeout)
}

func (s *Session) disarmTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// recordAckLatency implements the slow-network detector of spec.md §4.6.
func (s *Session) recordAckLatency() {
	delay := time.Since(s.lastSendTime)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	s.ackDelays = append(s.ackDelays, delay)
	if len(s.ackDelays) > ackDelayWindow {
		s.ackDelays = s.ackDelays[1:]
	}
	s.mu.Unlock()

	if s.blockNr%5 != 0 || s.slowReported {
		return
	}

	mean := meanMicroseconds(s.ackDelays)
	if mean > s.slowThresholdUs {
		s.slowReported = true
		s.sink.SlowNetwork(s.peer, s.ID, mean)
	}
}

func meanMicroseconds(delays []time.Duration) int64 {
	if len(delays) == 0 {
		return 0
	}
	var sum int64
	for _, d := range delays {
		sum += d.Microseconds()
	}
	return int64(math.Floor(float64(sum)/float64(len(delays)) + 0.5))
}

func (s *Session) reportProgress() {
	if !s.haveSize || s.fileSize <= 0 {
		return
	}
	percent := int(float64(s.bytesSent) / float64(s.fileSize) * 100)
	if percent > 100 {
		percent = 100
	}
	s.sink.Progress(s.peer, s.ID, percent)
}

// abort sends the ERROR packet for msg/code and transitions to
// StateInError — the single exit path for every protocol-level failure
// named in spec.md §4.3 and §7.
func (s *Session) abort(kind FailureKind, code errorCode, msg string) {
	s.disarmTimer()
	s.setState(StateInError)
	s.endpoint.WriteDatagram(encodeError(code, msg), s.peer)
	if s.logger != nil {
		s.logger.WithFields(Fields{"peer": s.peer.String(), "id": s.ID.String(), "kind": kind.String(), "msg": msg}).Warn("session aborted")
	}
	s.sink.Error(s.peer, s.ID, newFailure(kind, code, msg))
}

func (s *Session) cleanup() {
	s.disarmTimer()
	if s.file != nil {
		s.file.Close()
	}
	s.endpoint.Close()
	if s.onDone != nil {
		s.onDone(s.peer)
	}
}

// Peer returns the peer this session serves.
func (s *Session) Peer() *net.UDPAddr { return s.peer }

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentBlock returns the current block number, per the original's
// ReadSession::currBlockNr accessor
// (_examples/original_source/lib/include/readsession.h).
func (s *Session) CurrentBlock() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockNr
}

// AverageAckDelay returns the mean of the current ACK-delay window, the
// Go realization of the original's ReadSession::averageAckDelayUs.
func (s *Session) AverageAckDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ackDelays) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s.ackDelays {
		sum += d
	}
	return sum / time.Duration(len(s.ackDelays))
}
