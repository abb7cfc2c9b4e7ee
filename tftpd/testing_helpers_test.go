package tftpd

import (
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// testLogger returns a Logger that satisfies the interface without
// spamming test output with logrus lines.
func testLogger() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("test", true)
}

// recordingSink is the test double for Sink: every callback appends to
// a slice under a mutex so tests can assert on session outcomes the
// way the teacher's tests assert on testPacketConn's captured writes
// (lfkeitel-tftp-go/send_test.go).
type recordingSink struct {
	mu sync.Mutex

	newSessions  []string
	progresses   []int
	finished     []string
	errors       []error
	slowNetworks []int64
}

func (s *recordingSink) NewReadSession(peer *net.UDPAddr, id uuid.UUID, filePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newSessions = append(s.newSessions, filePath)
}

func (s *recordingSink) Progress(peer *net.UDPAddr, id uuid.UUID, percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progresses = append(s.progresses, percent)
}

func (s *recordingSink) Finished(peer *net.UDPAddr, id uuid.UUID, filePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, filePath)
}

func (s *recordingSink) Error(peer *net.UDPAddr, id uuid.UUID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, err)
}

func (s *recordingSink) SlowNetwork(peer *net.UDPAddr, id uuid.UUID, meanDelayUs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowNetworks = append(s.slowNetworks, meanDelayUs)
}

func (s *recordingSink) finishedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finished)
}

func (s *recordingSink) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

func (s *recordingSink) slowNetworkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slowNetworks)
}
