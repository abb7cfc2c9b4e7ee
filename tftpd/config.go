package tftpd

import "time"

// EndpointConfig names one listening address the dispatcher binds to
// and the directory it serves files from. Deliberately just a struct —
// spec.md §6 scopes CLI/INI loading out as an external collaborator;
// SPEC_FULL keeps only the shape the dispatcher needs, the way the
// teacher keeps its server options orthogonal to flag parsing
// (lfkeitel-tftp-go/server.go's withRootDir et al., applied by main.go).
type EndpointConfig struct {
	BindAddr       string
	Port           int
	FilesDir       string
	UploadDisabled bool
}

// Defaults are the process-wide, write-once retransmission parameters
// from spec.md §5 ("Shared resources"): the Go realization of the
// original's static Session::setRetransmitTimeOut/setMaxRetransmissions
// (_examples/original_source/lib/include/session.h), threaded through
// dispatcher construction instead of mutated after the fact, per the
// resolution spec.md §9 itself recommends.
type Defaults struct {
	RetransmitTimeout      time.Duration
	MaxRetries             int
	SlowNetworkThresholdUs int64
}

// DefaultDefaults returns the spec-mandated defaults: 5s retransmit
// timeout, 3 retries, 2000us slow-network threshold.
func DefaultDefaults() Defaults {
	return Defaults{
		RetransmitTimeout:      defaultTimeout,
		MaxRetries:             defaultMaxRetries,
		SlowNetworkThresholdUs: defaultSlowNetworkThresholdUs,
	}
}
