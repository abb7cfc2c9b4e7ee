package tftpd

import (
	"strconv"
	"strings"
	"time"
)

// negotiatedOptions is the outcome of applying an RRQ's option tail: the
// (possibly adjusted) session parameters plus the ordered list of
// accepted pairs to echo back in an OACK. Grounded on the teacher's
// parseOptions (lfkeitel-tftp-go/utils.go), generalized to preserve
// option order and to report tsize via file size rather than echoing
// the client's value.
type negotiatedOptions struct {
	blockSize int
	timeout   int // seconds
	accepted  []optionPair
}

// negotiateOptions validates each (name, value) pair from an RRQ tail
// case-insensitively per spec.md §4.4. Malformed, out-of-range, or
// unknown options are silently ignored. tsize is honored only when the
// RRQ value is 0 and the caller supplies a known file size; the OACK
// then carries that file size. Any other tsize value drops the option.
func negotiateOptions(pairs []optionPair, fileSize int64, haveFileSize bool) *negotiatedOptions {
	out := &negotiatedOptions{
		blockSize: defaultBlockSize,
		timeout:   int(defaultTimeout / time.Second),
	}

	for _, p := range pairs {
		name := strings.ToLower(p.name)
		switch name {
		case optionBlockSize:
			val, err := strconv.Atoi(p.value)
			if err != nil || val < minBlockSize || val > maxBlockSize {
				continue
			}
			out.blockSize = val
			out.accepted = append(out.accepted, optionPair{name: optionBlockSize, value: p.value})

		case optionTimeout:
			val, err := strconv.Atoi(p.value)
			if err != nil || val < minTimeoutSeconds || val > maxTimeoutSeconds {
				continue
			}
			out.timeout = val
			out.accepted = append(out.accepted, optionPair{name: optionTimeout, value: p.value})

		case optionTransferSize:
			val, err := strconv.Atoi(p.value)
			if err != nil || val != 0 || !haveFileSize {
				continue
			}
			out.accepted = append(out.accepted, optionPair{
				name:  optionTransferSize,
				value: strconv.FormatInt(fileSize, 10),
			})
		}
	}

	return out
}
