package tftpd

import "bytes"

// putUint16/decodeUint16 mirror the teacher's encodeUInt16/decodeUInt16
// (lfkeitel-tftp-go/utils.go) but operate on a caller-supplied slice so
// callers can build a packet in one allocation instead of appending.
func putUint16(dst []byte, v uint16) {
	dst[0] = byte(v >> 8)
	dst[1] = byte(v)
}

func decodeUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// rrq is a decoded read request: filename, mode as sent (newSession
// lower-cases it), and the option name/value pairs that followed it on
// the wire, in arrival order.
type rrq struct {
	filename string
	mode     string
	options  []optionPair
}

type optionPair struct {
	name  string
	value string
}

// decodeRRQ parses the payload of an RRQ packet (after the 2-byte
// opcode). Per spec.md §4.1: filename NUL mode NUL (optname NUL optval NUL)*.
func decodeRRQ(payload []byte) (*rrq, error) {
	fields, err := splitNulTerminated(payload)
	if err != nil {
		return nil, err
	}
	if len(fields) < 2 {
		return nil, newFailure(FailureMalformed, errUndefined, "RRQ missing filename or mode")
	}

	req := &rrq{
		filename: string(fields[0]),
		mode:     string(fields[1]),
	}

	rest := fields[2:]
	for i := 0; i+1 < len(rest); i += 2 {
		req.options = append(req.options, optionPair{
			name:  string(rest[i]),
			value: string(rest[i+1]),
		})
	}

	return req, nil
}

// splitNulTerminated splits a byte slice into NUL-terminated fields. Per
// spec.md §4.1 every string field must end in a NUL; a payload that does
// not end in one (a missing terminator on the trailing field) is
// Malformed rather than silently treated as a complete field.
func splitNulTerminated(b []byte) ([][]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if b[len(b)-1] != 0 {
		return nil, newFailure(FailureMalformed, errUndefined, "missing NUL terminator in string field")
	}
	return bytes.Split(b[:len(b)-1], []byte{0}), nil
}

// decodedPacket is the union of everything the dispatcher/session need
// to know about an inbound datagram after decoding.
type decodedPacket struct {
	op        opCode
	rrq       *rrq
	blockNr   uint16
	errorCode errorCode
	errorMsg  string
	data      []byte
}

// decodePacket decodes a raw UDP datagram per spec.md §4.1. It returns
// FailureMalformed for anything shorter than 4 bytes on DATA/ACK/ERROR,
// a missing terminator on a string field, or an opcode outside 1..6.
func decodePacket(raw []byte) (*decodedPacket, error) {
	if len(raw) < 2 {
		return nil, newFailure(FailureMalformed, errUndefined, "datagram shorter than opcode")
	}

	op := opCode(decodeUint16(raw[:2]))
	body := raw[2:]

	switch op {
	case opRRQ:
		req, err := decodeRRQ(body)
		if err != nil {
			return nil, err
		}
		return &decodedPacket{op: op, rrq: req}, nil

	case opWRQ:
		return &decodedPacket{op: op}, nil

	case opDATA:
		if len(body) < 2 {
			return nil, newFailure(FailureMalformed, errUndefined, "DATA shorter than block header")
		}
		return &decodedPacket{op: op, blockNr: decodeUint16(body[:2]), data: body[2:]}, nil

	case opACK:
		if len(body) < 2 {
			return nil, newFailure(FailureMalformed, errUndefined, "ACK shorter than block header")
		}
		return &decodedPacket{op: op, blockNr: decodeUint16(body[:2])}, nil

	case opERROR:
		if len(body) < 2 {
			return nil, newFailure(FailureMalformed, errUndefined, "ERROR shorter than code header")
		}
		code := errorCode(decodeUint16(body[:2]))
		msg := ""
		if len(body) > 2 {
			fields, err := splitNulTerminated(body[2:])
			if err != nil {
				return nil, err
			}
			if len(fields) > 0 {
				msg = string(fields[0])
			}
		}
		return &decodedPacket{op: op, errorCode: code, errorMsg: msg}, nil

	case opOACK:
		fields, err := splitNulTerminated(body)
		if err != nil {
			return nil, err
		}
		req := &rrq{}
		for i := 0; i+1 < len(fields); i += 2 {
			req.options = append(req.options, optionPair{name: string(fields[i]), value: string(fields[i+1])})
		}
		return &decodedPacket{op: op, rrq: req}, nil

	default:
		return nil, newFailure(FailureMalformed, errUndefined, "unknown opcode")
	}
}

// encodeDATA builds a DATA packet: opcode(3), 2-byte block number, payload.
func encodeDATA(blockNr uint16, payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	putUint16(out[0:2], uint16(opDATA))
	putUint16(out[2:4], blockNr)
	copy(out[4:], payload)
	return out
}

// encodeACK builds an ACK packet: opcode(4), 2-byte block number.
func encodeACK(blockNr uint16) []byte {
	out := make([]byte, 4)
	putUint16(out[0:2], uint16(opACK))
	putUint16(out[2:4], blockNr)
	return out
}

// encodeOACK builds an OACK packet from an ordered list of accepted
// option pairs. Order is preserved (not a map) so retransmissions are
// byte-identical, per invariant 4 of spec.md §3.
func encodeOACK(accepted []optionPair) []byte {
	size := 2
	for _, p := range accepted {
		size += len(p.name) + 1 + len(p.value) + 1
	}
	out := make([]byte, 2, size)
	putUint16(out[0:2], uint16(opOACK))
	for _, p := range accepted {
		out = append(out, p.name...)
		out = append(out, 0)
		out = append(out, p.value...)
		out = append(out, 0)
	}
	return out
}
