package tftpd

import (
	"strings"
	"testing"
)

func TestEncodeErrorRoundTrip(t *testing.T) {
	raw := encodeError(errFileNotFound, "File not found")
	pkt, err := decodePacket(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkt.errorCode != errFileNotFound {
		t.Errorf("expected error code %d, got %d", errFileNotFound, pkt.errorCode)
	}
	if pkt.errorMsg != "File not found" {
		t.Errorf("expected message %q, got %q", "File not found", pkt.errorMsg)
	}
	if raw[len(raw)-1] != 0 {
		t.Errorf("expected NUL terminator, got %d", raw[len(raw)-1])
	}
}

func TestSessionErrorMessage(t *testing.T) {
	err := newFailure(FailureFileNotFound, errFileNotFound, "File not found")
	if !strings.Contains(err.Error(), "FileNotFound") {
		t.Errorf("expected error message to mention its kind, got %q", err.Error())
	}
}

func TestFailureKindString(t *testing.T) {
	cases := map[FailureKind]string{
		FailureMalformed:       "Malformed",
		FailureBadTransferMode: "BadTransferMode",
		FailureRetryExhausted:  "RetryExhausted",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("FailureKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
