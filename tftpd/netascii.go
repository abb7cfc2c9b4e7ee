package tftpd

import (
	"bytes"
)

// netasciiExpand translates a raw octet-mode byte stream into NetASCII
// per spec.md §4.2: each CR (0x0D) becomes CR NUL, each LF (0x0A) becomes
// CR LF, everything else passes through. Each byte is translated on its
// own, so a CR LF pair in the source becomes CR NUL CR LF. CRs are
// replaced first so the CRs added for LFs are not translated again.
func netasciiExpand(src []byte) []byte {
	out := bytes.ReplaceAll(src, []byte{'\r'}, []byte{'\r', 0})
	return bytes.ReplaceAll(out, []byte{'\n'}, []byte{'\r', '\n'})
}

// netasciiOverflow splits an expanded block at blockSize, returning the
// bytes to send now and the surplus to carry into the head of the next
// block. The surplus is raw expanded bytes: it must never be passed
// through netasciiExpand again (invariant 5 of spec.md §3).
func netasciiOverflow(expanded []byte, blockSize int) (block, overflow []byte) {
	if len(expanded) <= blockSize {
		return expanded, nil
	}
	return expanded[:blockSize], append([]byte(nil), expanded[blockSize:]...)
}
