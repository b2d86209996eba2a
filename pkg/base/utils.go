package base

import (
	"bufio"
	"fmt"
)

// Low-level byte-scanning helpers shared by Request.Read and Response.Read
// when parsing the control channel's RTSP-derived request/status lines.

func readByteEqual(rb *bufio.Reader, cmp byte) error {
	byt, err := rb.ReadByte()
	if err != nil {
		return err
	}

	if byt != cmp {
		return fmt.Errorf("expected '%c', got '%c'", cmp, byt)
	}

	return nil
}

// readBytesLimited reads up to and including delim, refusing to buffer more
// than n bytes; the caller supplies n per field (method, path, status
// message) so a malformed accessory response can't grow the read buffer
// without bound.
func readBytesLimited(rb *bufio.Reader, delim byte, n int) ([]byte, error) {
	for i := 1; i <= n; i++ {
		byts, err := rb.Peek(i)
		if err != nil {
			return nil, err
		}

		if byts[len(byts)-1] == delim {
			rb.Discard(len(byts)) //nolint:errcheck
			return byts, nil
		}
	}
	return nil, fmt.Errorf("buffer length exceeds %d", n)
}
