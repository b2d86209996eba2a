package audio

import (
	"encoding/binary"
	"fmt"
)

// maxAACAccessUnitSize bounds how much a single Pipeline.RunOnce read
// will ask an AAC SampleSource for; real AAC-LC access units at typical
// bitrates stay well under this.
const maxAACAccessUnitSize = 5 * 1024

// EncodeAACAUHeader prepends the RFC 3640 AU-header this sender uses for
// AAC-LC (`ct=4`, spec §4.7): a fixed `0x00 0x10` (16 bits of AU-headers
// follow) then a 13-bit payload size plus a 3-bit zero AU-Index, adapted
// from the equivalent RTP/AAC encoder's header construction.
func EncodeAACAUHeader(accessUnit []byte) ([]byte, error) {
	if len(accessUnit) >= 1<<13 {
		return nil, fmt.Errorf("audio: AAC access unit too large for a 13-bit AU-header (%d bytes)", len(accessUnit))
	}

	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, uint16(len(accessUnit))<<3)

	out := make([]byte, 0, 4+len(accessUnit))
	out = append(out, 0x00, 0x10)
	out = append(out, header...)
	out = append(out, accessUnit...)
	return out, nil
}

// DecodeAACAUHeader strips the 4-byte AU-header and returns the access
// unit plus the length it declared, for tests asserting the boundary
// case in spec §8 ("an access unit of 382 bytes...").
func DecodeAACAUHeader(payload []byte) (accessUnit []byte, declaredLen int, err error) {
	if len(payload) < 4 {
		return nil, 0, fmt.Errorf("audio: AAC payload shorter than AU-header")
	}
	sizeBits := binary.BigEndian.Uint16(payload[2:4])
	declaredLen = int(sizeBits >> 3)
	if 4+declaredLen > len(payload) {
		return nil, 0, fmt.Errorf("audio: AAC AU-header declares %d bytes, payload has %d", declaredLen, len(payload)-4)
	}
	return payload[4 : 4+declaredLen], declaredLen, nil
}
