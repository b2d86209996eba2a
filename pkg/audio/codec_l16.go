package audio

import "encoding/binary"

// EncodeL16 serializes interleaved S16 samples as big-endian S16, per
// spec §4.7's "ct=1" codec (SDP `L16/44100/2`).
func EncodeL16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.BigEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
