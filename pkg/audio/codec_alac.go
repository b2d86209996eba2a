package audio

import "encoding/binary"

// ALACMagicCookie builds the 24-byte ALACSpecificConfig the SETUP(2)/SDP
// path advertises for `ct=2` streams (spec §4.7's "ALAC magic cookie
// fields").
func ALACMagicCookie(frameLength uint32, bitDepth, channels uint8, sampleRate uint32) []byte {
	cookie := make([]byte, 24)
	binary.BigEndian.PutUint32(cookie[0:4], frameLength)
	cookie[4] = 0 // compatibleVersion
	cookie[5] = bitDepth
	cookie[6] = 40 // pb: default rice parameter
	cookie[7] = 10 // mb: default rice modifier
	cookie[8] = 14 // kb: default rice initial history
	cookie[9] = channels
	binary.BigEndian.PutUint16(cookie[10:12], 255) // maxRun
	binary.BigEndian.PutUint32(cookie[12:16], 0)   // maxFrameBytes: unknown/unbounded
	binary.BigEndian.PutUint32(cookie[16:20], 0)   // avgBitRate: unknown
	binary.BigEndian.PutUint32(cookie[20:24], sampleRate)
	return cookie
}

// EncodeALACFrame wraps one 352-sample frame of interleaved S16 audio in
// ALAC's uncompressed ("escape") element mode: no linear prediction or
// Rice coding is applied, so every frame is itself lossless but not
// bit-rate-reduced. This is the simplification this sender makes over a
// full ALAC encoder (spec §4.7 only requires that ALAC-shaped frames are
// produced and decode back to the source); a 1-byte escape-mode tag
// precedes the big-endian S16 payload, which stays byte-aligned because
// the bit depth (16) is a multiple of 8.
func EncodeALACFrame(samples []int16) []byte {
	const escapeTag = 0x01
	out := make([]byte, 1+len(samples)*2)
	out[0] = escapeTag
	for i, s := range samples {
		binary.BigEndian.PutUint16(out[1+i*2:], uint16(s))
	}
	return out
}

// DecodeALACFrame reverses EncodeALACFrame, for round-trip tests.
func DecodeALACFrame(frame []byte) []int16 {
	if len(frame) < 1 {
		return nil
	}
	body := frame[1:]
	out := make([]int16, len(body)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(body[i*2:]))
	}
	return out
}
