package airplay2

import "crypto/rand"

// randomUint32 is used for SSRC and initial RTP sequence/timestamp values,
// which need unpredictability but not secrecy (spec §3).
func randomUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// randomBytes generates key material for shk/aiv (spec §3: "16-byte audio
// AES key shk and 16-byte IV aiv").
func randomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}
