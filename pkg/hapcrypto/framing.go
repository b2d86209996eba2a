package hapcrypto

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// FrameCodec wraps/unwraps control-channel bodies with ChaCha20-Poly1305
// once pair-verify has published the control write/read keys (spec §4.4).
//
// The nonce is the per-direction frame counter (0, 1, 2, ...), never
// reused, encoded as a 96-bit nonce: 32-bit zero prefix || 64-bit
// little-endian counter. The 2-byte little-endian length prefix is the
// AEAD's additional authenticated data.
type FrameCodec struct {
	writeAEAD    cipherAEAD
	readAEAD     cipherAEAD
	writeCounter uint64
	readCounter  uint64
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	Overhead() int
}

// NewFrameCodec builds a FrameCodec from the two 32-byte control keys
// derived in pair-verify (Control-Write-Encryption-Key, Control-Read-
// Encryption-Key).
func NewFrameCodec(writeKey, readKey []byte) (*FrameCodec, error) {
	w, err := chacha20poly1305.New(writeKey)
	if err != nil {
		return nil, fmt.Errorf("hapcrypto: write AEAD: %w", err)
	}
	r, err := chacha20poly1305.New(readKey)
	if err != nil {
		return nil, fmt.Errorf("hapcrypto: read AEAD: %w", err)
	}
	return &FrameCodec{writeAEAD: w, readAEAD: r}, nil
}

func frameNonce(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// WrapBody encrypts body and returns the on-wire frame:
// len(u16 LE) || ciphertext || 16-byte tag, with len as AAD. The frame
// counter used is returned so callers/tests can assert monotonicity.
func (f *FrameCodec) WrapBody(body []byte) (frame []byte, counter uint64, err error) {
	if len(body) > 0xFFFF-f.writeAEAD.Overhead() {
		return nil, 0, fmt.Errorf("hapcrypto: body too large to frame")
	}

	counter = f.writeCounter
	nonce := frameNonce(counter)

	ciphertextLen := len(body) + f.writeAEAD.Overhead()
	var lenBytes [2]byte
	binary.LittleEndian.PutUint16(lenBytes[:], uint16(ciphertextLen))

	sealed := f.writeAEAD.Seal(nil, nonce, body, lenBytes[:])

	frame = make([]byte, 0, 2+len(sealed))
	frame = append(frame, lenBytes[:]...)
	frame = append(frame, sealed...)

	f.writeCounter++
	return frame, counter, nil
}

// UnwrapBody decrypts a single on-wire frame (without the outer
// Content-Length bookkeeping, which the RTSP layer already stripped).
func (f *FrameCodec) UnwrapBody(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("hapcrypto: frame shorter than length prefix")
	}
	lenBytes := frame[:2]
	ciphertextLen := binary.LittleEndian.Uint16(lenBytes)
	if len(frame) != 2+int(ciphertextLen) {
		return nil, fmt.Errorf("hapcrypto: frame length mismatch")
	}

	nonce := frameNonce(f.readCounter)
	plain, err := f.readAEAD.Open(nil, nonce, frame[2:], lenBytes)
	if err != nil {
		return nil, ErrAeadTagInvalid{}
	}
	f.readCounter++
	return plain, nil
}

// ErrAeadTagInvalid mirrors liberrors.ErrAeadTagInvalid without importing
// the root module (which imports this package), so the session layer can
// wrap it into the public error taxonomy.
type ErrAeadTagInvalid struct{}

func (e ErrAeadTagInvalid) Error() string { return "AEAD tag invalid" }
