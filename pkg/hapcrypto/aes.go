package hapcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// EncryptCBCTruncated encrypts data with AES-128-CBC under key/iv, rounding
// the input length down to the nearest 16-byte boundary and leaving the
// trailing partial block in plaintext, per the AirPlay media-payload
// convention (spec §3/§4.7).
func EncryptCBCTruncated(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("hapcrypto: aes-cbc: %w", err)
	}

	full := len(data) - (len(data) % aes.BlockSize)
	out := make([]byte, len(data))
	copy(out, data)

	if full > 0 {
		mode := cipher.NewCBCEncrypter(block, iv)
		mode.CryptBlocks(out[:full], data[:full])
	}

	return out, nil
}

// NewCTRStream builds an AES-128-CTR stream cipher for the legacy RAOP
// payload path.
func NewCTRStream(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("hapcrypto: aes-ctr: %w", err)
	}
	return cipher.NewCTR(block, iv), nil
}
