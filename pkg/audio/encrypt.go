package audio

import "github.com/airlift/airplay2/pkg/hapcrypto"

// EncryptPayload AES-128-CBC-encrypts a codec payload under the session's
// `shk`/`aiv` keys for ALAC/AAC streams, per spec §4.7 stage 4. L16
// streams are never encrypted this way (callers should not call this for
// CodecL16).
func EncryptPayload(shk, aiv, payload []byte) ([]byte, error) {
	return hapcrypto.EncryptCBCTruncated(shk, aiv, payload)
}
