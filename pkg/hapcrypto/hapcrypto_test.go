package hapcrypto

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHKDFLabelsAreStable(t *testing.T) {
	ikm := bytes.Repeat([]byte{0x11}, 64)

	a, err := HKDFExpand(ikm, SaltControl, InfoControlWrite, 32)
	require.NoError(t, err)
	b, err := HKDFExpand(ikm, SaltControl, InfoControlWrite, 32)
	require.NoError(t, err)
	require.Equal(t, a, b, "same ikm/salt/info must be deterministic")

	c, err := HKDFExpand(ikm, SaltControl, InfoControlRead, 32)
	require.NoError(t, err)
	require.NotEqual(t, a, c, "different info must yield different keys")
	require.Len(t, a, 32)
}

func TestCurve25519ECDHAgrees(t *testing.T) {
	aPriv, aPub, err := NewCurve25519KeyPair()
	require.NoError(t, err)
	bPriv, bPub, err := NewCurve25519KeyPair()
	require.NoError(t, err)

	s1, err := SharedSecret(aPriv, bPub)
	require.NoError(t, err)
	s2, err := SharedSecret(bPriv, aPub)
	require.NoError(t, err)
	require.Equal(t, s1, s2)
}

func TestEd25519SignVerify(t *testing.T) {
	pub, priv, err := NewEd25519Identity()
	require.NoError(t, err)

	msg := []byte("transcript")
	sig := ed25519.Sign(priv, msg)
	require.True(t, ed25519.Verify(pub, msg, sig))
}

func TestFrameCodecNonceMonotonic(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 32)
	codec, err := NewFrameCodec(key, key)
	require.NoError(t, err)

	seen := map[uint64]bool{}
	for i := 0; i < 5; i++ {
		frame, counter, err := codec.WrapBody([]byte("hello"))
		require.NoError(t, err)
		require.False(t, seen[counter], "nonce counter reused")
		seen[counter] = true
		require.Equal(t, uint64(i), counter)

		peer, err := NewFrameCodec(key, key)
		require.NoError(t, err)
		peer.readCounter = counter
		plain, err := peer.UnwrapBody(frame)
		require.NoError(t, err)
		require.Equal(t, []byte("hello"), plain)
	}
}

func TestFrameCodecTagInvalid(t *testing.T) {
	key := bytes.Repeat([]byte{0x02}, 32)
	codec, err := NewFrameCodec(key, key)
	require.NoError(t, err)

	frame, _, err := codec.WrapBody([]byte("data"))
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF

	_, err = codec.UnwrapBody(frame)
	require.Error(t, err)
	require.ErrorAs(t, err, &ErrAeadTagInvalid{})
}

func TestEncryptCBCTruncatedLeavesPartialBlockPlain(t *testing.T) {
	key := bytes.Repeat([]byte{0x03}, 16)
	iv := bytes.Repeat([]byte{0x04}, 16)
	data := bytes.Repeat([]byte{0xAB}, 35) // 2 full blocks + 3 trailing bytes

	out, err := EncryptCBCTruncated(key, iv, data)
	require.NoError(t, err)
	require.Len(t, out, 35)
	require.Equal(t, data[32:], out[32:], "trailing <16B must stay plaintext")
	require.NotEqual(t, data[:32], out[:32], "full blocks must be encrypted")
}

func TestTLV8RoundTrip(t *testing.T) {
	items := TLV8{
		TLVTypeIdentifier: []byte("accessory-id"),
		TLVTypePublicKey:  bytes.Repeat([]byte{0x09}, 32),
	}
	enc := EncodeTLV8([]byte{TLVTypeIdentifier, TLVTypePublicKey}, items)

	dec, err := DecodeTLV8(enc)
	require.NoError(t, err)
	require.Equal(t, []byte("accessory-id"), []byte(dec[TLVTypeIdentifier]))
	require.Equal(t, items[TLVTypePublicKey], []byte(dec[TLVTypePublicKey]))
}

func TestTLV8ChunksLongValues(t *testing.T) {
	long := bytes.Repeat([]byte{0x7A}, 300)
	enc := EncodeTLV8([]byte{TLVTypeSignature}, TLV8{TLVTypeSignature: long})

	dec, err := DecodeTLV8(enc)
	require.NoError(t, err)
	require.Equal(t, long, []byte(dec[TLVTypeSignature]))
}
