package hapcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// NewCurve25519KeyPair generates an ephemeral Curve25519 keypair for
// pair-verify's ECDH exchange.
func NewCurve25519KeyPair() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("hapcrypto: generating curve25519 key: %w", err)
	}
	// clamp per RFC 7748
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("hapcrypto: deriving curve25519 public key: %w", err)
	}
	copy(pub[:], pubSlice)
	return priv, pub, nil
}

// SharedSecret computes the Curve25519 ECDH shared secret Z = priv * peerPub.
func SharedSecret(priv, peerPub [32]byte) ([]byte, error) {
	z, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return nil, fmt.Errorf("hapcrypto: computing shared secret: %w", err)
	}
	return z, nil
}

// NewEd25519Identity generates a new long-term Ed25519 identity for a
// controller (used by standard pair-setup, and persisted by pkg/pairstore).
func NewEd25519Identity() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}
