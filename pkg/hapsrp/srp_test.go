package hapsrp

import (
	"crypto/sha512"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFullExchangeAgrees simulates both sides of SRP-6a using the same
// group/hash as the client, and checks the client accepts the resulting M2.
func TestFullExchangeAgrees(t *testing.T) {
	salt := []byte("some-salt-bytes-01234567")
	username, password := "Pair-Setup", "3939"

	// accessory side (ad hoc, mirrors the client's math for the test only)
	x := func() *big.Int {
		inner := sha512.Sum512([]byte(username + ":" + password))
		h := sha512.New()
		h.Write(salt)
		h.Write(inner[:])
		return new(big.Int).SetBytes(h.Sum(nil))
	}()
	v := new(big.Int).Exp(g, x, N)

	b, err := randInt()
	require.NoError(t, err)
	k := new(big.Int).SetBytes(computeK())
	B := new(big.Int).Mod(new(big.Int).Add(new(big.Int).Mul(k, v), new(big.Int).Exp(g, b, N)), N)

	c := NewClient(username, password)
	aBytes, err := c.Start(salt)
	require.NoError(t, err)
	require.NotEmpty(t, aBytes)

	u := uHash(c.A.Bytes(), B.Bytes())
	S := new(big.Int).Exp(
		new(big.Int).Mul(c.A, new(big.Int).Exp(v, u, N)),
		b, N,
	)
	accessoryK := sha512.Sum512(S.Bytes())

	m1, err := c.ComputeProof(B.Bytes())
	require.NoError(t, err)
	require.Equal(t, accessoryK[:], c.SessionKey())

	// accessory computes M2 = H(A || M1 || K)
	h := sha512.New()
	h.Write(c.A.Bytes())
	h.Write(m1)
	h.Write(accessoryK[:])
	m2 := h.Sum(nil)

	require.True(t, c.VerifyM2(m1, m2))
	require.False(t, c.VerifyM2(m1, append([]byte{0}, m2[1:]...)))
}

// TestM1MinimalByteQuirk asserts spec §4.2/§8: M1 computed with minimal-byte
// A/B differs from M1 computed with A/B zero-padded to N's 384-byte width,
// and the client must use the minimal-byte form.
func TestM1MinimalByteQuirk(t *testing.T) {
	c := &Client{
		username: "Pair-Setup",
		password: "3939",
		salt:     []byte("salt"),
		A:        big.NewInt(12345),
		b3:       big.NewInt(67890),
		K:        make([]byte, sha512.Size),
	}

	minimalM1 := c.computeM1()

	paddedA := padLeft(c.A.Bytes(), 384)
	paddedB := padLeft(c.b3.Bytes(), 384)

	hN := sha512.Sum512(N.Bytes())
	hg := sha512.Sum512(g.Bytes())
	xored := make([]byte, sha512.Size)
	for i := range xored {
		xored[i] = hN[i] ^ hg[i]
	}
	hUser := sha512.Sum512([]byte(c.username))

	h := sha512.New()
	h.Write(xored)
	h.Write(hUser[:])
	h.Write(c.salt)
	h.Write(paddedA)
	h.Write(paddedB)
	h.Write(c.K)
	paddedM1 := h.Sum(nil)

	require.NotEqual(t, minimalM1, paddedM1, "minimal-byte and zero-padded M1 must differ")
	require.Len(t, minimalM1, sha512.Size)
}

func randInt() (*big.Int, error) {
	c := NewClient("x", "y")
	_, err := c.Start([]byte("s"))
	if err != nil {
		return nil, err
	}
	return c.a, nil
}
