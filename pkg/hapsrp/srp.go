// Package hapsrp implements the client side of SRP-6a (RFC 5054, 3072-bit
// group 3, SHA-512) as used by HomeKit-style pair-setup.
//
// No SRP library appears in the example pack, and a generic one would not
// help here regardless: AirPlay's accessories require the "minimal-byte"
// padding quirk on A/B when computing M1 (spec §4.2), which is exactly the
// kind of byte-level control a general SRP client hides behind its own API.
// This is hand-rolled on math/big + crypto/sha512 per spec §4.2/§8.
package hapsrp

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"math/big"
)

// N is the RFC 5054 3072-bit safe prime (group 3).
var N, _ = new(big.Int).SetString(""+
	"FFFFFFFFFFFFFFFFADF85458A2BB4A9AAFDC5620273D3CF1D8B9C583CE2D3695A9E13641146433FBCC939DCE249B3EF97D2FE363630C75D8F681B202AEC4617AD3DF1ED5D5FD65612433F51F5F066ED0856365553DED1AF3B557135E7F57C935984F0C70E0E68B77E2A689DAF3EFE8721DF158A136ADE73530ACCA4F483A797ABC0AB182B324FB61D108A94BB2C8E3FBB96ADAB760D7F4681D4F42A3DE394DF4AE56EDE76372BB190B07A7C8EE0A6D709E02FCE1CDF7E2ECC03404CD28342F619172FE9CE98583FF8E4F1232EEF28183C3FE3B1B4C6FAD733BB5FCBC2EC22005C58EF1837D1683B2C6F34A26C1B2EFFA886B4238611FCFDCDE355B3B6519035BBC34F4DEF99C023861B46FC9D6E6C9077AD91D2691F7F7EE598CB0FAC186D91CAEFE130985139270B4130C93BC437944F4FD4452E2D74DD364F2E21E71F54BFF5CAE82AB9C9DF69EE86D2BC522363A0DABC521979B0DEADA1DBF9A42D5C4484E0ABCD06BFA53DDEF3C1B20EE3FD59D7C25E41D2B66C62E37FFFFFFFFFFFFFFFF",
	16)

// g is the RFC 5054 group 3 generator.
var g = big.NewInt(2)

// k = H(N || PAD(g)) with SHA-512, N's byte length as the pad width.
func computeK() []byte {
	h := sha512.New()
	h.Write(N.Bytes())
	h.Write(padLeft(g.Bytes(), len(N.Bytes())))
	return h.Sum(nil)
}

func padLeft(b []byte, width int) []byte {
	if len(b) >= width {
		return b
	}
	out := make([]byte, width)
	copy(out[width-len(b):], b)
	return out
}

// Client drives the SRP-6a client side of pair-setup for a single PIN
// exchange. All inputs/outputs are raw big-endian byte slices matching
// the plist fields exchanged over the control channel.
type Client struct {
	username string
	password string

	a    *big.Int // private ephemeral
	A    *big.Int // public ephemeral
	b3   *big.Int // B received from accessory
	salt []byte

	K []byte // session key, H(S)
}

// NewClient allocates a Client for the given identity/PIN. username is
// fixed to "Pair-Setup" by the HAP convention the spec follows.
func NewClient(username, password string) *Client {
	return &Client{username: username, password: password}
}

// Start generates the client's ephemeral keypair (a, A) given the
// accessory's salt, and returns A's minimal big-endian encoding.
func (c *Client) Start(salt []byte) ([]byte, error) {
	c.salt = salt

	a, err := rand.Int(rand.Reader, N)
	if err != nil {
		return nil, fmt.Errorf("hapsrp: generating a: %w", err)
	}
	if a.Sign() == 0 {
		a = big.NewInt(1)
	}
	c.a = a
	c.A = new(big.Int).Exp(g, a, N)

	return c.A.Bytes(), nil
}

// x = H(salt || H(username ':' password)), both hashes SHA-512.
func (c *Client) computeX() *big.Int {
	inner := sha512.Sum512([]byte(c.username + ":" + c.password))
	h := sha512.New()
	h.Write(c.salt)
	h.Write(inner[:])
	return new(big.Int).SetBytes(h.Sum(nil))
}

// ComputeProof finishes the exchange given the accessory's public value B,
// returning the client proof M1 (minimal-byte A/B per the AirPlay quirk).
func (c *Client) ComputeProof(bBytes []byte) ([]byte, error) {
	B := new(big.Int).SetBytes(bBytes)
	if B.Sign() == 0 || new(big.Int).Mod(B, N).Sign() == 0 {
		return nil, fmt.Errorf("hapsrp: B is a degenerate value")
	}
	c.b3 = B

	u := uHash(c.A.Bytes(), B.Bytes())
	if u.Sign() == 0 {
		return nil, fmt.Errorf("hapsrp: u is zero")
	}

	x := c.computeX()
	k := new(big.Int).SetBytes(computeK())

	// S = (B - k*g^x)^(a + u*x) mod N
	gx := new(big.Int).Exp(g, x, N)
	kgx := new(big.Int).Mod(new(big.Int).Mul(k, gx), N)
	base := new(big.Int).Mod(new(big.Int).Sub(B, kgx), N)
	exp := new(big.Int).Add(c.a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(base, exp, N)

	Ksum := sha512.Sum512(S.Bytes())
	c.K = Ksum[:]

	return c.computeM1(), nil
}

func uHash(aBytes, bBytes []byte) *big.Int {
	h := sha512.New()
	h.Write(aBytes)
	h.Write(bBytes)
	return new(big.Int).SetBytes(h.Sum(nil))
}

// computeM1 follows spec §4.2: minimal-byte A/B, not zero-padded to N's
// width. Zero-padding them (the plain-RFC-5054 way) yields a different M1
// that the accessory will reject.
func (c *Client) computeM1() []byte {
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
	h.Write(c.A.Bytes())
	h.Write(c.b3.Bytes())
	h.Write(c.K)
	return h.Sum(nil)
}

// VerifyM2 checks the accessory's proof M2 = H(A || M1 || K).
func (c *Client) VerifyM2(m1, m2 []byte) bool {
	h := sha512.New()
	h.Write(c.A.Bytes())
	h.Write(m1)
	h.Write(c.K)
	expected := h.Sum(nil)
	if len(expected) != len(m2) {
		return false
	}
	var diff byte
	for i := range expected {
		diff |= expected[i] ^ m2[i]
	}
	return diff == 0
}

// SessionKey returns K = H(S), the shared 64-byte SRP session key used as
// HKDF input material for EncryptionKey derivation.
func (c *Client) SessionKey() []byte {
	return c.K
}
