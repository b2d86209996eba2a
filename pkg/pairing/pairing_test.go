package pairing_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"math/big"
	"testing"

	"github.com/airlift/airplay2/pkg/bplist"
	"github.com/airlift/airplay2/pkg/hapcrypto"
	"github.com/airlift/airplay2/pkg/liberrors"
	"github.com/airlift/airplay2/pkg/pairing"
	"github.com/airlift/airplay2/pkg/pairstore"
	"github.com/stretchr/testify/require"
)

// srpN/srpG duplicate the RFC 5054 group-3 constants from pkg/hapsrp so
// this fake accessory can play the server side of the exchange without
// reaching into that package's unexported state.
var srpN, _ = new(big.Int).SetString(""+
	"FFFFFFFFFFFFFFFFADF85458A2BB4A9AAFDC5620273D3CF1D8B9C583CE2D3695A9E13641146433FBCC939DCE249B3EF97D2FE363630C75D8F681B202AEC4617AD3DF1ED5D5FD65612433F51F5F066ED0856365553DED1AF3B557135E7F57C935984F0C70E0E68B77E2A689DAF3EFE8721DF158A136ADE73530ACCA4F483A797ABC0AB182B324FB61D108A94BB2C8E3FBB96ADAB760D7F4681D4F42A3DE394DF4AE56EDE76372BB190B07A7C8EE0A6D709E02FCE1CDF7E2ECC03404CD28342F619172FE9CE98583FF8E4F1232EEF28183C3FE3B1B4C6FAD733BB5FCBC2EC22005C58EF1837D1683B2C6F34A26C1B2EFFA886B4238611FCFDCDE355B3B6519035BBC34F4DEF99C023861B46FC9D6E6C9077AD91D2691F7F7EE598CB0FAC186D91CAEFE130985139270B4130C93BC437944F4FD4452E2D74DD364F2E21E71F54BFF5CAE82AB9C9DF69EE86D2BC522363A0DABC521979B0DEADA1DBF9A42D5C4484E0ABCD06BFA53DDEF3C1B20EE3FD59D7C25E41D2B66C62E37FFFFFFFFFFFFFFFF",
	16)
var srpG = big.NewInt(2)

func srpK() []byte {
	h := sha512.New()
	h.Write(srpN.Bytes())
	pad := make([]byte, len(srpN.Bytes()))
	gb := srpG.Bytes()
	copy(pad[len(pad)-len(gb):], gb)
	h.Write(pad)
	return h.Sum(nil)
}

// fakeAccessory plays the server side of both pair-setup and pair-verify
// against pkg/pairing's client-side engine.
type fakeAccessory struct {
	pin string

	salt []byte
	x    *big.Int
	b    *big.Int
	B    *big.Int
	A    *big.Int
	K    []byte

	accessoryID    string
	accessoryLTPK  ed25519.PublicKey
	accessoryLTSK  ed25519.PrivateKey
	controllerLTPK ed25519.PublicKey
	controllerID   string

	verifyCodec    *hapcrypto.FrameCodec
	verifyShared   []byte
	clientVerifyPk []byte
}

func newFakeAccessory(pin, accessoryID string) *fakeAccessory {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return &fakeAccessory{pin: pin, accessoryID: accessoryID, accessoryLTPK: pub, accessoryLTSK: priv}
}

func (f *fakeAccessory) PostPlist(path string, body *bplist.Dict) (*bplist.Dict, error) {
	switch path {
	case "/pair-setup":
		return f.pairSetup(body)
	case "/pair-verify":
		return f.pairVerify(body)
	}
	panic("unexpected path " + path)
}

func (f *fakeAccessory) pairSetup(body *bplist.Dict) (*bplist.Dict, error) {
	state, _ := body.GetInt("state")
	switch state {
	case 1:
		f.salt = make([]byte, 16)
		_, _ = rand.Read(f.salt)

		inner := sha512.Sum512([]byte("Pair-Setup:" + f.pin))
		h := sha512.New()
		h.Write(f.salt)
		h.Write(inner[:])
		f.x = new(big.Int).SetBytes(h.Sum(nil))

		v := new(big.Int).Exp(srpG, f.x, srpN)
		f.b = new(big.Int).SetBytes(mustRandBytes(32))
		k := new(big.Int).SetBytes(srpK())
		f.B = new(big.Int).Mod(new(big.Int).Add(new(big.Int).Mul(k, v), new(big.Int).Exp(srpG, f.b, srpN)), srpN)

		return bplist.NewDict().Set("salt", f.salt).Set("pk", f.B.Bytes()), nil

	case 3:
		aBytes, _ := body.GetData("pk")
		proof, _ := body.GetData("proof")
		f.A = new(big.Int).SetBytes(aBytes)

		u := uHashFor(f.A.Bytes(), f.B.Bytes())
		v := new(big.Int).Exp(srpG, f.x, srpN)
		S := new(big.Int).Exp(
			new(big.Int).Mul(f.A, new(big.Int).Exp(v, u, srpN)),
			f.b, srpN,
		)
		kSum := sha512.Sum512(S.Bytes())
		f.K = kSum[:]

		hN := sha512.Sum512(srpN.Bytes())
		hg := sha512.Sum512(srpG.Bytes())
		xored := make([]byte, sha512.Size)
		for i := range xored {
			xored[i] = hN[i] ^ hg[i]
		}
		hUser := sha512.Sum512([]byte("Pair-Setup"))
		h := sha512.New()
		h.Write(xored)
		h.Write(hUser[:])
		h.Write(f.salt)
		h.Write(f.A.Bytes())
		h.Write(f.B.Bytes())
		h.Write(f.K)
		expectedM1 := h.Sum(nil)

		if string(expectedM1) != string(proof) {
			return nil, liberrors.ErrRTSP{Status: 401, Method: "POST", CSeq: 0}
		}

		h2 := sha512.New()
		h2.Write(f.A.Bytes())
		h2.Write(proof)
		h2.Write(f.K)
		m2 := h2.Sum(nil)

		return bplist.NewDict().Set("state", int64(4)).Set("proof", m2), nil

	case 5:
		encData, _ := body.GetData("encryptedData")
		tlv, err := hapcrypto.DecodeTLV8(encData)
		if err != nil {
			return nil, err
		}
		f.controllerID = string(tlv[hapcrypto.TLVTypeIdentifier])
		f.controllerLTPK = ed25519.PublicKey(tlv[hapcrypto.TLVTypePublicKey])

		controllerX, _ := hapcrypto.HKDFExpand(f.K, hapcrypto.SaltPairSetupSign, hapcrypto.InfoPairSetupSign, 32)
		signed := append(append([]byte{}, controllerX...), append([]byte(f.controllerID), f.controllerLTPK...)...)
		if !ed25519.Verify(f.controllerLTPK, signed, tlv[hapcrypto.TLVTypeSignature]) {
			return nil, liberrors.ErrSignatureInvalid{Who: "controller"}
		}

		accessoryX, _ := hapcrypto.HKDFExpand(f.K, "Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info", 32)
		accSigned := append(append([]byte{}, accessoryX...), append([]byte(f.accessoryID), f.accessoryLTPK...)...)
		accSig := ed25519.Sign(f.accessoryLTSK, accSigned)

		respTLV := hapcrypto.EncodeTLV8(
			[]byte{hapcrypto.TLVTypeIdentifier, hapcrypto.TLVTypePublicKey, hapcrypto.TLVTypeSignature},
			hapcrypto.TLV8{
				hapcrypto.TLVTypeIdentifier: []byte(f.accessoryID),
				hapcrypto.TLVTypePublicKey:  f.accessoryLTPK,
				hapcrypto.TLVTypeSignature:  accSig,
			},
		)
		return bplist.NewDict().Set("state", int64(6)).Set("encryptedData", respTLV), nil
	}
	panic("unexpected pair-setup state")
}

func (f *fakeAccessory) pairVerify(body *bplist.Dict) (*bplist.Dict, error) {
	state, _ := body.GetInt("state")
	switch state {
	case 1:
		cPub, _ := body.GetData("publicKey")
		f.clientVerifyPk = cPub

		aPriv, aPub, err := hapcrypto.NewCurve25519KeyPair()
		if err != nil {
			return nil, err
		}
		var cPubArr [32]byte
		copy(cPubArr[:], cPub)
		shared, err := hapcrypto.SharedSecret(aPriv, cPubArr)
		if err != nil {
			return nil, err
		}
		f.verifyShared = shared

		verifyKey, err := hapcrypto.HKDFExpand(shared, hapcrypto.SaltPairVerifyEncrypt, hapcrypto.InfoPairVerifyEncrypt, 32)
		if err != nil {
			return nil, err
		}
		codec, err := hapcrypto.NewFrameCodec(verifyKey, verifyKey)
		if err != nil {
			return nil, err
		}
		f.verifyCodec = codec

		transcript := append(append([]byte{}, aPub[:]...), append([]byte(f.accessoryID), cPub...)...)
		sig := ed25519.Sign(f.accessoryLTSK, transcript)

		tlv := hapcrypto.EncodeTLV8(
			[]byte{hapcrypto.TLVTypeIdentifier, hapcrypto.TLVTypeSignature},
			hapcrypto.TLV8{
				hapcrypto.TLVTypeIdentifier: []byte(f.accessoryID),
				hapcrypto.TLVTypeSignature:  sig,
			},
		)
		frame, _, err := codec.WrapBody(tlv)
		if err != nil {
			return nil, err
		}

		return bplist.NewDict().Set("publicKey", aPub[:]).Set("encryptedData", frame), nil

	case 3:
		encData, _ := body.GetData("encryptedData")
		plain, err := f.verifyCodec.UnwrapBody(encData)
		if err != nil {
			return nil, err
		}
		tlv, err := hapcrypto.DecodeTLV8(plain)
		if err != nil {
			return nil, err
		}
		if string(tlv[hapcrypto.TLVTypeIdentifier]) != f.controllerID {
			return nil, liberrors.ErrUnexpectedResponse{Reason: "controller id mismatch"}
		}
		return bplist.NewDict().Set("state", int64(4)), nil
	}
	panic("unexpected pair-verify state")
}

func uHashFor(a, b []byte) *big.Int {
	h := sha512.New()
	h.Write(a)
	h.Write(b)
	return new(big.Int).SetBytes(h.Sum(nil))
}

func mustRandBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

func TestTransientPairSetupRoundTrip(t *testing.T) {
	acc := newFakeAccessory("3939", "AA:BB:CC:DD:EE:FF")
	res, err := pairing.TransientPairSetup(acc, "3939")
	require.NoError(t, err)
	require.Len(t, res.EncryptionKey, 32)
}

func TestTransientPairSetupWrongPIN(t *testing.T) {
	acc := newFakeAccessory("3939", "AA:BB:CC:DD:EE:FF")
	_, err := pairing.TransientPairSetup(acc, "0000")
	require.Error(t, err)
	require.ErrorAs(t, err, &liberrors.ErrPinRejected{})
}

func TestStandardPairSetupAndPairVerifyRoundTrip(t *testing.T) {
	acc := newFakeAccessory("1234", "AA:BB:CC:DD:EE:FF")
	rec, res, err := pairing.StandardPairSetup(acc, "1234", "AA:BB:CC:DD:EE:FF", "11111111-2222-3333-4444-555555555555")
	require.NoError(t, err)
	require.Len(t, res.EncryptionKey, 32)
	require.Equal(t, "AA:BB:CC:DD:EE:FF", rec.AccessoryID)
	require.Equal(t, acc.accessoryLTPK, ed25519.PublicKey(rec.AccessoryLTPK))

	verifyRes, err := pairing.PairVerify(acc, *rec)
	require.NoError(t, err)
	require.Len(t, verifyRes.ControlWriteKey, 32)
	require.Len(t, verifyRes.ControlReadKey, 32)
	require.NotEqual(t, verifyRes.ControlWriteKey, verifyRes.ControlReadKey)
}
