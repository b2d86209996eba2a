// Package pairing drives the HomeKit-style pair-setup and pair-verify
// exchanges over /pair-setup and /pair-verify, composing pkg/hapsrp (SRP-6a),
// pkg/hapcrypto (ECDH/Ed25519/HKDF/AEAD/TLV8) and pkg/bplist (the wire
// encoding of every step's body), per spec §4.5.
//
// The engine never touches a socket directly: it is handed a Transport that
// already knows how to send a plist body to a path and get one back, so it
// stays testable against a fake accessory without an RTSP stack.
package pairing

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/airlift/airplay2/pkg/bplist"
	"github.com/airlift/airplay2/pkg/hapcrypto"
	"github.com/airlift/airplay2/pkg/hapsrp"
	"github.com/airlift/airplay2/pkg/liberrors"
	"github.com/airlift/airplay2/pkg/pairstore"
)

// Transport sends a plist-encoded body to path and returns the accessory's
// decoded plist response. Implemented by the session's RTSP control
// coroutine (C6); body encryption, if any is already active, is the
// transport's concern, not pairing's.
type Transport interface {
	PostPlist(path string, body *bplist.Dict) (*bplist.Dict, error)
}

// DefaultPIN is the PIN AirPlay 2 receivers accept when no PIN entry UI is
// shown (spec §4.5 step 2).
const DefaultPIN = "3939"

// TransientResult is the outcome of TransientPairSetup: the EncryptionKey
// used to derive the control channel's ChaCha20-Poly1305 keys.
type TransientResult struct {
	EncryptionKey []byte
}

// TransientPairSetup runs the two-step transient flow (spec §4.5): no
// long-term keys are exchanged or persisted, so reconnecting must always
// pair-setup again.
func TransientPairSetup(t Transport, pin string) (*TransientResult, error) {
	if pin == "" {
		pin = DefaultPIN
	}

	client := hapsrp.NewClient("Pair-Setup", pin)

	// M1
	m1Req := bplist.NewDict().Set("method", int64(0)).Set("state", int64(1))
	m1Resp, err := t.PostPlist("/pair-setup", m1Req)
	if err != nil {
		return nil, err
	}
	salt, ok := m1Resp.GetData("salt")
	if !ok {
		return nil, liberrors.ErrUnexpectedResponse{Reason: "pair-setup M2 missing salt"}
	}
	bBytes, ok := m1Resp.GetData("pk")
	if !ok {
		return nil, liberrors.ErrUnexpectedResponse{Reason: "pair-setup M2 missing pk"}
	}

	A, err := client.Start(salt)
	if err != nil {
		return nil, err
	}
	proof, err := client.ComputeProof(bBytes)
	if err != nil {
		return nil, err
	}

	// M3
	m3Req := bplist.NewDict().Set("state", int64(3)).Set("pk", A).Set("proof", proof)
	m3Resp, err := t.PostPlist("/pair-setup", m3Req)
	if err != nil {
		if rtspErr, ok := asRTSPStatus(err); ok && rtspErr == 401 {
			return nil, liberrors.ErrPinRejected{}
		}
		return nil, err
	}
	m2, ok := m3Resp.GetData("proof")
	if !ok {
		return nil, liberrors.ErrUnexpectedResponse{Reason: "pair-setup M4 missing proof"}
	}
	if !client.VerifyM2(proof, m2) {
		return nil, liberrors.ErrSRPProofMismatch{}
	}

	encKey, err := hapcrypto.HKDFExpand(client.SessionKey(), hapcrypto.SaltPairSetupEncrypt, hapcrypto.InfoPairSetupEncrypt, 32)
	if err != nil {
		return nil, liberrors.ErrKeyDerivationFailure{Err: err}
	}

	return &TransientResult{EncryptionKey: encKey}, nil
}

// StandardPairSetup runs the full five-step PIN flow, additionally
// exchanging and persisting Ed25519 long-term identities (spec §4.5): the
// resulting pairstore.Record lets future connects skip straight to
// pair-verify.
func StandardPairSetup(t Transport, pin, accessoryID, controllerID string) (*pairstore.Record, *TransientResult, error) {
	if pin == "" {
		pin = DefaultPIN
	}

	client := hapsrp.NewClient("Pair-Setup", pin)

	m1Req := bplist.NewDict().Set("method", int64(0)).Set("state", int64(1))
	m1Resp, err := t.PostPlist("/pair-setup", m1Req)
	if err != nil {
		return nil, nil, err
	}
	salt, ok := m1Resp.GetData("salt")
	if !ok {
		return nil, nil, liberrors.ErrUnexpectedResponse{Reason: "pair-setup M2 missing salt"}
	}
	bBytes, ok := m1Resp.GetData("pk")
	if !ok {
		return nil, nil, liberrors.ErrUnexpectedResponse{Reason: "pair-setup M2 missing pk"}
	}

	A, err := client.Start(salt)
	if err != nil {
		return nil, nil, err
	}
	proof, err := client.ComputeProof(bBytes)
	if err != nil {
		return nil, nil, err
	}

	m3Req := bplist.NewDict().Set("state", int64(3)).Set("pk", A).Set("proof", proof)
	m3Resp, err := t.PostPlist("/pair-setup", m3Req)
	if err != nil {
		if rtspErr, ok := asRTSPStatus(err); ok && rtspErr == 401 {
			return nil, nil, liberrors.ErrPinRejected{}
		}
		return nil, nil, err
	}
	m2, ok := m3Resp.GetData("proof")
	if !ok {
		return nil, nil, liberrors.ErrUnexpectedResponse{Reason: "pair-setup M4 missing proof"}
	}
	if !client.VerifyM2(proof, m2) {
		return nil, nil, liberrors.ErrSRPProofMismatch{}
	}

	encKey, err := hapcrypto.HKDFExpand(client.SessionKey(), hapcrypto.SaltPairSetupEncrypt, hapcrypto.InfoPairSetupEncrypt, 32)
	if err != nil {
		return nil, nil, liberrors.ErrKeyDerivationFailure{Err: err}
	}

	// M5: encrypted sub-TLV carrying our long-term identity and a
	// signature over controller_x || controller_id || controller_ltpk.
	controllerX, err := hapcrypto.HKDFExpand(client.SessionKey(), hapcrypto.SaltPairSetupSign, hapcrypto.InfoPairSetupSign, 32)
	if err != nil {
		return nil, nil, liberrors.ErrKeyDerivationFailure{Err: err}
	}
	ltpk, ltsk, err := hapcrypto.NewEd25519Identity()
	if err != nil {
		return nil, nil, fmt.Errorf("pairing: generating controller identity: %w", err)
	}

	signed := make([]byte, 0, len(controllerX)+len(controllerID)+len(ltpk))
	signed = append(signed, controllerX...)
	signed = append(signed, controllerID...)
	signed = append(signed, ltpk...)
	sig := ed25519.Sign(ltsk, signed)

	subTLV := hapcrypto.EncodeTLV8(
		[]byte{hapcrypto.TLVTypeIdentifier, hapcrypto.TLVTypePublicKey, hapcrypto.TLVTypeSignature},
		hapcrypto.TLV8{
			hapcrypto.TLVTypeIdentifier: []byte(controllerID),
			hapcrypto.TLVTypePublicKey:  ltpk,
			hapcrypto.TLVTypeSignature:  sig,
		},
	)

	m5Req := bplist.NewDict().Set("state", int64(5)).Set("encryptedData", subTLV)
	m5Resp, err := t.PostPlist("/pair-setup", m5Req)
	if err != nil {
		return nil, nil, err
	}

	m6Data, ok := m5Resp.GetData("encryptedData")
	if !ok {
		return nil, nil, liberrors.ErrUnexpectedResponse{Reason: "pair-setup M6 missing encryptedData"}
	}
	accTLV, err := hapcrypto.DecodeTLV8(m6Data)
	if err != nil {
		return nil, nil, liberrors.ErrBadPlist{Err: err}
	}
	accID, ok := accTLV[hapcrypto.TLVTypeIdentifier]
	if !ok {
		return nil, nil, liberrors.ErrUnexpectedResponse{Reason: "pair-setup M6 missing accessory identifier"}
	}
	accLTPK, ok := accTLV[hapcrypto.TLVTypePublicKey]
	if !ok || len(accLTPK) != ed25519.PublicKeySize {
		return nil, nil, liberrors.ErrUnexpectedResponse{Reason: "pair-setup M6 missing/invalid accessory public key"}
	}
	accSig, ok := accTLV[hapcrypto.TLVTypeSignature]
	if !ok {
		return nil, nil, liberrors.ErrUnexpectedResponse{Reason: "pair-setup M6 missing accessory signature"}
	}

	accessoryX, err := hapcrypto.HKDFExpand(client.SessionKey(), "Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info", 32)
	if err != nil {
		return nil, nil, liberrors.ErrKeyDerivationFailure{Err: err}
	}
	accSigned := make([]byte, 0, len(accessoryX)+len(accID)+len(accLTPK))
	accSigned = append(accSigned, accessoryX...)
	accSigned = append(accSigned, accID...)
	accSigned = append(accSigned, accLTPK...)
	if !ed25519.Verify(ed25519.PublicKey(accLTPK), accSigned, accSig) {
		return nil, nil, liberrors.ErrSignatureInvalid{Who: "accessory"}
	}

	rec := &pairstore.Record{
		AccessoryID:    string(accID),
		AccessoryLTPK:  append([]byte(nil), accLTPK...),
		ControllerID:   controllerID,
		ControllerLTSK: append([]byte(nil), ltsk...),
		ControllerLTPK: append([]byte(nil), ltpk...),
	}
	if rec.AccessoryID == "" {
		rec.AccessoryID = accessoryID
	}

	return rec, &TransientResult{EncryptionKey: encKey}, nil
}

// VerifyResult carries the two derived control-channel keys pair-verify
// produces (spec §4.5's HKDF table).
type VerifyResult struct {
	ControlWriteKey []byte
	ControlReadKey  []byte
}

// PairVerify runs the Curve25519 ECDH exchange and transcript-signature
// check against a previously stored pairstore.Record, deriving the control
// channel's write/read AEAD keys.
func PairVerify(t Transport, rec pairstore.Record) (*VerifyResult, error) {
	cPriv, cPub, err := hapcrypto.NewCurve25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("pairing: generating verify ephemeral: %w", err)
	}

	m1Req := bplist.NewDict().Set("state", int64(1)).Set("publicKey", cPub[:])
	m1Resp, err := t.PostPlist("/pair-verify", m1Req)
	if err != nil {
		return nil, err
	}

	aPubBytes, ok := m1Resp.GetData("publicKey")
	if !ok || len(aPubBytes) != 32 {
		return nil, liberrors.ErrUnexpectedResponse{Reason: "pair-verify M2 missing/invalid publicKey"}
	}
	encData, ok := m1Resp.GetData("encryptedData")
	if !ok {
		return nil, liberrors.ErrUnexpectedResponse{Reason: "pair-verify M2 missing encryptedData"}
	}

	var aPub [32]byte
	copy(aPub[:], aPubBytes)
	shared, err := hapcrypto.SharedSecret(cPriv, aPub)
	if err != nil {
		return nil, fmt.Errorf("pairing: computing verify shared secret: %w", err)
	}

	verifyKey, err := hapcrypto.HKDFExpand(shared, hapcrypto.SaltPairVerifyEncrypt, hapcrypto.InfoPairVerifyEncrypt, 32)
	if err != nil {
		return nil, liberrors.ErrKeyDerivationFailure{Err: err}
	}

	codec, err := hapcrypto.NewFrameCodec(verifyKey, verifyKey)
	if err != nil {
		return nil, fmt.Errorf("pairing: building verify transcript codec: %w", err)
	}
	plain, err := codec.UnwrapBody(encData)
	if err != nil {
		return nil, err
	}
	accTLV, err := hapcrypto.DecodeTLV8(plain)
	if err != nil {
		return nil, liberrors.ErrBadPlist{Err: err}
	}
	accID, ok := accTLV[hapcrypto.TLVTypeIdentifier]
	if !ok || string(accID) != rec.AccessoryID {
		return nil, liberrors.ErrUnexpectedResponse{Reason: "pair-verify accessory identifier mismatch"}
	}
	accSig, ok := accTLV[hapcrypto.TLVTypeSignature]
	if !ok {
		return nil, liberrors.ErrUnexpectedResponse{Reason: "pair-verify M2 missing accessory signature"}
	}

	transcript := make([]byte, 0, 32+len(accID)+32)
	transcript = append(transcript, aPubBytes...)
	transcript = append(transcript, accID...)
	transcript = append(transcript, cPub[:]...)
	if !ed25519.Verify(ed25519.PublicKey(rec.AccessoryLTPK), transcript, accSig) {
		return nil, liberrors.ErrSignatureInvalid{Who: "accessory"}
	}

	// M3: sign our own transcript (cPub || controller_id || aPub) under
	// our long-term key, so the accessory can verify it accepted *us*.
	ourTranscript := make([]byte, 0, 32+len(rec.ControllerID)+32)
	ourTranscript = append(ourTranscript, cPub[:]...)
	ourTranscript = append(ourTranscript, rec.ControllerID...)
	ourTranscript = append(ourTranscript, aPubBytes...)
	ourSig := ed25519.Sign(ed25519.PrivateKey(rec.ControllerLTSK), ourTranscript)

	ourTLV := hapcrypto.EncodeTLV8(
		[]byte{hapcrypto.TLVTypeIdentifier, hapcrypto.TLVTypeSignature},
		hapcrypto.TLV8{
			hapcrypto.TLVTypeIdentifier: []byte(rec.ControllerID),
			hapcrypto.TLVTypeSignature:  ourSig,
		},
	)
	ourFrame, _, err := codec.WrapBody(ourTLV)
	if err != nil {
		return nil, fmt.Errorf("pairing: framing verify M3 body: %w", err)
	}

	m3Req := bplist.NewDict().Set("state", int64(3)).Set("encryptedData", ourFrame)
	if _, err := t.PostPlist("/pair-verify", m3Req); err != nil {
		return nil, err
	}

	writeKey, err := hapcrypto.HKDFExpand(shared, hapcrypto.SaltControl, hapcrypto.InfoControlWrite, 32)
	if err != nil {
		return nil, liberrors.ErrKeyDerivationFailure{Err: err}
	}
	readKey, err := hapcrypto.HKDFExpand(shared, hapcrypto.SaltControl, hapcrypto.InfoControlRead, 32)
	if err != nil {
		return nil, liberrors.ErrKeyDerivationFailure{Err: err}
	}

	return &VerifyResult{ControlWriteKey: writeKey, ControlReadKey: readKey}, nil
}

// asRTSPStatus extracts the RTSP status code from err if it (or something
// it wraps) is a liberrors.ErrRTSP.
func asRTSPStatus(err error) (int, bool) {
	var rtspErr liberrors.ErrRTSP
	if errors.As(err, &rtspErr) {
		return rtspErr.Status, true
	}
	return 0, false
}
