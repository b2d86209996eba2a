// Package liberrors contains the tagged error types returned by the
// airplay2 session, pairing engine, audio pipeline and timing subsystem.
//
// Every failure mode is its own struct implementing error, following the
// taxonomy in spec §7: transport, protocol, crypto, pairing, state, media
// and timing errors are never collapsed into a single generic error value,
// so callers can type-switch on exactly what went wrong.
package liberrors

import (
	"fmt"
	"time"
)

// --- transport errors ---

// ErrIO wraps a transport-level I/O failure.
type ErrIO struct {
	Err error
}

// Error implements the error interface.
func (e ErrIO) Error() string { return fmt.Sprintf("i/o error: %v", e.Err) }

// Unwrap allows errors.Is/As to reach the underlying cause.
func (e ErrIO) Unwrap() error { return e.Err }

// ErrTimeout is returned when an operation exceeds its deadline.
type ErrTimeout struct {
	Op      string
	Timeout time.Duration
}

// Error implements the error interface.
func (e ErrTimeout) Error() string {
	return fmt.Sprintf("timeout after %v waiting for %s", e.Timeout, e.Op)
}

// ErrLostConnection is returned when the event socket closes or feedback
// heartbeats fail three times in a row.
type ErrLostConnection struct{}

// Error implements the error interface.
func (e ErrLostConnection) Error() string { return "lost connection to receiver" }

// --- protocol errors ---

// ErrRTSP is returned when a response carries a status code >= 400.
type ErrRTSP struct {
	Status int
	Method string
	CSeq   int
}

// Error implements the error interface.
func (e ErrRTSP) Error() string {
	return fmt.Sprintf("%s (CSeq %d): status %d", e.Method, e.CSeq, e.Status)
}

// ErrUnexpectedResponse is returned when a response's CSeq does not match
// the request that was sent, or the body shape is not what the step expects.
type ErrUnexpectedResponse struct {
	Reason string
}

// Error implements the error interface.
func (e ErrUnexpectedResponse) Error() string { return "unexpected response: " + e.Reason }

// ErrBadPlist is returned when a bplist00 body fails to decode.
type ErrBadPlist struct {
	Err error
}

// Error implements the error interface.
func (e ErrBadPlist) Error() string { return fmt.Sprintf("bad plist body: %v", e.Err) }

// Unwrap allows errors.Is/As to reach the underlying cause.
func (e ErrBadPlist) Unwrap() error { return e.Err }

// --- crypto errors ---

// ErrSRPProofMismatch is returned when the accessory's M2 proof does not
// match the client's expected value.
type ErrSRPProofMismatch struct{}

// Error implements the error interface.
func (e ErrSRPProofMismatch) Error() string { return "SRP proof mismatch" }

// ErrAeadTagInvalid is returned when a ChaCha20-Poly1305 frame fails to
// authenticate. The session must be torn down: this may be replay or MITM.
type ErrAeadTagInvalid struct{}

// Error implements the error interface.
func (e ErrAeadTagInvalid) Error() string { return "AEAD tag invalid" }

// ErrSignatureInvalid is returned when an Ed25519 signature over a pairing
// transcript fails verification.
type ErrSignatureInvalid struct {
	Who string
}

// Error implements the error interface.
func (e ErrSignatureInvalid) Error() string {
	return fmt.Sprintf("signature invalid (%s)", e.Who)
}

// ErrKeyDerivationFailure is returned when an HKDF expansion cannot
// produce the requested output length.
type ErrKeyDerivationFailure struct {
	Err error
}

// Error implements the error interface.
func (e ErrKeyDerivationFailure) Error() string {
	return fmt.Sprintf("key derivation failed: %v", e.Err)
}

// --- pairing errors ---

// ErrPinRejected is returned when the accessory rejects the PIN during
// pair-setup (surfaced as a 401, or as an SRP proof mismatch at step 4).
type ErrPinRejected struct{}

// Error implements the error interface.
func (e ErrPinRejected) Error() string { return "PIN rejected by accessory" }

// ErrNotPaired is returned when pair-verify is attempted without a stored
// PairingRecord for the target accessory.
type ErrNotPaired struct {
	AccessoryID string
}

// Error implements the error interface.
func (e ErrNotPaired) Error() string {
	return fmt.Sprintf("no pairing record for accessory %q", e.AccessoryID)
}

// ErrPairingStorage wraps a failure from the PairingStore.
type ErrPairingStorage struct {
	Err error
}

// Error implements the error interface.
func (e ErrPairingStorage) Error() string { return fmt.Sprintf("pairing storage: %v", e.Err) }

// Unwrap allows errors.Is/As to reach the underlying cause.
func (e ErrPairingStorage) Unwrap() error { return e.Err }

// --- state errors ---

// ErrNotInPlayingState is returned for a 455 on SET_PARAMETER(volume)
// issued before streaming begins. It is recoverable: the caller's volume
// is queued and reapplied once Streaming is entered.
type ErrNotInPlayingState struct{}

// Error implements the error interface.
func (e ErrNotInPlayingState) Error() string { return "not in playing state (455)" }

// ErrAlreadyStreaming is returned when stream() is called on a session
// already in the Streaming or Paused state.
type ErrAlreadyStreaming struct{}

// Error implements the error interface.
func (e ErrAlreadyStreaming) Error() string { return "already streaming" }

// ErrNotConnected is returned when a public method requires a live
// session but connect() was never called or disconnect() already ran.
type ErrNotConnected struct{}

// Error implements the error interface.
func (e ErrNotConnected) Error() string { return "not connected" }

// --- media errors ---

// ErrUnsupportedCodec is returned when the negotiated codec has no pipeline
// stage.
type ErrUnsupportedCodec struct {
	Codec string
}

// Error implements the error interface.
func (e ErrUnsupportedCodec) Error() string { return fmt.Sprintf("unsupported codec: %s", e.Codec) }

// ErrEndOfStream is returned by a SampleSource to signal a clean end; the
// pipeline treats this as a Streaming -> Ready transition, not a failure.
type ErrEndOfStream struct{}

// Error implements the error interface.
func (e ErrEndOfStream) Error() string { return "end of stream" }

// ErrSampleSource wraps an I/O error surfaced by a SampleSource.
type ErrSampleSource struct {
	Err error
}

// Error implements the error interface.
func (e ErrSampleSource) Error() string { return fmt.Sprintf("sample source: %v", e.Err) }

// Unwrap allows errors.Is/As to reach the underlying cause.
func (e ErrSampleSource) Unwrap() error { return e.Err }

// --- timing errors ---

// ErrPtpBindDenied is returned when binding UDP ports 319/320 fails,
// typically for lack of privilege.
type ErrPtpBindDenied struct {
	Err error
}

// Error implements the error interface.
func (e ErrPtpBindDenied) Error() string { return fmt.Sprintf("PTP bind denied: %v", e.Err) }

// Unwrap allows errors.Is/As to reach the underlying cause.
func (e ErrPtpBindDenied) Unwrap() error { return e.Err }

// ErrTimingElectionFailed is returned when a PTP-capable receiver never
// transitions to SLAVE within the expected window.
type ErrTimingElectionFailed struct{}

// Error implements the error interface.
func (e ErrTimingElectionFailed) Error() string { return "PTP master election did not complete" }
