// Package airplay2 is an AirPlay 2 audio sender core: discovery, HomeKit
// pairing, RTSP-derived session control, and an encrypted RTP audio
// pipeline, built around the teacher's RTSP client shape generalized to
// AirPlay's binary-plist control dialect.
package airplay2

import (
	"github.com/airlift/airplay2/pkg/discovery"
)

// DeviceInfo re-exports pkg/discovery's browse result, so callers of this
// package never need to import pkg/discovery directly (spec §3).
type DeviceInfo = discovery.DeviceInfo

// Feature bits consulted by DeviceCapabilities (spec §3).
const (
	featureSupportsAudio         = 9
	featureAudioFormat1          = 19
	featureAudioFormat2          = 20
	featureAudioFormat3          = 21
	featureSupportsBufferedAudio = 40
	featureSupportsPTP           = 41
	featureSupportsHKPairing     = 46
	featureSupportsMFi           = 51
)

// DeviceCapabilities is derived from a DeviceInfo's feature bits (spec §3:
// "pure function of DeviceInfo + info plist").
type DeviceCapabilities struct {
	SupportsAudio         bool
	AudioFormat1          bool
	AudioFormat2          bool
	AudioFormat3          bool
	SupportsPTP           bool
	SupportsHKPairing     bool
	SupportsMFi           bool
	SupportsBufferedAudio bool

	// InitialVolumeDB is the receiver's device-set volume, read from
	// GET /info once a session connects (spec §9 Open Question 3):
	// display-only, never clamped against by SetVolume.
	InitialVolumeDB float64
}

// DeriveCapabilities computes DeviceCapabilities from a DeviceInfo's
// feature bitmask. The GET /info plist may refine these further once a
// session has connected; this is the discovery-time approximation.
func DeriveCapabilities(d DeviceInfo) DeviceCapabilities {
	has := func(bit uint) bool { return d.Features&(1<<bit) != 0 }
	return DeviceCapabilities{
		SupportsAudio:         has(featureSupportsAudio),
		AudioFormat1:          has(featureAudioFormat1),
		AudioFormat2:          has(featureAudioFormat2),
		AudioFormat3:          has(featureAudioFormat3),
		SupportsPTP:           has(featureSupportsPTP),
		SupportsHKPairing:     has(featureSupportsHKPairing),
		SupportsMFi:           has(featureSupportsMFi),
		SupportsBufferedAudio: has(featureSupportsBufferedAudio),
	}
}

// SelectTimingProtocol implements spec §4.6's select_timing_protocol:
// HomePod-family models prefer PTP, everything else gets NTP.
func SelectTimingProtocol(d DeviceInfo) TimingProtocol {
	if d.PrefersPTP {
		return TimingProtocolPTP
	}
	return TimingProtocolNTP
}

// TimingProtocol is the negotiated clock-sync mechanism for a session.
type TimingProtocol int

const (
	TimingProtocolNTP TimingProtocol = iota
	TimingProtocolPTP
)

func (t TimingProtocol) String() string {
	if t == TimingProtocolPTP {
		return "PTP"
	}
	return "NTP"
}
