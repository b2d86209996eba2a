package airplay2

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/airlift/airplay2/pkg/audio"
	"github.com/airlift/airplay2/pkg/liberrors"
)

func TestStateString(t *testing.T) {
	require.Equal(t, "Ready", StateReady.String())
	require.Equal(t, "Unknown", State(99).String())
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.NotEmpty(t, cfg.PIN)
	require.Equal(t, 44100, cfg.SampleRate)
	require.Equal(t, "airplay2-pairings.json", cfg.PairingStorePath)
}

func TestConfigWithDefaultsPreservesOverrides(t *testing.T) {
	cfg := Config{PIN: "1234", SampleRate: 48000, PairingStorePath: "x.json"}.withDefaults()
	require.Equal(t, "1234", cfg.PIN)
	require.Equal(t, 48000, cfg.SampleRate)
	require.Equal(t, "x.json", cfg.PairingStorePath)
}

func TestConfigLoggerDefaultsToNop(t *testing.T) {
	cfg := Config{}
	require.Equal(t, zerolog.Nop(), cfg.logger())
}

func TestConfigLoggerUsesProvided(t *testing.T) {
	l := zerolog.New(io.Discard).Level(zerolog.DebugLevel)
	cfg := Config{Logger: &l}
	require.Equal(t, zerolog.DebugLevel, cfg.logger().GetLevel())
}

func TestAudioEncryptionTypeForModel(t *testing.T) {
	require.Equal(t, int64(1), audioEncryptionTypeForModel(DeviceInfo{}, audio.CodecL16))
	require.Equal(t, int64(1), audioEncryptionTypeForModel(DeviceInfo{}, audio.CodecALAC))
	require.Equal(t, int64(4), audioEncryptionTypeForModel(DeviceInfo{}, audio.CodecAAC))
}

func TestStreamRejectsWhenNotReady(t *testing.T) {
	s := &Session{state: StateInit, log: zerolog.Nop()}
	_, err := s.Stream(nil)
	require.ErrorIs(t, err, liberrors.ErrNotConnected{})
}

func TestStreamRejectsWhenAlreadyStreaming(t *testing.T) {
	s := &Session{state: StateStreaming, log: zerolog.Nop()}
	_, err := s.Stream(nil)
	require.Equal(t, liberrors.ErrAlreadyStreaming{}, err)
}

func TestPauseRejectsWhenNotStreaming(t *testing.T) {
	s := &Session{state: StateReady, log: zerolog.Nop()}
	err := s.Pause()
	require.Equal(t, liberrors.ErrNotInPlayingState{}, err)
}

func TestResumeRejectsWhenNotPaused(t *testing.T) {
	s := &Session{state: StateReady, log: zerolog.Nop()}
	_, err := s.Resume(nil)
	require.Equal(t, liberrors.ErrNotInPlayingState{}, err)
}

func TestSeekRejectsWhenNotStreamingOrPaused(t *testing.T) {
	s := &Session{state: StateReady, log: zerolog.Nop()}
	err := s.Seek(0)
	require.Equal(t, liberrors.ErrNotInPlayingState{}, err)
}

func TestSetVolumeQueuesBeforeStreaming(t *testing.T) {
	s := &Session{state: StateReady, log: zerolog.Nop()}
	err := s.SetVolume(0.5)
	require.Equal(t, liberrors.ErrNotInPlayingState{}, err)
	require.NotNil(t, s.queuedVolume)
	require.Equal(t, float32(0.5), *s.queuedVolume)
}

func TestPickHostPrefersIPv4(t *testing.T) {
	d := DeviceInfo{IPv4: []string{"10.0.0.1"}, IPv6: []string{"::1"}, Hostname: "foo.local"}
	require.Equal(t, "10.0.0.1", pickHost(d))
}

func TestPickHostFallsBackToHostname(t *testing.T) {
	d := DeviceInfo{Hostname: "foo.local"}
	require.Equal(t, "foo.local", pickHost(d))
}

func TestAccessoryKeyPrefersDeviceID(t *testing.T) {
	d := DeviceInfo{DeviceID: "AA:BB", PairingID: "cc-dd"}
	require.Equal(t, "AA:BB", accessoryKey(d))
}

func TestAccessoryKeyFallsBackToPairingID(t *testing.T) {
	d := DeviceInfo{PairingID: "cc-dd"}
	require.Equal(t, "cc-dd", accessoryKey(d))
}

func TestEncryptionKeyForDisablesL16(t *testing.T) {
	key := []byte{1, 2, 3}
	require.Nil(t, encryptionKeyFor(audio.CodecL16, key))
	require.Equal(t, key, encryptionKeyFor(audio.CodecALAC, key))
}

func TestAudioFormatCodeByCodec(t *testing.T) {
	require.Equal(t, int64(0x4), audioFormatCode(audio.CodecL16, 44100))
	require.Equal(t, int64(0x40), audioFormatCode(audio.CodecALAC, 44100))
	require.Equal(t, int64(0x400), audioFormatCode(audio.CodecAAC, 44100))
}
