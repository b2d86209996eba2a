package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFeaturesHexPrefixed(t *testing.T) {
	require.Equal(t, uint64(0x100), parseFeatures("0x100"))
	require.Equal(t, uint64(0xFF), parseFeatures("0XFF"))
}

func TestParseFeaturesBareDecimal(t *testing.T) {
	// 100 is valid hex digits but carries no 0x/0X prefix, so it must be
	// read as decimal 100, not hex 0x100 (== decimal 256).
	require.Equal(t, uint64(100), parseFeatures("100"))
}

func TestParseFeaturesBareDecimalAllDigits(t *testing.T) {
	require.Equal(t, uint64(445), parseFeatures("445"))
}

func TestParseFeaturesEmpty(t *testing.T) {
	require.Equal(t, uint64(0), parseFeatures(""))
}

func TestParseFeaturesHexEightByteString(t *testing.T) {
	// A full 16-digit (8-byte) hex-prefixed value still fits ParseUint's
	// 64-bit range and is read as one big-endian u64.
	require.Equal(t, uint64(0x0102030405060708), parseFeatures("0x0102030405060708"))
}

func TestPrefersPTPMatchesHomePodFamily(t *testing.T) {
	require.True(t, prefersPTP("AudioAccessory5,1"))
	require.True(t, prefersPTP("HomePod"))
	require.False(t, prefersPTP("AppleTV6,2"))
}
