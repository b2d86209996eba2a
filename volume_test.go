package airplay2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVolumeToDBMuteFloor(t *testing.T) {
	require.Equal(t, float32(-144.0), VolumeToDB(0))
	require.Equal(t, float32(-144.0), VolumeToDB(-1))
}

func TestVolumeToDBMidpoint(t *testing.T) {
	require.Equal(t, float32(-15.0), VolumeToDB(0.5))
}

func TestVolumeToDBFullScale(t *testing.T) {
	require.Equal(t, float32(0.0), VolumeToDB(1))
}

func TestVolumeToDBClampsAboveUnity(t *testing.T) {
	require.Equal(t, float32(0.0), VolumeToDB(2))
}
