package pairstore

import (
	"path/filepath"
	"testing"

	"github.com/airlift/airplay2/pkg/liberrors"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairings.json")

	s, err := Open(path)
	require.NoError(t, err)

	rec := Record{
		AccessoryID:    "AA:BB:CC:DD:EE:FF",
		AccessoryLTPK:  []byte{1, 2, 3},
		ControllerID:   "controller-1",
		ControllerLTSK: []byte{4, 5, 6},
		ControllerLTPK: []byte{7, 8, 9},
	}
	require.NoError(t, s.Save(rec))

	got, err := s.Load(rec.AccessoryID)
	require.NoError(t, err)
	require.Equal(t, rec, got)

	reopened, err := Open(path)
	require.NoError(t, err)
	got2, err := reopened.Load(rec.AccessoryID)
	require.NoError(t, err)
	require.Equal(t, rec, got2)
}

func TestLoadUnknownAccessory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairings.json")
	s, err := Open(path)
	require.NoError(t, err)

	_, err = s.Load("nope")
	require.Error(t, err)
	require.ErrorAs(t, err, &liberrors.ErrNotPaired{})
}

func TestForgetRemovesRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairings.json")
	s, err := Open(path)
	require.NoError(t, err)

	rec := Record{AccessoryID: "id-1"}
	require.NoError(t, s.Save(rec))
	require.NoError(t, s.Forget("id-1"))

	_, err = s.Load("id-1")
	require.Error(t, err)
}

func TestOpenMissingFileIsNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s, err := Open(path)
	require.NoError(t, err)
	require.NotNil(t, s)
}
