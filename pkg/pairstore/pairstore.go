// Package pairstore persists completed HomeKit pairings to disk so a
// session can skip pair-setup on subsequent connects and go straight to
// pair-verify (spec §4.5, §9 "Persistent pairing store").
//
// Grounded on the teacher's preference for small, dependency-light
// persistence helpers (bluenviron-gortsplib keeps no on-disk state of its
// own, so the pattern here follows the JSON-file-plus-atomic-rename idiom
// used throughout the example pack's CLI tools rather than reaching for a
// database: one record per accessory, rewritten whole on every Save).
package pairstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/airlift/airplay2/pkg/liberrors"
)

// Record is everything a completed pair-setup/pair-verify handshake needs
// to skip straight to pair-verify next time (spec §4.5 step 5 onward).
type Record struct {
	AccessoryID    string `json:"accessory_id"`
	AccessoryLTPK  []byte `json:"accessory_ltpk"`
	ControllerID   string `json:"controller_id"`
	ControllerLTSK []byte `json:"controller_ltsk"`
	ControllerLTPK []byte `json:"controller_ltpk"`
}

// Store is a JSON-file-backed table of Records keyed by AccessoryID,
// guarded by a mutex since a Session's control goroutine and any
// concurrent re-pair attempt may both touch it.
type Store struct {
	mu   sync.Mutex
	path string
	recs map[string]Record
}

// Open loads (or creates) the pairing store at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path, recs: map[string]Record{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, liberrors.ErrPairingStorage{Err: err}
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.recs); err != nil {
		return nil, liberrors.ErrPairingStorage{Err: err}
	}
	return s, nil
}

// Load returns the stored Record for accessoryID, or liberrors.ErrNotPaired.
func (s *Store) Load(accessoryID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recs[accessoryID]
	if !ok {
		return Record{}, liberrors.ErrNotPaired{AccessoryID: accessoryID}
	}
	return r, nil
}

// Save writes (or overwrites) rec and persists the whole table atomically.
func (s *Store) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recs[rec.AccessoryID] = rec
	return s.flushLocked()
}

// Forget removes a stored pairing (spec §4.5 "Remove-Pairing"), returning
// nil whether or not a record existed.
func (s *Store) Forget(accessoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.recs, accessoryID)
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(s.recs, "", "  ")
	if err != nil {
		return liberrors.ErrPairingStorage{Err: err}
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return liberrors.ErrPairingStorage{Err: err}
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return liberrors.ErrPairingStorage{Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return liberrors.ErrPairingStorage{Err: fmt.Errorf("rename: %w", err)}
	}
	return nil
}
