// backup/version.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package backup

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/vbk/vbackup/storage"
)

// Version is one immutable snapshot committed to an archive. Versions
// are identified by IDs that increase by one per build and are never
// renumbered; trimming an archive drops old versions but leaves the
// retained IDs and timestamps exactly as they were.
type Version struct {
	ID   uint64    `json:"id"`
	Time time.Time `json:"time"`

	// Summary counters.
	Files    int   `json:"files"`
	Size     int64 `json:"size"`      // summed logical file size
	NewBytes int64 `json:"new_bytes"` // unique chunk bytes this build added

	Manifest Manifest `json:"manifest"`
}

// Versions are stored in archive version records as CBOR, encoded
// deterministically. Timestamps are RFC 3339 with nanoseconds so file
// modification times survive a round trip exactly; the default CBOR
// time encoding only keeps whole seconds.
var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("version: CBOR encoder initialization failed: " + err.Error())
	}
}

func (v *Version) Encode() ([]byte, error) {
	return encMode.Marshal(v)
}

func DecodeVersion(payload []byte) (*Version, error) {
	var v Version
	if err := cbor.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decoding version record: %w: %v",
			ErrCorruptArchive, err)
	}
	return &v, nil
}

// LoadVersions decodes all of a store's version records, oldest first.
func LoadVersions(store storage.Store) ([]*Version, error) {
	payloads := store.VersionPayloads()
	versions := make([]*Version, 0, len(payloads))
	var lastID uint64
	for _, p := range payloads {
		v, err := DecodeVersion(p)
		if err != nil {
			return nil, err
		}
		if v.ID <= lastID {
			return nil, fmt.Errorf("version %d after %d: %w",
				v.ID, lastID, ErrCorruptArchive)
		}
		lastID = v.ID
		versions = append(versions, v)
	}
	return versions, nil
}

///////////////////////////////////////////////////////////////////////////
// Selection

// Selector picks a version out of an archive: by explicit ID, by a
// relative number counting back from the newest version (0 = newest),
// or, with neither set, the newest version. When both are set the
// explicit ID wins.
type Selector struct {
	ID    uint64
	HasID bool

	Back    int
	HasBack bool
}

// Resolve applies the selector to an ordered version list.
func (s Selector) Resolve(versions []*Version) (*Version, error) {
	if len(versions) == 0 {
		return nil, fmt.Errorf("archive has no versions: %w", ErrVersionNotFound)
	}

	if s.HasID {
		for _, v := range versions {
			if v.ID == s.ID {
				return v, nil
			}
		}
		return nil, fmt.Errorf("version %d: %w", s.ID, ErrVersionNotFound)
	}

	if s.HasBack {
		if s.Back < 0 {
			return nil, fmt.Errorf("relative version number %d: %w",
				s.Back, ErrInvalidArgument)
		}
		if s.Back >= len(versions) {
			return nil, fmt.Errorf("relative version number %d with %d versions: %w",
				s.Back, len(versions), ErrVersionNotFound)
		}
		return versions[len(versions)-1-s.Back], nil
	}

	return versions[len(versions)-1], nil
}
