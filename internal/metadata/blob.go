// Package metadata merges metadata blobs found in the bucket into the catalog.
package metadata

import (
	"encoding/json"
	"time"

	"github.com/zeebo/errs"
)

var (
	// Error is the class of blob level failures.
	Error = errs.Class("metadata")
	// ErrMalformedRecord marks one entry that cannot be merged.
	ErrMalformedRecord = errs.Class("malformed record")
)

// BlobVersion is the only blob format version understood.
const BlobVersion = 1

// Blob is one generation of a metadata object: a versioned list of entries.
type Blob struct {
	Version int               `json:"version"`
	Entries []json.RawMessage `json:"entries"`
}

// Decode parses a blob. Entries stay raw so a bad entry only affects itself.
func Decode(data []byte) (*Blob, error) {
	var b Blob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, Error.New("decode blob: %v", err)
	}
	if b.Version != BlobVersion {
		return nil, Error.New("unsupported blob version %d", b.Version)
	}
	return &b, nil
}

// Owner returns the owner system ID of the first entry, if it carries one.
func (b *Blob) Owner() string {
	for _, raw := range b.Entries {
		var e struct {
			Owner string `json:"owner_system_id"`
		}
		if json.Unmarshal(raw, &e) == nil {
			return e.Owner
		}
	}
	return ""
}

type volumeRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Owner       string `json:"owner_system_id"`
	Size        int64  `json:"size"`
	TimeCreated int64  `json:"time_created"`
}

type tagRecord struct {
	VolumeID string `json:"vol_id"`
	Key      string `json:"key"`
	Value    string `json:"value"`
	Owner    string `json:"owner_system_id"`
}

type optionRecord struct {
	VolumeID string `json:"vol_id"`
	Name     string `json:"name"`
	Value    string `json:"value"`
}

type snapshotRecord struct {
	VolumeID    string `json:"vol_id"`
	Version     string `json:"version"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	TimeCreated int64  `json:"time_created"`
}

func unix(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func decodeRecord(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return ErrMalformedRecord.New("%v", err)
	}
	return nil
}
