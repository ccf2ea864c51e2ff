package metadata

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/models"
)

// Binding ties a blob's entry type to the catalog records it merges into.
type Binding interface {
	// Kind names the entity, for logs.
	Kind() string
	// Merge applies one raw entry and reports whether the catalog changed.
	Merge(ctx context.Context, raw json.RawMessage) (changed bool, err error)
}

// entityBinding implements Binding for any record type with a natural key.
type entityBinding[T any] struct {
	kind string
	// decode validates the entry and returns the record it describes.
	decode func(raw json.RawMessage) (T, error)
	// lookup fetches the stored record with the same natural key.
	lookup func(ctx context.Context, rec T) (T, bool, error)
	// carry copies catalog-only state from the stored record onto the incoming one.
	carry func(stored T, rec *T) error
	equal func(a, b T) bool
	put   func(ctx context.Context, rec T) error
}

func (b *entityBinding[T]) Kind() string { return b.kind }

func (b *entityBinding[T]) Merge(ctx context.Context, raw json.RawMessage) (bool, error) {
	rec, err := b.decode(raw)
	if err != nil {
		return false, err
	}
	stored, found, err := b.lookup(ctx, rec)
	if err != nil {
		return false, err
	}
	if found {
		if b.carry != nil {
			if err := b.carry(stored, &rec); err != nil {
				return false, err
			}
		}
		if b.equal(stored, rec) {
			return false, nil
		}
	}
	return true, b.put(ctx, rec)
}

// lookupErr turns catalog not-found into an absent record.
func lookupErr[T any](rec *T, err error) (T, bool, error) {
	var zero T
	if catalog.ErrNotFound.Has(err) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	return *rec, true, nil
}

// Tags binds tag entries as the child collection of their volume, keyed by vol_id.
func Tags(repo catalog.Repository, t models.Target) Binding {
	return &entityBinding[models.Tag]{
		kind: "tag",
		decode: func(raw json.RawMessage) (models.Tag, error) {
			var r tagRecord
			if err := decodeRecord(raw, &r); err != nil {
				return models.Tag{}, err
			}
			if r.VolumeID == "" || r.Key == "" {
				return models.Tag{}, ErrMalformedRecord.New("tag without vol_id or key")
			}
			return models.Tag{VolumeID: r.VolumeID, Key: r.Key, Value: r.Value, OwnerSystemID: r.Owner}, nil
		},
		lookup: func(ctx context.Context, rec models.Tag) (models.Tag, bool, error) {
			stored, err := repo.GetTag(ctx, t, rec.VolumeID, rec.Key)
			return lookupErr(stored, err)
		},
		equal: func(a, b models.Tag) bool { return a == b },
		put:   func(ctx context.Context, rec models.Tag) error { return repo.PutTag(ctx, t, &rec) },
	}
}

// VolumeBindOption configures the volume binding.
type VolumeBindOption func(*volumeBinding)

type volumeBinding struct {
	tags  []string
	owner string
}

// WithTagRefs attaches pre-resolved tag keys to every imported volume.
func WithTagRefs(keys []string) VolumeBindOption {
	return func(v *volumeBinding) {
		v.tags = slices.Clone(keys)
		slices.Sort(v.tags)
	}
}

// OwnedBy rejects volume entries written by any other owner.
func OwnedBy(owner string) VolumeBindOption {
	return func(v *volumeBinding) { v.owner = owner }
}

// Volumes binds volume entries. A stored owner is never replaced.
func Volumes(repo catalog.Repository, t models.Target, opts ...VolumeBindOption) Binding {
	var cfg volumeBinding
	for _, o := range opts {
		o(&cfg)
	}
	return &entityBinding[models.Volume]{
		kind: "volume",
		decode: func(raw json.RawMessage) (models.Volume, error) {
			var r volumeRecord
			if err := decodeRecord(raw, &r); err != nil {
				return models.Volume{}, err
			}
			if r.ID == "" {
				return models.Volume{}, ErrMalformedRecord.New("volume without id")
			}
			if cfg.owner != "" && r.Owner != cfg.owner {
				return models.Volume{}, ErrMalformedRecord.New("volume %s owned by %q, want %q", r.ID, r.Owner, cfg.owner)
			}
			return models.Volume{
				ID: r.ID, Name: r.Name, OwnerSystemID: r.Owner, Size: r.Size,
				Created: unix(r.TimeCreated), Tags: cfg.tags,
			}, nil
		},
		lookup: func(ctx context.Context, rec models.Volume) (models.Volume, bool, error) {
			stored, err := repo.GetVolume(ctx, t, rec.ID)
			return lookupErr(stored, err)
		},
		carry: func(stored models.Volume, rec *models.Volume) error {
			if stored.OwnerSystemID != "" && stored.OwnerSystemID != rec.OwnerSystemID {
				return ErrMalformedRecord.New("volume %s owner changed from %q to %q", rec.ID, stored.OwnerSystemID, rec.OwnerSystemID)
			}
			return nil
		},
		equal: func(a, b models.Volume) bool {
			return a.Name == b.Name && a.OwnerSystemID == b.OwnerSystemID && a.Size == b.Size &&
				a.Created.Equal(b.Created) && slices.Equal(sortedCopy(a.Tags), b.Tags)
		},
		put: func(ctx context.Context, rec models.Volume) error { return repo.PutVolume(ctx, t, &rec) },
	}
}

func sortedCopy(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}

// Options binds option entries as the name/value table of their volume.
func Options(repo catalog.Repository, t models.Target) Binding {
	return &entityBinding[models.VolumeOption]{
		kind: "option",
		decode: func(raw json.RawMessage) (models.VolumeOption, error) {
			var r optionRecord
			if err := decodeRecord(raw, &r); err != nil {
				return models.VolumeOption{}, err
			}
			if r.VolumeID == "" || r.Name == "" {
				return models.VolumeOption{}, ErrMalformedRecord.New("option without vol_id or name")
			}
			return models.VolumeOption{VolumeID: r.VolumeID, Name: r.Name, Value: r.Value}, nil
		},
		lookup: func(ctx context.Context, rec models.VolumeOption) (models.VolumeOption, bool, error) {
			stored, err := repo.GetOption(ctx, t, rec.VolumeID, rec.Name)
			return lookupErr(stored, err)
		},
		equal: func(a, b models.VolumeOption) bool { return a == b },
		put:   func(ctx context.Context, rec models.VolumeOption) error { return repo.PutOption(ctx, t, &rec) },
	}
}

// Snapshots binds snapshot entries as versioned children of their volume. The
// delete state is catalog-only, so a tombstoned snapshot stays tombstoned.
func Snapshots(repo catalog.Repository, t models.Target) Binding {
	return &entityBinding[models.Snapshot]{
		kind: "snapshot",
		decode: func(raw json.RawMessage) (models.Snapshot, error) {
			var r snapshotRecord
			if err := decodeRecord(raw, &r); err != nil {
				return models.Snapshot{}, err
			}
			if r.VolumeID == "" || r.Version == "" {
				return models.Snapshot{}, ErrMalformedRecord.New("snapshot without vol_id or version")
			}
			return models.Snapshot{VolumeID: r.VolumeID, Version: r.Version, Name: r.Name, Size: r.Size, Created: unix(r.TimeCreated)}, nil
		},
		lookup: func(ctx context.Context, rec models.Snapshot) (models.Snapshot, bool, error) {
			stored, err := repo.GetSnapshot(ctx, t, rec.VolumeID, rec.Version)
			return lookupErr(stored, err)
		},
		carry: func(stored models.Snapshot, rec *models.Snapshot) error {
			rec.DeleteState = stored.DeleteState
			return nil
		},
		equal: func(a, b models.Snapshot) bool {
			return a.Name == b.Name && a.Size == b.Size && a.Created.Equal(b.Created) && a.DeleteState == b.DeleteState
		},
		put: func(ctx context.Context, rec models.Snapshot) error { return repo.PutSnapshot(ctx, t, &rec) },
	}
}
