// Package document is the embedded-document catalog variant. A volume is one
// document carrying its tag records as an embedded child collection; options are a
// per-volume name/value document; snapshots are versioned child documents.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/models"
)

const sep = "\x00"

// Key spaces.
const (
	nsPartner  = "p"
	nsVolume   = "v"
	nsTag      = "t"
	nsOptions  = "o"
	nsSnapshot = "s"
	nsSession  = "d"
	nsRun      = "r"
)

type Store struct {
	db  *badger.DB
	log logging.Logger
}

var _ catalog.Repository = (*Store)(nil)

type partnerDoc struct {
	models.Partner
	Secret string `json:"secret"`
}

type volumeDoc struct {
	Volume models.Volume `json:"volume"`
	// Tags is the embedded copy of the tag records referenced by Volume.Tags.
	Tags []models.Tag `json:"tags,omitempty"`
}

// Open opens (creating if needed) a badger catalog in dir.
func Open(dir string, log logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, catalog.Error.Wrap(err)
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(newLogger(log.Named("badger"))))
	if err != nil {
		return nil, catalog.Error.New("open %s: %v", dir, err)
	}
	log.Info("catalog open", "driver", "document", "path", dir)
	return &Store{db: db, log: log}, nil
}

// OpenInMemory opens a catalog that lives only as long as the process.
func OpenInMemory(log logging.Logger) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(newLogger(log.Named("badger"))))
	if err != nil {
		return nil, catalog.Error.Wrap(err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error { return catalog.Error.Wrap(s.db.Close()) }

func key(parts ...string) []byte { return []byte(strings.Join(parts, sep)) }

func prefix(parts ...string) []byte { return append(key(parts...), sep...) }

func getJSON(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return catalog.ErrNotFound.New("%s", strings.ReplaceAll(string(k), sep, "/"))
		}
		return catalog.Error.Wrap(err)
	}
	return item.Value(func(b []byte) error {
		return catalog.Error.Wrap(json.Unmarshal(b, v))
	})
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return catalog.Error.Wrap(err)
	}
	return catalog.Error.Wrap(txn.Set(k, b))
}

// scan calls fn with the raw value of every key under p.
func scan(txn *badger.Txn, p []byte, fn func(k, v []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)
		if err := item.Value(func(v []byte) error { return fn(k, v) }); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) view(fn func(txn *badger.Txn) error) error {
	return s.db.View(fn)
}

func (s *Store) update(fn func(txn *badger.Txn) error) error {
	return s.db.Update(fn)
}

// Partners

func (s *Store) SavePartner(ctx context.Context, p *models.Partner) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, key(nsPartner, p.ID), partnerDoc{Partner: *p, Secret: p.SecretKey})
	})
}

func (s *Store) GetPartner(ctx context.Context, id string) (*models.Partner, error) {
	var doc partnerDoc
	if err := s.view(func(txn *badger.Txn) error { return getJSON(txn, key(nsPartner, id), &doc) }); err != nil {
		return nil, err
	}
	p := doc.Partner
	p.SecretKey = doc.Secret
	return &p, nil
}

func (s *Store) FindPartner(ctx context.Context, endpoint, bucket string, archive bool) (*models.Partner, error) {
	var found *models.Partner
	err := s.view(func(txn *badger.Txn) error {
		return scan(txn, prefix(nsPartner), func(_, v []byte) error {
			var doc partnerDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return catalog.Error.Wrap(err)
			}
			if found == nil && doc.Endpoint == endpoint && doc.Bucket == bucket && doc.Archive == archive {
				p := doc.Partner
				p.SecretKey = doc.Secret
				found = &p
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, catalog.ErrNotFound.New("partner %s/%s", endpoint, bucket)
	}
	return found, nil
}

// Volumes

func (s *Store) GetVolume(ctx context.Context, t models.Target, volumeID string) (*models.Volume, error) {
	var doc volumeDoc
	if err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, key(nsVolume, t.Tier(), t.PartnerID, volumeID), &doc)
	}); err != nil {
		return nil, err
	}
	return &doc.Volume, nil
}

// PutVolume writes the volume document with its embedded tag collection in one
// transaction, so the parent and child collection commit together.
func (s *Store) PutVolume(ctx context.Context, t models.Target, v *models.Volume) error {
	return s.update(func(txn *badger.Txn) error {
		doc := volumeDoc{Volume: *v}
		for _, k := range v.Tags {
			var tag models.Tag
			err := getJSON(txn, key(nsTag, t.Tier(), t.PartnerID, v.ID, k), &tag)
			if catalog.ErrNotFound.Has(err) {
				continue
			}
			if err != nil {
				return err
			}
			doc.Tags = append(doc.Tags, tag)
		}
		return setJSON(txn, key(nsVolume, t.Tier(), t.PartnerID, v.ID), doc)
	})
}

func (s *Store) ListVolumes(ctx context.Context, t models.Target) ([]models.Volume, error) {
	var out []models.Volume
	err := s.view(func(txn *badger.Txn) error {
		return scan(txn, prefix(nsVolume, t.Tier(), t.PartnerID), func(_, v []byte) error {
			var doc volumeDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return catalog.Error.Wrap(err)
			}
			out = append(out, doc.Volume)
			return nil
		})
	})
	return out, err
}

func (s *Store) DeleteVolume(ctx context.Context, t models.Target, volumeID string) error {
	return s.update(func(txn *badger.Txn) error {
		vk := key(nsVolume, t.Tier(), t.PartnerID, volumeID)
		if _, err := txn.Get(vk); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return catalog.ErrNotFound.New("volume %s", volumeID)
			}
			return catalog.Error.Wrap(err)
		}
		doomed := [][]byte{vk, key(nsOptions, t.Tier(), t.PartnerID, volumeID)}
		collect := func(k, _ []byte) error { doomed = append(doomed, k); return nil }
		if err := scan(txn, prefix(nsTag, t.Tier(), t.PartnerID, volumeID), collect); err != nil {
			return err
		}
		if err := scan(txn, prefix(nsSnapshot, t.Tier(), t.PartnerID, volumeID), collect); err != nil {
			return err
		}
		err := scan(txn, prefix(nsSession, t.Tier(), t.PartnerID), func(k, v []byte) error {
			var ds models.DeletionSession
			if err := json.Unmarshal(v, &ds); err != nil {
				return catalog.Error.Wrap(err)
			}
			if ds.VolumeID == volumeID {
				doomed = append(doomed, k)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return catalog.Error.Wrap(err)
			}
		}
		return nil
	})
}

// Tags

func (s *Store) GetTag(ctx context.Context, t models.Target, volumeID, k string) (*models.Tag, error) {
	var tag models.Tag
	if err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, key(nsTag, t.Tier(), t.PartnerID, volumeID, k), &tag)
	}); err != nil {
		return nil, err
	}
	return &tag, nil
}

// PutTag writes the tag and refreshes the copy embedded in its volume document
// when the volume references it.
func (s *Store) PutTag(ctx context.Context, t models.Target, tag *models.Tag) error {
	return s.update(func(txn *badger.Txn) error {
		if err := setJSON(txn, key(nsTag, t.Tier(), t.PartnerID, tag.VolumeID, tag.Key), tag); err != nil {
			return err
		}
		vk := key(nsVolume, t.Tier(), t.PartnerID, tag.VolumeID)
		var doc volumeDoc
		err := getJSON(txn, vk, &doc)
		if catalog.ErrNotFound.Has(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if !embedTag(&doc, *tag) {
			return nil
		}
		return setJSON(txn, vk, doc)
	})
}

// embedTag places tag in the embedded collection if the volume references its
// key, keeping the collection in reference order.
func embedTag(doc *volumeDoc, tag models.Tag) bool {
	referenced := false
	for _, k := range doc.Volume.Tags {
		if k == tag.Key {
			referenced = true
			break
		}
	}
	if !referenced {
		return false
	}
	for i := range doc.Tags {
		if doc.Tags[i].Key == tag.Key {
			doc.Tags[i] = tag
			return true
		}
	}
	tags := make([]models.Tag, 0, len(doc.Tags)+1)
	for _, k := range doc.Volume.Tags {
		if k == tag.Key {
			tags = append(tags, tag)
			continue
		}
		for _, existing := range doc.Tags {
			if existing.Key == k {
				tags = append(tags, existing)
			}
		}
	}
	doc.Tags = tags
	return true
}

func (s *Store) TagsByVolume(ctx context.Context, t models.Target, volumeID, owner string) ([]models.Tag, error) {
	var out []models.Tag
	err := s.view(func(txn *badger.Txn) error {
		return scan(txn, prefix(nsTag, t.Tier(), t.PartnerID, volumeID), func(_, v []byte) error {
			var tag models.Tag
			if err := json.Unmarshal(v, &tag); err != nil {
				return catalog.Error.Wrap(err)
			}
			if owner == "" || tag.OwnerSystemID == owner {
				out = append(out, tag)
			}
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, err
}

// Options

func (s *Store) options(txn *badger.Txn, t models.Target, volumeID string) (map[string]string, error) {
	opts := map[string]string{}
	err := getJSON(txn, key(nsOptions, t.Tier(), t.PartnerID, volumeID), &opts)
	if catalog.ErrNotFound.Has(err) {
		return opts, nil
	}
	return opts, err
}

func (s *Store) GetOption(ctx context.Context, t models.Target, volumeID, name string) (*models.VolumeOption, error) {
	var opt *models.VolumeOption
	err := s.view(func(txn *badger.Txn) error {
		opts, err := s.options(txn, t, volumeID)
		if err != nil {
			return err
		}
		v, ok := opts[name]
		if !ok {
			return catalog.ErrNotFound.New("option %s/%s", volumeID, name)
		}
		opt = &models.VolumeOption{VolumeID: volumeID, Name: name, Value: v}
		return nil
	})
	return opt, err
}

func (s *Store) PutOption(ctx context.Context, t models.Target, o *models.VolumeOption) error {
	return s.update(func(txn *badger.Txn) error {
		opts, err := s.options(txn, t, o.VolumeID)
		if err != nil {
			return err
		}
		opts[o.Name] = o.Value
		return setJSON(txn, key(nsOptions, t.Tier(), t.PartnerID, o.VolumeID), opts)
	})
}

// Snapshots

func (s *Store) GetSnapshot(ctx context.Context, t models.Target, volumeID, version string) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, key(nsSnapshot, t.Tier(), t.PartnerID, volumeID, version), &snap)
	}); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) PutSnapshot(ctx context.Context, t models.Target, snap *models.Snapshot) error {
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, key(nsSnapshot, t.Tier(), t.PartnerID, snap.VolumeID, snap.Version), snap)
	})
}

func (s *Store) ListSnapshots(ctx context.Context, t models.Target, volumeID string) ([]models.Snapshot, error) {
	var out []models.Snapshot
	err := s.view(func(txn *badger.Txn) error {
		return scan(txn, prefix(nsSnapshot, t.Tier(), t.PartnerID, volumeID), func(_, v []byte) error {
			var snap models.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return catalog.Error.Wrap(err)
			}
			if snap.Visible() {
				out = append(out, snap)
			}
			return nil
		})
	})
	catalog.SortSnapshots(out)
	return out, err
}

func (s *Store) DeleteSnapshot(ctx context.Context, t models.Target, volumeID, version string) error {
	return s.update(func(txn *badger.Txn) error {
		k := key(nsSnapshot, t.Tier(), t.PartnerID, volumeID, version)
		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return catalog.ErrNotFound.New("snapshot %s/%s", volumeID, version)
			}
			return catalog.Error.Wrap(err)
		}
		return catalog.Error.Wrap(txn.Delete(k))
	})
}

// Deletion sessions

func sessionTarget(ds *models.DeletionSession) models.Target {
	return models.Target{PartnerID: ds.PartnerID, Archive: ds.Archive}
}

func (s *Store) CreateSession(ctx context.Context, ds *models.DeletionSession) error {
	now := time.Now().UTC()
	ds.CreatedAt, ds.UpdatedAt = now, now
	t := sessionTarget(ds)
	return s.update(func(txn *badger.Txn) error {
		sk := key(nsSnapshot, t.Tier(), t.PartnerID, ds.VolumeID, ds.SnapVersion)
		var snap models.Snapshot
		if err := getJSON(txn, sk, &snap); err != nil {
			return err
		}
		snap.DeleteState = models.SnapshotPending
		if err := setJSON(txn, sk, snap); err != nil {
			return err
		}
		return setJSON(txn, key(nsSession, t.Tier(), t.PartnerID, ds.ID), ds)
	})
}

func (s *Store) ListSessions(ctx context.Context, t models.Target, state string) ([]models.DeletionSession, error) {
	var out []models.DeletionSession
	err := s.view(func(txn *badger.Txn) error {
		return scan(txn, prefix(nsSession, t.Tier(), t.PartnerID), func(_, v []byte) error {
			var ds models.DeletionSession
			if err := json.Unmarshal(v, &ds); err != nil {
				return catalog.Error.Wrap(err)
			}
			if state == "" || ds.State == state {
				out = append(out, ds)
			}
			return nil
		})
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (s *Store) UpdateSession(ctx context.Context, ds *models.DeletionSession) error {
	ds.UpdatedAt = time.Now().UTC()
	t := sessionTarget(ds)
	return s.update(func(txn *badger.Txn) error {
		k := key(nsSession, t.Tier(), t.PartnerID, ds.ID)
		var cur models.DeletionSession
		if err := getJSON(txn, k, &cur); err != nil {
			return err
		}
		return setJSON(txn, k, ds)
	})
}

// Runs

func (s *Store) SaveRun(ctx context.Context, r *models.Run) error {
	return s.update(func(txn *badger.Txn) error {
		return setJSON(txn, key(nsRun, fmt.Sprintf("%020d", r.Started.UnixNano()), r.ID), r)
	})
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	var out []models.Run
	err := s.view(func(txn *badger.Txn) error {
		return scan(txn, prefix(nsRun), func(_, v []byte) error {
			var r models.Run
			if err := json.Unmarshal(v, &r); err != nil {
				return catalog.Error.Wrap(err)
			}
			out = append(out, r)
			return nil
		})
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}
