// Package consolidate rebuilds the local catalog from the metadata namespaces
// found in a partner bucket.
package consolidate

import (
	"context"
	"sort"

	"github.com/zeebo/errs"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/layout"
	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/metadata"
	"github.com/arencloud/snapkeeper/internal/models"
	"github.com/arencloud/snapkeeper/internal/objectstore"
	"github.com/arencloud/snapkeeper/internal/recovery"
)

var (
	// Error is the class of fatal consolidation failures.
	Error = errs.Class("consolidate")
	// ErrNotStaged marks an archive volume whose metadata is not yet readable.
	ErrNotStaged = errs.Class("metadata not staged")
	// ErrOwnershipMismatch marks a volume written by another system.
	ErrOwnershipMismatch = errs.Class("ownership mismatch")
)

// Result aggregates one consolidation run.
type Result struct {
	VolumesRestored   int `json:"volumesRestored"`
	SnapshotsRestored int `json:"snapshotsRestored"`
	TagsRestored      int `json:"tagsRestored"`
	OptionsRestored   int `json:"optionsRestored"`
	OwnersScanned     int `json:"ownersScanned"`
	VolumesScanned    int `json:"volumesScanned"`
	SkippedForeign    int `json:"skippedForeign"`
	SkippedUnstaged   int `json:"skippedUnstaged"`
	Failures          int `json:"failures"`
}

type Config struct {
	Store    objectstore.Client
	Repo     catalog.Repository
	Layout   layout.Layout
	Target   models.Target
	SystemID string
	Log      logging.Logger
}

type Consolidator struct {
	store    objectstore.Client
	repo     catalog.Repository
	importer *metadata.Importer
	layout   layout.Layout
	target   models.Target
	systemID string
	log      logging.Logger
}

func New(cfg Config) *Consolidator {
	return &Consolidator{
		store:    cfg.Store,
		repo:     cfg.Repo,
		importer: metadata.NewImporter(cfg.Log.Named("import")),
		layout:   cfg.Layout,
		target:   cfg.Target,
		systemID: cfg.SystemID,
		log:      cfg.Log,
	}
}

// Consolidate imports every owner's tags, then every volume namespace under the
// metadata root. In non-global mode only the local system's namespaces are
// imported. Per-owner and per-volume failures are counted; only a failed
// top-level listing is returned as an error.
func (c *Consolidator) Consolidate(ctx context.Context, global bool) (Result, error) {
	var res Result
	owners, err := c.owners(ctx, global)
	if err != nil {
		return res, err
	}
	for i, owner := range owners {
		c.log.Info("importing tag metadata", "owner", owner, "n", i+1, "of", len(owners))
		res.OwnersScanned++
		err := recovery.Guard(c.log, "tags "+owner, func() error { return c.tags(ctx, owner, &res) })
		if err != nil {
			res.Failures++
			c.log.Error("tag import failed", "owner", owner, "error", err)
		}
	}

	volumes, err := c.volumeIDs(ctx)
	if err != nil {
		return res, err
	}
	c.log.Info("scanning volume metadata", "root", c.layout.MetadataRoot, "volumes", len(volumes))
	for _, id := range volumes {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := recovery.Guard(c.log, "volume "+id, func() error { return c.volume(ctx, id, global, &res) })
		switch {
		case err == nil:
			res.VolumesScanned++
		case ErrNotStaged.Has(err):
			res.SkippedUnstaged++
			c.log.Warn("volume metadata unavailable, skipping", "volume", id, "error", err)
		case ErrOwnershipMismatch.Has(err):
			res.SkippedForeign++
			c.log.Info("skipping volume owned by another system", "volume", id, "error", err)
		default:
			res.VolumesScanned++
			res.Failures++
			c.log.Error("volume import failed", "volume", id, "error", err)
		}
	}
	c.log.Info("consolidation finished",
		"volumesRestored", res.VolumesRestored, "snapshotsRestored", res.SnapshotsRestored,
		"skippedForeign", res.SkippedForeign, "skippedUnstaged", res.SkippedUnstaged, "failures", res.Failures)
	return res, nil
}

func (c *Consolidator) owners(ctx context.Context, global bool) ([]string, error) {
	if !global {
		return []string{c.systemID}, nil
	}
	objs, err := c.store.ListObjects(ctx, c.layout.TagsRoot(), true)
	if err != nil {
		return nil, Error.New("list tag namespaces: %v", err)
	}
	seen := map[string]bool{}
	var owners []string
	for _, o := range objs {
		owner, ok := c.layout.OwnerFromTagKey(o.Key)
		if !ok || seen[owner] {
			continue
		}
		seen[owner] = true
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}

func (c *Consolidator) volumeIDs(ctx context.Context) ([]string, error) {
	objs, err := c.store.ListObjects(ctx, c.layout.MetadataRoot, true)
	if err != nil {
		return nil, Error.New("list volume namespaces: %v", err)
	}
	seen := map[string]bool{}
	var ids []string
	for _, o := range objs {
		entry, ok := c.layout.VolumeEntry(o.Key)
		if !ok || layout.Reserved(entry) || seen[entry] {
			continue
		}
		seen[entry] = true
		ids = append(ids, entry)
	}
	return ids, nil
}

// fetch returns the latest blob under prefix, or nil when there is none.
func (c *Consolidator) fetch(ctx context.Context, prefix string) (*metadata.Blob, error) {
	data, err := c.store.GetLatestObject(ctx, prefix)
	if objectstore.ErrObjectNotFound.Has(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return metadata.Decode(data)
}

func (c *Consolidator) tags(ctx context.Context, owner string, res *Result) error {
	blob, err := c.fetch(ctx, c.layout.TagsPrefix(owner))
	if err != nil || blob == nil {
		return err
	}
	r, err := c.importer.Restore(ctx, blob, metadata.Tags(c.repo, c.target))
	if r.Updated > 0 {
		c.log.Info("restored tags", "owner", owner, "count", r.Updated)
	}
	res.TagsRestored += r.Updated
	return err
}

func (c *Consolidator) staged(ctx context.Context, volumeID string) error {
	for _, prefix := range []string{
		c.layout.VolumeBlob(volumeID),
		c.layout.OptionsBlob(volumeID),
		c.layout.SnapshotsBlob(volumeID),
	} {
		ok, err := c.store.MetadataStaged(ctx, prefix)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotStaged.New("%s", prefix)
		}
	}
	return nil
}

// volume imports the volume, options and snapshot blobs of one namespace. The
// three are independent: a failure in one is reported after the others ran,
// except that in non-global mode an unreadable volume blob stops the volume.
func (c *Consolidator) volume(ctx context.Context, id string, global bool, res *Result) error {
	if c.store.StagingRequired() {
		if err := c.staged(ctx, id); err != nil {
			return err
		}
	}
	c.log.Debug("scanning volume", "volume", id)
	var group errs.Group

	vblob, err := c.fetch(ctx, c.layout.VolumeBlob(id))
	if err != nil && !global {
		// The owner is unknown, so nothing of this volume may be written.
		return Error.New("volume %s: %v", id, err)
	}
	group.Add(err)
	if vblob != nil {
		owner := vblob.Owner()
		if !global && owner != c.systemID {
			return ErrOwnershipMismatch.New("volume %s owned by %q", id, owner)
		}
		r, err := c.importVolume(ctx, vblob, id, owner, global)
		group.Add(err)
		if r.Updated > 0 {
			c.log.Info("imported volume metadata", "volume", id)
		}
		res.VolumesRestored += r.Updated
	}

	oblob, err := c.fetch(ctx, c.layout.OptionsBlob(id))
	group.Add(err)
	if oblob != nil {
		r, err := c.importer.Restore(ctx, oblob, metadata.Options(c.repo, c.target))
		group.Add(err)
		res.OptionsRestored += r.Updated
	}

	sblob, err := c.fetch(ctx, c.layout.SnapshotsBlob(id))
	group.Add(err)
	if sblob != nil {
		r, err := c.importer.Restore(ctx, sblob, metadata.Snapshots(c.repo, c.target))
		group.Add(err)
		if r.Updated > 0 {
			c.log.Info("imported snapshot metadata", "volume", id, "count", r.Updated)
		}
		res.SnapshotsRestored += r.Updated
	}
	return group.Err()
}

// importVolume imports a volume blob with the tag references its owner wrote.
func (c *Consolidator) importVolume(ctx context.Context, blob *metadata.Blob, id, owner string, global bool) (metadata.Result, error) {
	tags, err := c.repo.TagsByVolume(ctx, c.target, id, owner)
	if err != nil {
		return metadata.Result{}, err
	}
	keys := make([]string, 0, len(tags))
	for _, t := range tags {
		keys = append(keys, t.Key)
	}
	opts := []metadata.VolumeBindOption{metadata.WithTagRefs(keys)}
	if !global {
		opts = append(opts, metadata.OwnedBy(c.systemID))
	}
	return c.importer.Restore(ctx, blob, metadata.Volumes(c.repo, c.target, opts...))
}
