package consolidate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/catalog/document"
	"github.com/arencloud/snapkeeper/internal/layout"
	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/models"
	"github.com/arencloud/snapkeeper/internal/objectstore"
)

var (
	lay  = layout.Layout{MetadataRoot: "metadata/", DataRoot: "volumes/"}
	tgt  = models.Target{PartnerID: "p1"}
	base = time.Unix(1_700_000_000, 0)
)

type fixture struct {
	store *objectstore.Memory
	repo  catalog.Repository
	log   logging.Logger
}

func newFixture(t *testing.T, opts objectstore.Options) *fixture {
	t.Helper()
	log := logging.FromZap(zaptest.NewLogger(t))
	repo, err := document.OpenInMemory(log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return &fixture{store: objectstore.NewMemory(opts), repo: repo, log: log}
}

func (f *fixture) consolidator(systemID string) *Consolidator {
	return New(Config{Store: f.store, Repo: f.repo, Layout: lay, Target: tgt, SystemID: systemID, Log: f.log})
}

func (f *fixture) put(key, body string) { f.store.Put(key, []byte(body), base) }

// seedVolume writes a complete volume namespace owned by owner.
func (f *fixture) seedVolume(id, owner string, snaps int) {
	f.put(lay.VolumeBlob(id)+"1", fmt.Sprintf(`{"version":1,"entries":[{"id":%q,"name":"vol-%s","owner_system_id":%q,"size":1,"time_created":1700000000}]}`, id, id, owner))
	f.put(lay.OptionsBlob(id)+"1", fmt.Sprintf(`{"version":1,"entries":[{"vol_id":%q,"name":"compression","value":"lz4"}]}`, id))
	entries := ""
	for i := 0; i < snaps; i++ {
		if i > 0 {
			entries += ","
		}
		entries += fmt.Sprintf(`{"vol_id":%q,"version":"%d","time_created":%d}`, id, i+1, 1700000000+i)
	}
	f.put(lay.SnapshotsBlob(id)+"1", `{"version":1,"entries":[`+entries+`]}`)
}

func TestNonGlobalImportsOnlyLocalVolumes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, objectstore.Options{})
	f.put(lay.TagsPrefix("A")+"0001", `{"version":1,"entries":[{"vol_id":"va","key":"env","value":"prod","owner_system_id":"A"}]}`)
	f.put(lay.TagsPrefix("B")+"0001", `{"version":1,"entries":[{"vol_id":"vb","key":"env","value":"dev","owner_system_id":"B"}]}`)
	f.put(lay.MetadataRoot+layout.DescriptorFile, `{}`)
	f.seedVolume("va", "A", 2)
	f.seedVolume("vb", "B", 3)

	res, err := f.consolidator("A").Consolidate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.VolumesRestored)
	assert.Equal(t, 2, res.SnapshotsRestored)
	assert.Equal(t, 1, res.TagsRestored)
	assert.Equal(t, 1, res.OwnersScanned)
	assert.Equal(t, 1, res.SkippedForeign)
	assert.Zero(t, res.Failures)

	vols, err := f.repo.ListVolumes(ctx, tgt)
	require.NoError(t, err)
	require.Len(t, vols, 1)
	assert.Equal(t, "va", vols[0].ID)
	assert.Equal(t, []string{"env"}, vols[0].Tags)

	_, err = f.repo.GetVolume(ctx, tgt, "vb")
	assert.True(t, catalog.ErrNotFound.Has(err))
	snaps, err := f.repo.ListSnapshots(ctx, tgt, "vb")
	require.NoError(t, err)
	assert.Empty(t, snaps, "foreign snapshots must not be persisted")

	again, err := f.consolidator("A").Consolidate(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, again.VolumesRestored)
	assert.Zero(t, again.SnapshotsRestored)
	assert.Zero(t, again.TagsRestored)
}

func TestGlobalImportsEveryOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, objectstore.Options{})
	f.put(lay.TagsPrefix("A")+"0001", `{"version":1,"entries":[{"vol_id":"va","key":"env","value":"old","owner_system_id":"A"}]}`)
	f.store.Put(lay.TagsPrefix("A")+"0002", []byte(`{"version":1,"entries":[{"vol_id":"va","key":"env","value":"new","owner_system_id":"A"}]}`), base.Add(time.Hour))
	f.put(lay.TagsPrefix("B")+"0001", `{"version":1,"entries":[{"vol_id":"vb","key":"team","value":"x","owner_system_id":"B"}]}`)
	f.seedVolume("va", "A", 1)
	f.seedVolume("vb", "B", 1)

	res, err := f.consolidator("A").Consolidate(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.OwnersScanned)
	assert.Equal(t, 2, res.VolumesRestored)
	assert.Equal(t, 2, res.SnapshotsRestored)
	assert.Zero(t, res.SkippedForeign)

	tag, err := f.repo.GetTag(ctx, tgt, "va", "env")
	require.NoError(t, err)
	assert.Equal(t, "new", tag.Value, "latest tag generation wins")

	vb, err := f.repo.GetVolume(ctx, tgt, "vb")
	require.NoError(t, err)
	assert.Equal(t, "B", vb.OwnerSystemID)
	assert.Equal(t, []string{"team"}, vb.Tags, "tag refs follow the blob owner")
}

func TestArchiveSkipsUnstagedVolumes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, objectstore.Options{Archive: true})
	f.seedVolume("v1", "A", 1)
	f.seedVolume("v2", "A", 1)
	f.store.PutCold(lay.SnapshotsBlob("v2")+"1", []byte(`{"version":1,"entries":[]}`), base, true)

	res, err := f.consolidator("A").Consolidate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.VolumesRestored)
	assert.Equal(t, 1, res.SkippedUnstaged)
	_, err = f.repo.GetVolume(ctx, tgt, "v2")
	assert.True(t, catalog.ErrNotFound.Has(err))
}

func TestMissingAndMalformedBlobsDoNotAbort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, objectstore.Options{})
	// v1 has only snapshots, v2 a corrupt volume blob, v3 is complete.
	f.put(lay.SnapshotsBlob("v1")+"1", `{"version":1,"entries":[{"vol_id":"v1","version":"1","time_created":1700000000}]}`)
	f.put(lay.VolumeBlob("v2")+"1", `{"version":1,"entries":[`)
	f.put(lay.SnapshotsBlob("v2")+"1", `{"version":1,"entries":[{"vol_id":"v2","version":"1","time_created":1700000000}]}`)
	f.seedVolume("v3", "A", 1)

	res, err := f.consolidator("A").Consolidate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.VolumesRestored)
	assert.Equal(t, 2, res.SnapshotsRestored, "v2 has no readable owner")
	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, 3, res.VolumesScanned)

	global, err := f.consolidator("A").Consolidate(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, global.SnapshotsRestored, "global mode still imports v2 children")
	assert.Equal(t, 1, global.Failures)
}

func TestCorruptForeignVolumeBlobWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, objectstore.Options{})
	f.seedVolume("vb", "B", 3)
	f.store.Put(lay.VolumeBlob("vb")+"2", []byte(`{"version":1,"entries":[{"id":"vb","own`), base.Add(time.Hour))

	res, err := f.consolidator("A").Consolidate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failures)
	assert.Zero(t, res.SnapshotsRestored)
	assert.Zero(t, res.OptionsRestored)

	snaps, err := f.repo.ListSnapshots(ctx, tgt, "vb")
	require.NoError(t, err)
	assert.Empty(t, snaps)
	_, err = f.repo.GetOption(ctx, tgt, "vb", "compression")
	assert.True(t, catalog.ErrNotFound.Has(err))
}

func TestListingFailureIsFatal(t *testing.T) {
	f := newFixture(t, objectstore.Options{})
	f.store.ListErr = errors.New("connection refused")

	_, err := f.consolidator("A").Consolidate(context.Background(), true)
	require.Error(t, err)
	assert.True(t, Error.Has(err))

	_, err = f.consolidator("A").Consolidate(context.Background(), false)
	require.Error(t, err)
}
