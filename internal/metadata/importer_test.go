package metadata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/catalog/document"
	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/models"
)

var tgt = models.Target{PartnerID: "p1"}

func setup(t *testing.T) (*Importer, catalog.Repository) {
	t.Helper()
	log := logging.FromZap(zaptest.NewLogger(t))
	repo, err := document.OpenInMemory(log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return NewImporter(log), repo
}

func mustDecode(t *testing.T, s string) *Blob {
	t.Helper()
	b, err := Decode([]byte(s))
	require.NoError(t, err)
	return b
}

func TestDecode(t *testing.T) {
	b := mustDecode(t, `{"version":1,"entries":[{"id":"v1","owner_system_id":"A"}]}`)
	assert.Len(t, b.Entries, 1)
	assert.Equal(t, "A", b.Owner())

	_, err := Decode([]byte(`{"version":2,"entries":[]}`))
	assert.True(t, Error.Has(err))
	_, err = Decode([]byte(`not json`))
	assert.True(t, Error.Has(err))
}

func TestRestoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	im, repo := setup(t)
	blob := mustDecode(t, `{"version":1,"entries":[
		{"vol_id":"v1","key":"env","value":"prod","owner_system_id":"A"},
		{"vol_id":"v1","key":"app","value":"db","owner_system_id":"A"},
		{"vol_id":"v2","key":"env","value":"dev","owner_system_id":"A"}]}`)

	res, err := im.Restore(ctx, blob, Tags(repo, tgt))
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 3}, res)

	res, err = im.Restore(ctx, blob, Tags(repo, tgt))
	require.NoError(t, err)
	assert.Equal(t, Result{Unchanged: 3}, res)

	tags, err := repo.TagsByVolume(ctx, tgt, "v1", "A")
	require.NoError(t, err)
	assert.Len(t, tags, 2)
}

func TestRestoreUpdatesChangedRecords(t *testing.T) {
	ctx := context.Background()
	im, repo := setup(t)
	_, err := im.Restore(ctx, mustDecode(t, `{"version":1,"entries":[
		{"vol_id":"v1","name":"compression","value":"lz4"},
		{"vol_id":"v1","name":"dedup","value":"on"}]}`), Options(repo, tgt))
	require.NoError(t, err)

	res, err := im.Restore(ctx, mustDecode(t, `{"version":1,"entries":[
		{"vol_id":"v1","name":"compression","value":"zstd"},
		{"vol_id":"v1","name":"dedup","value":"on"}]}`), Options(repo, tgt))
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1, Unchanged: 1}, res)

	o, err := repo.GetOption(ctx, tgt, "v1", "compression")
	require.NoError(t, err)
	assert.Equal(t, "zstd", o.Value)
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	ctx := context.Background()
	im, repo := setup(t)
	blob := mustDecode(t, `{"version":1,"entries":[
		{"vol_id":"v1","version":"1","time_created":1700000000},
		"garbage",
		{"vol_id":"v1","time_created":1700000000},
		{"vol_id":"v1","version":"2","time_created":"yesterday"},
		{"vol_id":"v1","version":"3","time_created":1700003600}]}`)

	res, err := im.Restore(ctx, blob, Snapshots(repo, tgt))
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 2, Skipped: 3}, res)

	snaps, err := repo.ListSnapshots(ctx, tgt, "v1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "1", snaps[0].Version)
	assert.Equal(t, int64(1700003600), snaps[1].Created.Unix())
}

func TestSnapshotDeleteStateSurvivesImport(t *testing.T) {
	ctx := context.Background()
	im, repo := setup(t)
	blob := mustDecode(t, `{"version":1,"entries":[{"vol_id":"v1","version":"1","name":"s1","time_created":1700000000}]}`)
	_, err := im.Restore(ctx, blob, Snapshots(repo, tgt))
	require.NoError(t, err)

	snap, err := repo.GetSnapshot(ctx, tgt, "v1", "1")
	require.NoError(t, err)
	snap.DeleteState = models.SnapshotDeleted
	require.NoError(t, repo.PutSnapshot(ctx, tgt, snap))

	res, err := im.Restore(ctx, blob, Snapshots(repo, tgt))
	require.NoError(t, err)
	assert.Equal(t, Result{Unchanged: 1}, res)

	snaps, err := repo.ListSnapshots(ctx, tgt, "v1")
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestVolumeImport(t *testing.T) {
	ctx := context.Background()
	im, repo := setup(t)
	blob := mustDecode(t, `{"version":1,"entries":[{"id":"v1","name":"data","owner_system_id":"A","size":42,"time_created":1700000000}]}`)

	res, err := im.Restore(ctx, blob, Volumes(repo, tgt, WithTagRefs([]string{"env", "app"})))
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1}, res)
	v, err := repo.GetVolume(ctx, tgt, "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "env"}, v.Tags)
	assert.Equal(t, int64(42), v.Size)

	res, err = im.Restore(ctx, blob, Volumes(repo, tgt, WithTagRefs([]string{"app", "env"})))
	require.NoError(t, err)
	assert.Equal(t, Result{Unchanged: 1}, res)

	res, err = im.Restore(ctx, blob, Volumes(repo, tgt, WithTagRefs([]string{"app"})))
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1}, res)
}

func TestVolumeOwnership(t *testing.T) {
	ctx := context.Background()
	im, repo := setup(t)
	foreign := mustDecode(t, `{"version":1,"entries":[{"id":"v1","owner_system_id":"B"}]}`)

	res, err := im.Restore(ctx, foreign, Volumes(repo, tgt, OwnedBy("A")))
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res)
	_, err = repo.GetVolume(ctx, tgt, "v1")
	assert.True(t, catalog.ErrNotFound.Has(err))

	_, err = im.Restore(ctx, foreign, Volumes(repo, tgt))
	require.NoError(t, err)
	res, err = im.Restore(ctx, mustDecode(t, `{"version":1,"entries":[{"id":"v1","owner_system_id":"C"}]}`), Volumes(repo, tgt))
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res, "owner is immutable once recorded")
}

func TestRestoreStopsOnCancel(t *testing.T) {
	im, repo := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := im.Restore(ctx, mustDecode(t, `{"version":1,"entries":[{"vol_id":"v","key":"k"}]}`), Tags(repo, tgt))
	assert.ErrorIs(t, err, context.Canceled)
}
