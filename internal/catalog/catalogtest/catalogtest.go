// Package catalogtest is the behavioural contract every catalog.Repository
// variant must satisfy.
package catalogtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/models"
)

// Run exercises open() against the shared repository contract. open must return
// an empty repository; Run closes it.
func Run(t *testing.T, open func(t *testing.T) catalog.Repository) {
	cases := []struct {
		name string
		fn   func(t *testing.T, repo catalog.Repository)
	}{
		{"Partners", partners},
		{"VolumesWithTags", volumesWithTags},
		{"TargetsAreIsolated", targetsIsolated},
		{"Options", options},
		{"SnapshotsOrderedAndVisible", snapshots},
		{"DeleteVolumeCascades", deleteVolume},
		{"SessionsMarkSnapshotPending", sessions},
		{"Runs", runs},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			repo := open(t)
			t.Cleanup(func() { _ = repo.Close() })
			c.fn(t, repo)
		})
	}
}

var (
	live    = models.Target{PartnerID: "p1"}
	archive = models.Target{PartnerID: "p1", Archive: true}
	epoch   = time.Unix(1_700_000_000, 0).UTC()
)

func partners(t *testing.T, repo catalog.Repository) {
	ctx := context.Background()
	_, err := repo.GetPartner(ctx, "p1")
	require.True(t, catalog.ErrNotFound.Has(err), "got %v", err)

	p := &models.Partner{ID: "p1", Endpoint: "s3.local:9000", AccessKey: "ak", SecretKey: "sealed", Bucket: "b", Provider: models.ProviderMinio}
	require.NoError(t, repo.SavePartner(ctx, p))
	assert.False(t, p.CreatedAt.IsZero())

	got, err := repo.GetPartner(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "sealed", got.SecretKey)
	assert.Equal(t, "b", got.Bucket)

	found, err := repo.FindPartner(ctx, "s3.local:9000", "b", false)
	require.NoError(t, err)
	assert.Equal(t, "p1", found.ID)

	_, err = repo.FindPartner(ctx, "s3.local:9000", "b", true)
	assert.True(t, catalog.ErrNotFound.Has(err))
}

func volumesWithTags(t *testing.T, repo catalog.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.PutTag(ctx, live, &models.Tag{VolumeID: "v1", Key: "env", Value: "prod", OwnerSystemID: "A"}))
	require.NoError(t, repo.PutTag(ctx, live, &models.Tag{VolumeID: "v1", Key: "app", Value: "db", OwnerSystemID: "A"}))
	require.NoError(t, repo.PutTag(ctx, live, &models.Tag{VolumeID: "v1", Key: "foreign", Value: "x", OwnerSystemID: "B"}))

	tags, err := repo.TagsByVolume(ctx, live, "v1", "A")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "app", tags[0].Key)
	assert.Equal(t, "env", tags[1].Key)

	tag, err := repo.GetTag(ctx, live, "v1", "env")
	require.NoError(t, err)
	assert.Equal(t, "prod", tag.Value)

	v := &models.Volume{ID: "v1", Name: "data", OwnerSystemID: "A", Size: 10, Created: epoch, Tags: []string{"app", "env"}}
	require.NoError(t, repo.PutVolume(ctx, live, v))

	got, err := repo.GetVolume(ctx, live, "v1")
	require.NoError(t, err)
	assert.Equal(t, "data", got.Name)
	assert.Equal(t, int64(10), got.Size)
	assert.True(t, epoch.Equal(got.Created))
	assert.Equal(t, []string{"app", "env"}, got.Tags)

	v.Name = "renamed"
	v.Tags = []string{"env"}
	require.NoError(t, repo.PutVolume(ctx, live, v))
	got, err = repo.GetVolume(ctx, live, "v1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, []string{"env"}, got.Tags)

	vols, err := repo.ListVolumes(ctx, live)
	require.NoError(t, err)
	assert.Len(t, vols, 1)

	_, err = repo.GetVolume(ctx, live, "missing")
	assert.True(t, catalog.ErrNotFound.Has(err))
}

func targetsIsolated(t *testing.T, repo catalog.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.PutVolume(ctx, live, &models.Volume{ID: "v1", Name: "live", Created: epoch}))
	require.NoError(t, repo.PutVolume(ctx, archive, &models.Volume{ID: "v1", Name: "archived", Created: epoch}))
	other := models.Target{PartnerID: "p2"}

	got, err := repo.GetVolume(ctx, live, "v1")
	require.NoError(t, err)
	assert.Equal(t, "live", got.Name)
	got, err = repo.GetVolume(ctx, archive, "v1")
	require.NoError(t, err)
	assert.Equal(t, "archived", got.Name)

	vols, err := repo.ListVolumes(ctx, other)
	require.NoError(t, err)
	assert.Empty(t, vols)
}

func options(t *testing.T, repo catalog.Repository) {
	ctx := context.Background()
	_, err := repo.GetOption(ctx, live, "v1", "compression")
	assert.True(t, catalog.ErrNotFound.Has(err))

	require.NoError(t, repo.PutOption(ctx, live, &models.VolumeOption{VolumeID: "v1", Name: "compression", Value: "lz4"}))
	require.NoError(t, repo.PutOption(ctx, live, &models.VolumeOption{VolumeID: "v1", Name: "encrypt", Value: "on"}))
	require.NoError(t, repo.PutOption(ctx, live, &models.VolumeOption{VolumeID: "v1", Name: "compression", Value: "zstd"}))

	o, err := repo.GetOption(ctx, live, "v1", "compression")
	require.NoError(t, err)
	assert.Equal(t, "zstd", o.Value)
	o, err = repo.GetOption(ctx, live, "v1", "encrypt")
	require.NoError(t, err)
	assert.Equal(t, "on", o.Value)
}

func snapshots(t *testing.T, repo catalog.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.PutVolume(ctx, live, &models.Volume{ID: "v1", Created: epoch}))
	for _, s := range []models.Snapshot{
		{VolumeID: "v1", Version: "3", Created: epoch.Add(2 * time.Hour)},
		{VolumeID: "v1", Version: "1", Created: epoch},
		{VolumeID: "v1", Version: "2", Created: epoch.Add(time.Hour), DeleteState: models.SnapshotDeleted},
	} {
		require.NoError(t, repo.PutSnapshot(ctx, live, &s))
	}
	snaps, err := repo.ListSnapshots(ctx, live, "v1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "1", snaps[0].Version)
	assert.Equal(t, "3", snaps[1].Version)

	hidden, err := repo.GetSnapshot(ctx, live, "v1", "2")
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotDeleted, hidden.DeleteState)

	require.NoError(t, repo.DeleteSnapshot(ctx, live, "v1", "1"))
	_, err = repo.GetSnapshot(ctx, live, "v1", "1")
	assert.True(t, catalog.ErrNotFound.Has(err))
	err = repo.DeleteSnapshot(ctx, live, "v1", "1")
	assert.True(t, catalog.ErrNotFound.Has(err))
}

func deleteVolume(t *testing.T, repo catalog.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.PutTag(ctx, live, &models.Tag{VolumeID: "v1", Key: "k", Value: "v", OwnerSystemID: "A"}))
	require.NoError(t, repo.PutVolume(ctx, live, &models.Volume{ID: "v1", Created: epoch, Tags: []string{"k"}}))
	require.NoError(t, repo.PutOption(ctx, live, &models.VolumeOption{VolumeID: "v1", Name: "n", Value: "x"}))
	require.NoError(t, repo.PutSnapshot(ctx, live, &models.Snapshot{VolumeID: "v1", Version: "1", Created: epoch}))
	require.NoError(t, repo.PutVolume(ctx, live, &models.Volume{ID: "v2", Created: epoch}))

	require.NoError(t, repo.DeleteVolume(ctx, live, "v1"))

	_, err := repo.GetVolume(ctx, live, "v1")
	assert.True(t, catalog.ErrNotFound.Has(err))
	_, err = repo.GetTag(ctx, live, "v1", "k")
	assert.True(t, catalog.ErrNotFound.Has(err))
	_, err = repo.GetOption(ctx, live, "v1", "n")
	assert.True(t, catalog.ErrNotFound.Has(err))
	_, err = repo.GetSnapshot(ctx, live, "v1", "1")
	assert.True(t, catalog.ErrNotFound.Has(err))

	vols, err := repo.ListVolumes(ctx, live)
	require.NoError(t, err)
	require.Len(t, vols, 1)
	assert.Equal(t, "v2", vols[0].ID)

	err = repo.DeleteVolume(ctx, live, "v1")
	assert.True(t, catalog.ErrNotFound.Has(err))
}

func sessions(t *testing.T, repo catalog.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.PutVolume(ctx, live, &models.Volume{ID: "v1", Created: epoch}))
	require.NoError(t, repo.PutSnapshot(ctx, live, &models.Snapshot{VolumeID: "v1", Version: "1", Created: epoch}))
	require.NoError(t, repo.PutSnapshot(ctx, live, &models.Snapshot{VolumeID: "v1", Version: "2", Created: epoch.Add(time.Hour)}))

	ds := &models.DeletionSession{ID: "s1", PartnerID: live.PartnerID, VolumeID: "v1", SnapVersion: "1", State: models.SessionPending}
	require.NoError(t, repo.CreateSession(ctx, ds))

	snap, err := repo.GetSnapshot(ctx, live, "v1", "1")
	require.NoError(t, err)
	assert.Equal(t, models.SnapshotPending, snap.DeleteState)
	visible, err := repo.ListSnapshots(ctx, live, "v1")
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "2", visible[0].Version)

	missing := &models.DeletionSession{ID: "s2", PartnerID: live.PartnerID, VolumeID: "v1", SnapVersion: "9", State: models.SessionPending}
	assert.True(t, catalog.ErrNotFound.Has(repo.CreateSession(ctx, missing)))

	pending, err := repo.ListSessions(ctx, live, models.SessionPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "s1", pending[0].ID)

	ds.State = models.SessionCompleted
	ds.ObjectsRemoved = 4
	require.NoError(t, repo.UpdateSession(ctx, ds))

	pending, err = repo.ListSessions(ctx, live, models.SessionPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	all, err := repo.ListSessions(ctx, live, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 4, all[0].ObjectsRemoved)

	archived, err := repo.ListSessions(ctx, archive, "")
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func runs(t *testing.T, repo catalog.Repository) {
	ctx := context.Background()
	for i, cmd := range []string{"import", "reclaim", "purge"} {
		start := epoch.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.SaveRun(ctx, &models.Run{ID: cmd, Command: cmd, Status: "ok", Summary: "{}", Started: start, Ended: start.Add(time.Second)}))
	}
	got, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "purge", got[0].Command)
	assert.Equal(t, "reclaim", got[1].Command)

	got, err = repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
