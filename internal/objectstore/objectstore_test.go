package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arencloud/snapkeeper/internal/models"
)

func TestLatestPicksNewestGeneration(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	objs := []ObjectInfo{
		{Key: "m/v1/volume-1", LastModified: t0},
		{Key: "m/v1/volume-3", LastModified: t0.Add(time.Hour)},
		{Key: "m/v1/volume-2", LastModified: t0.Add(time.Hour)},
		{Key: "m/v1/sub/", LastModified: t0.Add(48 * time.Hour)},
	}
	got, ok := latest(objs)
	require.True(t, ok)
	assert.Equal(t, "m/v1/volume-3", got.Key)

	_, ok = latest([]ObjectInfo{{Key: "dir/"}})
	assert.False(t, ok)
}

func TestRestoreHeader(t *testing.T) {
	assert.True(t, restoreDone(`ongoing-request="false", expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"`))
	assert.False(t, restoreDone(`ongoing-request="true"`))
	assert.False(t, restoreDone(""))
	assert.True(t, coldStorage("glacier"))
	assert.True(t, coldStorage("DEEP_ARCHIVE"))
	assert.False(t, coldStorage("STANDARD"))
}

func TestMemoryListAndLatest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{})
	now := time.Now()
	m.Put("m/tags/abc-1", []byte("old"), now.Add(-time.Hour))
	m.Put("m/tags/abc-2", []byte("new"), now)
	m.Put("m/v1/volume-1", []byte("v"), now)

	top, err := m.ListObjects(ctx, "m/", false)
	require.NoError(t, err)
	assert.Equal(t, []ObjectInfo{{Key: "m/tags/"}, {Key: "m/v1/"}}, top)

	all, err := m.ListObjects(ctx, "m/", true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	b, err := m.GetLatestObject(ctx, "m/tags/abc-")
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))

	_, err = m.GetLatestObject(ctx, "m/tags/zzz-")
	assert.True(t, ErrObjectNotFound.Has(err))
}

func TestMemoryStaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{Archive: true})
	now := time.Now()
	m.PutCold("a/v1/volume-1", []byte("x"), now, true)
	m.PutCold("a/v2/volume-1", []byte("x"), now, false)
	m.Put("a/v3/volume-1", []byte("x"), now)

	staged, err := m.MetadataStaged(ctx, "a/v1/volume-")
	require.NoError(t, err)
	assert.False(t, staged)
	staged, err = m.MetadataStaged(ctx, "a/v2/volume-")
	require.NoError(t, err)
	assert.True(t, staged)
	staged, err = m.MetadataStaged(ctx, "a/v3/volume-")
	require.NoError(t, err)
	assert.True(t, staged)
	staged, err = m.MetadataStaged(ctx, "a/v9/volume-")
	require.NoError(t, err)
	assert.True(t, staged, "absent metadata has nothing to stage")
}

func TestStagingRequired(t *testing.T) {
	assert.False(t, NewMemory(Options{}).StagingRequired())
	assert.True(t, NewMemory(Options{Archive: true}).StagingRequired())
	assert.True(t, NewMemory(Options{DeepStorage: true}).StagingRequired())
	assert.False(t, NewMemory(Options{DeepStorage: true}).IsArchiveMode())

	c, err := New(&models.Partner{Provider: models.ProviderAWS, Bucket: "b", DeepStorage: true})
	require.NoError(t, err)
	assert.True(t, c.StagingRequired())
	c, err = New(&models.Partner{Provider: models.ProviderMinio, Endpoint: "127.0.0.1:9000", Bucket: "b"})
	require.NoError(t, err)
	assert.False(t, c.StagingRequired())
}

func TestMemoryRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(Options{})
	m.Put("d/v1/1/a", []byte("x"), time.Now())
	m.Put("d/v1/1/b", []byte("x"), time.Now())
	m.Put("d/v2/1/a", []byte("x"), time.Now())

	n, err := m.RemoveObjects(ctx, "d/v1/")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"d/v2/1/a"}, m.Keys())

	n, err = m.RemoveObjects(ctx, "nothing/")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHTTPTransportCert(t *testing.T) {
	tr, err := httpTransport("")
	require.NoError(t, err)
	assert.NotNil(t, tr)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0o600))
	_, err = httpTransport(bad)
	assert.True(t, Error.Has(err))

	_, err = httpTransport(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}
