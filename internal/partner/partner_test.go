package partner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/catalog/document"
	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/models"
	"github.com/arencloud/snapkeeper/internal/objectstore"
)

func TestSealRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "seal.key")
	s, err := LoadSealer(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	a, err := s.Seal("hunter2")
	require.NoError(t, err)
	b, err := s.Seal("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonces differ")
	assert.False(t, strings.Contains(a, "hunter2"))

	again, err := LoadSealer(path)
	require.NoError(t, err)
	plain, err := again.Open(a)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	plain, err = again.Open("legacy")
	require.NoError(t, err)
	assert.Equal(t, "legacy", plain)

	_, err = NewSealer([32]byte{1}).Open(a)
	assert.True(t, ErrSeal.Has(err))
}

func TestLoadSealerRejectsBadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seal.key")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))
	_, err := LoadSealer(path)
	assert.True(t, ErrSeal.Has(err))
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	log := logging.FromZap(zaptest.NewLogger(t))
	repo, err := document.OpenInMemory(log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return NewRegistry(repo, NewSealer([32]byte{7}), log)
}

func TestRegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	in := Params{Endpoint: "s3.local:9000", AccessKey: "ak", SecretKey: "sk", Bucket: "backups", Provider: "MINIO"}

	first, err := r.Register(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderMinio, first.Provider)
	assert.Equal(t, "sk", first.SecretKey)

	in.SecretKey = "rotated"
	second, err := r.Register(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	stored, err := r.repo.GetPartner(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.SecretKey, sealedPrefix))

	got, err := r.Resolve(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.SecretKey)

	in.Archive = true
	archive, err := r.Register(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, archive.ID)
}

func TestRegisterValidates(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Register(context.Background(), Params{Endpoint: "e"})
	require.Error(t, err)
	assert.True(t, ErrInvalid.Has(err))
	assert.Contains(t, err.Error(), "bucket")

	_, err = r.Register(context.Background(), Params{Endpoint: "e", Bucket: "b", AccessKey: "a", SecretKey: "s", Provider: "ftp"})
	assert.True(t, ErrInvalid.Has(err))
}

func TestRegisterRejectsAzureBeforeSaving(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)
	_, err := r.Register(ctx, Params{Endpoint: "blob.core.windows.net", AccessKey: "a", SecretKey: "s", Bucket: "b", Provider: "azure"})
	require.Error(t, err)
	assert.True(t, ErrInvalid.Has(err))

	_, err = r.repo.FindPartner(ctx, "blob.core.windows.net", "b", false)
	assert.True(t, catalog.ErrNotFound.Has(err))
}

func TestResolveUnknown(t *testing.T) {
	_, err := newRegistry(t).Resolve(context.Background(), "nope")
	assert.True(t, ErrUnknown.Has(err))
}

func TestClientRejectsAzure(t *testing.T) {
	_, err := newRegistry(t).Client(&models.Partner{Provider: models.ProviderAzure})
	assert.True(t, objectstore.ErrUnsupportedProvider.Has(err))
}
