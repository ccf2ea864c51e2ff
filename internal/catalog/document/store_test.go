package document

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/catalog/catalogtest"
	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/models"
)

func TestContract(t *testing.T) {
	catalogtest.Run(t, func(t *testing.T) catalog.Repository {
		s, err := OpenInMemory(logging.FromZap(zaptest.NewLogger(t)))
		require.NoError(t, err)
		return s
	})
}

func TestVolumeEmbedsTags(t *testing.T) {
	ctx := context.Background()
	s, err := OpenInMemory(logging.Nop())
	require.NoError(t, err)
	defer s.Close()

	tgt := models.Target{PartnerID: "p"}
	require.NoError(t, s.PutTag(ctx, tgt, &models.Tag{VolumeID: "v", Key: "k", Value: "1", OwnerSystemID: "A"}))
	require.NoError(t, s.PutVolume(ctx, tgt, &models.Volume{ID: "v", Tags: []string{"k", "dangling"}}))

	var doc volumeDoc
	require.NoError(t, s.view(func(txn *badger.Txn) error {
		return getJSON(txn, key(nsVolume, tgt.Tier(), tgt.PartnerID, "v"), &doc)
	}))
	require.Len(t, doc.Tags, 1)
	assert.Equal(t, "1", doc.Tags[0].Value)

	embedded := func() []models.Tag {
		var doc volumeDoc
		require.NoError(t, s.view(func(txn *badger.Txn) error {
			return getJSON(txn, key(nsVolume, tgt.Tier(), tgt.PartnerID, "v"), &doc)
		}))
		return doc.Tags
	}

	require.NoError(t, s.PutTag(ctx, tgt, &models.Tag{VolumeID: "v", Key: "k", Value: "2", OwnerSystemID: "A"}))
	assert.Equal(t, []models.Tag{{VolumeID: "v", Key: "k", Value: "2", OwnerSystemID: "A"}}, embedded(), "value change reaches the volume")

	require.NoError(t, s.PutTag(ctx, tgt, &models.Tag{VolumeID: "v", Key: "dangling", Value: "x", OwnerSystemID: "A"}))
	assert.Len(t, embedded(), 2, "a referenced tag arriving late is embedded")

	require.NoError(t, s.PutTag(ctx, tgt, &models.Tag{VolumeID: "v", Key: "other", Value: "y", OwnerSystemID: "A"}))
	assert.Len(t, embedded(), 2, "unreferenced tags stay out")

	got, err := s.GetVolume(ctx, tgt, "v")
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "dangling"}, got.Tags)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, logging.Nop())
	require.NoError(t, err)
	require.NoError(t, s.SavePartner(context.Background(), &models.Partner{ID: "p", Bucket: "b"}))
	require.NoError(t, s.Close())

	s, err = Open(dir, logging.Nop())
	require.NoError(t, err)
	defer s.Close()
	p, err := s.GetPartner(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Bucket)
}
