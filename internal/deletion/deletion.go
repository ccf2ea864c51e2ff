// Package deletion removes volumes and snapshots from both the bucket and the
// catalog. Volume deletion is synchronous; snapshot deletion is queued as a
// persisted session and completed by ProcessSessions.
package deletion

import (
	"context"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/layout"
	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/models"
	"github.com/arencloud/snapkeeper/internal/objectstore"
	"github.com/arencloud/snapkeeper/internal/reclaim"
)

var Error = errs.Class("deletion")

type Service struct {
	repo   catalog.Repository
	store  objectstore.Client
	layout layout.Layout
	log    logging.Logger
}

var _ reclaim.Catalog = (*Service)(nil)

func New(repo catalog.Repository, store objectstore.Client, l layout.Layout, log logging.Logger) *Service {
	return &Service{repo: repo, store: store, layout: l, log: log}
}

func (s *Service) ListVolumes(ctx context.Context, t models.Target) ([]models.Volume, error) {
	return s.repo.ListVolumes(ctx, t)
}

func (s *Service) ListSnapshots(ctx context.Context, t models.Target, volumeID string) ([]models.Snapshot, error) {
	return s.repo.ListSnapshots(ctx, t, volumeID)
}

// DeleteSnapshotMetadata drops the catalog record only; the snapshot data goes
// with its volume.
func (s *Service) DeleteSnapshotMetadata(ctx context.Context, t models.Target, volumeID, version string) error {
	err := s.repo.DeleteSnapshot(ctx, t, volumeID, version)
	if catalog.ErrNotFound.Has(err) {
		return nil
	}
	return err
}

// DeleteSnapshotAsync hides the snapshot and records a pending session for it.
func (s *Service) DeleteSnapshotAsync(ctx context.Context, t models.Target, volumeID, version string) (string, error) {
	ds := &models.DeletionSession{
		ID:          uuid.NewString(),
		PartnerID:   t.PartnerID,
		Archive:     t.Archive,
		VolumeID:    volumeID,
		SnapVersion: version,
		State:       models.SessionPending,
	}
	if err := s.repo.CreateSession(ctx, ds); err != nil {
		return "", Error.New("queue snapshot %s/%s: %v", volumeID, version, err)
	}
	return ds.ID, nil
}

// DeleteVolume removes the volume's data and metadata namespaces from the bucket
// and then its catalog records. The bucket goes first so a later import cannot
// bring the volume back.
func (s *Service) DeleteVolume(ctx context.Context, t models.Target, volumeID string) error {
	data, err := s.store.RemoveObjects(ctx, s.layout.VolumeData(volumeID))
	if err != nil {
		return Error.New("remove data of %s: %v", volumeID, err)
	}
	meta, err := s.store.RemoveObjects(ctx, s.layout.VolumeRoot(volumeID))
	if err != nil {
		return Error.New("remove metadata of %s: %v", volumeID, err)
	}
	if err := s.repo.DeleteVolume(ctx, t, volumeID); err != nil && !catalog.ErrNotFound.Has(err) {
		return err
	}
	s.log.Debug("volume removed", "volume", volumeID, "dataObjects", data, "metadataObjects", meta)
	return nil
}

// ProcessResult summarizes one pass over the session queue.
type ProcessResult struct {
	Completed      int `json:"completed"`
	Failed         int `json:"failed"`
	ObjectsRemoved int `json:"objectsRemoved"`
}

// ProcessSessions completes up to limit open sessions of t, oldest first.
// Failed sessions are retried. limit <= 0 means all.
func (s *Service) ProcessSessions(ctx context.Context, t models.Target, limit int) (ProcessResult, error) {
	var res ProcessResult
	sessions, err := s.repo.ListSessions(ctx, t, "")
	if err != nil {
		return res, Error.Wrap(err)
	}
	for i := range sessions {
		ds := &sessions[i]
		if ds.State == models.SessionCompleted {
			continue
		}
		if limit > 0 && res.Completed+res.Failed >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.complete(ctx, t, ds); err != nil {
			ds.State = models.SessionFailed
			ds.Error = err.Error()
			res.Failed++
			s.log.Warn("deletion session failed", "session", ds.ID, "volume", ds.VolumeID, "snapshot", ds.SnapVersion, "error", err)
		} else {
			ds.State = models.SessionCompleted
			ds.Error = ""
			res.Completed++
			res.ObjectsRemoved += ds.ObjectsRemoved
			s.log.Info("deletion session completed", "session", ds.ID, "volume", ds.VolumeID, "snapshot", ds.SnapVersion, "objects", ds.ObjectsRemoved)
		}
		if err := s.repo.UpdateSession(ctx, ds); err != nil {
			return res, Error.New("update session %s: %v", ds.ID, err)
		}
	}
	return res, nil
}

// complete removes the snapshot's objects and tombstones its catalog record.
func (s *Service) complete(ctx context.Context, t models.Target, ds *models.DeletionSession) error {
	n, err := s.store.RemoveObjects(ctx, s.layout.SnapshotData(ds.VolumeID, ds.SnapVersion))
	ds.ObjectsRemoved += n
	if err != nil {
		return err
	}
	snap, err := s.repo.GetSnapshot(ctx, t, ds.VolumeID, ds.SnapVersion)
	if catalog.ErrNotFound.Has(err) {
		return nil
	}
	if err != nil {
		return err
	}
	snap.DeleteState = models.SnapshotDeleted
	return s.repo.PutSnapshot(ctx, t, snap)
}
