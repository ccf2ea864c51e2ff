// Package catalog defines the local catalog contract shared by the document and
// relational repository variants.
package catalog

import (
	"context"
	"sort"

	"github.com/zeebo/errs"

	"github.com/arencloud/snapkeeper/internal/models"
)

var (
	// Error is the class of catalog storage failures.
	Error = errs.Class("catalog")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errs.Class("catalog: not found")
)

// Repository persists partners, volumes and their child records. Every volume
// scoped call takes the Target it belongs to; natural keys are unique per Target.
//
// Put* calls are upserts by natural key. PutVolume writes the volume and its tag
// references as one unit; variants that cannot commit both atomically must document
// the window.
type Repository interface {
	SavePartner(ctx context.Context, p *models.Partner) error
	GetPartner(ctx context.Context, id string) (*models.Partner, error)
	FindPartner(ctx context.Context, endpoint, bucket string, archive bool) (*models.Partner, error)

	GetVolume(ctx context.Context, t models.Target, volumeID string) (*models.Volume, error)
	PutVolume(ctx context.Context, t models.Target, v *models.Volume) error
	ListVolumes(ctx context.Context, t models.Target) ([]models.Volume, error)
	// DeleteVolume removes the volume with its tags, options, snapshots and sessions.
	DeleteVolume(ctx context.Context, t models.Target, volumeID string) error

	GetTag(ctx context.Context, t models.Target, volumeID, key string) (*models.Tag, error)
	PutTag(ctx context.Context, t models.Target, tag *models.Tag) error
	// TagsByVolume returns the tags of a volume written by owner, sorted by key.
	TagsByVolume(ctx context.Context, t models.Target, volumeID, owner string) ([]models.Tag, error)

	GetOption(ctx context.Context, t models.Target, volumeID, name string) (*models.VolumeOption, error)
	PutOption(ctx context.Context, t models.Target, o *models.VolumeOption) error

	GetSnapshot(ctx context.Context, t models.Target, volumeID, version string) (*models.Snapshot, error)
	PutSnapshot(ctx context.Context, t models.Target, s *models.Snapshot) error
	// ListSnapshots returns the visible snapshots of a volume, oldest first.
	ListSnapshots(ctx context.Context, t models.Target, volumeID string) ([]models.Snapshot, error)
	DeleteSnapshot(ctx context.Context, t models.Target, volumeID, version string) error

	// CreateSession stores a pending deletion session and marks its snapshot
	// pending in the same write.
	CreateSession(ctx context.Context, s *models.DeletionSession) error
	// ListSessions returns sessions of a target, oldest first; empty state matches all.
	ListSessions(ctx context.Context, t models.Target, state string) ([]models.DeletionSession, error)
	UpdateSession(ctx context.Context, s *models.DeletionSession) error

	SaveRun(ctx context.Context, r *models.Run) error
	// ListRuns returns up to limit runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)

	Close() error
}

// SortSnapshots orders snapshots oldest first, ties broken by version.
func SortSnapshots(snaps []models.Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		if !snaps[i].Created.Equal(snaps[j].Created) {
			return snaps[i].Created.Before(snaps[j].Created)
		}
		return snaps[i].Version < snaps[j].Version
	})
}
