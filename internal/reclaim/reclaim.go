// Package reclaim applies a retention cutoff to the catalog of one partner.
package reclaim

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/models"
	"github.com/arencloud/snapkeeper/internal/recovery"
)

var (
	// Error is the class of fatal reclaim failures.
	Error = errs.Class("reclaim")
	// ErrDeleteFailure wraps a volume deletion that failed in the delete phase.
	ErrDeleteFailure = errs.Class("delete failure")
)

// Catalog is what the reclaimer needs from the catalog and deletion machinery.
type Catalog interface {
	ListVolumes(ctx context.Context, t models.Target) ([]models.Volume, error)
	// ListSnapshots returns the live snapshots of a volume, oldest first.
	ListSnapshots(ctx context.Context, t models.Target, volumeID string) ([]models.Snapshot, error)
	DeleteSnapshotMetadata(ctx context.Context, t models.Target, volumeID, version string) error
	// DeleteSnapshotAsync requests removal of a snapshot and returns the session
	// tracking it. Completion is observed out of band.
	DeleteSnapshotAsync(ctx context.Context, t models.Target, volumeID, version string) (string, error)
	DeleteVolume(ctx context.Context, t models.Target, volumeID string) error
}

// Class is the retention classification of one volume.
type Class int

const (
	Partial Class = iota
	Empty
	FullyExpired
)

func (c Class) String() string {
	switch c {
	case Empty:
		return "EMPTY"
	case FullyExpired:
		return "FULLY_EXPIRED"
	default:
		return "PARTIAL"
	}
}

// Summary is the outcome of one reclaim run. ReclaimedSnapshots counts deletion
// requests, not confirmed removals.
type Summary struct {
	TotalVolumes                  int      `json:"totalVolumes"`
	EmptyVolumes                  int      `json:"emptyVolumes"`
	ExpiredVolumes                int      `json:"expiredVolumes"`
	ReclaimedSnapshots            int      `json:"reclaimedSnapshots"`
	VolumesWithReclaimedSnapshots int      `json:"volumesWithReclaimedSnapshots"`
	DeleteFailures                int      `json:"deleteFailures"`
	RemainingVolumes              int      `json:"remainingVolumes"`
	ScanFailures                  int      `json:"scanFailures"`
	SnapshotFailures              int      `json:"snapshotFailures"`
	Sessions                      []string `json:"sessions,omitempty"`
}

// Failures is the total of all per-unit failures.
func (s Summary) Failures() int { return s.DeleteFailures + s.ScanFailures + s.SnapshotFailures }

type Reclaimer struct {
	cat Catalog
	log logging.Logger
}

func New(cat Catalog, log logging.Logger) *Reclaimer {
	return &Reclaimer{cat: cat, log: log}
}

// Classify places a volume given its snapshots, oldest first.
func Classify(snaps []models.Snapshot, cutoff time.Time) Class {
	switch {
	case len(snaps) == 0:
		return Empty
	case snaps[len(snaps)-1].Created.Before(cutoff):
		return FullyExpired
	default:
		return Partial
	}
}

// Reclaim classifies every volume of t against cutoff, then deletes the volumes
// queued by classification. Nothing is deleted until every volume has been
// classified. Failures on one volume or snapshot are counted and skipped.
func (r *Reclaimer) Reclaim(ctx context.Context, t models.Target, cutoff time.Time) (Summary, error) {
	var sum Summary
	volumes, err := r.cat.ListVolumes(ctx, t)
	if err != nil {
		return sum, Error.New("list volumes of %s: %v", t, err)
	}
	sum.TotalVolumes = len(volumes)
	r.log.Info("classifying volumes", "target", t.String(), "volumes", len(volumes), "cutoff", cutoff.Format(time.RFC3339))

	var queued []string
	for _, v := range volumes {
		snaps, err := r.cat.ListSnapshots(ctx, t, v.ID)
		if err != nil {
			sum.ScanFailures++
			r.log.Error("list snapshots failed, volume left untouched", "volume", v.ID, "error", err)
			continue
		}
		catalog.SortSnapshots(snaps)

		switch class := Classify(snaps, cutoff); class {
		case Empty:
			sum.EmptyVolumes++
			queued = append(queued, v.ID)
			r.log.Info("volume has no snapshots", "volume", v.ID, "class", class.String())
		case FullyExpired:
			sum.ExpiredVolumes++
			r.log.Info("all snapshots expired", "volume", v.ID, "class", class.String(), "snapshots", len(snaps))
			for _, s := range snaps {
				if err := r.cat.DeleteSnapshotMetadata(ctx, t, v.ID, s.Version); err != nil {
					sum.SnapshotFailures++
					r.log.Warn("snapshot metadata cleanup failed", "volume", v.ID, "snapshot", s.Version, "error", err)
				}
			}
			queued = append(queued, v.ID)
		default:
			reclaimed := 0
			for _, s := range snaps {
				if !s.Created.Before(cutoff) {
					continue
				}
				id, err := r.cat.DeleteSnapshotAsync(ctx, t, v.ID, s.Version)
				if err != nil {
					sum.SnapshotFailures++
					r.log.Warn("snapshot delete request failed", "volume", v.ID, "snapshot", s.Version, "error", err)
					continue
				}
				reclaimed++
				sum.Sessions = append(sum.Sessions, id)
				r.log.Info("snapshot delete requested", "volume", v.ID, "snapshot", s.Version, "created", s.Created.Format(time.RFC3339), "session", id)
			}
			if reclaimed > 0 {
				sum.ReclaimedSnapshots += reclaimed
				sum.VolumesWithReclaimedSnapshots++
			}
		}
	}

	deleted := 0
	for _, id := range queued {
		err := recovery.Guard(r.log, "delete volume "+id, func() error { return r.cat.DeleteVolume(ctx, t, id) })
		if err != nil {
			sum.DeleteFailures++
			r.log.Error("volume delete failed", "volume", id, "error", ErrDeleteFailure.Wrap(err))
			continue
		}
		deleted++
		r.log.Info("volume deleted", "volume", id)
	}
	sum.RemainingVolumes = sum.TotalVolumes - deleted
	return sum, nil
}
