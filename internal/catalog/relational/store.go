// Package relational is the table-backed catalog variant on GORM. Tag references
// of a volume live in a join table written in the same transaction as the volume.
package relational

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/models"
)

// Config selects the database. Driver is sqlite (default) or postgres.
type Config struct {
	Driver   string
	DSN      string
	Path     string
	LogLevel string
}

type Store struct {
	db  *gorm.DB
	log logging.Logger
}

var _ catalog.Repository = (*Store)(nil)

func Open(cfg Config, log logging.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, catalog.Error.New("postgres driver requires DATABASE_URL or DB_DSN")
		}
		dialector = postgres.Open(cfg.DSN)
		log.Info("db connect", "driver", "postgres")
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, catalog.Error.Wrap(err)
		}
		dialector = sqlite.Open(cfg.Path)
		log.Info("db connect", "driver", "sqlite", "path", cfg.Path)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(log.Named("gorm"), gormLevel(cfg.LogLevel))})
	if err != nil {
		return nil, catalog.Error.Wrap(err)
	}
	if err := gdb.AutoMigrate(&partnerRow{}, &volumeRow{}, &tagRow{}, &volumeTagRow{}, &optionRow{}, &snapshotRow{}, &sessionRow{}, &runRow{}); err != nil {
		return nil, catalog.Error.New("migrate: %v", err)
	}
	return &Store{db: gdb, log: log}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return catalog.Error.Wrap(err)
	}
	return catalog.Error.Wrap(sqlDB.Close())
}

func scope(t models.Target) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("partner_id = ? AND archive = ?", t.PartnerID, t.Archive)
	}
}

func upsert(keys ...string) clause.OnConflict {
	cols := make([]clause.Column, len(keys))
	for i, k := range keys {
		cols[i] = clause.Column{Name: k}
	}
	return clause.OnConflict{Columns: cols, UpdateAll: true}
}

func mapErr(err error, what string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return catalog.ErrNotFound.New(what, args...)
	}
	return catalog.Error.Wrap(err)
}

// Partners

func (s *Store) SavePartner(ctx context.Context, p *models.Partner) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	row := toPartnerRow(p)
	return catalog.Error.Wrap(s.db.WithContext(ctx).Clauses(upsert("id")).Create(&row).Error)
}

func (s *Store) GetPartner(ctx context.Context, id string) (*models.Partner, error) {
	var row partnerRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, mapErr(err, "partner %s", id)
	}
	return row.model(), nil
}

func (s *Store) FindPartner(ctx context.Context, endpoint, bucket string, archive bool) (*models.Partner, error) {
	var row partnerRow
	err := s.db.WithContext(ctx).
		Where("endpoint = ? AND bucket = ? AND archive = ?", endpoint, bucket, archive).
		First(&row).Error
	if err != nil {
		return nil, mapErr(err, "partner %s/%s", endpoint, bucket)
	}
	return row.model(), nil
}

// Volumes

func (s *Store) tagRefs(db *gorm.DB, t models.Target, volumeIDs ...string) (map[string][]string, error) {
	var refs []volumeTagRow
	if err := db.Scopes(scope(t)).Where("volume_id IN ?", volumeIDs).Order("tag_key").Find(&refs).Error; err != nil {
		return nil, catalog.Error.Wrap(err)
	}
	out := map[string][]string{}
	for _, r := range refs {
		out[r.VolumeID] = append(out[r.VolumeID], r.TagKey)
	}
	return out, nil
}

func (r volumeRow) model(tags []string) models.Volume {
	return models.Volume{ID: r.VolumeID, Name: r.Name, OwnerSystemID: r.Owner, Size: r.Size, Created: r.Created.UTC(), Tags: tags}
}

func (s *Store) GetVolume(ctx context.Context, t models.Target, volumeID string) (*models.Volume, error) {
	db := s.db.WithContext(ctx)
	var row volumeRow
	if err := db.Scopes(scope(t)).Where("volume_id = ?", volumeID).First(&row).Error; err != nil {
		return nil, mapErr(err, "volume %s", volumeID)
	}
	refs, err := s.tagRefs(db, t, volumeID)
	if err != nil {
		return nil, err
	}
	v := row.model(refs[volumeID])
	return &v, nil
}

// PutVolume upserts the volume row and replaces its tag references in one
// transaction.
func (s *Store) PutVolume(ctx context.Context, t models.Target, v *models.Volume) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := volumeRow{PartnerID: t.PartnerID, Archive: t.Archive, VolumeID: v.ID, Name: v.Name, Owner: v.OwnerSystemID, Size: v.Size, Created: v.Created.UTC()}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "partner_id"}, {Name: "archive"}, {Name: "volume_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "owner", "size", "created"}),
		}).Create(&row).Error
		if err != nil {
			return catalog.Error.Wrap(err)
		}
		if err := tx.Scopes(scope(t)).Where("volume_id = ?", v.ID).Delete(&volumeTagRow{}).Error; err != nil {
			return catalog.Error.Wrap(err)
		}
		if len(v.Tags) == 0 {
			return nil
		}
		refs := make([]volumeTagRow, 0, len(v.Tags))
		for _, k := range v.Tags {
			refs = append(refs, volumeTagRow{PartnerID: t.PartnerID, Archive: t.Archive, VolumeID: v.ID, TagKey: k})
		}
		return catalog.Error.Wrap(tx.Create(&refs).Error)
	})
}

func (s *Store) ListVolumes(ctx context.Context, t models.Target) ([]models.Volume, error) {
	db := s.db.WithContext(ctx)
	var rows []volumeRow
	if err := db.Scopes(scope(t)).Order("volume_id").Find(&rows).Error; err != nil {
		return nil, catalog.Error.Wrap(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.VolumeID
	}
	refs, err := s.tagRefs(db, t, ids...)
	if err != nil {
		return nil, err
	}
	out := make([]models.Volume, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model(refs[r.VolumeID]))
	}
	return out, nil
}

func (s *Store) DeleteVolume(ctx context.Context, t models.Target, volumeID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Scopes(scope(t)).Where("volume_id = ?", volumeID).Delete(&volumeRow{})
		if res.Error != nil {
			return catalog.Error.Wrap(res.Error)
		}
		if res.RowsAffected == 0 {
			return catalog.ErrNotFound.New("volume %s", volumeID)
		}
		for _, child := range []any{&volumeTagRow{}, &tagRow{}, &optionRow{}, &snapshotRow{}, &sessionRow{}} {
			if err := tx.Scopes(scope(t)).Where("volume_id = ?", volumeID).Delete(child).Error; err != nil {
				return catalog.Error.Wrap(err)
			}
		}
		return nil
	})
}

// Tags

func (s *Store) GetTag(ctx context.Context, t models.Target, volumeID, key string) (*models.Tag, error) {
	var row tagRow
	if err := s.db.WithContext(ctx).Scopes(scope(t)).Where("volume_id = ? AND tag_key = ?", volumeID, key).First(&row).Error; err != nil {
		return nil, mapErr(err, "tag %s/%s", volumeID, key)
	}
	return &models.Tag{VolumeID: row.VolumeID, Key: row.Key, Value: row.Value, OwnerSystemID: row.Owner}, nil
}

func (s *Store) PutTag(ctx context.Context, t models.Target, tag *models.Tag) error {
	row := tagRow{PartnerID: t.PartnerID, Archive: t.Archive, VolumeID: tag.VolumeID, Key: tag.Key, Value: tag.Value, Owner: tag.OwnerSystemID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "partner_id"}, {Name: "archive"}, {Name: "volume_id"}, {Name: "tag_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "owner"}),
	}).Create(&row).Error
	return catalog.Error.Wrap(err)
}

func (s *Store) TagsByVolume(ctx context.Context, t models.Target, volumeID, owner string) ([]models.Tag, error) {
	q := s.db.WithContext(ctx).Scopes(scope(t)).Where("volume_id = ?", volumeID)
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	var rows []tagRow
	if err := q.Order("tag_key").Find(&rows).Error; err != nil {
		return nil, catalog.Error.Wrap(err)
	}
	out := make([]models.Tag, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Tag{VolumeID: r.VolumeID, Key: r.Key, Value: r.Value, OwnerSystemID: r.Owner})
	}
	return out, nil
}

// Options

func (s *Store) GetOption(ctx context.Context, t models.Target, volumeID, name string) (*models.VolumeOption, error) {
	var row optionRow
	if err := s.db.WithContext(ctx).Scopes(scope(t)).Where("volume_id = ? AND name = ?", volumeID, name).First(&row).Error; err != nil {
		return nil, mapErr(err, "option %s/%s", volumeID, name)
	}
	return &models.VolumeOption{VolumeID: row.VolumeID, Name: row.Name, Value: row.Value}, nil
}

func (s *Store) PutOption(ctx context.Context, t models.Target, o *models.VolumeOption) error {
	row := optionRow{PartnerID: t.PartnerID, Archive: t.Archive, VolumeID: o.VolumeID, Name: o.Name, Value: o.Value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "partner_id"}, {Name: "archive"}, {Name: "volume_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	return catalog.Error.Wrap(err)
}

// Snapshots

func (s *Store) GetSnapshot(ctx context.Context, t models.Target, volumeID, version string) (*models.Snapshot, error) {
	var row snapshotRow
	if err := s.db.WithContext(ctx).Scopes(scope(t)).Where("volume_id = ? AND version = ?", volumeID, version).First(&row).Error; err != nil {
		return nil, mapErr(err, "snapshot %s/%s", volumeID, version)
	}
	snap := row.model()
	return &snap, nil
}

func (s *Store) PutSnapshot(ctx context.Context, t models.Target, snap *models.Snapshot) error {
	row := snapshotRow{
		PartnerID: t.PartnerID, Archive: t.Archive, VolumeID: snap.VolumeID, Version: snap.Version,
		Name: snap.Name, Size: snap.Size, TimeCreated: snap.Created.Unix(), DeleteState: snap.DeleteState,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "partner_id"}, {Name: "archive"}, {Name: "volume_id"}, {Name: "version"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "size", "time_created", "delete_state"}),
	}).Create(&row).Error
	return catalog.Error.Wrap(err)
}

func (s *Store) ListSnapshots(ctx context.Context, t models.Target, volumeID string) ([]models.Snapshot, error) {
	var rows []snapshotRow
	err := s.db.WithContext(ctx).Scopes(scope(t)).
		Where("volume_id = ? AND delete_state = ?", volumeID, models.SnapshotActive).
		Order("time_created, version").Find(&rows).Error
	if err != nil {
		return nil, catalog.Error.Wrap(err)
	}
	out := make([]models.Snapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	catalog.SortSnapshots(out)
	return out, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, t models.Target, volumeID, version string) error {
	res := s.db.WithContext(ctx).Scopes(scope(t)).Where("volume_id = ? AND version = ?", volumeID, version).Delete(&snapshotRow{})
	if res.Error != nil {
		return catalog.Error.Wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return catalog.ErrNotFound.New("snapshot %s/%s", volumeID, version)
	}
	return nil
}

// Deletion sessions

func (s *Store) CreateSession(ctx context.Context, ds *models.DeletionSession) error {
	now := time.Now().UTC()
	ds.CreatedAt, ds.UpdatedAt = now, now
	t := models.Target{PartnerID: ds.PartnerID, Archive: ds.Archive}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&snapshotRow{}).Scopes(scope(t)).
			Where("volume_id = ? AND version = ?", ds.VolumeID, ds.SnapVersion).
			Update("delete_state", models.SnapshotPending)
		if res.Error != nil {
			return catalog.Error.Wrap(res.Error)
		}
		if res.RowsAffected == 0 {
			return catalog.ErrNotFound.New("snapshot %s/%s", ds.VolumeID, ds.SnapVersion)
		}
		row := toSessionRow(ds)
		return catalog.Error.Wrap(tx.Create(&row).Error)
	})
}

func (s *Store) ListSessions(ctx context.Context, t models.Target, state string) ([]models.DeletionSession, error) {
	q := s.db.WithContext(ctx).Scopes(scope(t))
	if state != "" {
		q = q.Where("state = ?", state)
	}
	var rows []sessionRow
	if err := q.Order("created_at").Find(&rows).Error; err != nil {
		return nil, catalog.Error.Wrap(err)
	}
	out := make([]models.DeletionSession, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *Store) UpdateSession(ctx context.Context, ds *models.DeletionSession) error {
	ds.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", ds.ID).Updates(map[string]any{
		"state":           ds.State,
		"error":           ds.Error,
		"objects_removed": ds.ObjectsRemoved,
		"updated_at":      ds.UpdatedAt,
	})
	if res.Error != nil {
		return catalog.Error.Wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return catalog.ErrNotFound.New("session %s", ds.ID)
	}
	return nil
}

// Runs

func (s *Store) SaveRun(ctx context.Context, r *models.Run) error {
	row := runRow{ID: r.ID, Command: r.Command, PartnerID: r.PartnerID, Status: r.Status, Failures: r.Failures, Summary: r.Summary, Started: r.Started, Ended: r.Ended}
	return catalog.Error.Wrap(s.db.WithContext(ctx).Clauses(upsert("id")).Create(&row).Error)
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	q := s.db.WithContext(ctx).Order("started desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, catalog.Error.Wrap(err)
	}
	out := make([]models.Run, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Run{ID: r.ID, Command: r.Command, PartnerID: r.PartnerID, Status: r.Status, Failures: r.Failures, Summary: r.Summary, Started: r.Started, Ended: r.Ended})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out, nil
}
