package relational

import (
	"time"

	"github.com/arencloud/snapkeeper/internal/models"
)

// Every volume scoped table carries (partner_id, archive) so the cloud and
// archive catalogs of one partner never collide.

type partnerRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	Endpoint    string `gorm:"uniqueIndex:idx_partner_binding"`
	Bucket      string `gorm:"uniqueIndex:idx_partner_binding"`
	Archive     bool   `gorm:"uniqueIndex:idx_partner_binding"`
	AccessKey   string
	SecretKey   string
	Provider    string
	Region      string
	ChunkSize   int64
	CertFile    string
	DeepStorage bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (partnerRow) TableName() string { return "partners" }

type volumeRow struct {
	ID        uint   `gorm:"primaryKey"`
	PartnerID string `gorm:"uniqueIndex:idx_volume"`
	Archive   bool   `gorm:"uniqueIndex:idx_volume"`
	VolumeID  string `gorm:"uniqueIndex:idx_volume"`
	Name      string
	Owner     string
	Size      int64
	Created   time.Time
}

func (volumeRow) TableName() string { return "volumes" }

type tagRow struct {
	ID        uint   `gorm:"primaryKey"`
	PartnerID string `gorm:"uniqueIndex:idx_tag"`
	Archive   bool   `gorm:"uniqueIndex:idx_tag"`
	VolumeID  string `gorm:"uniqueIndex:idx_tag"`
	Key       string `gorm:"column:tag_key;uniqueIndex:idx_tag"`
	Value     string
	Owner     string `gorm:"index"`
}

func (tagRow) TableName() string { return "tags" }

// volumeTagRow is a tag reference held by a volume.
type volumeTagRow struct {
	ID        uint   `gorm:"primaryKey"`
	PartnerID string `gorm:"uniqueIndex:idx_volume_tag"`
	Archive   bool   `gorm:"uniqueIndex:idx_volume_tag"`
	VolumeID  string `gorm:"uniqueIndex:idx_volume_tag"`
	TagKey    string `gorm:"uniqueIndex:idx_volume_tag"`
}

func (volumeTagRow) TableName() string { return "volume_tags" }

type optionRow struct {
	ID        uint   `gorm:"primaryKey"`
	PartnerID string `gorm:"uniqueIndex:idx_option"`
	Archive   bool   `gorm:"uniqueIndex:idx_option"`
	VolumeID  string `gorm:"uniqueIndex:idx_option"`
	Name      string `gorm:"uniqueIndex:idx_option"`
	Value     string
}

func (optionRow) TableName() string { return "volume_options" }

type snapshotRow struct {
	ID          uint   `gorm:"primaryKey"`
	PartnerID   string `gorm:"uniqueIndex:idx_snapshot"`
	Archive     bool   `gorm:"uniqueIndex:idx_snapshot"`
	VolumeID    string `gorm:"uniqueIndex:idx_snapshot"`
	Version     string `gorm:"uniqueIndex:idx_snapshot"`
	Name        string
	Size        int64
	TimeCreated int64 `gorm:"index"` // unix seconds
	DeleteState string
}

func (snapshotRow) TableName() string { return "snapshots" }

type sessionRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	PartnerID      string `gorm:"index:idx_session_target"`
	Archive        bool   `gorm:"index:idx_session_target"`
	VolumeID       string
	SnapVersion    string
	State          string `gorm:"index"`
	Error          string
	ObjectsRemoved int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (sessionRow) TableName() string { return "deletion_sessions" }

type runRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Command   string
	PartnerID string
	Status    string
	Failures  int
	Summary   string
	Started   time.Time `gorm:"index"`
	Ended     time.Time
}

func (runRow) TableName() string { return "runs" }

func toPartnerRow(p *models.Partner) partnerRow {
	return partnerRow{
		ID: p.ID, Endpoint: p.Endpoint, Bucket: p.Bucket, Archive: p.Archive,
		AccessKey: p.AccessKey, SecretKey: p.SecretKey, Provider: p.Provider, Region: p.Region,
		ChunkSize: p.ChunkSize, CertFile: p.CertFile, DeepStorage: p.DeepStorage,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (r partnerRow) model() *models.Partner {
	return &models.Partner{
		ID: r.ID, Endpoint: r.Endpoint, Bucket: r.Bucket, Archive: r.Archive,
		AccessKey: r.AccessKey, SecretKey: r.SecretKey, Provider: r.Provider, Region: r.Region,
		ChunkSize: r.ChunkSize, CertFile: r.CertFile, DeepStorage: r.DeepStorage,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func (r snapshotRow) model() models.Snapshot {
	return models.Snapshot{
		VolumeID: r.VolumeID, Version: r.Version, Name: r.Name, Size: r.Size,
		Created: time.Unix(r.TimeCreated, 0).UTC(), DeleteState: r.DeleteState,
	}
}

func (r sessionRow) model() models.DeletionSession {
	return models.DeletionSession{
		ID: r.ID, PartnerID: r.PartnerID, Archive: r.Archive, VolumeID: r.VolumeID,
		SnapVersion: r.SnapVersion, State: r.State, Error: r.Error, ObjectsRemoved: r.ObjectsRemoved,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func toSessionRow(s *models.DeletionSession) sessionRow {
	return sessionRow{
		ID: s.ID, PartnerID: s.PartnerID, Archive: s.Archive, VolumeID: s.VolumeID,
		SnapVersion: s.SnapVersion, State: s.State, Error: s.Error, ObjectsRemoved: s.ObjectsRemoved,
		CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}
}
