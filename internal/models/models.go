package models

import (
	"time"
)

// Provider kinds accepted at registration.
const (
	ProviderSP      = "sp"
	ProviderCOS     = "cos"
	ProviderAWS     = "aws"
	ProviderAzure   = "azure"
	ProviderGeneric = "generic"
	ProviderMinio   = "minio"
)

// Partner is a registered bucket binding. SecretKey holds the sealed form when
// loaded from the catalog; partner.Registry unseals it.
type Partner struct {
	ID          string    `json:"id"`
	Endpoint    string    `json:"endpoint"`
	AccessKey   string    `json:"accessKey"`
	SecretKey   string    `json:"-"`
	Bucket      string    `json:"bucket"`
	Provider    string    `json:"provider"` // sp|cos|aws|generic|minio; azure is rejected at registration
	Region      string    `json:"region"`
	ChunkSize   int64     `json:"chunkSize"`
	CertFile    string    `json:"certFile"`
	Archive     bool      `json:"archive"`
	DeepStorage bool      `json:"deepStorage"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Target scopes every catalog call to one partner namespace.
type Target struct {
	PartnerID string
	Archive   bool
}

// Tier names the storage tier of the target.
func (t Target) Tier() string {
	if t.Archive {
		return "archive"
	}
	return "cloud"
}

func (t Target) String() string { return t.Tier() + ":" + t.PartnerID }

// TargetOf returns the catalog namespace of a partner.
func TargetOf(p *Partner) Target { return Target{PartnerID: p.ID, Archive: p.Archive} }

type Volume struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	OwnerSystemID string    `json:"ownerSystemId"`
	Size          int64     `json:"size"`
	Created       time.Time `json:"created"`
	// Tags holds the keys of the tags attached to this volume, sorted.
	Tags []string `json:"tags,omitempty"`
}

type Tag struct {
	VolumeID      string `json:"volumeId"`
	Key           string `json:"key"`
	Value         string `json:"value"`
	OwnerSystemID string `json:"ownerSystemId"`
}

type VolumeOption struct {
	VolumeID string `json:"volumeId"`
	Name     string `json:"name"`
	Value    string `json:"value"`
}

// Snapshot delete states.
const (
	SnapshotActive  = ""
	SnapshotPending = "pending"
	SnapshotDeleted = "deleted"
)

type Snapshot struct {
	VolumeID    string    `json:"volumeId"`
	Version     string    `json:"version"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	Created     time.Time `json:"created"`
	DeleteState string    `json:"deleteState,omitempty"`
}

// Visible reports whether the snapshot still counts for retention.
func (s Snapshot) Visible() bool { return s.DeleteState == SnapshotActive }

// Deletion session states.
const (
	SessionPending   = "pending"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// DeletionSession is a persisted request to remove one snapshot's data. It is
// created by reclaim and completed later by the sessions processor.
type DeletionSession struct {
	ID             string    `json:"id"`
	PartnerID      string    `json:"partnerId"`
	Archive        bool      `json:"archive"`
	VolumeID       string    `json:"volumeId"`
	SnapVersion    string    `json:"snapVersion"`
	State          string    `json:"state"`
	Error          string    `json:"error,omitempty"`
	ObjectsRemoved int       `json:"objectsRemoved"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Run is the persisted outcome of one command invocation.
type Run struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	PartnerID string    `json:"partnerId,omitempty"`
	Status    string    `json:"status"` // ok|partial|failed
	Failures  int       `json:"failures"`
	Summary   string    `json:"summary"` // JSON string of the command summary
	Started   time.Time `json:"started"`
	Ended     time.Time `json:"ended"`
}
