// Package layout holds the key conventions of a backup bucket.
//
//	<metadata root>tags/<owner>-<suffix>              tag blobs, one namespace per owner
//	<metadata root>descriptor.json                     bucket descriptor
//	<metadata root><volume>/volume-<generation>        volume blob
//	<metadata root><volume>/options-<generation>       volume options blob
//	<metadata root><volume>/snapshots-<generation>     snapshot list blob
//	<data root><volume>/<snapshot version>/...         snapshot data
package layout

import (
	"strings"

	"github.com/arencloud/snapkeeper/internal/config"
)

const (
	TagsDir        = "tags"
	DescriptorFile = "descriptor.json"

	VolumePrefix    = "volume-"
	OptionsPrefix   = "options-"
	SnapshotsPrefix = "snapshots-"
)

type Layout struct {
	MetadataRoot string
	DataRoot     string
}

// For picks the live or archive roots from the configuration.
func For(cfg *config.Config, archive bool) Layout {
	if archive {
		return Layout{MetadataRoot: cfg.ArchiveMetadataRoot, DataRoot: cfg.ArchiveDataRoot}
	}
	return Layout{MetadataRoot: cfg.MetadataRoot, DataRoot: cfg.DataRoot}
}

func (l Layout) TagsRoot() string { return l.MetadataRoot + TagsDir + "/" }

// TagsPrefix is the key prefix of every tag blob generation written by owner.
func (l Layout) TagsPrefix(owner string) string { return l.TagsRoot() + owner + "-" }

func (l Layout) VolumeRoot(volumeID string) string { return l.MetadataRoot + volumeID + "/" }

func (l Layout) VolumeBlob(volumeID string) string {
	return l.VolumeRoot(volumeID) + VolumePrefix
}

func (l Layout) OptionsBlob(volumeID string) string {
	return l.VolumeRoot(volumeID) + OptionsPrefix
}

func (l Layout) SnapshotsBlob(volumeID string) string {
	return l.VolumeRoot(volumeID) + SnapshotsPrefix
}

func (l Layout) VolumeData(volumeID string) string { return l.DataRoot + volumeID + "/" }

func (l Layout) SnapshotData(volumeID, version string) string {
	return l.VolumeData(volumeID) + version + "/"
}

// OwnerFromTagKey extracts the owner system ID from a tag blob key. ok is false
// for keys outside the tags namespace.
func (l Layout) OwnerFromTagKey(key string) (owner string, ok bool) {
	name, found := strings.CutPrefix(key, l.TagsRoot())
	if !found {
		return "", false
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	owner, _, _ = strings.Cut(name, "-")
	return owner, owner != ""
}

// VolumeEntry returns the first path segment of key below the metadata root.
func (l Layout) VolumeEntry(key string) (string, bool) {
	rest, found := strings.CutPrefix(key, l.MetadataRoot)
	if !found || rest == "" {
		return "", false
	}
	entry, _, _ := strings.Cut(rest, "/")
	return entry, entry != ""
}

// Reserved reports whether a metadata root entry is not a volume namespace.
func Reserved(entry string) bool {
	return entry == TagsDir || entry == DescriptorFile
}
