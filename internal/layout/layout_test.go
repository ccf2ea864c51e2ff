package layout

import (
	"testing"

	"github.com/arencloud/snapkeeper/internal/config"
)

func TestForPicksTierRoots(t *testing.T) {
	cfg := &config.Config{MetadataRoot: "m/", DataRoot: "d/", ArchiveMetadataRoot: "am/", ArchiveDataRoot: "ad/"}
	if l := For(cfg, false); l.MetadataRoot != "m/" || l.DataRoot != "d/" {
		t.Fatalf("live layout %+v", l)
	}
	if l := For(cfg, true); l.MetadataRoot != "am/" || l.DataRoot != "ad/" {
		t.Fatalf("archive layout %+v", l)
	}
}

func TestKeys(t *testing.T) {
	l := Layout{MetadataRoot: "metadata/", DataRoot: "volumes/"}
	cases := []struct{ got, want string }{
		{l.TagsPrefix("abc"), "metadata/tags/abc-"},
		{l.VolumeBlob("v1"), "metadata/v1/volume-"},
		{l.OptionsBlob("v1"), "metadata/v1/options-"},
		{l.SnapshotsBlob("v1"), "metadata/v1/snapshots-"},
		{l.SnapshotData("v1", "7"), "volumes/v1/7/"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Fatalf("got %q want %q", c.got, c.want)
		}
	}
}

func TestOwnerFromTagKey(t *testing.T) {
	l := Layout{MetadataRoot: "metadata/"}
	cases := []struct {
		key   string
		owner string
		ok    bool
	}{
		{"metadata/tags/abc-0f3e", "abc", true},
		{"metadata/tags/abc", "abc", true},
		{"metadata/tags/-x", "", false},
		{"metadata/v1/volume-1", "", false},
	}
	for _, c := range cases {
		owner, ok := l.OwnerFromTagKey(c.key)
		if owner != c.owner || ok != c.ok {
			t.Fatalf("OwnerFromTagKey(%q)=%q,%v want %q,%v", c.key, owner, ok, c.owner, c.ok)
		}
	}
}

func TestVolumeEntry(t *testing.T) {
	l := Layout{MetadataRoot: "metadata/"}
	if e, ok := l.VolumeEntry("metadata/v1/snapshots-3"); !ok || e != "v1" {
		t.Fatalf("got %q %v", e, ok)
	}
	if e, ok := l.VolumeEntry("metadata/descriptor.json"); !ok || !Reserved(e) {
		t.Fatalf("descriptor should be a reserved entry, got %q %v", e, ok)
	}
	if _, ok := l.VolumeEntry("other/v1"); ok {
		t.Fatalf("key outside root accepted")
	}
}
