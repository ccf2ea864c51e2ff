package objectstore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process bucket. It backs tests and local dry runs of the
// import and reclaim workflows.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memObject
	opts    Options
	// ListErr, when set, is returned by every listing.
	ListErr error
}

type memObject struct {
	data      []byte
	modified  time.Time
	class     string
	restoring bool
}

func NewMemory(opts Options) *Memory {
	return &Memory{objects: map[string]memObject{}, opts: opts}
}

// Put stores data under key with the given modification time.
func (m *Memory) Put(key string, data []byte, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: append([]byte(nil), data...), modified: modified}
}

// PutCold stores data in a cold storage class; restoring marks a restore in progress.
func (m *Memory) PutCold(key string, data []byte, modified time.Time, restoring bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: append([]byte(nil), data...), modified: modified, class: "GLACIER", restoring: restoring}
}

// Keys returns every stored key, sorted.
func (m *Memory) Keys() []string {
	objs, _ := m.list("", true)
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		keys = append(keys, o.Key)
	}
	return keys
}

func (m *Memory) IsArchiveMode() bool   { return m.opts.Archive }
func (m *Memory) StagingRequired() bool { return m.opts.stagingRequired() }

func (m *Memory) ListObjects(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error) {
	if m.ListErr != nil {
		return nil, Error.Wrap(m.ListErr)
	}
	return m.list(prefix, recursive)
}

func (m *Memory) list(prefix string, recursive bool) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	seen := map[string]bool{}
	for k, o := range m.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !recursive {
			if i := strings.Index(k[len(prefix):], "/"); i >= 0 {
				dir := k[:len(prefix)+i+1]
				if !seen[dir] {
					seen[dir] = true
					out = append(out, ObjectInfo{Key: dir})
				}
				continue
			}
		}
		out = append(out, ObjectInfo{Key: k, Size: int64(len(o.data)), LastModified: o.modified, StorageClass: o.class})
	}
	return sortedKeys(out), nil
}

func (m *Memory) GetLatestObject(ctx context.Context, prefix string) ([]byte, error) {
	objs, err := m.ListObjects(ctx, prefix, false)
	if err != nil {
		return nil, err
	}
	info, ok := latest(objs)
	if !ok {
		return nil, ErrObjectNotFound.New("%s", prefix)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.objects[info.Key].data...), nil
}

func (m *Memory) MetadataStaged(ctx context.Context, prefix string) (bool, error) {
	objs, err := m.ListObjects(ctx, prefix, false)
	if err != nil {
		return false, err
	}
	info, ok := latest(objs)
	if !ok || !coldStorage(info.StorageClass) {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.objects[info.Key].restoring, nil
}

func (m *Memory) RemoveObjects(ctx context.Context, prefix string) (int, error) {
	if m.ListErr != nil {
		return 0, Error.Wrap(m.ListErr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
			removed++
		}
	}
	return removed, nil
}
