// Package objectstore is the bucket side of snapkeeper: listing, fetching the latest
// generation of a metadata blob, archive staging checks and prefix removal.
package objectstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"github.com/arencloud/snapkeeper/internal/models"
)

var (
	// Error is the class of object store failures.
	Error = errs.Class("objectstore")
	// ErrObjectNotFound means nothing exists under the requested key or prefix.
	ErrObjectNotFound = errs.Class("object not found")
	// ErrUnsupportedProvider is returned for provider kinds without an S3 API.
	ErrUnsupportedProvider = errs.Class("unsupported provider")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	StorageClass string
}

// Client is the contract the consolidator, reclaimer and purge depend on.
type Client interface {
	// ListObjects returns every key under prefix. Non-recursive listings include
	// common prefixes as keys ending in "/".
	ListObjects(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error)
	// GetLatestObject returns the body of the most recent generation under prefix.
	GetLatestObject(ctx context.Context, prefix string) ([]byte, error)
	IsArchiveMode() bool
	// StagingRequired reports whether metadata must be confirmed staged before use.
	StagingRequired() bool
	// MetadataStaged reports whether the latest object under prefix is readable now.
	MetadataStaged(ctx context.Context, prefix string) (bool, error)
	// RemoveObjects deletes every object under prefix and returns how many were removed.
	RemoveObjects(ctx context.Context, prefix string) (int, error)
}

// Options are the partner capabilities resolved once at startup.
type Options struct {
	Archive bool
	// DeepStorage buckets transition objects to DEEP_ARCHIVE, so reads need a
	// restore even outside the archive tier.
	DeepStorage bool
}

func (o Options) stagingRequired() bool { return o.Archive || o.DeepStorage }

// New builds the client variant matching the partner provider.
func New(p *models.Partner) (Client, error) {
	opts := Options{Archive: p.Archive, DeepStorage: p.DeepStorage}
	switch strings.ToLower(strings.TrimSpace(p.Provider)) {
	case models.ProviderAWS:
		return NewAWS(p, opts)
	case models.ProviderSP, models.ProviderCOS, models.ProviderGeneric, models.ProviderMinio, "":
		return NewMinio(p, opts)
	default:
		return nil, ErrUnsupportedProvider.New("%q", p.Provider)
	}
}

// latest picks the newest object; ties go to the lexically greatest key so that
// generation suffixes written within one second still order.
func latest(objs []ObjectInfo) (ObjectInfo, bool) {
	var best ObjectInfo
	found := false
	for _, o := range objs {
		if strings.HasSuffix(o.Key, "/") {
			continue
		}
		if !found || o.LastModified.After(best.LastModified) ||
			(o.LastModified.Equal(best.LastModified) && o.Key > best.Key) {
			best = o
			found = true
		}
	}
	return best, found
}

// coldStorage reports classes that need a restore before reads succeed.
func coldStorage(class string) bool {
	switch strings.ToUpper(class) {
	case "GLACIER", "DEEP_ARCHIVE":
		return true
	}
	return false
}

// restoreDone parses an x-amz-restore header value.
func restoreDone(header string) bool {
	return strings.Contains(header, `ongoing-request="false"`)
}

func sortedKeys(objs []ObjectInfo) []ObjectInfo {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	return objs
}

// httpTransport returns a transport trusting certFile in addition to the system pool.
func httpTransport(certFile string) (*http.Transport, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if certFile == "" {
		return tr, nil
	}
	pem, err := os.ReadFile(certFile)
	if err != nil {
		return nil, Error.New("read certificate %s: %v", certFile, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, Error.New("no certificates found in %s", certFile)
	}
	tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return tr, nil
}
