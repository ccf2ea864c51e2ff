package objectstore

import (
	"context"
	"io"
	"net/url"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/zeebo/errs"

	"github.com/arencloud/snapkeeper/internal/models"
)

// minioClient serves every S3-compatible provider except AWS.
type minioClient struct {
	mc     *minio.Client
	bucket string
	opts   Options
}

func normalizeEndpoint(endpoint string, useSSL bool) (host string, secure bool) {
	secure = useSSL
	if endpoint == "" {
		return "", secure
	}
	// If endpoint contains scheme, parse and strip it; prefer scheme over useSSL flag
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		if u, err := url.Parse(endpoint); err == nil {
			if u.Scheme == "https" {
				secure = true
			} else if u.Scheme == "http" {
				secure = false
			}
			// Keep host:port as endpoint for minio.New
			return u.Host, secure
		}
	}
	return endpoint, secure
}

func forcePathStyle(provider string) bool {
	// Use path-style for non-AWS by default; AWS prefers virtual-hosted
	pt := strings.ToLower(strings.TrimSpace(provider))
	return pt != models.ProviderAWS
}

func NewMinio(p *models.Partner, opts Options) (Client, error) {
	endpoint, secure := normalizeEndpoint(p.Endpoint, true)
	tr, err := httpTransport(p.CertFile)
	if err != nil {
		return nil, err
	}
	mo := &minio.Options{
		Creds:     credentials.NewStaticV4(p.AccessKey, p.SecretKey, ""),
		Secure:    secure,
		Region:    p.Region,
		Transport: tr,
	}
	if forcePathStyle(p.Provider) {
		mo.BucketLookup = minio.BucketLookupPath
	}
	mc, err := minio.New(endpoint, mo)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &minioClient{mc: mc, bucket: p.Bucket, opts: opts}, nil
}

func (c *minioClient) IsArchiveMode() bool   { return c.opts.Archive }
func (c *minioClient) StagingRequired() bool { return c.opts.stagingRequired() }

func (c *minioClient) ListObjects(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: recursive}) {
		if obj.Err != nil {
			return nil, Error.New("list %s: %v", prefix, obj.Err)
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified, StorageClass: obj.StorageClass})
	}
	return out, nil
}

func (c *minioClient) GetLatestObject(ctx context.Context, prefix string) ([]byte, error) {
	objs, err := c.ListObjects(ctx, prefix, false)
	if err != nil {
		return nil, err
	}
	info, ok := latest(objs)
	if !ok {
		return nil, ErrObjectNotFound.New("%s", prefix)
	}
	obj, err := c.mc.GetObject(ctx, c.bucket, info.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.mapErr(info.Key, err)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, c.mapErr(info.Key, err)
	}
	return b, nil
}

func (c *minioClient) MetadataStaged(ctx context.Context, prefix string) (bool, error) {
	objs, err := c.ListObjects(ctx, prefix, false)
	if err != nil {
		return false, err
	}
	info, ok := latest(objs)
	if !ok {
		return true, nil
	}
	st, err := c.mc.StatObject(ctx, c.bucket, info.Key, minio.StatObjectOptions{})
	if err != nil {
		return false, c.mapErr(info.Key, err)
	}
	if !coldStorage(st.StorageClass) {
		return true, nil
	}
	return st.Restore != nil && !st.Restore.OngoingRestore, nil
}

func (c *minioClient) RemoveObjects(ctx context.Context, prefix string) (int, error) {
	objs, err := c.ListObjects(ctx, prefix, true)
	if err != nil {
		return 0, err
	}
	if len(objs) == 0 {
		return 0, nil
	}
	in := make(chan minio.ObjectInfo)
	go func() {
		defer close(in)
		for _, o := range objs {
			select {
			case in <- minio.ObjectInfo{Key: o.Key}:
			case <-ctx.Done():
				return
			}
		}
	}()
	failed := 0
	var group errs.Group
	for rerr := range c.mc.RemoveObjects(ctx, c.bucket, in, minio.RemoveObjectsOptions{}) {
		failed++
		group.Add(Error.New("remove %s: %v", rerr.ObjectName, rerr.Err))
	}
	return len(objs) - failed, group.Err()
}

func (c *minioClient) mapErr(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrObjectNotFound.New("%s", key)
	}
	return Error.New("%s: %v", key, err)
}
