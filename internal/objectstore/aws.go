package objectstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/arencloud/snapkeeper/internal/models"
)

// deleteBatch is the DeleteObjects request limit.
const deleteBatch = 1000

type awsClient struct {
	api    *s3.Client
	bucket string
	opts   Options
}

func NewAWS(p *models.Partner, opts Options) (Client, error) {
	tr, err := httpTransport(p.CertFile)
	if err != nil {
		return nil, err
	}
	region := p.Region
	if region == "" {
		region = "us-east-1"
	}
	o := s3.Options{
		Region:       region,
		Credentials:  aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(p.AccessKey, p.SecretKey, "")),
		HTTPClient:   &http.Client{Transport: tr},
		UsePathStyle: forcePathStyle(p.Provider),
	}
	if p.Endpoint != "" {
		ep := p.Endpoint
		if !strings.HasPrefix(ep, "http://") && !strings.HasPrefix(ep, "https://") {
			ep = "https://" + ep
		}
		o.BaseEndpoint = aws.String(ep)
	}
	return &awsClient{api: s3.New(o), bucket: p.Bucket, opts: opts}, nil
}

func (c *awsClient) IsArchiveMode() bool   { return c.opts.Archive }
func (c *awsClient) StagingRequired() bool { return c.opts.stagingRequired() }

func (c *awsClient) ListObjects(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(c.bucket), Prefix: aws.String(prefix)}
	if !recursive {
		in.Delimiter = aws.String("/")
	}
	var out []ObjectInfo
	pages := s3.NewListObjectsV2Paginator(c.api, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, Error.New("list %s: %v", prefix, err)
		}
		for _, o := range page.Contents {
			out = append(out, ObjectInfo{
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
				StorageClass: string(o.StorageClass),
			})
		}
		for _, cp := range page.CommonPrefixes {
			out = append(out, ObjectInfo{Key: aws.ToString(cp.Prefix)})
		}
	}
	return out, nil
}

func (c *awsClient) GetLatestObject(ctx context.Context, prefix string) ([]byte, error) {
	objs, err := c.ListObjects(ctx, prefix, false)
	if err != nil {
		return nil, err
	}
	info, ok := latest(objs)
	if !ok {
		return nil, ErrObjectNotFound.New("%s", prefix)
	}
	resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(info.Key)})
	if err != nil {
		return nil, c.mapErr(info.Key, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Error.New("read %s: %v", info.Key, err)
	}
	return b, nil
}

func (c *awsClient) MetadataStaged(ctx context.Context, prefix string) (bool, error) {
	objs, err := c.ListObjects(ctx, prefix, false)
	if err != nil {
		return false, err
	}
	info, ok := latest(objs)
	if !ok {
		return true, nil
	}
	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(info.Key)})
	if err != nil {
		return false, c.mapErr(info.Key, err)
	}
	if !coldStorage(string(head.StorageClass)) {
		return true, nil
	}
	return restoreDone(aws.ToString(head.Restore)), nil
}

func (c *awsClient) RemoveObjects(ctx context.Context, prefix string) (int, error) {
	objs, err := c.ListObjects(ctx, prefix, true)
	if err != nil {
		return 0, err
	}
	removed := 0
	for start := 0; start < len(objs); start += deleteBatch {
		end := min(start+deleteBatch, len(objs))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, o := range objs[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(o.Key)})
		}
		resp, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return removed, Error.New("delete under %s: %v", prefix, err)
		}
		removed += len(ids) - len(resp.Errors)
		if len(resp.Errors) > 0 {
			first := resp.Errors[0]
			return removed, Error.New("delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return removed, nil
}

func (c *awsClient) mapErr(key string, err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return ErrObjectNotFound.New("%s", key)
	}
	return Error.New("%s: %v", key, err)
}
