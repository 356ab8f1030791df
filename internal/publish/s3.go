package publish

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/conneroisu/assetmin/internal/errors"
)

// S3API is the subset of the S3 client used by S3Publisher.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Publisher uploads files into a bucket. Bundle names already embed their
// fingerprint, so objects are keyed by base name under Prefix.
type S3Publisher struct {
	client    S3API
	bucket    string
	prefix    string
	publicURL string
}

var _ Publisher = (*S3Publisher)(nil)

// NewS3Publisher creates a publisher for bucket. publicURL is the address the
// bucket (or a CDN in front of it) is reachable at.
func NewS3Publisher(client S3API, bucket, prefix, publicURL string) *S3Publisher {
	return &S3Publisher{
		client:    client,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Publish implements Publisher.
func (p *S3Publisher) Publish(ctx context.Context, src string) (string, error) {
	url, ok, err := p.PublishedURL(ctx, src)
	if err != nil || ok {
		return url, err
	}

	f, err := os.Open(src)
	if err != nil {
		return "", errors.NewPublishError(src, err)
	}
	defer f.Close()

	key := p.key(src)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         f,
		ContentType:  aws.String(contentType(src)),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", errors.NewPublishError(src, err).WithContext("key", key)
	}

	return p.publicURL + "/" + key, nil
}

// PublishedURL implements Publisher. An object is up to date when it was
// modified no earlier than its source.
func (p *S3Publisher) PublishedURL(ctx context.Context, src string) (string, bool, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", false, errors.NewPublishError(src, err)
	}

	key := p.key(src)
	head, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if stderrors.As(err, &notFound) {
			return "", false, nil
		}
		return "", false, errors.NewPublishError(src, err).WithContext("key", key)
	}
	if head.LastModified != nil && head.LastModified.Before(info.ModTime().Truncate(time.Second)) {
		return "", false, nil
	}

	return p.publicURL + "/" + key, true, nil
}

func (p *S3Publisher) key(src string) string {
	if p.prefix == "" {
		return filepath.Base(src)
	}
	return p.prefix + "/" + filepath.Base(src)
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "text/javascript; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
