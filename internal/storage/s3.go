package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	uploadPartSize    = 10 * 1024 * 1024
	uploadConcurrency = 5
)

// S3Config configures an S3Backend.
type S3Config struct {
	Bucket       string
	Prefix       string // optional key prefix under the bucket, acts as BasePath
	Region       string
	Endpoint     string // non-empty for S3-compatible stores (MinIO, etc.)
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string // empty selects AES256 instead of aws:kms
}

// S3Backend implements Backend against an S3 (or S3-compatible) bucket.
type S3Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
}

var _ Backend = (*S3Backend)(nil)

// NewS3Backend loads the default AWS credential chain and constructs an
// S3Backend for cfg.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}

		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
		u.Concurrency = uploadConcurrency
	})

	return &S3Backend{client: client, uploader: uploader, cfg: cfg}, nil
}

func (b *S3Backend) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if b.cfg.Prefix == "" {
		return path
	}

	return strings.TrimSuffix(b.cfg.Prefix, "/") + "/" + path
}

// List enumerates objects under pathPrefix, paging through ListObjectsV2.
func (b *S3Backend) List(ctx context.Context, pathPrefix string) ([]FileStatus, error) {
	prefix := b.key(pathPrefix)

	var (
		out   []FileStatus
		token *string
	)

	for {
		resp, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", pathPrefix, err)
		}

		for _, obj := range resp.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), b.cfg.Prefix)
			rel = strings.TrimPrefix(rel, "/")

			out = append(out, FileStatus{
				Path:         rel,
				SizeBytes:    aws.ToInt64(obj.Size),
				LastModified: obj.LastModified.Unix(),
			})
		}

		if !aws.ToBool(resp.IsTruncated) {
			break
		}

		token = resp.NextContinuationToken
	}

	return out, nil
}

// Open returns the object body as a stream.
func (b *S3Backend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}

	return resp.Body, nil
}

// WriteTo streams writes into a pipe consumed by a concurrent multipart
// upload; the upload only completes (and errors surface) on Close.
func (b *S3Backend) WriteTo(ctx context.Context, path string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(path)),
		Body:   pr,
	}

	if b.cfg.SSEEnabled {
		if b.cfg.SSEKMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(b.cfg.SSEKMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}

	done := make(chan error, 1)

	go func() {
		_, err := b.uploader.Upload(ctx, input)
		_ = pr.CloseWithError(err)
		done <- err
	}()

	return &s3PipeWriter{pw: pw, done: done}, nil
}

type s3PipeWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *s3PipeWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3PipeWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}

	return <-w.done
}

// Remove deletes an object, treating an absent key as success (S3's
// DeleteObject already does this, so no special-casing is needed).
func (b *S3Backend) Remove(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}

// Exists reports whether an object is present via HeadObject.
func (b *S3Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(path)),
	})
	if err == nil {
		return true, nil
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}

	return false, fmt.Errorf("head %s: %w", path, err)
}

// BasePath returns the bucket and prefix as an s3:// URI.
func (b *S3Backend) BasePath() string {
	if b.cfg.Prefix == "" {
		return "s3://" + b.cfg.Bucket
	}

	return "s3://" + b.cfg.Bucket + "/" + b.cfg.Prefix
}

// Kind reports KindS3.
func (b *S3Backend) Kind() Kind {
	return KindS3
}
