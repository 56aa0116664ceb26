package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"coldbackup/internal/engine"
)

// S3Config is the subset of connection details the S3 blob store needs.
// Region and credentials otherwise come from the default AWS SDK chain
// (environment, shared config file, instance role).
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // non-empty for S3-compatible stores (MinIO, etc.)
}

// S3 is the production BlobStore: objects keyed by content hash in a
// versioned bucket. Delete leaves a delete marker in place (the object
// store's own lifecycle rule is what eventually purges non-current
// versions once the bucket's minimum storage duration has passed);
// Undelete removes the most recent delete marker to make the prior
// version current again without a re-upload.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

var _ engine.BlobStore = (*S3)(nil)

// NewS3 builds an S3 blob store from cfg, loading AWS credentials and
// region via the standard SDK resolution chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &engine.FatalError{Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
	}, nil
}

// Put uploads content under hash using the multipart-aware uploader, so
// large files stream in bounded-size parts instead of buffering whole.
func (s *S3) Put(ctx context.Context, hash string, r io.Reader, size int64) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(hash),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return classify("s3.putobject", err)
	}
	return nil
}

// Get streams the current version of hash to w.
func (s *S3) Get(ctx context.Context, hash string, w io.Writer) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(hash),
	})
	if err != nil {
		return classify("s3.getobject", err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return &engine.LocalIOError{Err: err}
	}
	return nil
}

// Exists reports whether hash currently has a live version, i.e. the key
// resolves without a delete marker on top of it.
func (s *S3) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(hash),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, classify("s3.headobject", err)
}

// Delete places a delete marker on hash. The underlying version is left
// alone so Undelete can resurrect it while it's within the bucket's
// minimum storage duration.
func (s *S3) Delete(ctx context.Context, hash string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(hash),
	})
	if err != nil && !isNotFound(err) {
		return classify("s3.deleteobject", err)
	}
	return nil
}

// Undelete removes the most recent delete marker for hash, if any,
// restoring whatever version was current before the delete. It returns
// false (not an error) if hash has no delete marker to remove, which
// covers both "never deleted" and "already undeleted".
func (s *S3) Undelete(ctx context.Context, hash string) (bool, error) {
	out, err := s.client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(hash),
		MaxKeys: aws.Int32(16),
	})
	if err != nil {
		return false, classify("s3.listobjectversions", err)
	}

	var markerVersion string
	for _, m := range out.DeleteMarkers {
		if aws.ToString(m.Key) != hash {
			continue
		}
		if aws.ToBool(m.IsLatest) {
			markerVersion = aws.ToString(m.VersionId)
			break
		}
	}
	if markerVersion == "" {
		return false, nil
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:    aws.String(s.bucket),
		Key:       aws.String(hash),
		VersionId: aws.String(markerVersion),
	})
	if err != nil {
		return false, classify("s3.deleteobject.marker", err)
	}
	return true, nil
}

// DeleteAllVersions permanently removes every version of hash, including
// delete markers, bypassing the versioned-retention mechanism entirely.
func (s *S3) DeleteAllVersions(ctx context.Context, hash string) error {
	var toDelete []types.ObjectIdentifier

	paginator := s3.NewListObjectVersionsPaginator(s.client, &s3.ListObjectVersionsInput{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(hash),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classify("s3.listobjectversions", err)
		}
		for _, v := range page.Versions {
			if aws.ToString(v.Key) == hash {
				toDelete = append(toDelete, types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
			}
		}
		for _, m := range page.DeleteMarkers {
			if aws.ToString(m.Key) == hash {
				toDelete = append(toDelete, types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
			}
		}
	}
	if len(toDelete) == 0 {
		return nil
	}

	_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: toDelete, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return classify("s3.deleteobjects", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey"
	}
	return false
}
