package payloadstore

import (
	"bytes"
	"context"
	"errors"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sdapipe/landscape/landscaperr"
)

// S3Config configures the S3 payload store backend. Endpoint is optional
// (S3-compatible services only); when empty, the AWS SDK's default AWS S3
// endpoint resolution applies.
type S3Config struct {
	Region    string
	Bucket    string
	Prefix    string // object key prefix, e.g. "payloads/"
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Store is a content-addressed payload store backend over AWS S3,
// trimmed from the teacher's multi-cloud storage.S3AwsListObjects /
// HetznerUploadMultipleFiles client-construction pattern down to the
// store/retrieve/exists/delete contract this spec needs — no
// LakeFS/MinIO/Hetzner branching, since that branching lived in an
// out-of-scope multi-cloud connector.
type S3Store struct {
	client *s3.Client
	upload *manager.Uploader
	bucket string
	prefix string
}

// NewS3Store builds an S3Store from cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.NewS3Store", "load AWS config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
	})

	return &S3Store{
		client: client,
		upload: manager.NewUploader(client),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) key(hash string) string {
	a, b := shard(hash)
	return s.prefix + a + "/" + b + "/" + hash
}

func (s *S3Store) Store(ctx context.Context, b []byte) (string, error) {
	hash := sha256Hex(b)
	key := s.key(hash)

	exists, err := s.Exists(ctx, hash)
	if err != nil {
		return "", err
	}
	if exists {
		return hash, nil // idempotent
	}

	_, err = s.upload.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		return "", landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Store", "s3 put object", err)
	}
	return hash, nil
}

func (s *S3Store) Retrieve(ctx context.Context, hash string) ([]byte, error) {
	key := s.key(hash)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Retrieve", "s3 get object", err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Retrieve", "read s3 object body", err)
	}
	if err := verifyHash(hash, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *S3Store) Exists(ctx context.Context, hash string) (bool, error) {
	key := s.key(hash)
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Exists", "s3 head object", err)
}

func (s *S3Store) Delete(ctx context.Context, hash string) (bool, error) {
	existed, err := s.Exists(ctx, hash)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	key := s.key(hash)
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return false, landscaperr.Wrap(landscaperr.KindIntegrity, "payloadstore.Delete", "s3 delete object", err)
	}
	return true, nil
}
