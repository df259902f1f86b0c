package remotestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/matchops/local-sync/internal/entity"
)

// S3Store is a reference Remote Store that stores each entity as a JSON
// object under bucket key "<tenantID>/<kind>/<id>.json". It is the cloud
// counterpart mirrored by BadgerStore locally, and is the default Store
// wired by the CLI in cmd/matchops-syncd.
type S3Store struct {
	client   *s3.Client
	bucket   string
	tenantID string
	logger   *logrus.Logger
}

// S3StoreConfig configures an S3Store.
type S3StoreConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	TenantID  string
	Logger    *logrus.Logger
}

// NewS3Store constructs a Remote Store backed by any S3-compatible
// endpoint, using a static-credentials provider and a custom endpoint
// resolver so self-hosted S3-compatible services work the same as AWS.
func NewS3Store(cfg S3StoreConfig) *S3Store {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:               cfg.Endpoint,
			HostnameImmutable: true,
			SigningRegion:     region,
		}, nil
	})

	awsCfg := aws.Config{
		Region:                      region,
		Credentials:                 credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		EndpointResolverWithOptions: customResolver,
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3Store{
		client:   client,
		bucket:   cfg.Bucket,
		tenantID: cfg.TenantID,
		logger:   cfg.Logger,
	}
}

func (s *S3Store) objectKey(kind entity.Kind, id string) string {
	return fmt.Sprintf("%s/%s/%s.json", s.tenantID, kind, id)
}

func (s *S3Store) objectPrefix(kind entity.Kind) string {
	return fmt.Sprintf("%s/%s/", s.tenantID, kind)
}

// Upsert implements Store. It must be idempotent: repeating the same
// PutObject is always safe.
func (s *S3Store) Upsert(ctx context.Context, kind entity.Kind, e entity.Entity) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("remotestore: marshal entity: %w", err)
	}

	key := s.objectKey(kind, e.ID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("remotestore: upsert %s: %w", key, err)
	}

	s.logger.WithFields(logrus.Fields{"kind": kind, "id": e.ID}).Debug("remote upsert complete")
	return nil
}

// Delete implements Store. The key must match what Upsert wrote; extra is
// accepted only to satisfy the Store interface shared with PlayerAdjustment's
// orphan-repair payload and is not otherwise consulted here.
func (s *S3Store) Delete(ctx context.Context, kind entity.Kind, id string, extra interface{}) error {
	key := s.objectKey(kind, id)

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("remotestore: delete %s: %w", key, err)
	}
	return nil
}

// Initialize implements Store. Bucket provisioning is assumed to be an
// external operational concern; Initialize only validates connectivity.
func (s *S3Store) Initialize(ctx context.Context) error {
	return s.TestConnection(ctx)
}

// Close implements Store. The AWS SDK v2 client holds no persistent
// connection state that requires explicit teardown.
func (s *S3Store) Close() error { return nil }

// ClearAllUserData implements Store by listing and deleting every object
// under this tenant's prefix, across every known kind.
func (s *S3Store) ClearAllUserData(ctx context.Context) error {
	for _, kind := range entity.AllKinds {
		if err := s.clearKind(ctx, kind); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Store) clearKind(ctx context.Context, kind entity.Kind) error {
	prefix := s.objectPrefix(kind)
	var continuationToken *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return fmt.Errorf("remotestore: list %s: %w", prefix, err)
		}

		objects := make([]types.ObjectIdentifier, 0, len(out.Contents))
		for _, obj := range out.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		if len(objects) > 0 {
			_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &types.Delete{Objects: objects},
			})
			if err != nil {
				return fmt.Errorf("remotestore: batch delete %s: %w", prefix, err)
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}
	return nil
}

// TestConnection implements Store by issuing a cheap HeadBucket call.
func (s *S3Store) TestConnection(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("remotestore: connection test failed: %w", err)
	}
	return nil
}

var _ Store = (*S3Store)(nil)
