// Package storage keeps point-in-time backup snapshots taken before sync passes.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sellersync/backend/internal/domain/integration"
	infraconfig "github.com/sellersync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ErrSnapshotNotFound is returned when a backup location does not exist
var ErrSnapshotNotFound = errors.New("storage: backup snapshot not found")

var _ integration.BackupStore = (*S3BackupStore)(nil)

// S3BackupStore writes snapshots as JSON objects to any S3-compatible
// storage (AWS S3, MinIO, RustFS).
type S3BackupStore struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// S3BackupStoreOption is a functional option for configuring S3BackupStore
type S3BackupStoreOption func(*s3BackupStoreOptions)

type s3BackupStoreOptions struct {
	logger        *zap.Logger
	clientOptions []func(*s3.Options)
}

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3BackupStoreOption {
	return func(o *s3BackupStoreOptions) {
		o.logger = logger
	}
}

// WithClientOptions adjusts the S3 client (checksums, retries, http client)
func WithClientOptions(fns ...func(*s3.Options)) S3BackupStoreOption {
	return func(o *s3BackupStoreOptions) {
		o.clientOptions = append(o.clientOptions, fns...)
	}
}

// NewS3BackupStore creates a store from configuration
func NewS3BackupStore(cfg *infraconfig.StorageConfig, opts ...S3BackupStoreOption) (*S3BackupStore, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, errors.New("storage access key and secret key must be set together")
	}

	o := &s3BackupStoreOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, append([]func(*s3.Options){func(so *s3.Options) {
		so.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			so.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}}, o.clientOptions...)...)

	return &S3BackupStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: o.logger,
	}, nil
}

// Put writes the snapshot and returns its s3:// location
func (s *S3BackupStore) Put(ctx context.Context, snapshot *integration.BackupSnapshot) (string, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := snapshotKey(s.prefix, snapshot)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	location := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	s.logger.Info("backup snapshot stored",
		zap.String("location", location),
		zap.String("user_id", snapshot.UserID),
		zap.String("entity_type", string(snapshot.EntityType)),
		zap.Int("records", len(snapshot.Records)),
	)
	return location, nil
}

// Get loads a snapshot by s3:// location or bare key
func (s *S3BackupStore) Get(ctx context.Context, location string) (*integration.BackupSnapshot, error) {
	key := strings.TrimPrefix(location, fmt.Sprintf("s3://%s/", s.bucket))
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, location)
		}
		return nil, fmt.Errorf("failed to download snapshot: %w", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snapshot integration.BackupSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// snapshotKey is prefix/user/entity/<taken_at>-<id>.json
func snapshotKey(prefix string, snapshot *integration.BackupSnapshot) string {
	name := fmt.Sprintf("%s-%s.json", snapshot.TakenAt.UTC().Format("20060102T150405Z"), snapshot.ID)
	return path.Join(prefix, snapshot.UserID, string(snapshot.EntityType), name)
}
