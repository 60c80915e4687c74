// Package s3storage stores content blobs in an S3-compatible bucket using
// the same naming and versioning rules as the local filesystem store.
package s3storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"auditfetch/internal/core/domain"
)

// Scheme prefixes destinations served by this store.
const Scheme = "s3://"

// ObjectAPI is the subset of *s3.Client the store needs.
type ObjectAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config contains connection settings for the bucket.
type Config struct {
	Bucket string
	Prefix string

	// Endpoint overrides the AWS endpoint (R2, MinIO, ...). Path-style
	// addressing is used when set.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Store implements ports.BlobStore on S3.
type Store struct {
	client ObjectAPI
	bucket string
	prefix string
	log    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// IsURI reports whether destination names an S3 location.
func IsURI(destination string) bool {
	return strings.HasPrefix(destination, Scheme)
}

// ParseURI splits s3://bucket/prefix into its parts.
func ParseURI(destination string) (bucket, prefix string, err error) {
	u, err := url.Parse(destination)
	if err != nil {
		return "", "", fmt.Errorf("parse destination %q: %w", destination, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("destination %q is not an s3://bucket[/prefix] URI", destination)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// New creates an S3 client from cfg and wraps it in a Store.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	} else if cfg.Endpoint != "" {
		opts = append(opts, config.WithRegion("auto"))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, log), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client ObjectAPI, bucket, prefix string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Init checks that the bucket is reachable. Buckets are never created.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("access bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Location returns the s3:// URI of the destination.
func (s *Store) Location() string {
	if s.prefix == "" {
		return Scheme + s.bucket
	}
	return Scheme + s.bucket + "/" + s.prefix
}

// Key returns the object key of the n-th variant of logicalID.
func (s *Store) Key(logicalID string, n int) string {
	return s.objectKey(domain.VariantName(logicalID, n))
}

func (s *Store) objectKey(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Save stores data under logicalID unless an identical variant exists.
// Every stored variant is compared before the lowest free key is claimed.
// New objects are written with If-None-Match so concurrent writers cannot
// overwrite each other.
func (s *Store) Save(ctx context.Context, logicalID string, data []byte) (domain.StoreResult, error) {
	if err := domain.ValidateLogicalID(logicalID); err != nil {
		return domain.StoreResult{}, err
	}

	lock := s.lockFor(logicalID)
	lock.Lock()
	defer lock.Unlock()

	highest, err := s.highestVariant(ctx, logicalID)
	if err != nil {
		return domain.StoreResult{}, err
	}

	taken := make(map[int]bool)
	for n := 0; n <= highest; n++ {
		if err := ctx.Err(); err != nil {
			return domain.StoreResult{}, err
		}
		key := s.Key(logicalID, n)
		exists, equal, err := s.compare(ctx, key, data)
		if err != nil {
			return domain.StoreResult{}, err
		}
		if equal {
			return domain.StoreResult{Path: s.uri(key), Duplicate: true}, nil
		}
		taken[n] = exists
	}

	for n := 0; ; n++ {
		if taken[n] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return domain.StoreResult{}, err
		}

		key := s.Key(logicalID, n)
		created, err := s.putIfAbsent(ctx, key, data)
		if err != nil {
			return domain.StoreResult{}, err
		}
		if created {
			return domain.StoreResult{Path: s.uri(key)}, nil
		}

		s.log.Debug("object appeared while saving, rechecking", "key", key)
		_, equal, err := s.compare(ctx, key, data)
		if err != nil {
			return domain.StoreResult{}, err
		}
		if equal {
			return domain.StoreResult{Path: s.uri(key), Duplicate: true}, nil
		}
	}
}

// highestVariant returns the largest variant number stored for logicalID,
// or -1 when there is none.
func (s *Store) highestVariant(ctx context.Context, logicalID string) (int, error) {
	highest := -1
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(logicalID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return -1, fmt.Errorf("list objects for %s: %w", logicalID, err)
		}
		for _, obj := range page.Contents {
			if n, ok := domain.ParseVariantName(logicalID, path.Base(aws.ToString(obj.Key))); ok && n > highest {
				highest = n
			}
		}
	}
	return highest, nil
}

func (s *Store) uri(key string) string {
	return Scheme + s.bucket + "/" + key
}

func (s *Store) lockFor(logicalID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[logicalID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[logicalID] = l
	}
	return l
}

func (s *Store) compare(ctx context.Context, key string, data []byte) (exists, equal bool, err error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength != int64(len(data)) {
		return true, false, nil
	}
	existing, err := io.ReadAll(out.Body)
	if err != nil {
		return true, false, fmt.Errorf("read object %s: %w", key, err)
	}
	return true, bytes.Equal(existing, data), nil
}

func (s *Store) putIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
		IfNoneMatch:   aws.String("*"),
	})
	if err == nil {
		return true, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return false, nil
		}
	}
	return false, fmt.Errorf("put object %s: %w", key, err)
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
