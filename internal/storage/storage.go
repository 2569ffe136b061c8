// Package storage wraps the S3 API with the small object-store surface the
// sync jobs need: fetch, dump, and prefix listing addressed by s3:// URIs.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNoObjects is returned by LatestUnder when a prefix holds nothing.
var ErrNoObjects = errors.New("no objects")

// API is the subset of the S3 client used by Store.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store provides object-store access for the sync jobs.
type Store struct {
	client API
	logger *slog.Logger
}

// New creates a Store around an S3 client.
func New(client API) *Store {
	return &Store{
		client: client,
		logger: slog.Default(),
	}
}

// NewFromConfig creates a Store from a resolved AWS config.
func NewFromConfig(cfg aws.Config) *Store {
	return New(s3.NewFromConfig(cfg))
}

// WithLogger sets a custom logger for the store.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logger
	return s
}

// ParseURI splits an s3://bucket/key URI into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URI: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("no bucket in URI: %q", uri)
	}
	return bucket, key, nil
}

// JoinURI joins a base s3:// URI and path elements with single slashes.
func JoinURI(base string, elem ...string) string {
	parts := append([]string{strings.TrimSuffix(base, "/")}, elem...)
	for i := 1; i < len(parts); i++ {
		parts[i] = strings.Trim(parts[i], "/")
	}
	return strings.Join(parts, "/")
}

// PublicURL converts an s3:// URI to the public HTTPS URL for a region.
func PublicURL(uri, region string) (string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key), nil
}

// Fetch reads the full contents of an object.
func (s *Store) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", uri, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}

	s.logger.DebugContext(ctx, "fetched object",
		slog.String("uri", uri),
		slog.Int("bytes", len(body)),
	)
	return body, nil
}

// Dump writes an object with the given content type. Objects are always
// written with the bucket-owner-full-control canned ACL so the destination
// account owns reports written from worker pods.
func (s *Store) Dump(ctx context.Context, uri string, body []byte, contentType string) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLBucketOwnerFullControl,
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", uri, err)
	}

	s.logger.InfoContext(ctx, "wrote object",
		slog.String("uri", uri),
		slog.Int("bytes", len(body)),
	)
	return nil
}

// ListDir lists the immediate children of a prefix, returning full s3://
// URIs. Sub-prefixes keep their trailing slash, mirroring a directory
// listing.
func (s *Store) ListDir(ctx context.Context, uri string) ([]string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}

	var listing []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(key),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", uri, err)
		}
		for _, p := range page.CommonPrefixes {
			listing = append(listing, "s3://"+bucket+"/"+aws.ToString(p.Prefix))
		}
		for _, obj := range page.Contents {
			listing = append(listing, "s3://"+bucket+"/"+aws.ToString(obj.Key))
		}
	}

	sort.Strings(listing)
	return listing, nil
}

// LatestUnder returns the key and modification time of the most recently
// modified object under a prefix. Used by the latency checker.
func (s *Store) LatestUnder(ctx context.Context, uri string) (string, time.Time, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", time.Time{}, err
	}

	var (
		latestKey string
		latest    time.Time
	)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("failed to list %s: %w", uri, err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified != nil && obj.LastModified.After(latest) {
				latest = *obj.LastModified
				latestKey = aws.ToString(obj.Key)
			}
		}
	}

	if latestKey == "" {
		return "", time.Time{}, fmt.Errorf("%w under %s", ErrNoObjects, uri)
	}
	return latestKey, latest, nil
}
