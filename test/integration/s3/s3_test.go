//go:build integration

package s3_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/nfsd/pkg/export/table"
)

const exportsYAML = `
exports:
  - client: laptop
    path: /srv/export
    options: [rw, no_root_squash]
    fsid: 1
  - client: "*"
    path: /srv/public
    options: [ro, all_squash]
`

func endpoint() string {
	if e := os.Getenv("LOCALSTACK_ENDPOINT"); e != "" {
		return e
	}
	return "http://localhost:4566"
}

// setupTestS3 creates a bucket holding an export table and returns a
// cleanup function removing both.
func setupTestS3(t *testing.T, bucketName, key string) func() {
	t.Helper()
	ctx := context.Background()

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		t.Fatalf("Failed to load AWS config: %v", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint())
		o.UsePathStyle = true
	})

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		t.Fatalf("Failed to create test bucket: %v", err)
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
		Body:   strings.NewReader(exportsYAML),
	})
	if err != nil {
		t.Fatalf("Failed to upload export table: %v", err)
	}

	return func() {
		_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucketName), Key: aws.String(key)})
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucketName)})
	}
}

// TestS3Source_Integration loads an export table from Localstack.
//
// Prerequisites:
//
//	docker run --rm -p 4566:4566 localstack/localstack
//	go test -tags=integration ./test/integration/s3/...
func TestS3Source_Integration(t *testing.T) {
	ctx := context.Background()
	bucket := fmt.Sprintf("nfsd-exports-%d", time.Now().UnixNano())
	cleanup := setupTestS3(t, bucket, "exports.yaml")
	defer cleanup()

	newSource := func(key string) *table.S3Source {
		src, err := table.NewS3Source(ctx, table.S3SourceConfig{
			Bucket:          bucket,
			Key:             key,
			Endpoint:        endpoint(),
			AccessKeyID:     "test",
			SecretAccessKey: "test",
		})
		if err != nil {
			t.Fatalf("Failed to create S3Source: %v", err)
		}
		return src
	}

	t.Run("Load", func(t *testing.T) {
		tbl, err := newSource("exports.yaml").Load(ctx)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if len(tbl.Entries) != 2 {
			t.Fatalf("Expected 2 entries, got %d", len(tbl.Entries))
		}
		if e, ok := tbl.ByPath("anyone", "/srv/public"); !ok || e.Client != table.AnyClient {
			t.Fatalf("Wildcard entry not found: %+v", e)
		}
	})

	t.Run("MergedWithInlineEntries", func(t *testing.T) {
		inline := table.StaticSource{Table: &table.Table{Entries: []table.Entry{
			{Client: "laptop", Path: "/srv/export", Options: []string{"ro"}},
		}}}
		tbl, err := table.Load(ctx, inline, newSource("exports.yaml"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		e, ok := tbl.ByPath("laptop", "/srv/export")
		if !ok {
			t.Fatal("Merged entry not found")
		}
		if len(e.Options) != 1 || e.Options[0] != "ro" {
			t.Fatalf("Inline entry should win, got options %v", e.Options)
		}
	})

	t.Run("MissingKey", func(t *testing.T) {
		_, err := newSource("missing.yaml").Load(ctx)
		if !errors.Is(err, table.ErrSourceNotFound) {
			t.Fatalf("Expected ErrSourceNotFound, got %v", err)
		}
	})
}
