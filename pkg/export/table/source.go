package table

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/marmos91/nfsd/internal/logger"
)

// ErrSourceNotFound is returned when a source's table does not exist.
var ErrSourceNotFound = errors.New("export table not found")

// Source loads an export table.
type Source interface {
	// Name describes the source in logs.
	Name() string

	// Load fetches and parses the table.
	Load(ctx context.Context) (*Table, error)
}

// Load reads every source and merges the results in order.
func Load(ctx context.Context, sources ...Source) (*Table, error) {
	tables := make([]*Table, 0, len(sources))
	for _, src := range sources {
		t, err := src.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", src.Name(), err)
		}
		logger.Info("Loaded %d export entries from %s", len(t.Entries), src.Name())
		tables = append(tables, t)
	}
	return Merge(tables...), nil
}

// ============================================================================
// File source
// ============================================================================

// FileSourceConfig configures a FileSource.
type FileSourceConfig struct {
	// Path is the YAML table to read.
	Path string `mapstructure:"path" validate:"required"`
}

// FileSource reads a table from the local filesystem.
type FileSource struct {
	path string
}

// NewFileSource returns a source reading cfg.Path.
func NewFileSource(cfg FileSourceConfig) *FileSource {
	return &FileSource{path: cfg.Path}
}

func (s *FileSource) Name() string {
	return "file:" + s.path
}

func (s *FileSource) Load(ctx context.Context) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", s.path, ErrSourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return Parse(data)
}

// ============================================================================
// S3 source
// ============================================================================

// S3SourceConfig configures an S3Source.
type S3SourceConfig struct {
	// Bucket and Key locate the table object.
	Bucket string `mapstructure:"bucket" validate:"required"`
	Key    string `mapstructure:"key" validate:"required"`

	// Region is the AWS region (default: us-east-1).
	Region string `mapstructure:"region"`

	// Endpoint overrides the S3 endpoint, for MinIO or Localstack.
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID and SecretAccessKey select static credentials. When empty
	// the default credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// GetObjectAPI is the part of the S3 client a source needs.
type GetObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads a table from an S3 object.
type S3Source struct {
	client GetObjectAPI
	bucket string
	key    string
}

// NewS3Source builds an S3 client from cfg.
//
// Credentials come from cfg when both keys are set, otherwise from the
// default AWS chain. A custom endpoint forces path-style addressing.
func NewS3Source(ctx context.Context, cfg S3SourceConfig) (*S3Source, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SourceWithClient(client, cfg.Bucket, cfg.Key), nil
}

// NewS3SourceWithClient wraps an existing client.
func NewS3SourceWithClient(client GetObjectAPI, bucket, key string) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key}
}

func (s *S3Source) Name() string {
	return "s3://" + s.bucket + "/" + s.key
}

func (s *S3Source) Load(ctx context.Context) (*Table, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%s: %w", s.Name(), ErrSourceNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", s.Name(), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Name(), err)
	}
	return Parse(data)
}

// StaticSource serves a table built in memory.
type StaticSource struct {
	Table *Table
}

func (s StaticSource) Name() string {
	return "static"
}

func (s StaticSource) Load(context.Context) (*Table, error) {
	if s.Table == nil {
		return &Table{}, nil
	}
	return s.Table, nil
}
