package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/nfsd/pkg/export/table"
)

// CreateSources builds the export table sources named by cfg.
//
// Inline entries come first so they win when merged with a source naming
// the same client and path. Each source's Options map is decoded into the
// source's own configuration struct and validated before the source is built.
func CreateSources(ctx context.Context, cfg *ExportsConfig) ([]table.Source, error) {
	var sources []table.Source

	if len(cfg.Entries) > 0 {
		entries := make([]table.Entry, len(cfg.Entries))
		copy(entries, cfg.Entries)
		sources = append(sources, table.StaticSource{Table: &table.Table{Entries: entries}})
	}

	for i := range cfg.Sources {
		src, err := createSource(ctx, &cfg.Sources[i])
		if err != nil {
			return nil, fmt.Errorf("exports.sources[%d]: %w", i, err)
		}
		sources = append(sources, src)
	}

	return sources, nil
}

func createSource(ctx context.Context, cfg *SourceConfig) (table.Source, error) {
	opts, err := decodeSourceOptions(cfg)
	if err != nil {
		return nil, err
	}

	switch o := opts.(type) {
	case *table.FileSourceConfig:
		return table.NewFileSource(*o), nil
	case *table.S3SourceConfig:
		src, err := table.NewS3Source(ctx, *o)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 export source: %w", err)
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown export source type: %q", cfg.Type)
	}
}

// decodeSourceOptions decodes and validates the options of one source
// without contacting it.
func decodeSourceOptions(cfg *SourceConfig) (any, error) {
	var target any
	switch cfg.Type {
	case "file":
		target = &table.FileSourceConfig{}
	case "s3":
		target = &table.S3SourceConfig{}
	default:
		return nil, fmt.Errorf("unknown export source type: %q", cfg.Type)
	}

	if err := mapstructure.Decode(cfg.Options, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s source options: %w", cfg.Type, err)
	}
	if err := validate.Struct(target); err != nil {
		return nil, fmt.Errorf("%s source: %w", cfg.Type, formatValidationError(err))
	}
	return target, nil
}
