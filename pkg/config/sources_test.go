package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/pkg/export/table"
)

func TestCreateSources(t *testing.T) {
	t.Run("InlineEntriesComeFirst", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "exports.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
exports:
  - client: "*"
    path: /export
    options: [ro]
  - client: "*"
    path: /srv
`), 0644))

		cfg := GetDefaultConfig()
		cfg.Exports.Sources = []SourceConfig{{Type: "file", Options: map[string]any{"path": path}}}
		require.NoError(t, Validate(cfg))

		sources, err := CreateSources(context.Background(), &cfg.Exports)
		require.NoError(t, err)
		require.Len(t, sources, 2)
		assert.Equal(t, "static", sources[0].Name())
		assert.Equal(t, "file:"+path, sources[1].Name())

		tbl, err := table.Load(context.Background(), sources...)
		require.NoError(t, err)
		require.Len(t, tbl.Entries, 2)

		e, ok := tbl.ByPath("anyone", "/export")
		require.True(t, ok)
		assert.Equal(t, []string{"rw", "root_squash", "sync"}, e.Options)
	})

	t.Run("S3", func(t *testing.T) {
		cfg := &ExportsConfig{Sources: []SourceConfig{{Type: "s3", Options: map[string]any{
			"bucket":            "nfsd",
			"key":               "exports.yaml",
			"endpoint":          "http://127.0.0.1:9000",
			"access_key_id":     "test",
			"secret_access_key": "test",
		}}}}

		sources, err := CreateSources(context.Background(), cfg)
		require.NoError(t, err)
		require.Len(t, sources, 1)
		assert.Equal(t, "s3://nfsd/exports.yaml", sources[0].Name())
	})

	t.Run("DecodeError", func(t *testing.T) {
		cfg := &ExportsConfig{Sources: []SourceConfig{{Type: "file", Options: map[string]any{"path": []int{1}}}}}

		_, err := CreateSources(context.Background(), cfg)
		assert.Error(t, err)
	})
}
