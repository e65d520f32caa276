package knowledge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRAGConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rag_config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRAGConfig(t *testing.T) {
	t.Run("Should return defaults when the file is missing", func(t *testing.T) {
		cfg := LoadRAGConfig(t.Context(), filepath.Join(t.TempDir(), "absent.json"))

		assert.Equal(t, DefaultRAGConfig(), cfg)
	})

	t.Run("Should return defaults when no path is configured", func(t *testing.T) {
		assert.Equal(t, DefaultRAGConfig(), LoadRAGConfig(t.Context(), ""))
	})

	t.Run("Should merge the file over the defaults", func(t *testing.T) {
		path := writeRAGConfig(t, `{
			"folder_weights": {"docs/v1.2/policies": 1.5, "archive": 0.3},
			"search_params": {"base_match_count": 12, "recency_weight": 0.1}
		}`)

		cfg := LoadRAGConfig(t.Context(), path)

		assert.Equal(t, map[string]float64{"docs/v1.2/policies": 1.5, "archive": 0.3}, cfg.FolderWeights)
		assert.Equal(t, 12, cfg.SearchParams.BaseMatchCount)
		assert.InDelta(t, 0.1, cfg.SearchParams.RecencyWeight, 1e-9)
		assert.InDelta(t, 1.0, cfg.SearchParams.FullTextWeight, 1e-9)
		assert.InDelta(t, 1.0, cfg.SearchParams.SemanticWeight, 1e-9)
	})

	t.Run("Should fall back to defaults on malformed JSON", func(t *testing.T) {
		path := writeRAGConfig(t, `{"folder_weights": `)

		assert.Equal(t, DefaultRAGConfig(), LoadRAGConfig(t.Context(), path))
	})

	t.Run("Should fall back to defaults on a non-positive match count", func(t *testing.T) {
		path := writeRAGConfig(t, `{"search_params": {"base_match_count": 0}}`)

		assert.Equal(t, DefaultRAGConfig(), LoadRAGConfig(t.Context(), path))
	})
}
