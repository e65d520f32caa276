package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/ragon/ragon/pkg/logger"
)

// Folder names routinely contain dots, so the koanf key delimiter must not.
const ragConfigDelim = "::"

// SearchParams tunes the hybrid_search SQL function.
type SearchParams struct {
	BaseMatchCount int     `json:"base_match_count" koanf:"base_match_count"`
	FullTextWeight float64 `json:"full_text_weight" koanf:"full_text_weight"`
	SemanticWeight float64 `json:"semantic_weight"  koanf:"semantic_weight"`
	RecencyWeight  float64 `json:"recency_weight"   koanf:"recency_weight"`
}

// RAGConfig is the retrieval tuning file (rag_config.json).
type RAGConfig struct {
	FolderWeights map[string]float64 `json:"folder_weights" koanf:"folder_weights"`
	SearchParams  SearchParams       `json:"search_params"  koanf:"search_params"`
}

func DefaultRAGConfig() *RAGConfig {
	return &RAGConfig{
		FolderWeights: map[string]float64{},
		SearchParams: SearchParams{
			BaseMatchCount: 8,
			FullTextWeight: 1.0,
			SemanticWeight: 1.0,
			RecencyWeight:  0.5,
		},
	}
}

// MatchCount returns the per sub-query row count for hybrid search.
func (c *RAGConfig) MatchCount(multiQuery bool) int {
	base := c.SearchParams.BaseMatchCount
	if !multiQuery {
		return base
	}
	return max(MinMultiQueryMatchCount, int(float64(base)*MultiQueryMatchFactor))
}

// LoadRAGConfig reads path over the defaults. A missing or unreadable file
// yields the defaults with a warning; the service still answers queries.
func LoadRAGConfig(ctx context.Context, path string) *RAGConfig {
	log := logger.FromContext(ctx)
	if path == "" {
		return DefaultRAGConfig()
	}
	cfg, err := loadRAGConfigFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("RAG config not found, using defaults", "path", path)
		} else {
			log.Warn("Failed to load RAG config, using defaults", "path", path, "error", err)
		}
		return DefaultRAGConfig()
	}
	log.Debug("RAG config loaded", "path", path, "folder_weights", len(cfg.FolderWeights))
	return cfg
}

func loadRAGConfigFile(path string) (*RAGConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	k := koanf.New(ragConfigDelim)
	if err := k.Load(structs.Provider(DefaultRAGConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load RAG defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg := &RAGConfig{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if cfg.FolderWeights == nil {
		cfg.FolderWeights = map[string]float64{}
	}
	if cfg.SearchParams.BaseMatchCount <= 0 {
		return nil, fmt.Errorf("search_params.base_match_count must be positive, got %d",
			cfg.SearchParams.BaseMatchCount)
	}
	return cfg, nil
}
