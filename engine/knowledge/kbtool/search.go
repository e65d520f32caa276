package kbtool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ragon/ragon/engine/knowledge"
	mcpgateway "github.com/ragon/ragon/pkg/mcp-gateway"
)

const (
	ToolName      = "search_knowledge_base"
	queryArg      = "query"
	summaryFormat = "Found %d direct results and %d referenced deep insights."
)

const toolDescription = `Search the organizational knowledge base (RAG System) for policies, job descriptions, processes, and authority limits.

This tool performs a hybrid search (semantic + keywords) and automatically checks referenced documents (Graph Search) for deep context.

Args:
    query: The question or topic to search for. You can use '||' to separate multiple sub-queries (e.g. "Budget Limit || Field Authority").

Returns a JSON string containing direct search results and deep search findings.`

const queryDescription = `The question or topic to search for. Use '||' to separate multiple sub-queries (e.g. "Budget Limit || Field Authority").`

// ErrMissingQuery is returned when the query argument is absent or blank.
var ErrMissingQuery = errors.New("query argument is required")

// Searcher runs a knowledge search; *retriever.Service implements it.
type Searcher interface {
	Search(ctx context.Context, query string, deep bool) (*knowledge.Result, error)
}

// Config caps the excerpt length, in characters, of each rendered match.
type Config struct {
	DirectExcerptChars int
	DeepExcerptChars   int
}

func DefaultConfig() *Config {
	return &Config{DirectExcerptChars: 800, DeepExcerptChars: 600}
}

func Definition() mcp.Tool {
	return mcp.NewTool(ToolName,
		mcp.WithDescription(toolDescription),
		mcp.WithString(queryArg,
			mcp.Required(),
			mcp.Description(queryDescription),
		),
	)
}

// Register adds search_knowledge_base to tools.
func Register(tools *mcpgateway.ToolRegistry, searcher Searcher, cfg *Config) error {
	if searcher == nil {
		return errors.New("knowledge searcher is required")
	}
	return tools.Register(Definition(), NewHandler(searcher, cfg))
}

func NewHandler(searcher Searcher, cfg *Config) mcpgateway.ToolHandler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args[queryArg].(string)
		if strings.TrimSpace(query) == "" {
			return "", ErrMissingQuery
		}
		result, err := searcher.Search(ctx, query, true)
		if err != nil {
			return "", err
		}
		return Render(result, cfg)
	}
}

type directMatch struct {
	Source     string   `json:"source"`
	Content    string   `json:"content"`
	References []string `json:"references"`
}

type deepInsight struct {
	Source         string  `json:"source"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score"`
}

type searchOutput struct {
	Summary       string        `json:"summary"`
	DirectMatches []directMatch `json:"direct_matches"`
	DeepInsights  []deepInsight `json:"deep_insights"`
}

// Render formats a result as indented JSON with non-ASCII text kept as is.
func Render(result *knowledge.Result, cfg *Config) (string, error) {
	if result == nil {
		result = knowledge.EmptyResult()
	}
	out := searchOutput{
		Summary:       fmt.Sprintf(summaryFormat, len(result.Results), len(result.DeepResults)),
		DirectMatches: make([]directMatch, 0, len(result.Results)),
		DeepInsights:  make([]deepInsight, 0, len(result.DeepResults)),
	}
	for _, r := range result.Results {
		refs := r.References
		if refs == nil {
			refs = []string{}
		}
		out.DirectMatches = append(out.DirectMatches, directMatch{
			Source:     r.Source,
			Content:    truncateRunes(r.Content, cfg.DirectExcerptChars),
			References: refs,
		})
	}
	for _, r := range result.DeepResults {
		out.DeepInsights = append(out.DeepInsights, deepInsight{
			Source:         r.Source,
			Content:        truncateRunes(r.Content, cfg.DeepExcerptChars),
			RelevanceScore: r.Score,
		})
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return "", fmt.Errorf("encoding search output: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
