package retriever

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ragon/ragon/engine/knowledge"
	"github.com/ragon/ragon/engine/knowledge/store"
	"github.com/ragon/ragon/pkg/logger"
)

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the database surface used by the retriever; *store.Store
// implements it.
type Store interface {
	HybridSearch(ctx context.Context, p *store.HybridSearchParams) ([]store.HybridRow, error)
	MatchChunksInDocs(ctx context.Context, p *store.DeepSearchParams) ([]store.DeepRow, error)
	LinkedPaths(ctx context.Context, docID string) ([]string, error)
	DocumentIDsByPaths(ctx context.Context, fragments []string) ([]string, error)
}

// Cache stores complete search results.
type Cache interface {
	Get(ctx context.Context, query string, deep bool) (*knowledge.Result, bool)
	Set(ctx context.Context, query string, deep bool, result *knowledge.Result)
}

const linkLookupConcurrency = 4

type Service struct {
	embedder Embedder
	store    Store
	config   *knowledge.RAGConfig
	cache    Cache
	metrics  *knowledge.Metrics
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithMetrics(m *knowledge.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(emb Embedder, st Store, cfg *knowledge.RAGConfig, opts ...Option) (*Service, error) {
	if emb == nil {
		return nil, errors.New("knowledge: retriever embedder is required")
	}
	if st == nil {
		return nil, errors.New("knowledge: retriever store is required")
	}
	if cfg == nil {
		cfg = knowledge.DefaultRAGConfig()
	}
	s := &Service{embedder: emb, store: st, config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SplitQuery splits a compound query on "||", trimming parts and dropping
// empty ones.
func SplitQuery(query string) []string {
	parts := strings.Split(query, knowledge.SubQuerySeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Search runs hybrid search for every sub-query, fuses the rankings and,
// when deep is set, searches the documents linked from the fused results.
// Per-query failures end up in Result.Log; only cancellation is an error.
func (s *Service) Search(ctx context.Context, query string, deep bool) (*knowledge.Result, error) {
	start := time.Now()
	defer func() { s.metrics.RecordSearch(ctx, deep, time.Since(start)) }()
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, query, deep); ok {
			return cached, nil
		}
	}
	log := logger.FromContext(ctx)
	result := knowledge.EmptyResult()
	subQueries := SplitQuery(query)
	multi := len(subQueries) > 1

	fused := s.fuse(ctx, subQueries, s.config.MatchCount(multi), result)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if multi && len(fused) > knowledge.MultiQueryLimit {
		fused = fused[:knowledge.MultiQueryLimit]
	}
	if len(fused) == 0 {
		log.Debug("Knowledge search found nothing", "sub_queries", len(subQueries), "errors", len(result.Log))
		return result, nil
	}

	linkedIDs := s.resolveLinks(ctx, fused, deep)
	result.Results = fused
	if deep && len(linkedIDs) > 0 {
		deepQueries := []string{query}
		if multi {
			deepQueries = subQueries
		}
		result.DeepResults = s.deepSearch(ctx, deepQueries, linkedIDs, result)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Debug("Knowledge search finished",
		"sub_queries", len(subQueries),
		"direct", len(result.Results),
		"deep", len(result.DeepResults),
		"errors", len(result.Log),
		"duration", time.Since(start),
	)
	if s.cache != nil && len(result.Log) == 0 {
		s.cache.Set(ctx, query, deep, result)
	}
	return result, nil
}

type subQueryHits struct {
	rows []store.HybridRow
	err  error
}

// fuse merges per sub-query rankings with reciprocal rank fusion. Sub-queries
// run concurrently; fusion follows sub-query order so ties stay stable.
func (s *Service) fuse(
	ctx context.Context,
	subQueries []string,
	matchCount int,
	result *knowledge.Result,
) []knowledge.DirectMatch {
	hits := make([]subQueryHits, len(subQueries))
	var g errgroup.Group
	for i, q := range subQueries {
		g.Go(func() error {
			rows, err := s.hybridSearch(ctx, q, matchCount)
			hits[i] = subQueryHits{rows: rows, err: err}
			return nil
		})
	}
	_ = g.Wait()

	fused := make([]knowledge.DirectMatch, 0)
	index := make(map[string]int)
	for i, q := range subQueries {
		if err := hits[i].err; err != nil {
			s.metrics.RecordQueryError(ctx, knowledge.StageHybrid)
			result.Log = append(result.Log, fmt.Sprintf("Error querying '%s': %s", q, err))
			continue
		}
		for rank, row := range hits[i].rows {
			score := 1.0 / float64(knowledge.RRFConstant+rank)
			if pos, ok := index[row.ChunkID]; ok {
				fused[pos].Score += score
				fused[pos].MatchedQueries = append(fused[pos].MatchedQueries, q)
				continue
			}
			index[row.ChunkID] = len(fused)
			fused = append(fused, knowledge.DirectMatch{
				ChunkID:        row.ChunkID,
				DocumentID:     row.DocumentID,
				Content:        strings.TrimSpace(row.Content),
				Source:         sourceOrUnknown(row.RepoPath),
				Score:          score,
				References:     []string{},
				MatchedQueries: []string{q},
			})
		}
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	return fused
}

func (s *Service) hybridSearch(ctx context.Context, q string, matchCount int) ([]store.HybridRow, error) {
	vector, err := s.embedder.EmbedQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	params := s.config.SearchParams
	return s.store.HybridSearch(ctx, &store.HybridSearchParams{
		QueryText:      q,
		Embedding:      vector,
		MatchCount:     matchCount,
		FullTextWeight: params.FullTextWeight,
		SemanticWeight: params.SemanticWeight,
		RecencyWeight:  params.RecencyWeight,
		FolderWeights:  s.config.FolderWeights,
	})
}

// resolveLinks fills References on every match and, when deep is set,
// returns the sorted ids of the linked documents. Lookup failures leave the
// match without references or deep targets.
func (s *Service) resolveLinks(ctx context.Context, matches []knowledge.DirectMatch, deep bool) []string {
	linked := make([][]string, len(matches))
	var g errgroup.Group
	g.SetLimit(linkLookupConcurrency)
	for i := range matches {
		docID := matches[i].DocumentID
		if docID == "" {
			continue
		}
		g.Go(func() error {
			paths, err := s.store.LinkedPaths(ctx, docID)
			if err != nil {
				s.linkLookupFailed(ctx, docID, err)
				return nil
			}
			if len(paths) > 0 {
				matches[i].References = paths
			}
			if !deep {
				return nil
			}
			fragments := linkFragments(paths)
			if len(fragments) == 0 {
				return nil
			}
			ids, err := s.store.DocumentIDsByPaths(ctx, fragments)
			if err != nil {
				s.linkLookupFailed(ctx, docID, err)
				return nil
			}
			linked[i] = ids
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, group := range linked {
		for _, id := range group {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *Service) linkLookupFailed(ctx context.Context, docID string, err error) {
	s.metrics.RecordQueryError(ctx, knowledge.StageLinks)
	logger.FromContext(ctx).Debug("Link lookup failed", "document_id", docID, "error", err)
}

// linkFragments reduces link targets to file names without a #fragment.
func linkFragments(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		name := p[strings.LastIndexByte(p, '/')+1:]
		name, _, _ = strings.Cut(name, "#")
		if strings.TrimSpace(name) == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}

type deepHits struct {
	rows []store.DeepRow
	err  error
}

func (s *Service) deepSearch(
	ctx context.Context,
	queries []string,
	docIDs []string,
	result *knowledge.Result,
) []knowledge.DeepMatch {
	hits := make([]deepHits, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			vector, err := s.embedder.EmbedQuery(ctx, q)
			if err != nil {
				hits[i].err = err
				return nil
			}
			hits[i].rows, hits[i].err = s.store.MatchChunksInDocs(ctx, &store.DeepSearchParams{
				QueryText:      q,
				Embedding:      vector,
				MatchThreshold: knowledge.DeepMatchThreshold,
				MatchCount:     knowledge.DeepMatchCount,
				DocumentIDs:    docIDs,
			})
			return nil
		})
	}
	_ = g.Wait()

	// Later rows replace earlier ones with the same chunk id but keep the
	// first-seen position.
	order := make([]string, 0)
	byChunk := make(map[string]store.DeepRow)
	for i, q := range queries {
		if err := hits[i].err; err != nil {
			s.metrics.RecordQueryError(ctx, knowledge.StageDeep)
			result.Log = append(result.Log, fmt.Sprintf("Deep search error '%s': %s", q, err))
			continue
		}
		for _, row := range hits[i].rows {
			if _, ok := byChunk[row.ChunkID]; !ok {
				order = append(order, row.ChunkID)
			}
			byChunk[row.ChunkID] = row
		}
	}
	rows := make([]store.DeepRow, 0, len(order))
	for _, id := range order {
		rows = append(rows, byChunk[id])
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Similarity > rows[j].Similarity
	})
	if len(rows) > knowledge.DeepResultLimit {
		rows = rows[:knowledge.DeepResultLimit]
	}
	out := make([]knowledge.DeepMatch, 0, len(rows))
	for _, row := range rows {
		out = append(out, knowledge.DeepMatch{
			ChunkID: row.ChunkID,
			Content: strings.TrimSpace(row.Content),
			Source:  sourceOrUnknown(row.RepoPath),
			Score:   row.Similarity,
		})
	}
	return out
}

func sourceOrUnknown(repoPath string) string {
	if repoPath == "" {
		return knowledge.UnknownSource
	}
	return repoPath
}
