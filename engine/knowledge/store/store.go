package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store reads the RAG tables and search functions of a Supabase-style
// Postgres database.
type Store struct {
	db DB
}

func New(db DB) *Store {
	return &Store{db: db}
}

// HybridSearchParams are the arguments of the hybrid_search SQL function.
type HybridSearchParams struct {
	QueryText      string
	Embedding      []float32
	MatchCount     int
	FullTextWeight float64
	SemanticWeight float64
	RecencyWeight  float64
	FolderWeights  map[string]float64
}

// HybridRow is one row of hybrid_search, in rank order.
type HybridRow struct {
	ChunkID    string `db:"chunk_id"`
	DocumentID string `db:"document_id"`
	Content    string `db:"content"`
	RepoPath   string `db:"repo_path"`
}

// DeepSearchParams are the arguments of the match_chunks_in_docs SQL function.
type DeepSearchParams struct {
	QueryText      string
	Embedding      []float32
	MatchThreshold float64
	MatchCount     int
	DocumentIDs    []string
}

// DeepRow is one row of match_chunks_in_docs.
type DeepRow struct {
	ChunkID    string  `db:"chunk_id"`
	Content    string  `db:"chunk_content"`
	RepoPath   string  `db:"repo_path"`
	Similarity float64 `db:"similarity"`
}

const hybridSearchSQL = `SELECT chunk_id::text AS chunk_id,
	COALESCE(document_id::text, '') AS document_id,
	COALESCE(content, '') AS content,
	COALESCE(repo_path, '') AS repo_path
FROM hybrid_search(
	query_text => $1,
	query_embedding => $2::vector,
	match_count => $3,
	full_text_weight => $4,
	semantic_weight => $5,
	recency_weight => $6,
	folder_weights => $7::jsonb
)`

const matchChunksSQL = `SELECT chunk_id::text AS chunk_id,
	COALESCE(chunk_content, '') AS chunk_content,
	COALESCE(repo_path, '') AS repo_path,
	COALESCE(similarity, 0)::float8 AS similarity
FROM match_chunks_in_docs(
	query_embedding => $1::vector,
	match_threshold => $2,
	match_count => $3,
	target_doc_ids => $4,
	query_text => $5
)`

// HybridSearch runs the combined full-text and semantic search.
func (s *Store) HybridSearch(ctx context.Context, p *HybridSearchParams) ([]HybridRow, error) {
	weights := p.FolderWeights
	if weights == nil {
		weights = map[string]float64{}
	}
	weightsJSON, err := json.Marshal(weights)
	if err != nil {
		return nil, fmt.Errorf("encoding folder weights: %w", err)
	}
	var rows []HybridRow
	if err := pgxscan.Select(ctx, s.db, &rows, hybridSearchSQL,
		p.QueryText,
		pgvector.NewVector(p.Embedding),
		p.MatchCount,
		p.FullTextWeight,
		p.SemanticWeight,
		p.RecencyWeight,
		string(weightsJSON),
	); err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	return rows, nil
}

// MatchChunksInDocs runs the semantic search restricted to documentIDs.
func (s *Store) MatchChunksInDocs(ctx context.Context, p *DeepSearchParams) ([]DeepRow, error) {
	var rows []DeepRow
	if err := pgxscan.Select(ctx, s.db, &rows, matchChunksSQL,
		pgvector.NewVector(p.Embedding),
		p.MatchThreshold,
		p.MatchCount,
		p.DocumentIDs,
		p.QueryText,
	); err != nil {
		return nil, fmt.Errorf("match chunks in docs: %w", err)
	}
	return rows, nil
}

// LinkedPaths returns the target paths of the links leaving docID.
func (s *Store) LinkedPaths(ctx context.Context, docID string) ([]string, error) {
	query, args, err := squirrel.Select("COALESCE(target_doc_path, '') AS target_doc_path").
		From("rag_links").
		Where(squirrel.Eq{"source_doc_id": docID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building links query: %w", err)
	}
	var paths []string
	if err := pgxscan.Select(ctx, s.db, &paths, query, args...); err != nil {
		return nil, fmt.Errorf("selecting links of %s: %w", docID, err)
	}
	return paths, nil
}

// DocumentIDsByPaths returns the ids of documents whose repo_path contains
// any of the fragments, case-insensitively.
func (s *Store) DocumentIDsByPaths(ctx context.Context, fragments []string) ([]string, error) {
	if len(fragments) == 0 {
		return nil, nil
	}
	matchAny := make(squirrel.Or, 0, len(fragments))
	for _, f := range fragments {
		matchAny = append(matchAny, squirrel.ILike{"repo_path": "%" + f + "%"})
	}
	query, args, err := squirrel.Select("id::text AS id").
		From("rag_documents").
		Where(matchAny).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building documents query: %w", err)
	}
	var ids []string
	if err := pgxscan.Select(ctx, s.db, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("selecting documents by path: %w", err)
	}
	return ids, nil
}
