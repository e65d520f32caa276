package knowledge

// Tunables of the retrieval pipeline.
const (
	// RRFConstant is k in the reciprocal rank fusion term 1/(k+rank).
	RRFConstant = 60
	// MultiQueryLimit caps fused results when the query has several parts.
	MultiQueryLimit = 12
	// MinMultiQueryMatchCount is the floor of the per sub-query match count.
	MinMultiQueryMatchCount = 4
	// MultiQueryMatchFactor scales the base match count for sub-queries.
	MultiQueryMatchFactor = 0.6
	// DeepMatchThreshold is the similarity floor inside linked documents.
	DeepMatchThreshold = 0.35
	// DeepMatchCount is the per-query row count of the deep search.
	DeepMatchCount = 5
	// DeepResultLimit caps deep insights after deduplication.
	DeepResultLimit = 6
	// SubQuerySeparator splits a compound query.
	SubQuerySeparator = "||"
	// UnknownSource labels rows without a repository path.
	UnknownSource = "Unknown"
)

// DirectMatch is a chunk found by hybrid search, fused across sub-queries.
type DirectMatch struct {
	ChunkID        string   `json:"chunk_id"`
	DocumentID     string   `json:"document_id,omitempty"`
	Content        string   `json:"content"`
	Source         string   `json:"source"`
	Score          float64  `json:"score"`
	References     []string `json:"references"`
	MatchedQueries []string `json:"matched_queries"`
}

// DeepMatch is a chunk found inside a document linked from a direct match.
type DeepMatch struct {
	ChunkID string  `json:"chunk_id"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Result is the outcome of a knowledge search. Log carries non-fatal
// per-query failures.
type Result struct {
	Results     []DirectMatch `json:"results"`
	DeepResults []DeepMatch   `json:"deep_results"`
	Log         []string      `json:"log"`
}

// EmptyResult returns a result with non-nil slices.
func EmptyResult() *Result {
	return &Result{
		Results:     []DirectMatch{},
		DeepResults: []DeepMatch{},
		Log:         []string{},
	}
}
