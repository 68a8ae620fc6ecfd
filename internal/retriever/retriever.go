// Package retriever selects transcript chunks relevant to a pause point
// in a video, combining temporal proximity, prerequisite lookup and
// vector similarity over an injected index.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pausepoint/pausepoint/pkg/models"
)

// defaultQuery stands in for the user's question when they paused
// without asking anything.
const defaultQuery = "explain this concept"

// VectorIndex is the read side of the chunk store. Any backend works as
// long as it supports the three query shapes below.
type VectorIndex interface {
	// QueryByTimeRange returns chunks whose [start,end] interval lies
	// fully within [start,end], ordered by absolute distance from
	// proximityTo. A negative proximityTo orders by start time instead.
	QueryByTimeRange(ctx context.Context, videoID string, start, end, proximityTo float64) ([]models.Chunk, error)

	// QueryByMetadata returns up to q.Limit chunks matching the filter.
	QueryByMetadata(ctx context.Context, videoID string, q MetadataQuery) ([]models.Chunk, error)

	// SimilaritySearch returns the topK nearest chunks to the embedding,
	// most similar first, with SimilarityScore populated.
	SimilaritySearch(ctx context.Context, videoID string, embedding []float32, topK int) ([]models.RetrievedChunk, error)
}

// MetadataQuery filters chunks by flags and time. Nil pointer fields
// are not applied.
type MetadataQuery struct {
	IsFoundational  *bool
	BeforeTimestamp *float64
	KeyTerms        []string
	Limit           int
}

// Embedder turns query text into a vector in the same space as the
// stored chunk embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// StrategyError reports which retrieval strategy failed and on which
// dependency call, so callers can decide between retrying, degrading
// and aborting.
type StrategyError struct {
	Strategy models.RelevanceType
	Op       string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s strategy: %s: %v", e.Strategy, e.Op, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// Config tunes the retrieval strategies.
type Config struct {
	// TemporalWindow is the half-width in seconds of the time range
	// searched around the pause point.
	TemporalWindow float64
	// MaxPerStrategy caps how many chunks each strategy contributes.
	MaxPerStrategy int
	// MaxTotal caps the merged result length.
	MaxTotal int
}

// DefaultConfig mirrors the tuning the system ships with: a minute of
// context either side, three chunks per strategy, eight total.
func DefaultConfig() Config {
	return Config{
		TemporalWindow: 60,
		MaxPerStrategy: 3,
		MaxTotal:       8,
	}
}

// Retriever runs the multi-strategy retrieval pipeline. Safe for
// concurrent use: all state is read-only after construction.
type Retriever struct {
	index    VectorIndex
	embedder Embedder
	cfg      Config
}

// New creates a Retriever. Zero-valued config fields fall back to
// DefaultConfig.
func New(index VectorIndex, embedder Embedder, cfg Config) *Retriever {
	def := DefaultConfig()
	if cfg.TemporalWindow <= 0 {
		cfg.TemporalWindow = def.TemporalWindow
	}
	if cfg.MaxPerStrategy <= 0 {
		cfg.MaxPerStrategy = def.MaxPerStrategy
	}
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = def.MaxTotal
	}
	return &Retriever{index: index, embedder: embedder, cfg: cfg}
}

// Retrieve returns up to maxTotal chunks relevant to the pause point,
// sorted by ascending start time with each chunk id appearing at most
// once. userQuery may be empty; maxTotal <= 0 uses the configured cap.
// An empty result is a valid outcome, not an error. A dependency
// failure surfaces as a *StrategyError and yields no partial list.
func (r *Retriever) Retrieve(ctx context.Context, videoID string, timestamp float64, userQuery string, maxTotal int) ([]models.RetrievedChunk, error) {
	if maxTotal <= 0 {
		maxTotal = r.cfg.MaxTotal
	}
	logger := zerolog.Ctx(ctx)

	temporal, err := r.temporalChunks(ctx, videoID, timestamp)
	if err != nil {
		return nil, err
	}

	selected := make([]models.RetrievedChunk, 0, maxTotal)
	seen := make(map[string]struct{}, maxTotal)
	for _, ch := range temporal {
		selected = append(selected, models.RetrievedChunk{Chunk: ch, RelevanceType: models.RelevanceTemporal})
		seen[ch.ID] = struct{}{}
	}

	// Prerequisite lookup needs an anchor: without temporal results
	// there are no key terms to search for.
	if len(temporal) > 0 {
		foundational, err := r.foundationalChunks(ctx, videoID, timestamp, temporal, seen)
		if err != nil {
			return nil, err
		}
		for _, ch := range foundational {
			selected = append(selected, models.RetrievedChunk{Chunk: ch, RelevanceType: models.RelevanceFoundational})
			seen[ch.ID] = struct{}{}
		}
	}

	if needed := maxTotal - len(selected); needed > 0 {
		semantic, err := r.semanticChunks(ctx, videoID, userQuery, temporal, seen, needed)
		if err != nil {
			return nil, err
		}
		selected = append(selected, semantic...)
	}

	// Restore teaching order: the explanation generator downstream
	// depends on chronological coherence, not retrieval scores.
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].StartTime < selected[j].StartTime
	})
	if len(selected) > maxTotal {
		selected = selected[:maxTotal]
	}

	logger.Debug().
		Str("video_id", videoID).
		Float64("timestamp", timestamp).
		Int("chunks", len(selected)).
		Msg("retrieval complete")
	return selected, nil
}

// temporalChunks returns up to MaxPerStrategy chunks lying fully within
// the window around the pause point, nearest first.
func (r *Retriever) temporalChunks(ctx context.Context, videoID string, timestamp float64) ([]models.Chunk, error) {
	start := timestamp - r.cfg.TemporalWindow
	if start < 0 {
		start = 0
	}
	end := timestamp + r.cfg.TemporalWindow

	chunks, err := r.index.QueryByTimeRange(ctx, videoID, start, end, timestamp)
	if err != nil {
		return nil, &StrategyError{Strategy: models.RelevanceTemporal, Op: "query time range", Err: err}
	}
	if len(chunks) > r.cfg.MaxPerStrategy {
		chunks = chunks[:r.cfg.MaxPerStrategy]
	}
	return chunks, nil
}

// foundationalChunks finds definitional chunks that end strictly before
// the pause point and share key terms with the temporal anchors.
func (r *Retriever) foundationalChunks(ctx context.Context, videoID string, timestamp float64, temporal []models.Chunk, seen map[string]struct{}) ([]models.Chunk, error) {
	terms := unionKeyTerms(temporal)
	if len(terms) == 0 {
		return nil, nil
	}

	isFoundational := true
	candidates, err := r.index.QueryByMetadata(ctx, videoID, MetadataQuery{
		IsFoundational:  &isFoundational,
		BeforeTimestamp: &timestamp,
		KeyTerms:        terms,
		Limit:           2 * r.cfg.MaxPerStrategy,
	})
	if err != nil {
		return nil, &StrategyError{Strategy: models.RelevanceFoundational, Op: "query metadata", Err: err}
	}

	type scored struct {
		chunk   models.Chunk
		matches int
	}
	ranked := make([]scored, 0, len(candidates))
	for _, ch := range candidates {
		lower := strings.ToLower(ch.Text)
		n := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				n++
			}
		}
		if n == 0 {
			continue
		}
		ranked = append(ranked, scored{chunk: ch, matches: n})
	}
	// Earlier explanations win ties: introductions tend to be the most
	// self-contained.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].matches != ranked[j].matches {
			return ranked[i].matches > ranked[j].matches
		}
		return ranked[i].chunk.StartTime < ranked[j].chunk.StartTime
	})

	var out []models.Chunk
	for _, s := range ranked {
		if _, ok := seen[s.chunk.ID]; ok {
			continue
		}
		out = append(out, s.chunk)
		if len(out) == r.cfg.MaxPerStrategy {
			break
		}
	}
	return out, nil
}

// semanticChunks embeds a query built from the user's question and the
// temporal context, then fills the remaining slots by similarity.
func (r *Retriever) semanticChunks(ctx context.Context, videoID, userQuery string, temporal []models.Chunk, seen map[string]struct{}, needed int) ([]models.RetrievedChunk, error) {
	query := userQuery
	if query == "" {
		// Cold-start branch: with no question and possibly no temporal
		// context, search with a generic prompt rather than skipping.
		query = defaultQuery
	}
	parts := []string{query}
	for i, ch := range temporal {
		if i == 2 {
			break
		}
		parts = append(parts, ch.Text)
	}

	embedding, err := r.embedder.Embed(ctx, strings.Join(parts, " "))
	if err != nil {
		return nil, &StrategyError{Strategy: models.RelevanceSemantic, Op: "embed query", Err: err}
	}

	candidates, err := r.index.SimilaritySearch(ctx, videoID, embedding, 3*r.cfg.MaxPerStrategy)
	if err != nil {
		return nil, &StrategyError{Strategy: models.RelevanceSemantic, Op: "similarity search", Err: err}
	}

	unseen := make([]models.RetrievedChunk, 0, len(candidates))
	for _, ch := range candidates {
		if _, ok := seen[ch.ID]; ok {
			continue
		}
		ch.RelevanceType = models.RelevanceSemantic
		unseen = append(unseen, ch)
	}
	sort.SliceStable(unseen, func(i, j int) bool {
		return unseen[i].SimilarityScore > unseen[j].SimilarityScore
	})
	if len(unseen) > needed {
		unseen = unseen[:needed]
	}
	return unseen, nil
}

// unionKeyTerms collects the distinct key terms of the given chunks,
// preserving first-seen order.
func unionKeyTerms(chunks []models.Chunk) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, ch := range chunks {
		for _, t := range ch.KeyTerms {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			terms = append(terms, t)
		}
	}
	return terms
}
