package models

import "time"

// Segment is the smallest timestamped unit of transcript text, as
// produced by the acquisition layer. Start and Duration are seconds.
// Segments are ordered by non-decreasing Start and may overlap slightly.
type Segment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// End returns the segment's end timestamp in seconds.
func (s Segment) End() float64 { return s.Start + s.Duration }

// Chunk is the atomic retrieval unit: a duration-bounded merge of
// consecutive segments, enriched with semantic metadata. Chunks are
// immutable after creation except for attaching the embedding.
type Chunk struct {
	ID       string `json:"id"`
	VideoID  string `json:"video_id"`
	Sequence int    `json:"sequence"`

	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Duration  float64 `json:"duration"`

	// Text is the verbatim concatenation of the source segments.
	// TextCleaned is the normalized form used only for embedding.
	Text        string `json:"text"`
	TextCleaned string `json:"text_cleaned,omitempty"`

	KeyTerms       []string `json:"key_terms,omitempty"`
	IsFoundational bool     `json:"is_foundational"`

	// Embedding is attached after chunking by the embedding step.
	Embedding []float32 `json:"-"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// RelevanceType names the retrieval strategy that surfaced a chunk.
type RelevanceType string

const (
	RelevanceTemporal     RelevanceType = "temporal"
	RelevanceFoundational RelevanceType = "foundational"
	RelevanceSemantic     RelevanceType = "semantic"
)

// RetrievedChunk is a Chunk view produced by a retrieval call.
// SimilarityScore is in [0,1] and only meaningful when RelevanceType
// is RelevanceSemantic.
type RetrievedChunk struct {
	Chunk
	RelevanceType   RelevanceType `json:"relevance_type"`
	SimilarityScore float64       `json:"similarity_score,omitempty"`
}

// VideoInfo summarizes an ingested video.
type VideoInfo struct {
	VideoID     string  `json:"video_id"`
	TotalChunks int     `json:"total_chunks"`
	Duration    float64 `json:"duration,omitempty"`
}

// IngestRequest asks the API to ingest a transcript for a video.
type IngestRequest struct {
	VideoID      string `json:"video_id"`
	Content      string `json:"content"`
	Format       string `json:"format,omitempty"` // "srt", "vtt", "txt"; auto-detected when empty
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}

// IngestResponse reports where an ingestion request ended up.
type IngestResponse struct {
	Status      string `json:"status"` // "queued", "exists", "processing", "ready", "error"
	VideoID     string `json:"video_id"`
	Message     string `json:"message"`
	TotalChunks int    `json:"total_chunks,omitempty"`
}

// ExplainRequest is a student's "what's happening right now" question.
type ExplainRequest struct {
	VideoID   string  `json:"video_id"`
	Timestamp float64 `json:"timestamp"`
	UserQuery string  `json:"user_query,omitempty"`
	MaxChunks int     `json:"max_chunks,omitempty"`
}

// ExplainResponse carries the generated explanation plus the evidence
// set it was built from.
type ExplainResponse struct {
	Explanation      string           `json:"explanation"`
	Summary          string           `json:"summary,omitempty"`
	RetrievedChunks  []RetrievedChunk `json:"retrieved_chunks"`
	Timestamp        float64          `json:"timestamp"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
}
