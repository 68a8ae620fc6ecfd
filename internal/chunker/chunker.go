package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pausepoint/pausepoint/pkg/models"
)

// Config bounds chunk durations, in seconds.
type Config struct {
	MinDuration     float64
	MaxDuration     float64
	OverlapDuration float64
}

// DefaultConfig targets 20-40 second chunks with 5 seconds of overlap.
func DefaultConfig() Config {
	return Config{
		MinDuration:     20,
		MaxDuration:     40,
		OverlapDuration: 5,
	}
}

// topicMarkers are discourse transitions that open a new chunk when the
// duration constraints allow. Matched case-insensitively against the
// leading words of a segment.
var topicMarkers = []string{
	"now let's", "next,", "moving on", "another",
	"first,", "second,", "third,", "finally,",
	"in conclusion", "the next thing", "here's",
	"so basically", "let me explain", "what is",
	"to understand", "the key", "importantly",
	"however,", "but,", "on the other hand",
	"for example", "let's look at", "consider",
}

// Chunker merges an ordered sequence of transcript segments into
// duration-bounded, semantically enriched chunks for one video.
type Chunker struct {
	videoID    string
	cfg        Config
	classifier Classifier
}

// New creates a Chunker with the default pattern-based classifier.
// Zero-valued config fields fall back to DefaultConfig.
func New(videoID string, cfg Config) *Chunker {
	return NewWithClassifier(videoID, cfg, NewPatternClassifier())
}

// NewWithClassifier creates a Chunker with a custom classifier, e.g. a
// learned model in place of the regex heuristics.
func NewWithClassifier(videoID string, cfg Config, cl Classifier) *Chunker {
	def := DefaultConfig()
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = def.MinDuration
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = def.MaxDuration
	}
	if cfg.OverlapDuration <= 0 {
		cfg.OverlapDuration = def.OverlapDuration
	}
	return &Chunker{videoID: videoID, cfg: cfg, classifier: cl}
}

// Chunk converts segments into chunks with a single left-to-right scan.
// A split fires before appending a segment when the accumulated duration
// would reach MaxDuration, or when it has reached MinDuration and the
// segment opens with a topic marker. After a split, the new buffer is
// seeded with the segments falling inside the overlap window of the
// just-emitted chunk. Deterministic for identical input and config;
// empty input yields no chunks.
func (c *Chunker) Chunk(segments []models.Segment) []models.Chunk {
	if len(segments) == 0 {
		return nil
	}

	var chunks []models.Chunk
	var texts []string
	currentStart := segments[0].Start
	currentEnd := segments[0].Start

	for _, seg := range segments {
		potentialDuration := seg.End() - currentStart

		shouldSplit := potentialDuration >= c.cfg.MaxDuration ||
			(potentialDuration >= c.cfg.MinDuration && isTopicBoundary(seg.Text))

		if shouldSplit && len(texts) > 0 {
			chunks = append(chunks, c.build(strings.Join(texts, " "), currentStart, currentEnd, len(chunks)))

			// Reseed the buffer with the tail of the emitted chunk so the
			// next chunk keeps enough context to stand on its own.
			overlapStart := currentEnd - c.cfg.OverlapDuration
			if overlapStart < 0 {
				overlapStart = 0
			}
			var overlapTexts []string
			for _, prev := range segments {
				if prev.Start >= overlapStart && prev.End() <= currentEnd {
					overlapTexts = append(overlapTexts, prev.Text)
				} else if prev.Start > currentEnd {
					break
				}
			}
			if len(overlapTexts) > 0 {
				texts = overlapTexts
				currentStart = overlapStart
			} else {
				texts = nil
				currentStart = seg.Start
			}
		}

		texts = append(texts, seg.Text)
		currentEnd = seg.End()
	}

	// The final chunk may be shorter than MinDuration.
	if len(texts) > 0 {
		chunks = append(chunks, c.build(strings.Join(texts, " "), currentStart, currentEnd, len(chunks)))
	}

	return chunks
}

func (c *Chunker) build(text string, start, end float64, sequence int) models.Chunk {
	text = strings.TrimSpace(text)
	return models.Chunk{
		ID:             ChunkID(c.videoID, start, sequence),
		VideoID:        c.videoID,
		Sequence:       sequence,
		StartTime:      start,
		EndTime:        end,
		Duration:       end - start,
		Text:           text,
		TextCleaned:    CleanForEmbedding(text),
		KeyTerms:       c.classifier.KeyTerms(text),
		IsFoundational: c.classifier.IsFoundational(text),
	}
}

// isTopicBoundary reports whether text opens with a topic marker.
func isTopicBoundary(text string) bool {
	t := strings.TrimSpace(strings.ToLower(text))
	for _, marker := range topicMarkers {
		if strings.HasPrefix(t, marker) {
			return true
		}
	}
	return false
}

// ChunkID derives a stable chunk identifier from the video, start time
// and sequence, so re-chunking the same input produces the same ids.
func ChunkID(videoID string, start float64, sequence int) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s#%.1f:%d", videoID, start, sequence)))
	return hex.EncodeToString(h[:])
}
