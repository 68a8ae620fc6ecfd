// Package tutor turns retrieved transcript context into a student
// facing explanation of the paused moment.
package tutor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pausepoint/pausepoint/internal/ai"
	"github.com/pausepoint/pausepoint/internal/retriever"
	"github.com/pausepoint/pausepoint/pkg/models"
)

const systemPrompt = `You are a patient, expert tutor helping a student understand a video.

Teaching style:
- Assume the student has zero prior knowledge of this topic.
- Define every technical term before using it.
- Use simple, conversational language and everyday analogies.
- Build understanding step by step and be encouraging.

Rules:
1. Only explain concepts from the provided transcript context.
2. If information is not in the context, say the video does not cover it, then explain briefly.
3. Follow the video's teaching order.
4. Keep the explanation focused on the timestamp the student paused at.

Structure your response as:

What's being discussed: one or two sentences on the concept at this timestamp.
Simple explanation: a clear explanation with definitions and analogies.
How it connects: how this relates to what the video covered earlier.
Key takeaway: one memorable sentence with the main idea.`

const defaultQuestion = "I don't understand this"

// Service generates explanations from retrieval results.
type Service struct {
	Client    ai.Client
	Retriever *retriever.Retriever
}

func New(client ai.Client, r *retriever.Retriever) *Service {
	return &Service{Client: client, Retriever: r}
}

// Explain retrieves context around the pause point and asks the model
// for an explanation. The retrieved chunks are returned alongside the
// text so the caller can show its evidence.
func (s *Service) Explain(ctx context.Context, req models.ExplainRequest) (*models.ExplainResponse, error) {
	started := time.Now()

	chunks, err := s.Retriever.Retrieve(ctx, req.VideoID, req.Timestamp, req.UserQuery, req.MaxChunks)
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(chunks, req.Timestamp, req.UserQuery)
	explanation, err := s.Client.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating explanation: %w", err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("video_id", req.VideoID).
		Float64("timestamp", req.Timestamp).
		Int("context_chunks", len(chunks)).
		Msg("explanation generated")

	if chunks == nil {
		chunks = []models.RetrievedChunk{}
	}
	return &models.ExplainResponse{
		Explanation:      explanation,
		Summary:          firstSentence(explanation),
		RetrievedChunks:  chunks,
		Timestamp:        req.Timestamp,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}, nil
}

// BuildPrompt lays out the retrieved chunks by relevance group, in a
// shape that tells the model what is being said now versus what was
// established earlier.
func BuildPrompt(chunks []models.RetrievedChunk, timestamp float64, userQuery string) string {
	var temporal, foundational, semantic []models.RetrievedChunk
	for _, ch := range chunks {
		switch ch.RelevanceType {
		case models.RelevanceTemporal:
			temporal = append(temporal, ch)
		case models.RelevanceFoundational:
			foundational = append(foundational, ch)
		case models.RelevanceSemantic:
			semantic = append(semantic, ch)
		}
	}

	if userQuery == "" {
		userQuery = defaultQuestion
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Student's question\nThe student paused the video at %s.\nThey said: %q\n", FormatTime(timestamp), userQuery)

	fmt.Fprintf(&b, "\nCurrently being discussed (around %s)\n", FormatTime(timestamp))
	if len(temporal) == 0 {
		b.WriteString("[No transcript available for this exact moment]\n")
	}
	for _, ch := range temporal {
		fmt.Fprintf(&b, "[%s - %s]\n%q\n", FormatTime(ch.StartTime), FormatTime(ch.EndTime), ch.Text)
	}

	if len(foundational) > 0 {
		b.WriteString("\nEarlier definitions and foundations\n")
		for _, ch := range foundational {
			fmt.Fprintf(&b, "[%s]\n%q\n", FormatTime(ch.StartTime), ch.Text)
		}
	}

	if len(semantic) > 0 {
		b.WriteString("\nRelated parts of this video\n")
		for _, ch := range semantic {
			fmt.Fprintf(&b, "[%s]\n%q\n", FormatTime(ch.StartTime), ch.Text)
		}
	}

	b.WriteString("\nExplain what is happening at this point in the video, using only the transcript context above.")
	return b.String()
}

// FormatTime renders seconds as M:SS.
func FormatTime(seconds float64) string {
	mins := int(seconds) / 60
	secs := int(seconds) % 60
	return fmt.Sprintf("%d:%02d", mins, secs)
}

// firstSentence returns the explanation's opening sentence for use as
// a short summary.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return text[:i+1]
		}
	}
	return text
}
