package tutor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pausepoint/pausepoint/internal/retriever"
	"github.com/pausepoint/pausepoint/pkg/models"
)

type fakeClient struct {
	completion  string
	completeErr error
	lastSystem  string
	lastUser    string
}

func (f *fakeClient) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1}, nil
}

func (f *fakeClient) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1}
	}
	return out, nil
}

func (f *fakeClient) Complete(_ context.Context, system, user string) (string, error) {
	f.lastSystem = system
	f.lastUser = user
	return f.completion, f.completeErr
}

func (f *fakeClient) Dim() int { return 1 }

type fakeIndex struct {
	chunks []models.Chunk
}

func (f *fakeIndex) QueryByTimeRange(context.Context, string, float64, float64, float64) ([]models.Chunk, error) {
	return f.chunks, nil
}

func (f *fakeIndex) QueryByMetadata(context.Context, string, retriever.MetadataQuery) ([]models.Chunk, error) {
	return nil, nil
}

func (f *fakeIndex) SimilaritySearch(context.Context, string, []float32, int) ([]models.RetrievedChunk, error) {
	return nil, nil
}

func retrieved(id string, rt models.RelevanceType, start, end float64, text string) models.RetrievedChunk {
	return models.RetrievedChunk{
		Chunk: models.Chunk{
			ID:        id,
			StartTime: start,
			EndTime:   end,
			Text:      text,
		},
		RelevanceType: rt,
	}
}

func TestBuildPrompt_Groups(t *testing.T) {
	chunks := []models.RetrievedChunk{
		retrieved("f1", models.RelevanceFoundational, 15, 30, "recursion is a function calling itself"),
		retrieved("t1", models.RelevanceTemporal, 95, 110, "so here the function calls itself again"),
		retrieved("s1", models.RelevanceSemantic, 200, 215, "tail call optimization"),
	}

	prompt := BuildPrompt(chunks, 100, "why does it call itself?")

	for _, want := range []string{
		"paused the video at 1:40",
		"why does it call itself?",
		"Currently being discussed",
		"so here the function calls itself again",
		"Earlier definitions and foundations",
		"recursion is a function calling itself",
		"Related parts of this video",
		"tail call optimization",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q:\n%s", want, prompt)
		}
	}

	// Groups appear in teaching-relevance order.
	now := strings.Index(prompt, "Currently being discussed")
	earlier := strings.Index(prompt, "Earlier definitions")
	related := strings.Index(prompt, "Related parts")
	if !(now < earlier && earlier < related) {
		t.Error("Expected current, then foundational, then related sections")
	}
}

func TestBuildPrompt_Defaults(t *testing.T) {
	prompt := BuildPrompt(nil, 65, "")

	if !strings.Contains(prompt, defaultQuestion) {
		t.Error("Expected the default question when none was asked")
	}
	if !strings.Contains(prompt, "[No transcript available for this exact moment]") {
		t.Error("Expected the empty-context marker")
	}
	if strings.Contains(prompt, "Earlier definitions") || strings.Contains(prompt, "Related parts") {
		t.Error("Expected empty groups to be omitted")
	}
}

func TestFormatTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0:00"},
		{5.9, "0:05"},
		{65.5, "1:05"},
		{600, "10:00"},
		{3725, "62:05"},
	}
	for _, tt := range tests {
		if got := FormatTime(tt.seconds); got != tt.want {
			t.Errorf("FormatTime(%v) = %s, want %s", tt.seconds, got, tt.want)
		}
	}
}

func TestExplain(t *testing.T) {
	client := &fakeClient{completion: "Recursion means self reference. More detail follows."}
	idx := &fakeIndex{chunks: []models.Chunk{
		{ID: "t1", StartTime: 95, EndTime: 110, Text: "the function calls itself"},
	}}
	svc := New(client, retriever.New(idx, client, retriever.DefaultConfig()))

	resp, err := svc.Explain(context.Background(), models.ExplainRequest{
		VideoID:   "vid123",
		Timestamp: 100,
		UserQuery: "what is happening?",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if resp.Explanation != client.completion {
		t.Errorf("Unexpected explanation %q", resp.Explanation)
	}
	if resp.Summary != "Recursion means self reference." {
		t.Errorf("Expected first sentence as summary, got %q", resp.Summary)
	}
	if len(resp.RetrievedChunks) != 1 || resp.RetrievedChunks[0].ID != "t1" {
		t.Errorf("Expected the retrieved chunk in the response, got %+v", resp.RetrievedChunks)
	}
	if resp.Timestamp != 100 {
		t.Errorf("Expected timestamp echoed, got %v", resp.Timestamp)
	}
	if client.lastSystem == "" || !strings.Contains(client.lastUser, "the function calls itself") {
		t.Error("Expected retrieved context passed to the model")
	}
}

func TestExplain_CompletionFailure(t *testing.T) {
	client := &fakeClient{completeErr: errors.New("model unavailable")}
	svc := New(client, retriever.New(&fakeIndex{}, client, retriever.DefaultConfig()))

	_, err := svc.Explain(context.Background(), models.ExplainRequest{VideoID: "vid123", Timestamp: 10})
	if err == nil {
		t.Fatal("Expected error when completion fails")
	}
}

func TestFirstSentence(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"One. Two.", "One."},
		{"No terminator here", "No terminator here"},
		{"  Leading space. Rest.", "Leading space."},
		{"Really? Yes.", "Really?"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := firstSentence(tt.text); got != tt.want {
			t.Errorf("firstSentence(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
