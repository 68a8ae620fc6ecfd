package chunker

import (
	"reflect"
	"strings"
	"testing"

	"github.com/pausepoint/pausepoint/pkg/models"
)

func lectureSegments() []models.Segment {
	return []models.Segment{
		{Text: "Intro", Start: 0, Duration: 3},
		{Text: "ML basics", Start: 3, Duration: 4},
		{Text: "Neural is a type of AI", Start: 7, Duration: 5},
		{Text: "applies data", Start: 12, Duration: 4},
		{Text: "Now let's see CNNs", Start: 16, Duration: 3},
	}
}

func TestChunk_SplitsAtTopicMarker(t *testing.T) {
	// With a generous max duration, only the "Now let's" marker fires
	// once the buffer has accumulated at least MinDuration.
	c := New("vid123", Config{MinDuration: 5, MaxDuration: 20, OverlapDuration: 2})
	chunks := c.Chunk(lectureSegments())

	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}

	first, second := chunks[0], chunks[1]
	if first.StartTime != 0 || first.EndTime != 16 {
		t.Errorf("Expected first chunk [0,16], got [%v,%v]", first.StartTime, first.EndTime)
	}
	if !first.IsFoundational {
		t.Error("First chunk contains 'is a' definition, expected IsFoundational=true")
	}
	if second.StartTime != 16 || second.EndTime != 19 {
		t.Errorf("Expected second chunk [16,19], got [%v,%v]", second.StartTime, second.EndTime)
	}
	if !strings.HasPrefix(second.Text, "Now let's") {
		t.Errorf("Expected second chunk to open at the marker, got %q", second.Text)
	}
}

func TestChunk_HardSplitAtMaxDuration(t *testing.T) {
	// A segment that would push the buffer to MaxDuration forces a
	// split regardless of marker presence.
	c := New("vid123", Config{MinDuration: 5, MaxDuration: 15, OverlapDuration: 2})
	chunks := c.Chunk(lectureSegments())

	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].EndTime != 12 {
		t.Errorf("Expected first chunk to end at 12 (before the overflowing segment), got %v", chunks[0].EndTime)
	}
	for i, ch := range chunks[:len(chunks)-1] {
		if ch.Duration > 15 {
			t.Errorf("Chunk %d duration %v exceeds max 15", i, ch.Duration)
		}
	}
	if !chunks[0].IsFoundational {
		t.Error("First chunk contains 'is a' definition, expected IsFoundational=true")
	}
}

func TestChunk_EmptyInput(t *testing.T) {
	c := New("vid123", DefaultConfig())
	if got := c.Chunk(nil); len(got) != 0 {
		t.Errorf("Expected no chunks for empty input, got %d", len(got))
	}
	if got := c.Chunk([]models.Segment{}); len(got) != 0 {
		t.Errorf("Expected no chunks for empty slice, got %d", len(got))
	}
}

func TestChunk_SingleSegment(t *testing.T) {
	c := New("vid123", DefaultConfig())
	chunks := c.Chunk([]models.Segment{{Text: "hello world", Start: 2, Duration: 4}})

	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	ch := chunks[0]
	if ch.StartTime != 2 || ch.EndTime != 6 || ch.Duration != 4 {
		t.Errorf("Unexpected bounds: [%v,%v] duration %v", ch.StartTime, ch.EndTime, ch.Duration)
	}
	if ch.Sequence != 0 {
		t.Errorf("Expected sequence 0, got %d", ch.Sequence)
	}
	if ch.Text != "hello world" {
		t.Errorf("Expected verbatim text, got %q", ch.Text)
	}
}

func TestChunk_Idempotence(t *testing.T) {
	c := New("vid123", Config{MinDuration: 5, MaxDuration: 15, OverlapDuration: 2})
	segs := lectureSegments()

	a := c.Chunk(segs)
	b := c.Chunk(segs)

	if !reflect.DeepEqual(a, b) {
		t.Errorf("Chunking is not deterministic:\nfirst:  %+v\nsecond: %+v", a, b)
	}
}

func TestChunk_CoversEverySegment(t *testing.T) {
	c := New("vid123", Config{MinDuration: 5, MaxDuration: 15, OverlapDuration: 2})
	segs := lectureSegments()
	chunks := c.Chunk(segs)

	var all strings.Builder
	for _, ch := range chunks {
		all.WriteString(ch.Text)
		all.WriteString(" ")
	}
	joined := all.String()
	for _, seg := range segs {
		if !strings.Contains(joined, seg.Text) {
			t.Errorf("Segment text %q missing from chunk output", seg.Text)
		}
	}
}

func TestChunk_OverlapSeedsNextChunk(t *testing.T) {
	// One-second segments with a marker at t=6. The chunk emitted at
	// the split ends at 6; with a 2s overlap window the next chunk must
	// be reseeded from t=4.
	segs := make([]models.Segment, 0, 10)
	for i := 0; i < 10; i++ {
		text := "s" + string(rune('0'+i))
		if i == 6 {
			text = "however, " + text
		}
		segs = append(segs, models.Segment{Text: text, Start: float64(i), Duration: 1})
	}

	c := New("vid123", Config{MinDuration: 5, MaxDuration: 40, OverlapDuration: 2})
	chunks := c.Chunk(segs)

	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].EndTime != 6 {
		t.Errorf("Expected first chunk to end at 6, got %v", chunks[0].EndTime)
	}
	if chunks[1].StartTime != 4 {
		t.Errorf("Expected second chunk to start at overlap boundary 4, got %v", chunks[1].StartTime)
	}
	if !strings.HasPrefix(chunks[1].Text, "s4 s5 however,") {
		t.Errorf("Expected second chunk to begin with overlap segments, got %q", chunks[1].Text)
	}
}

func TestChunk_NoQualifyingOverlapResetsToCurrentSegment(t *testing.T) {
	// Segments longer than the overlap window: nothing fits inside it,
	// so the buffer restarts at the splitting segment.
	segs := []models.Segment{
		{Text: "part one", Start: 0, Duration: 10},
		{Text: "however, part two", Start: 10, Duration: 10},
	}
	c := New("vid123", Config{MinDuration: 5, MaxDuration: 40, OverlapDuration: 2})
	chunks := c.Chunk(segs)

	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].StartTime != 10 {
		t.Errorf("Expected second chunk to start at 10, got %v", chunks[1].StartTime)
	}
	if chunks[1].Text != "however, part two" {
		t.Errorf("Unexpected second chunk text %q", chunks[1].Text)
	}
}

func TestChunk_DurationBounds(t *testing.T) {
	// A long run of uniform segments with no markers: only the max
	// duration rule splits, and every chunk except the last stays
	// within bounds.
	var segs []models.Segment
	for i := 0; i < 30; i++ {
		segs = append(segs, models.Segment{Text: "word", Start: float64(i * 7), Duration: 7})
	}
	cfg := Config{MinDuration: 20, MaxDuration: 40, OverlapDuration: 5}
	chunks := New("vid123", cfg).Chunk(segs)

	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Duration < 0 {
			t.Errorf("Chunk %d has negative duration %v", i, ch.Duration)
		}
		if ch.StartTime >= ch.EndTime {
			t.Errorf("Chunk %d has start %v >= end %v", i, ch.StartTime, ch.EndTime)
		}
		if i < len(chunks)-1 && ch.Duration > cfg.MaxDuration {
			t.Errorf("Chunk %d duration %v exceeds max %v", i, ch.Duration, cfg.MaxDuration)
		}
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Sequence != chunks[i-1].Sequence+1 {
			t.Errorf("Sequences not monotonic at %d: %d then %d", i, chunks[i-1].Sequence, chunks[i].Sequence)
		}
		if chunks[i].StartTime < chunks[i-1].StartTime {
			t.Errorf("Start times not non-decreasing at %d", i)
		}
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	a := ChunkID("vid123", 65.5, 3)
	b := ChunkID("vid123", 65.5, 3)
	if a != b {
		t.Errorf("Same inputs produced different ids: %s vs %s", a, b)
	}
	if ChunkID("vid123", 65.5, 4) == a {
		t.Error("Different sequence produced the same id")
	}
	if ChunkID("other", 65.5, 3) == a {
		t.Error("Different video produced the same id")
	}
}

// stubClassifier verifies the chunker only depends on the Classifier
// interface.
type stubClassifier struct{}

func (stubClassifier) IsFoundational(string) bool { return true }
func (stubClassifier) KeyTerms(string) []string   { return []string{"stub"} }

func TestChunk_CustomClassifier(t *testing.T) {
	c := NewWithClassifier("vid123", DefaultConfig(), stubClassifier{})
	chunks := c.Chunk([]models.Segment{{Text: "anything", Start: 0, Duration: 3}})

	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if !chunks[0].IsFoundational {
		t.Error("Expected classifier verdict to be used")
	}
	if !reflect.DeepEqual(chunks[0].KeyTerms, []string{"stub"}) {
		t.Errorf("Expected classifier terms, got %v", chunks[0].KeyTerms)
	}
}
