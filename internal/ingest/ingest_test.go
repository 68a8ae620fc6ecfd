package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/karrick/godirwalk"

	"github.com/pausepoint/pausepoint/internal/ai"
	"github.com/pausepoint/pausepoint/internal/chunker"
	"github.com/pausepoint/pausepoint/internal/retriever"
	"github.com/pausepoint/pausepoint/internal/status"
	"github.com/pausepoint/pausepoint/pkg/models"
)

type mockStore struct {
	mu        sync.Mutex
	exists    bool
	existsErr error
	upserted  []models.Chunk
	upsertErr error
}

func (m *mockStore) QueryByTimeRange(context.Context, string, float64, float64, float64) ([]models.Chunk, error) {
	return nil, nil
}

func (m *mockStore) QueryByMetadata(context.Context, string, retriever.MetadataQuery) ([]models.Chunk, error) {
	return nil, nil
}

func (m *mockStore) SimilaritySearch(context.Context, string, []float32, int) ([]models.RetrievedChunk, error) {
	return nil, nil
}

func (m *mockStore) Migrate(context.Context, int) error { return nil }

func (m *mockStore) UpsertChunks(_ context.Context, chunks []models.Chunk) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	m.upserted = append(m.upserted, chunks...)
	m.mu.Unlock()
	return nil
}

func (m *mockStore) VideoExists(context.Context, string) (bool, error) {
	return m.exists, m.existsErr
}

func (m *mockStore) ListVideos(context.Context) ([]models.VideoInfo, error) { return nil, nil }

func (m *mockStore) DeleteVideo(context.Context, string) (int64, error) { return 0, nil }

// failingEmbedder errors on every embedding call.
type failingEmbedder struct{ ai.Client }

func (f *failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding unavailable")
}

const testSRT = `1
00:00:00,000 --> 00:00:12,000
Welcome to the course on recursion

2
00:00:12,000 --> 00:00:25,000
Recursion is a function calling itself
`

func newTestService(st *mockStore) *Service {
	return New(st, ai.NewStubClient(8), status.NewMemoryStore(), chunker.DefaultConfig())
}

func TestIngest_HappyPath(t *testing.T) {
	st := &mockStore{}
	svc := newTestService(st)

	n, err := svc.Ingest(context.Background(), "vid123", testSRT, "", false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n == 0 || len(st.upserted) != n {
		t.Fatalf("Expected %d chunks upserted, got %d", n, len(st.upserted))
	}

	for i, ch := range st.upserted {
		if ch.VideoID != "vid123" {
			t.Errorf("Chunk %d has video id %q", i, ch.VideoID)
		}
		if len(ch.Embedding) != 8 {
			t.Errorf("Chunk %d missing embedding, got %d dims", i, len(ch.Embedding))
		}
	}

	got, ok := svc.Status.Get("vid123")
	if !ok || got.State != status.StateReady {
		t.Errorf("Expected ready status, got %+v", got)
	}
	if got.TotalChunks != n {
		t.Errorf("Expected %d total chunks in status, got %d", n, got.TotalChunks)
	}
}

func TestIngest_AlreadyIngested(t *testing.T) {
	st := &mockStore{exists: true}
	svc := newTestService(st)

	_, err := svc.Ingest(context.Background(), "vid123", testSRT, "", false)
	if !errors.Is(err, ErrAlreadyIngested) {
		t.Fatalf("Expected ErrAlreadyIngested, got %v", err)
	}
	if len(st.upserted) != 0 {
		t.Error("Expected no chunks written for an existing video")
	}
	if _, ok := svc.Status.Get("vid123"); ok {
		t.Error("Expected status untouched for an existing video")
	}
}

func TestIngest_ForceRefresh(t *testing.T) {
	st := &mockStore{exists: true}
	svc := newTestService(st)

	n, err := svc.Ingest(context.Background(), "vid123", testSRT, "", true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n == 0 {
		t.Error("Expected chunks written on refresh")
	}
}

func TestIngest_UnparseableContent(t *testing.T) {
	st := &mockStore{}
	svc := newTestService(st)

	_, err := svc.Ingest(context.Background(), "vid123", "", "", false)
	if err == nil {
		t.Fatal("Expected error for empty transcript")
	}

	got, ok := svc.Status.Get("vid123")
	if !ok || got.State != status.StateError {
		t.Errorf("Expected error status, got %+v", got)
	}
	if got.Message == "" {
		t.Error("Expected error message in status")
	}
}

func TestIngest_EmbeddingFailure(t *testing.T) {
	st := &mockStore{}
	svc := newTestService(st)
	svc.Client = &failingEmbedder{}

	_, err := svc.Ingest(context.Background(), "vid123", testSRT, "", false)
	if err == nil {
		t.Fatal("Expected error when embedding fails")
	}
	if len(st.upserted) != 0 {
		t.Error("Expected no chunks written when embedding fails")
	}

	got, _ := svc.Status.Get("vid123")
	if got.State != status.StateError {
		t.Errorf("Expected error status, got %s", got.State)
	}
}

type mockReader struct {
	files map[string]string
}

func (m *mockReader) ReadFile(name string) ([]byte, error) {
	content, ok := m.files[name]
	if !ok {
		return nil, errors.New("no such file")
	}
	return []byte(content), nil
}

func TestIngestFile(t *testing.T) {
	st := &mockStore{}
	svc := newTestService(st)
	svc.FileReader = &mockReader{files: map[string]string{
		"/transcripts/intro-to-go.srt": testSRT,
	}}

	n, err := svc.IngestFile(context.Background(), "/transcripts/intro-to-go.srt", "", false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n == 0 {
		t.Fatal("Expected chunks written")
	}
	if st.upserted[0].VideoID != "intro-to-go" {
		t.Errorf("Expected video id from file name, got %q", st.upserted[0].VideoID)
	}

	if _, err := svc.IngestFile(context.Background(), "/missing.srt", "", false); err == nil {
		t.Error("Expected error for unreadable file")
	}
}

type mockWalker struct {
	paths []string
}

func (m *mockWalker) Walk(_ string, options *godirwalk.Options) error {
	for _, p := range m.paths {
		if err := options.Callback(p, nil); err != nil {
			return err
		}
	}
	return nil
}

func TestCollectFiles(t *testing.T) {
	svc := newTestService(&mockStore{})
	svc.Walker = &mockWalker{paths: []string{
		"/t/lesson1.srt",
		"/t/lesson2.VTT",
		"/t/notes.txt",
		"/t/cover.png",
		"/t/readme.md",
	}}

	got, err := svc.CollectFiles("/t")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	sort.Strings(got)
	want := []string{"/t/lesson1.srt", "/t/lesson2.VTT", "/t/notes.txt"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
}

func TestIngestFiles_WorkerPool(t *testing.T) {
	st := &mockStore{}
	svc := newTestService(st)
	files := map[string]string{
		"/t/a.srt": testSRT,
		"/t/b.srt": testSRT,
		"/t/c.txt": "A plain paragraph about recursion and base cases.",
	}
	svc.FileReader = &mockReader{files: files}

	var mu sync.Mutex
	done := make(map[string]int)
	svc.IngestFiles(context.Background(), []string{"/t/a.srt", "/t/b.srt", "/t/c.txt"}, 2, false,
		func(path string, chunks int, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("Unexpected error for %s: %v", path, err)
			}
			done[path] = chunks
		})

	if len(done) != len(files) {
		t.Fatalf("Expected %d callbacks, got %d", len(files), len(done))
	}
	for path, n := range done {
		if n == 0 {
			t.Errorf("Expected chunks for %s", path)
		}
	}
}

func TestVideoIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/a/b/lesson-01.srt", "lesson-01"},
		{"notes.txt", "notes"},
		{"/x/archive.tar.gz", "archive.tar"},
		{"noext", "noext"},
	}
	for _, tt := range tests {
		if got := VideoIDFromPath(tt.path); got != tt.want {
			t.Errorf("VideoIDFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
