// Package ingest runs the transcript pipeline: parse, chunk, embed,
// persist, with processing status tracked per video.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/pausepoint/pausepoint/internal/ai"
	"github.com/pausepoint/pausepoint/internal/chunker"
	"github.com/pausepoint/pausepoint/internal/status"
	"github.com/pausepoint/pausepoint/internal/store"
	"github.com/pausepoint/pausepoint/internal/transcript"
)

// ErrAlreadyIngested is returned when the video has chunks in the store
// and the caller did not ask for a refresh.
var ErrAlreadyIngested = errors.New("video already ingested")

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Service ties the pipeline stages together. One Ingest call is the
// single writer for its video; concurrent calls for different videos
// are fine.
type Service struct {
	Store      store.ChunkStore
	Client     ai.Client
	Status     status.Store
	ChunkCfg   chunker.Config
	Walker     FileSystemWalker
	FileReader FileReader
}

// New creates an ingestion Service with default filesystem access.
func New(s store.ChunkStore, client ai.Client, st status.Store, cfg chunker.Config) *Service {
	return &Service{
		Store:      s,
		Client:     client,
		Status:     st,
		ChunkCfg:   cfg,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
	}
}

// Ingest processes raw transcript content for one video and returns
// the number of chunks stored. An empty format triggers detection.
// Without forceRefresh, a video that already has chunks is left alone
// and ErrAlreadyIngested is returned.
func (s *Service) Ingest(ctx context.Context, videoID, content string, format transcript.Format, forceRefresh bool) (int, error) {
	if !forceRefresh {
		exists, err := s.Store.VideoExists(ctx, videoID)
		if err != nil {
			return 0, fmt.Errorf("checking video: %w", err)
		}
		if exists {
			return 0, ErrAlreadyIngested
		}
	}

	s.Status.Set(videoID, status.Status{State: status.StateProcessing, Message: "parsing transcript"})

	n, err := s.process(ctx, videoID, content, format)
	if err != nil {
		s.Status.Set(videoID, status.Status{State: status.StateError, Message: err.Error()})
		return 0, err
	}

	s.Status.Set(videoID, status.Status{State: status.StateReady, TotalChunks: n})
	return n, nil
}

func (s *Service) process(ctx context.Context, videoID, content string, format transcript.Format) (int, error) {
	segments := transcript.Parse(content, format)
	if len(segments) == 0 {
		return 0, errors.New("could not parse any segments from the transcript")
	}

	chunks := chunker.New(videoID, s.ChunkCfg).Chunk(segments)

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		// Embed the cleaned text; fall back to the verbatim text when
		// cleaning stripped everything.
		t := ch.TextCleaned
		if t == "" {
			t = ch.Text
		}
		texts[i] = t
	}

	s.Status.Set(videoID, status.Status{State: status.StateProcessing, Message: "embedding chunks"})
	embeddings, err := s.Client.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("expected %d embeddings, got %d", len(chunks), len(embeddings))
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	s.Status.Set(videoID, status.Status{State: status.StateProcessing, Message: "storing chunks"})
	if err := s.Store.UpsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("storing chunks: %w", err)
	}

	log.Info().
		Str("video_id", videoID).
		Int("segments", len(segments)).
		Int("chunks", len(chunks)).
		Msg("transcript ingested")
	return len(chunks), nil
}

// IngestFile reads one transcript file and ingests it. The video id is
// derived from the file name when empty, and the format from the file
// extension.
func (s *Service) IngestFile(ctx context.Context, path, videoID string, forceRefresh bool) (int, error) {
	b, err := s.FileReader.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	if videoID == "" {
		videoID = VideoIDFromPath(path)
	}
	return s.Ingest(ctx, videoID, string(b), formatFromPath(path), forceRefresh)
}

// CollectFiles walks root and returns all transcript files under it.
func (s *Service) CollectFiles(root string) ([]string, error) {
	var paths []string
	err := s.Walker.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".srt", ".vtt", ".txt":
				paths = append(paths, path)
			}
			return nil
		},
	})
	return paths, err
}

// IngestFiles processes the files with a bounded worker pool. onDone is
// called once per file with the ingestion outcome; a nil callback is
// allowed.
func (s *Service) IngestFiles(ctx context.Context, paths []string, workers int, forceRefresh bool, onDone func(path string, chunks int, err error)) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > 8 {
		workers = 8 // Cap to avoid overwhelming the embedding API
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	workChan := make(chan string, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range workChan {
				n, err := s.IngestFile(ctx, path, "", forceRefresh)
				if err != nil {
					log.Error().Err(err).Str("path", path).Msg("ingestion failed")
				}
				if onDone != nil {
					onDone(path, n, err)
				}
			}
		}()
	}

	for _, path := range paths {
		select {
		case workChan <- path:
		case <-ctx.Done():
			close(workChan)
			wg.Wait()
			return
		}
	}
	close(workChan)
	wg.Wait()
}

// VideoIDFromPath derives a video id from the file name, without the
// extension.
func VideoIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func formatFromPath(path string) transcript.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".srt":
		return transcript.FormatSRT
	case ".vtt":
		return transcript.FormatVTT
	case ".txt":
		return transcript.FormatPlain
	}
	return ""
}
