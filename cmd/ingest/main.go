package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/pflag"

	"github.com/pausepoint/pausepoint/internal/ai"
	"github.com/pausepoint/pausepoint/internal/chunker"
	"github.com/pausepoint/pausepoint/internal/config"
	"github.com/pausepoint/pausepoint/internal/ingest"
	"github.com/pausepoint/pausepoint/internal/status"
	"github.com/pausepoint/pausepoint/internal/store"
)

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("pausepoint-ingest", pflag.ExitOnError)
	fs.Bool("force-refresh", false, "Re-ingest videos that already have chunks")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage
	forceRefresh, _ := fs.GetBool("force-refresh")

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger

	if cfg.TranscriptPath == "" {
		log.Fatal("a transcript path is required (--transcript-path or PAUSEPOINT_TRANSCRIPT_PATH)")
	}

	provider := strings.ToLower(cfg.Provider)
	logger.Info().Str("provider", provider).Msg("using provider")
	var clientConfig *ai.ClientConfig
	switch provider {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}
	case "vertexai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", provider)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	c, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	if c.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	if err := st.Migrate(ctx, c.Dim()); err != nil {
		log.Fatal(err)
	}

	svc := ingest.New(st, c, status.NewMemoryStore(), chunker.Config{
		MinDuration:     cfg.Chunking.MinDuration,
		MaxDuration:     cfg.Chunking.MaxDuration,
		OverlapDuration: cfg.Chunking.OverlapDuration,
	})

	info, err := os.Stat(cfg.TranscriptPath)
	if err != nil {
		log.Fatalf("cannot stat %s: %v", cfg.TranscriptPath, err)
	}

	if !info.IsDir() {
		n, err := svc.IngestFile(ctx, cfg.TranscriptPath, cfg.VideoID, forceRefresh)
		if errors.Is(err, ingest.ErrAlreadyIngested) {
			logger.Info().Str("path", cfg.TranscriptPath).Msg("already ingested, skipping (use --force-refresh to redo)")
			return
		}
		if err != nil {
			log.Fatal(err)
		}
		logger.Info().Str("path", cfg.TranscriptPath).Int("chunks", n).Msg("transcript ingested")
		return
	}

	paths, err := svc.CollectFiles(cfg.TranscriptPath)
	if err != nil {
		log.Fatal(err)
	}
	if len(paths) == 0 {
		logger.Warn().Str("root", cfg.TranscriptPath).Msg("no transcript files found")
		return
	}
	logger.Info().Int("files", len(paths)).Str("root", cfg.TranscriptPath).Msg("ingesting transcripts")

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("ingesting"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)

	var mu sync.Mutex
	var ok, skipped, failed int
	svc.IngestFiles(ctx, paths, 0, forceRefresh, func(path string, chunks int, err error) {
		mu.Lock()
		defer mu.Unlock()
		_ = bar.Add(1)
		switch {
		case errors.Is(err, ingest.ErrAlreadyIngested):
			skipped++
		case err != nil:
			failed++
		default:
			ok++
		}
	})
	_ = bar.Finish()

	logger.Info().Int("ingested", ok).Int("skipped", skipped).Int("failed", failed).Msg("done")
	if failed > 0 {
		os.Exit(1)
	}
}
