package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/pausepoint/pausepoint/internal/ai"
	"github.com/pausepoint/pausepoint/internal/auth"
	"github.com/pausepoint/pausepoint/internal/chunker"
	"github.com/pausepoint/pausepoint/internal/config"
	"github.com/pausepoint/pausepoint/internal/ingest"
	"github.com/pausepoint/pausepoint/internal/retriever"
	"github.com/pausepoint/pausepoint/internal/status"
	"github.com/pausepoint/pausepoint/internal/store"
	"github.com/pausepoint/pausepoint/internal/transcript"
	"github.com/pausepoint/pausepoint/internal/tutor"
	"github.com/pausepoint/pausepoint/pkg/models"
)

func main() {
	// A .env file is optional; real env vars win either way.
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("pausepoint-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting pausepoint api")

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatal(err)
	}

	auth.Initialize(cfg.Auth.JwtSecret, cfg.Auth.Enabled)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	c, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	// Use the AI client's dimension for database migration
	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	statuses := status.NewMemoryStore()
	ingestor := ingest.New(st, c, statuses, chunker.Config{
		MinDuration:     cfg.Chunking.MinDuration,
		MaxDuration:     cfg.Chunking.MaxDuration,
		OverlapDuration: cfg.Chunking.OverlapDuration,
	})
	retr := retriever.New(st, c, retriever.Config{
		TemporalWindow: cfg.Retrieval.TemporalWindow,
		MaxPerStrategy: cfg.Retrieval.MaxPerStrategy,
		MaxTotal:       cfg.Retrieval.MaxTotal,
	})
	tut := tutor.New(c, retr)

	srv := &server{
		store:    st,
		ingestor: ingestor,
		statuses: statuses,
		tutor:    tut,
		logger:   logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", srv.handleHealth).Methods("GET")

	// Auth status endpoint (always available)
	r.HandleFunc("/auth/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": auth.IsAuthEnabled()})
	}).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/transcript/ingest", auth.OptionalAuthMiddleware(srv.handleIngest)).Methods("POST")
	api.HandleFunc("/transcript/status/{video_id}", auth.OptionalAuthMiddleware(srv.handleStatus)).Methods("GET")
	api.HandleFunc("/transcript/{video_id}", auth.OptionalAuthMiddleware(srv.handleDelete)).Methods("DELETE")
	api.HandleFunc("/videos", auth.OptionalAuthMiddleware(srv.handleVideos)).Methods("GET")
	api.HandleFunc("/explain", auth.OptionalAuthMiddleware(srv.handleExplain)).Methods("POST")

	handler := hlog.NewHandler(logger)(
		hlog.RequestIDHandler("req_id", "X-Request-Id")(
			hlog.AccessHandler(func(req *http.Request, statusCode, size int, dur time.Duration) {
				hlog.FromRequest(req).Info().
					Str("method", req.Method).
					Str("path", req.URL.Path).
					Int("status", statusCode).
					Int("size", size).
					Dur("dur", dur).
					Msg("http")
			})(r),
		),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func clientConfigFor(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}, nil
	case "vertexai", "google":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}, nil
	case "stub":
		return &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

type server struct {
	store    *store.Store
	ingestor *ingest.Service
	statuses status.Store
	tutor    *tutor.Service
	logger   zerolog.Logger
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleIngest accepts the transcript and processes it in the
// background; the response reports where the request ended up, and
// progress is visible through the status endpoint.
func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.VideoID == "" {
		req.VideoID = uuid.NewString()
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	if !req.ForceRefresh {
		exists, err := s.store.VideoExists(r.Context(), req.VideoID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if exists {
			writeJSON(w, http.StatusOK, models.IngestResponse{
				Status:  "exists",
				VideoID: req.VideoID,
				Message: "video already ingested; set force_refresh to re-ingest",
			})
			return
		}
	}

	s.statuses.Set(req.VideoID, status.Status{State: status.StatePending, Message: "queued"})

	// Detached from the request context so a closed connection does not
	// abort the pipeline.
	go func() {
		ctx, cancel := context.WithTimeout(s.logger.WithContext(context.Background()), 10*time.Minute)
		defer cancel()
		if _, err := s.ingestor.Ingest(ctx, req.VideoID, req.Content, transcript.Format(req.Format), req.ForceRefresh); err != nil {
			s.logger.Error().Err(err).Str("video_id", req.VideoID).Msg("background ingestion failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, models.IngestResponse{
		Status:  "queued",
		VideoID: req.VideoID,
		Message: "transcript queued for processing",
	})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	videoID := mux.Vars(r)["video_id"]

	if st, ok := s.statuses.Get(videoID); ok {
		writeJSON(w, http.StatusOK, st)
		return
	}

	// Not tracked in memory; a video ingested by an earlier process run
	// still counts as ready if its chunks are in the store.
	exists, err := s.store.VideoExists(r.Context(), videoID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "unknown video", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status.Status{VideoID: videoID, State: status.StateReady})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	videoID := mux.Vars(r)["video_id"]

	n, err := s.store.DeleteVideo(r.Context(), videoID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if n == 0 {
		http.Error(w, "unknown video", http.StatusNotFound)
		return
	}
	s.statuses.Delete(videoID)
	writeJSON(w, http.StatusOK, map[string]any{"video_id": videoID, "deleted_chunks": n})
}

func (s *server) handleVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := s.store.ListVideos(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if videos == nil {
		videos = []models.VideoInfo{}
	}
	writeJSON(w, http.StatusOK, videos)
}

func (s *server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req models.ExplainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.VideoID == "" {
		http.Error(w, "video_id is required", http.StatusBadRequest)
		return
	}
	if req.Timestamp < 0 {
		http.Error(w, "timestamp must be non-negative", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	resp, err := s.tutor.Explain(ctx, req)
	if err != nil {
		var se *retriever.StrategyError
		if errors.As(err, &se) {
			hlog.FromRequest(r).Error().Err(err).Str("strategy", string(se.Strategy)).Msg("retrieval failed")
			http.Error(w, "retrieval backend unavailable", http.StatusBadGateway)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("explanation failed")
		http.Error(w, "failed to generate explanation", http.StatusBadGateway)
		return
	}

	hlog.FromRequest(r).Info().
		Str("video_id", req.VideoID).
		Float64("timestamp", req.Timestamp).
		Int("chunks", len(resp.RetrievedChunks)).
		Int64("ms", resp.ProcessingTimeMs).
		Msg("explanation served")
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
