package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/pausepoint/pausepoint/internal/retriever"
	"github.com/pausepoint/pausepoint/pkg/models"
)

// Store persists transcript chunks and their embeddings in Postgres
// with pgvector.
type Store struct {
	pool *pgxpool.Pool
}

// ChunkStore defines the methods that the Store must implement. It
// includes the read-side index queries the retriever depends on.
type ChunkStore interface {
	retriever.VectorIndex
	Migrate(ctx context.Context, embeddingDim int) error
	UpsertChunks(ctx context.Context, chunks []models.Chunk) error
	VideoExists(ctx context.Context, videoID string) (bool, error)
	ListVideos(ctx context.Context) ([]models.VideoInfo, error)
	DeleteVideo(ctx context.Context, videoID string) (int64, error)
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, embeddingDim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  id              TEXT PRIMARY KEY,
  video_id        TEXT NOT NULL,
  sequence        INT NOT NULL,
  start_time      DOUBLE PRECISION NOT NULL,
  end_time        DOUBLE PRECISION NOT NULL,
  duration        DOUBLE PRECISION NOT NULL,
  content         TEXT NOT NULL,
  content_cleaned TEXT NOT NULL DEFAULT '',
  key_terms       TEXT[] NOT NULL DEFAULT '{}',
  is_foundational BOOLEAN NOT NULL DEFAULT FALSE,
  embedding       vector(%d),
  created_at      TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS chunks_video_sequence_uidx
  ON chunks (video_id, sequence);

CREATE INDEX IF NOT EXISTS chunks_video_time_idx
  ON chunks (video_id, start_time, end_time);

CREATE INDEX IF NOT EXISTS chunks_video_foundational_idx
  ON chunks (video_id, is_foundational, end_time);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, embeddingDim))
	return err
}

// UpsertChunks inserts or updates the chunks of one video in a single
// batch. Re-ingesting a chunk id overwrites, never duplicates; an
// existing embedding survives an upsert that carries none.
func (s *Store) UpsertChunks(ctx context.Context, chunks []models.Chunk) error {
	const q = `
		INSERT INTO chunks (
			id, video_id, sequence, start_time, end_time, duration,
			content, content_cleaned, key_terms, is_foundational, embedding, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		ON CONFLICT (id) DO UPDATE SET
			video_id        = EXCLUDED.video_id,
			sequence        = EXCLUDED.sequence,
			start_time      = EXCLUDED.start_time,
			end_time        = EXCLUDED.end_time,
			duration        = EXCLUDED.duration,
			content         = EXCLUDED.content,
			content_cleaned = EXCLUDED.content_cleaned,
			key_terms       = EXCLUDED.key_terms,
			is_foundational = EXCLUDED.is_foundational,
			embedding       = COALESCE(EXCLUDED.embedding, chunks.embedding),
			created_at      = chunks.created_at;`

	batch := &pgx.Batch{}
	for _, c := range chunks {
		var emb any
		if c.Embedding != nil {
			emb = pgvector.NewVector(c.Embedding)
		} else {
			emb = (*pgvector.Vector)(nil)
		}
		keyTerms := c.KeyTerms
		if keyTerms == nil {
			keyTerms = []string{}
		}
		batch.Queue(q,
			c.ID, c.VideoID, c.Sequence, c.StartTime, c.EndTime, c.Duration,
			c.Text, c.TextCleaned, keyTerms, c.IsFoundational, emb,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return br.Close()
}

const chunkColumns = `id, video_id, sequence, start_time, end_time, duration,
	content, key_terms, is_foundational, created_at`

func scanChunk(row pgx.Row) (models.Chunk, error) {
	var c models.Chunk
	err := row.Scan(
		&c.ID, &c.VideoID, &c.Sequence, &c.StartTime, &c.EndTime, &c.Duration,
		&c.Text, &c.KeyTerms, &c.IsFoundational, &c.CreatedAt,
	)
	return c, err
}

// QueryByTimeRange returns chunks lying fully within [start,end],
// ordered by distance of their start from proximityTo. A negative
// proximityTo orders by start time instead.
func (s *Store) QueryByTimeRange(ctx context.Context, videoID string, start, end, proximityTo float64) ([]models.Chunk, error) {
	order := "start_time ASC"
	args := []any{videoID, start, end}
	if proximityTo >= 0 {
		order = "abs(start_time - $4) ASC, start_time ASC"
		args = append(args, proximityTo)
	}
	q := fmt.Sprintf(`
		SELECT %s FROM chunks
		WHERE video_id = $1 AND start_time >= $2 AND end_time <= $3
		ORDER BY %s`, chunkColumns, order)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// QueryByMetadata returns chunks matching the filter, earliest first.
func (s *Store) QueryByMetadata(ctx context.Context, videoID string, mq retriever.MetadataQuery) ([]models.Chunk, error) {
	where := "video_id = $1"
	args := []any{videoID}
	ai := 2

	if mq.IsFoundational != nil {
		where += fmt.Sprintf(" AND is_foundational = $%d", ai)
		args = append(args, *mq.IsFoundational)
		ai++
	}
	if mq.BeforeTimestamp != nil {
		where += fmt.Sprintf(" AND end_time < $%d", ai)
		args = append(args, *mq.BeforeTimestamp)
		ai++
	}
	if len(mq.KeyTerms) > 0 {
		// Substring match against the content, to align with how the
		// retriever re-ranks the candidates it gets back.
		var ors []string
		for _, term := range mq.KeyTerms {
			ors = append(ors, fmt.Sprintf("content ILIKE '%%' || $%d || '%%'", ai))
			args = append(args, term)
			ai++
		}
		where += " AND (" + strings.Join(ors, " OR ") + ")"
	}

	limit := mq.Limit
	if limit <= 0 {
		limit = 10
	}
	q := fmt.Sprintf(`
		SELECT %s FROM chunks
		WHERE %s
		ORDER BY start_time ASC
		LIMIT %d`, chunkColumns, where, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SimilaritySearch returns the topK chunks nearest to the embedding by
// cosine similarity, most similar first, with SimilarityScore set.
func (s *Store) SimilaritySearch(ctx context.Context, videoID string, embedding []float32, topK int) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		topK = 10
	}
	q := fmt.Sprintf(`
		SELECT %s,
		       LEAST(GREATEST(1.0 - cosine_distance(embedding, $2), 0), 1) AS score
		FROM chunks
		WHERE video_id = $1 AND embedding IS NOT NULL
		ORDER BY cosine_distance(embedding, $2) ASC
		LIMIT %d`, chunkColumns, topK)

	rows, err := s.pool.Query(ctx, q, videoID, pgvector.NewVector(embedding))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RetrievedChunk
	for rows.Next() {
		var c models.Chunk
		var score float64
		if err := rows.Scan(
			&c.ID, &c.VideoID, &c.Sequence, &c.StartTime, &c.EndTime, &c.Duration,
			&c.Text, &c.KeyTerms, &c.IsFoundational, &c.CreatedAt,
			&score,
		); err != nil {
			return nil, err
		}
		out = append(out, models.RetrievedChunk{Chunk: c, SimilarityScore: score})
	}
	return out, rows.Err()
}

// VideoExists reports whether any chunks are stored for the video.
func (s *Store) VideoExists(ctx context.Context, videoID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chunks WHERE video_id = $1)`, videoID,
	).Scan(&exists)
	return exists, err
}

// ListVideos returns a summary of every ingested video.
func (s *Store) ListVideos(ctx context.Context) ([]models.VideoInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT video_id, COUNT(*), COALESCE(MAX(end_time), 0)
		FROM chunks
		GROUP BY video_id
		ORDER BY video_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.VideoInfo
	for rows.Next() {
		var v models.VideoInfo
		if err := rows.Scan(&v.VideoID, &v.TotalChunks, &v.Duration); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteVideo removes all chunks of a video and returns how many were
// deleted.
func (s *Store) DeleteVideo(ctx context.Context, videoID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE video_id = $1`, videoID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
