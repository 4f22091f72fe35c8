package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"meetingSummarize/core"
	"meetingSummarize/logger"
)

// ---------------- PgVector implementation ----------------

type PgVectorStore struct {
	pool  *pgxpool.Pool
	embed Embedder
	table string
}

// NewPgVectorStore connects to Postgres and makes sure the pgvector schema exists.
func NewPgVectorStore(ctx context.Context, dsn, table string, embed Embedder) (*PgVectorStore, error) {
	if embed == nil {
		return nil, errors.New("pgvector store needs an embedder")
	}
	if table == "" {
		table = "meeting_segments"
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PgVectorStore{pool: pool, embed: embed, table: table}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgVectorStore) ensureTable(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			meeting_id VARCHAR(255) NOT NULL,
			segment_index INT NOT NULL,
			speaker VARCHAR(255) NOT NULL,
			text TEXT NOT NULL,
			timestamp_sec DOUBLE PRECISION NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(meeting_id, segment_index)
		);
	`, s.table, s.embed.Dimensions())
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", s.table, err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_meeting_id ON %[1]s(meeting_id);", s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding ON %[1]s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);", s.table),
	}
	for _, q := range indexes {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			logger.Warn(ctx, "failed to create index", "table", s.table, "error", err)
		}
	}
	return nil
}

// StoreMeeting replaces all segments of a meeting in one transaction.
func (s *PgVectorStore) StoreMeeting(ctx context.Context, meetingID string, segments []core.AttributedSegment, metadata map[string]any) error {
	records := BuildRecords(meetingID, segments, metadata)
	if len(records) == 0 {
		return nil
	}
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vecs, err := s.embed.Embed(ctx, texts)
	if err != nil {
		return err
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store meeting: begin trx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE meeting_id = $1", s.table), meetingID); err != nil {
		return fmt.Errorf("clear previous segments: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (meeting_id, segment_index, speaker, text, timestamp_sec, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (meeting_id, segment_index)
		DO UPDATE SET
			speaker = EXCLUDED.speaker,
			text = EXCLUDED.text,
			timestamp_sec = EXCLUDED.timestamp_sec,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding
	`, s.table)
	for i, r := range records {
		if _, err := tx.Exec(ctx, query, r.MeetingID, r.SegmentIndex, r.Speaker, r.Text, r.Timestamp, meta, pgvector.NewVector(vecs[i])); err != nil {
			return fmt.Errorf("insert segment %d: %w", r.SegmentIndex, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store meeting: commit: %w", err)
	}
	logger.Info(ctx, "stored meeting segments", "backend", "pgvector", "meeting_id", meetingID, "segments", len(records))
	return nil
}

func (s *PgVectorStore) Search(ctx context.Context, query string, limit int, threshold float64) ([]core.ContextSnippet, error) {
	if limit <= 0 {
		limit = 5
	}
	qv, err := embedOne(ctx, s.embed, query)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT meeting_id, speaker, text, timestamp_sec, metadata,
			   1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, s.table), pgvector.NewVector(qv), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search segments: %w", err)
	}
	defer rows.Close()

	hits := []core.ContextSnippet{}
	for rows.Next() {
		var r Record
		var meta []byte
		var score float64
		if err := rows.Scan(&r.MeetingID, &r.Speaker, &r.Text, &r.Timestamp, &meta, &score); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		r.Metadata = decodeMetadata(ctx, meta)
		hits = append(hits, r.snippet(score))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search segments: %w", err)
	}
	return hits, nil
}

func (s *PgVectorStore) DeleteMeeting(ctx context.Context, meetingID string) (int, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE meeting_id = $1", s.table), meetingID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete segments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgVectorStore) Close() error {
	s.pool.Close()
	return nil
}
