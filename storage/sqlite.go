package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"meetingSummarize/core"
	"meetingSummarize/logger"
)

// ---------------- SQLite implementation ----------------

// SQLiteVectorStore keeps segments in a local database file and scores them in
// process. With an Embedder it compares stored dense vectors; without one it
// falls back to the same term-frequency scoring as the memory store.
type SQLiteVectorStore struct {
	db    *sql.DB
	embed Embedder
}

const sqliteSchema = `
create table if not exists meeting_segments (
	meeting_id text not null,
	segment_index integer not null,
	speaker text not null,
	text text not null,
	timestamp_sec real not null,
	metadata text not null default '{}',
	embedding text,
	primary key (meeting_id, segment_index)
);
create index if not exists idx_meeting_segments_meeting on meeting_segments(meeting_id);
`

func NewSQLiteVectorStore(ctx context.Context, path string, embed Embedder) (*SQLiteVectorStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteVectorStore{db: db, embed: embed}, nil
}

func (s *SQLiteVectorStore) StoreMeeting(ctx context.Context, meetingID string, segments []core.AttributedSegment, metadata map[string]any) error {
	records := BuildRecords(meetingID, segments, metadata)
	if len(records) == 0 {
		return nil
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	embeddings := make([]sql.NullString, len(records))
	if s.embed != nil {
		texts := make([]string, len(records))
		for i, r := range records {
			texts[i] = r.Text
		}
		vecs, err := s.embed.Embed(ctx, texts)
		if err != nil {
			return err
		}
		for i, v := range vecs {
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode embedding: %w", err)
			}
			embeddings[i] = sql.NullString{String: string(b), Valid: true}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storing meeting: begin trx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "delete from meeting_segments where meeting_id = ?", meetingID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback clear segments: %w", rbErr)
		}
		return fmt.Errorf("clearing previous segments: %w", err)
	}
	if err := insertRecords(ctx, tx, records, string(meta), embeddings); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback insert segments: %w", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storing meeting: commiting: %w", err)
	}
	logger.Info(ctx, "stored meeting segments", "backend", "sqlite", "meeting_id", meetingID, "segments", len(records))
	return nil
}

const sqliteInsertBatch = 500

func insertRecords(ctx context.Context, tx *sql.Tx, records []Record, meta string, embeddings []sql.NullString) error {
	for start := 0; start < len(records); start += sqliteInsertBatch {
		end := min(start+sqliteInsertBatch, len(records))
		var b strings.Builder
		b.WriteString(`insert or replace into meeting_segments (
			meeting_id,
			segment_index,
			speaker,
			text,
			timestamp_sec,
			metadata,
			embedding) values `)
		args := make([]any, 0, 7*(end-start))
		for n := start; n < end; n++ {
			if n > start {
				b.WriteString(", ")
			}
			b.WriteString("(?, ?, ?, ?, ?, ?, ?)")
			r := records[n]
			args = append(args, r.MeetingID, r.SegmentIndex, r.Speaker, r.Text, r.Timestamp, meta, embeddings[n])
		}
		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return fmt.Errorf("inserting segments: %w", err)
		}
	}
	return nil
}

func (s *SQLiteVectorStore) Search(ctx context.Context, query string, limit int, threshold float64) ([]core.ContextSnippet, error) {
	var qv []float32
	var qt map[string]float64
	if s.embed != nil {
		v, err := embedOne(ctx, s.embed, query)
		if err != nil {
			return nil, err
		}
		qv = v
	} else {
		qt = embedText(query)
	}

	rows, err := s.db.QueryContext(ctx, `
		select meeting_id, segment_index, speaker, text, timestamp_sec, metadata, embedding
		from meeting_segments
		order by rowid`)
	if err != nil {
		return nil, fmt.Errorf("search segments: %w", err)
	}
	defer rows.Close()

	var hits []core.ContextSnippet
	for rows.Next() {
		var r Record
		var meta string
		var emb sql.NullString
		if err := rows.Scan(&r.MeetingID, &r.SegmentIndex, &r.Speaker, &r.Text, &r.Timestamp, &meta, &emb); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		var score float64
		if qv != nil {
			score = denseCosine(qv, decodeEmbedding(ctx, r, emb))
		} else {
			score = cosine(qt, embedText(r.Text))
		}
		if score < threshold || score <= 0 {
			continue
		}
		r.Metadata = decodeMetadata(ctx, []byte(meta))
		hits = append(hits, r.snippet(score))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search segments: %w", err)
	}
	return topK(hits, limit), nil
}

// decodeEmbedding returns nil, which scores 0, for a missing or corrupt vector.
func decodeEmbedding(ctx context.Context, r Record, emb sql.NullString) []float32 {
	if !emb.Valid {
		return nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(emb.String), &v); err != nil {
		logger.Warn(ctx, "failed to decode segment embedding", "meeting_id", r.MeetingID, "segment_index", r.SegmentIndex, "error", err)
		return nil
	}
	return v
}

func (s *SQLiteVectorStore) DeleteMeeting(ctx context.Context, meetingID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "delete from meeting_segments where meeting_id = ?", meetingID)
	if err != nil {
		return 0, fmt.Errorf("delete segments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete segments: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteVectorStore) Close() error { return s.db.Close() }
