package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"meetingSummarize/core"
	"meetingSummarize/logger"
)

// ---------------- Milvus implementation ----------------

type MilvusConfig struct {
	Address    string
	Username   string
	Password   string
	APIKey     string // Zilliz Cloud
	Collection string
}

type MilvusVectorStore struct {
	mc    client.Client
	coll  string
	dim   int
	embed Embedder
}

var milvusOutputFields = []string{"meeting_id", "segment_index", "speaker", "text", "timestamp", "metadata"}

func NewMilvusVectorStore(ctx context.Context, cfg MilvusConfig, embed Embedder) (*MilvusVectorStore, error) {
	if embed == nil {
		return nil, errors.New("milvus store needs an embedder")
	}
	if cfg.Address == "" {
		cfg.Address = "localhost:19530"
	}
	if cfg.Collection == "" {
		cfg.Collection = "meeting_segments"
	}
	mc, err := client.NewClient(ctx, client.Config{Address: cfg.Address, Username: cfg.Username, Password: cfg.Password, APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	s := &MilvusVectorStore{mc: mc, coll: cfg.Collection, dim: embed.Dimensions(), embed: embed}
	if err := s.ensureSchemaAndIndex(ctx); err != nil {
		mc.Close()
		return nil, err
	}
	return s, nil
}

func (s *MilvusVectorStore) ensureSchemaAndIndex(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return fmt.Errorf("has collection: %w", err)
	}
	if !has {
		schema := entity.NewSchema().WithName(s.coll).WithDescription("attributed meeting segments")
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("meeting_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(255))
		schema.WithField(entity.NewField().WithName("segment_index").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("speaker").WithDataType(entity.FieldTypeVarChar).WithMaxLength(255))
		schema.WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("timestamp").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("metadata").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *MilvusVectorStore) StoreMeeting(ctx context.Context, meetingID string, segments []core.AttributedSegment, metadata map[string]any) error {
	records := BuildRecords(meetingID, segments, metadata)
	if len(records) == 0 {
		return nil
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(records))
	indexes := make([]int64, 0, len(records))
	speakers := make([]string, 0, len(records))
	texts := make([]string, 0, len(records))
	stamps := make([]float64, 0, len(records))
	metas := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.MeetingID)
		indexes = append(indexes, int64(r.SegmentIndex))
		speakers = append(speakers, r.Speaker)
		texts = append(texts, r.Text)
		stamps = append(stamps, r.Timestamp)
		metas = append(metas, string(meta))
	}
	vectors, err := s.embed.Embed(ctx, texts)
	if err != nil {
		return err
	}

	if err := s.mc.Delete(ctx, s.coll, "", meetingExpr(meetingID)); err != nil {
		return fmt.Errorf("milvus clear previous segments: %w", err)
	}
	_, err = s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("meeting_id", ids),
		entity.NewColumnInt64("segment_index", indexes),
		entity.NewColumnVarChar("speaker", speakers),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnDouble("timestamp", stamps),
		entity.NewColumnVarChar("metadata", metas),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus insert: %w", err)
	}
	logger.Info(ctx, "stored meeting segments", "backend", "milvus", "meeting_id", meetingID, "segments", len(records))
	return nil
}

func (s *MilvusVectorStore) Search(ctx context.Context, query string, limit int, threshold float64) ([]core.ContextSnippet, error) {
	if limit <= 0 {
		limit = 5
	}
	v, err := embedOne(ctx, s.embed, query)
	if err != nil {
		return nil, err
	}
	sp, _ := entity.NewIndexHNSWSearchParam(74)
	res, err := s.mc.Search(ctx, s.coll, []string{}, "", milvusOutputFields, []entity.Vector{entity.FloatVector(v)}, "vector", entity.COSINE, limit, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	hits := []core.ContextSnippet{}
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			score := float64(r.Scores[i])
			if score < threshold {
				continue
			}
			var rec Record
			var meta string
			if c, ok := cols["meeting_id"].(*entity.ColumnVarChar); ok && i < c.Len() {
				rec.MeetingID = c.Data()[i]
			}
			if c, ok := cols["segment_index"].(*entity.ColumnInt64); ok && i < c.Len() {
				rec.SegmentIndex = int(c.Data()[i])
			}
			if c, ok := cols["speaker"].(*entity.ColumnVarChar); ok && i < c.Len() {
				rec.Speaker = c.Data()[i]
			}
			if c, ok := cols["text"].(*entity.ColumnVarChar); ok && i < c.Len() {
				rec.Text = c.Data()[i]
			}
			if c, ok := cols["timestamp"].(*entity.ColumnDouble); ok && i < c.Len() {
				rec.Timestamp = c.Data()[i]
			}
			if c, ok := cols["metadata"].(*entity.ColumnVarChar); ok && i < c.Len() {
				meta = c.Data()[i]
			}
			rec.Metadata = decodeMetadata(ctx, []byte(meta))
			hits = append(hits, rec.snippet(score))
		}
	}
	return topK(hits, limit), nil
}

func (s *MilvusVectorStore) DeleteMeeting(ctx context.Context, meetingID string) (int, error) {
	expr := meetingExpr(meetingID)
	// Milvus does not report deleted row counts; count them first.
	rows, err := s.mc.Query(ctx, s.coll, []string{}, expr, []string{"id"})
	if err != nil {
		return 0, fmt.Errorf("milvus query: %w", err)
	}
	n := 0
	if idCol := rows.GetColumn("id"); idCol != nil {
		n = idCol.Len()
	}
	if err := s.mc.Delete(ctx, s.coll, "", expr); err != nil {
		return 0, fmt.Errorf("milvus delete: %w", err)
	}
	return n, nil
}

func (s *MilvusVectorStore) Close() error { return s.mc.Close() }

func meetingExpr(meetingID string) string {
	return fmt.Sprintf("meeting_id == \"%s\"", strings.ReplaceAll(meetingID, "\"", "\\\""))
}
