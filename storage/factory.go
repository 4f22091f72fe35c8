package storage

import (
	"context"
	"fmt"
	"strings"

	"meetingSummarize/logger"
)

// Options selects and configures a VectorStore backend.
type Options struct {
	Backend     string // memory | sqlite | pgvector | milvus
	PostgresURL string
	Table       string
	SQLitePath  string
	Milvus      MilvusConfig
	// FallbackToMemory replaces a backend that fails to open with the memory store.
	FallbackToMemory bool
}

// Open builds the configured backend. Remote backends need an embedder.
func Open(ctx context.Context, opts Options, embed Embedder) (VectorStore, error) {
	s, err := open(ctx, opts, embed)
	if err != nil && opts.FallbackToMemory {
		logger.Warn(ctx, "vector store unavailable, falling back to memory store", "backend", opts.Backend, "error", err)
		return NewMemoryVectorStore(), nil
	}
	return s, err
}

func open(ctx context.Context, opts Options, embed Embedder) (VectorStore, error) {
	switch kind := strings.ToLower(strings.TrimSpace(opts.Backend)); kind {
	case "", "memory":
		return NewMemoryVectorStore(), nil
	case "sqlite":
		s, err := NewSQLiteVectorStore(ctx, opts.SQLitePath, embed)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "pgvector":
		s, err := NewPgVectorStore(ctx, opts.PostgresURL, opts.Table, embed)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "milvus":
		s, err := NewMilvusVectorStore(ctx, opts.Milvus, embed)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", opts.Backend)
	}
}
