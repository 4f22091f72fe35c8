package initialization

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	openai "github.com/sashabaranov/go-openai"

	"meetingSummarize/config"
	"meetingSummarize/core"
	"meetingSummarize/logger"
	"meetingSummarize/processors"
	"meetingSummarize/storage"
	"meetingSummarize/utils"
)

// System holds every collaborator built from one configuration.
type System struct {
	Config    *config.Config
	Engine    *processors.WorkflowEngine
	Retriever *processors.ContextRetriever
	Store     storage.VectorStore
	closers   []io.Closer
}

// NewSystem builds the collaborators, the vector store and the engine.
func NewSystem(ctx context.Context, cfg *config.Config) (*System, error) {
	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	sys := &System{Config: cfg}

	var oa *openai.Client
	if cfg.HasValidAPI() {
		oa = utils.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	} else {
		logger.Warn(ctx, "no OpenAI API key configured, using mock summarizer and action item extractor")
	}

	transcriber, err := newTranscriber(cfg, oa)
	if err != nil {
		return nil, err
	}
	diarizer, err := sys.newDiarizer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var embed storage.Embedder
	if oa != nil {
		embed = storage.NewOpenAIEmbedder(oa, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDim)
	}
	sqlitePath := cfg.Store.SQLitePath
	if sqlitePath != "" && !filepath.IsAbs(sqlitePath) {
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
		}
	}
	store, err := storage.Open(ctx, storage.Options{
		Backend:     cfg.Store.Backend,
		PostgresURL: cfg.Store.PostgresURL,
		Table:       cfg.Store.Table,
		SQLitePath:  sqlitePath,
		Milvus: storage.MilvusConfig{
			Address:    cfg.Store.MilvusAddr,
			Username:   cfg.Store.MilvusUsername,
			Password:   cfg.Store.MilvusPassword,
			APIKey:     cfg.Store.MilvusAPIKey,
			Collection: cfg.Store.MilvusCollection,
		},
		FallbackToMemory: cfg.Store.FallbackToMemory,
	}, embed)
	if err != nil {
		sys.Close()
		return nil, fmt.Errorf("failed to init vector store: %w", err)
	}
	sys.Store = store
	sys.closers = append(sys.closers, store)
	logger.Info(ctx, "vector store initialized", "backend", cfg.Store.Backend)

	var summarizer core.Summarizer = processors.MockSummarizer{}
	var extractor core.ActionItemExtractor = processors.MockActionItemExtractor{}
	if oa != nil {
		summarizer = processors.NewLLMSummarizer(oa, cfg.OpenAI.ChatModel, cfg.OpenAI.MaxTokens, cfg.OpenAI.Temperature)
		extractor = processors.NewLLMActionItemExtractor(oa, cfg.OpenAI.ChatModel, cfg.OpenAI.ActionsTemp)
	}

	policy, err := processors.ParsePolicy(cfg.Pipeline.Policy)
	if err != nil {
		sys.Close()
		return nil, err
	}
	level, err := core.ParseDetailLevel(cfg.Pipeline.DetailLevel)
	if err != nil {
		sys.Close()
		return nil, err
	}

	sys.Retriever = processors.NewContextRetriever(store)
	sys.Engine = processors.NewWorkflowEngine(processors.Dependencies{
		Transcriber: transcriber,
		Diarizer:    diarizer,
		Context:     sys.Retriever,
		Summarizer:  summarizer,
		Extractor:   extractor,
		Store:       store,
	},
		processors.WithPolicy(policy),
		processors.WithParallelBranches(cfg.Pipeline.Parallel),
		processors.WithSpeakerBounds(cfg.Diarization.MinSpeakers, cfg.Diarization.MaxSpeakers),
		processors.WithRetrieval(cfg.Retrieval.Limit, cfg.Retrieval.Threshold),
		processors.WithDetailLevel(level),
	)
	return sys, nil
}

func newTranscriber(cfg *config.Config, oa *openai.Client) (core.TranscriptionProvider, error) {
	switch cfg.ASR.Provider {
	case "openai":
		if oa == nil {
			return nil, errors.New("openai ASR provider requires OPENAI_API_KEY")
		}
		return processors.NewOpenAIWhisperASR(oa, cfg.ASR.WhisperModel, cfg.ASR.Language), nil
	case "whisperx":
		return processors.WhisperXASR{Binary: cfg.ASR.WhisperXBin, Language: cfg.ASR.Language}, nil
	case "", "mock":
		return processors.MockASR{}, nil
	default:
		return nil, fmt.Errorf("unknown ASR provider %q", cfg.ASR.Provider)
	}
}

func (s *System) newDiarizer(ctx context.Context, cfg *config.Config) (core.DiarizationProvider, error) {
	if cfg.Diarization.Addr == "" {
		logger.Warn(ctx, "no diarization sidecar configured, speakers will be Unknown")
		return processors.NoopDiarizer{}, nil
	}
	d, err := processors.NewGRPCDiarizer(cfg.Diarization.Addr)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, d)
	return d, nil
}

// Close releases every connection the system opened.
func (s *System) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
