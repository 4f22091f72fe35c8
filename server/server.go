package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"meetingSummarize/core"
	"meetingSummarize/logger"
	"meetingSummarize/processors"
	"meetingSummarize/utils"
)

// Processor runs the meeting pipeline.
type Processor interface {
	Process(ctx context.Context, meetingID, audioRef string, metadata map[string]any) core.PipelineState
	ProcessBatch(ctx context.Context, jobs []processors.BatchJob, concurrency int) processors.BatchResult
}

// MeetingSearcher ranks stored meetings against a free-text query.
type MeetingSearcher interface {
	RelatedMeetings(ctx context.Context, query string, limit int) ([]core.RankedMeeting, error)
}

// MeetingDeleter removes a meeting from the index.
type MeetingDeleter interface {
	DeleteMeeting(ctx context.Context, meetingID string) (int, error)
}

const (
	apiName    = "Meeting Summarize API"
	apiVersion = "1.0.0"
)

type Handler struct {
	engine   Processor
	searcher MeetingSearcher
	deleter  MeetingDeleter
	backend  string
	now      func() time.Time
	newID    func() string
}

func NewHandler(engine Processor, searcher MeetingSearcher, deleter MeetingDeleter, backend string) *Handler {
	return &Handler{
		engine:   engine,
		searcher: searcher,
		deleter:  deleter,
		backend:  backend,
		now:      time.Now,
		newID:    utils.NewMeetingID,
	}
}

// Router mounts every endpoint behind request logging and CORS.
func (h *Handler) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/", h.Root)
	router.Get("/health", h.Health)
	router.Route("/api/meetings", func(r chi.Router) {
		r.Post("/process", h.ProcessMeeting)
		r.Post("/batch", h.ProcessBatch)
		r.Get("/search", h.SearchMeetings)
		r.Delete("/{meetingID}", h.DeleteMeeting)
	})
	return router
}

type ProcessMeetingRequest struct {
	MeetingID    string         `json:"meeting_id,omitempty"`
	AudioURL     string         `json:"audio_url"`
	Title        string         `json:"title,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type ProcessMeetingResponse struct {
	MeetingID   string                      `json:"meeting_id"`
	Status      core.Status                 `json:"status"`
	Transcript  []core.AttributedSegment    `json:"transcript"`
	Summaries   map[core.DetailLevel]string `json:"summaries"`
	ActionItems []core.ActionItem           `json:"action_items"`
	NumSpeakers int                         `json:"num_speakers"`
	Stages      []core.StageReport          `json:"stages"`
}

type errorResponse struct {
	Error  string             `json:"error"`
	Stages []core.StageReport `json:"stages,omitempty"`
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": apiName,
		"version": apiVersion,
		"status":  "operational",
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ready := func(ok bool) string {
		if ok {
			return "ready"
		}
		return "not initialized"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"services": map[string]string{
			"workflow":     ready(h.engine != nil),
			"vector_store": ready(h.searcher != nil),
			"backend":      h.backend,
		},
	})
}

func (h *Handler) ProcessMeeting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "workflow not initialized"})
		return
	}
	var req ProcessMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.AudioURL) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "audio_url is required"})
		return
	}

	meetingID := req.MeetingID
	if meetingID == "" {
		meetingID = h.newID()
	}
	logger.Info(ctx, "processing meeting", "meeting_id", meetingID)
	state := h.engine.Process(ctx, meetingID, req.AudioURL, h.requestMetadata(req))
	if state.HasError() {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: state.Error, Stages: state.Stages})
		return
	}
	writeJSON(w, http.StatusOK, newProcessResponse(state))
}

func (h *Handler) requestMetadata(req ProcessMeetingRequest) map[string]any {
	metadata := core.CloneMetadata(req.Metadata)
	if req.Title != "" {
		metadata["title"] = req.Title
	}
	participants := req.Participants
	if participants == nil {
		participants = []string{}
	}
	metadata["participants"] = participants
	metadata["processed_at"] = h.now().UTC().Format(time.RFC3339)
	return metadata
}

func newProcessResponse(state core.PipelineState) ProcessMeetingResponse {
	return ProcessMeetingResponse{
		MeetingID:   state.MeetingID,
		Status:      state.Status,
		Transcript:  state.AttributedTranscript,
		Summaries:   state.Summaries,
		ActionItems: state.ActionItems,
		NumSpeakers: len(state.Diarization.Speakers),
		Stages:      state.Stages,
	}
}

type BatchRequest struct {
	Meetings    []ProcessMeetingRequest `json:"meetings"`
	Concurrency int                     `json:"concurrency,omitempty"`
}

type batchItem struct {
	ProcessMeetingResponse
	Error string `json:"error,omitempty"`
}

// ProcessBatch runs every meeting of the request; per-meeting failures are
// reported inline and do not change the status code.
func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "workflow not initialized"})
		return
	}
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if len(req.Meetings) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "at least one meeting must be provided"})
		return
	}
	jobs := make([]processors.BatchJob, 0, len(req.Meetings))
	for i, m := range req.Meetings {
		if strings.TrimSpace(m.AudioURL) == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("meetings[%d]: audio_url is required", i)})
			return
		}
		id := m.MeetingID
		if id == "" {
			id = h.newID()
		}
		jobs = append(jobs, processors.BatchJob{MeetingID: id, AudioRef: m.AudioURL, Metadata: h.requestMetadata(m)})
	}

	res := h.engine.ProcessBatch(r.Context(), jobs, req.Concurrency)
	items := make([]batchItem, 0, len(res.States))
	for _, s := range res.States {
		items = append(items, batchItem{ProcessMeetingResponse: newProcessResponse(s), Error: s.Error})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"completed": res.Completed,
		"failed":    res.Failed,
		"meetings":  items,
	})
}

func (h *Handler) SearchMeetings(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "vector store not initialized"})
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	meetings, err := h.searcher.RelatedMeetings(r.Context(), query, limit)
	if err != nil {
		logger.ErrorErr(r.Context(), "meeting search failed", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":    query,
		"meetings": meetings,
	})
}

func (h *Handler) DeleteMeeting(w http.ResponseWriter, r *http.Request) {
	if h.deleter == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "vector store not initialized"})
		return
	}
	id := chi.URLParam(r, "meetingID")
	n, err := h.deleter.DeleteMeeting(r.Context(), id)
	if err != nil {
		logger.ErrorErr(r.Context(), "meeting delete failed", err, "meeting_id", id)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"meeting_id": id, "deleted_segments": n})
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// Run serves handler on port until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, port int, handler http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Processing a meeting blocks the request for the whole pipeline.
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http server started", "address", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info(ctx, "start shutdown", "timeout", shutdownTimeout)
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			srv.Close()
			return fmt.Errorf("failed to gracefully shutdown server: %w", err)
		}
		logger.Info(ctx, "server shutdown completed")
		return nil
	}
}
