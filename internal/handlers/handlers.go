package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/zombar/videotagger/internal/events"
	"github.com/zombar/videotagger/internal/export"
	"github.com/zombar/videotagger/internal/logger"
	"github.com/zombar/videotagger/internal/metrics"
	"github.com/zombar/videotagger/internal/pipeline"
	"github.com/zombar/videotagger/internal/storage"
	"github.com/zombar/videotagger/internal/tagging"
)

// SessionStarter starts processing sessions
type SessionStarter interface {
	StartSession(ctx context.Context, req pipeline.Request) (*storage.Session, error)
}

// DetailedConsolidator runs tag consolidation and reports its clusters
type DetailedConsolidator interface {
	ConsolidateDetailed(ctx context.Context, rawTags []string, distanceThreshold float64) (*tagging.Result, error)
}

// Defaults fill fields a process request leaves out
type Defaults struct {
	NumVideos          int
	NumComments        int
	NumTags            int
	ClusteringStrength float64
}

// Handler contains all HTTP handlers
type Handler struct {
	storage      *storage.Storage
	starter      SessionStarter
	consolidator DetailedConsolidator
	broadcaster  *events.Broadcaster
	metrics      *metrics.BusinessMetrics
	log          *logger.Logger
	defaults     Defaults
}

// New creates a new Handler
func New(
	store *storage.Storage,
	starter SessionStarter,
	consolidator DetailedConsolidator,
	broadcaster *events.Broadcaster,
	businessMetrics *metrics.BusinessMetrics,
	log *logger.Logger,
	defaults Defaults,
) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		storage:      store,
		starter:      starter,
		consolidator: consolidator,
		broadcaster:  broadcaster,
		metrics:      businessMetrics,
		log:          log,
		defaults:     defaults,
	}
}

// ConsolidateRequest runs consolidation over an ad hoc tag list
type ConsolidateRequest struct {
	Tags               []string `json:"tags"`
	ClusteringStrength *float64 `json:"clustering_strength,omitempty"`
}

// SessionResponse is a session with its job counts by status
type SessionResponse struct {
	*storage.Session
	Jobs map[string]int `json:"jobs"`
}

// VideoResponse is a video with its consolidated tags as a list
type VideoResponse struct {
	*storage.Video
	TagList []string `json:"tag_list"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes registers every endpoint and wraps the mux with tracing and
// request metrics
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
	mux.HandleFunc("POST /api/process", h.ProcessVideos)
	mux.HandleFunc("GET /api/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.GetSession)
	mux.HandleFunc("GET /api/sessions/{id}/updates", h.ListUpdates)
	mux.HandleFunc("GET /api/sessions/{id}/events", h.StreamEvents)
	mux.HandleFunc("GET /api/videos/{id}", h.GetVideo)
	mux.HandleFunc("GET /api/tags/{tag}/videos", h.SearchTag)
	mux.HandleFunc("GET /api/channels/{id}/export", h.ExportChannel)
	mux.HandleFunc("POST /api/consolidate", h.Consolidate)

	return otelhttp.NewHandler(h.countRequests(mux), "videotagger.http")
}

// ProcessVideos starts a processing session for a list of seed videos
func (h *Handler) ProcessVideos(w http.ResponseWriter, r *http.Request) {
	req := pipeline.Request{
		NumVideos:          h.defaults.NumVideos,
		NumComments:        h.defaults.NumComments,
		NumTags:            h.defaults.NumTags,
		ClusteringStrength: h.defaults.ClusteringStrength,
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := h.starter.StartSession(r.Context(), req)
	if errors.Is(err, pipeline.ErrInvalidRequest) {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.log.WithRequest(r).WithError(err).Error("failed to start session")
		respondError(w, fmt.Sprintf("Failed to start session: %v", err), http.StatusInternalServerError)
		return
	}

	h.log.WithRequest(r).WithField("session_id", sess.ID).Info("session started")
	respondJSON(w, map[string]string{"session_id": sess.ID}, http.StatusAccepted)
}

// ListSessions lists sessions, newest first, with pagination
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	sessions, err := h.storage.ListSessions(r.Context(), limit, offset)
	if err != nil {
		respondError(w, fmt.Sprintf("Failed to list sessions: %v", err), http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
		"limit":    limit,
		"offset":   offset,
	}, http.StatusOK)
}

// GetSession returns a session and how many of its jobs are in each state
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	jobs, err := h.storage.ListSessionJobs(r.Context(), sess.ID)
	if err != nil {
		respondError(w, fmt.Sprintf("Failed to list jobs: %v", err), http.StatusInternalServerError)
		return
	}
	counts := map[string]int{
		storage.JobQueued:     0,
		storage.JobProcessing: 0,
		storage.JobCompleted:  0,
		storage.JobFailed:     0,
	}
	for _, j := range jobs {
		counts[j.Status]++
	}

	respondJSON(w, SessionResponse{Session: sess, Jobs: counts}, http.StatusOK)
}

// ListUpdates returns a session's persisted progress messages in order
func (h *Handler) ListUpdates(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	updates, err := h.storage.ListUpdates(r.Context(), sess.ID)
	if err != nil {
		respondError(w, fmt.Sprintf("Failed to list updates: %v", err), http.StatusInternalServerError)
		return
	}
	if updates == nil {
		updates = []*storage.Update{}
	}
	respondJSON(w, map[string]interface{}{
		"updates": updates,
		"count":   len(updates),
	}, http.StatusOK)
}

// GetVideo returns a stored video with its tags
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("id")

	video, err := h.storage.GetVideo(r.Context(), videoID)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, "Video not found", http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, fmt.Sprintf("Failed to get video: %v", err), http.StatusInternalServerError)
		return
	}

	tags, err := h.storage.GetVideoTags(r.Context(), videoID)
	if err != nil {
		respondError(w, fmt.Sprintf("Failed to get tags: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, VideoResponse{Video: video, TagList: tags}, http.StatusOK)
}

// SearchTag lists the videos carrying a tag
func (h *Handler) SearchTag(w http.ResponseWriter, r *http.Request) {
	tag := tagging.Normalize(r.PathValue("tag"))
	if tag == "" {
		respondError(w, "Tag is required", http.StatusBadRequest)
		return
	}

	videoIDs, err := h.storage.SearchVideosByTag(r.Context(), tag)
	if err != nil {
		respondError(w, fmt.Sprintf("Failed to search tags: %v", err), http.StatusInternalServerError)
		return
	}
	if videoIDs == nil {
		videoIDs = []string{}
	}
	respondJSON(w, map[string]interface{}{
		"tag":       tag,
		"video_ids": videoIDs,
		"count":     len(videoIDs),
	}, http.StatusOK)
}

// ExportChannel streams an xlsx workbook of a channel's videos and tags
func (h *Handler) ExportChannel(w http.ResponseWriter, r *http.Request) {
	wb, err := export.Build(r.Context(), h.storage, r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, "Channel not found", http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, fmt.Sprintf("Failed to build export: %v", err), http.StatusInternalServerError)
		return
	}
	defer wb.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", wb.Filename()))
	w.WriteHeader(http.StatusOK)
	if _, err := wb.WriteTo(w); err != nil {
		h.log.WithRequest(r).WithError(err).Error("failed to write export")
	}
}

// Consolidate runs tag consolidation directly and returns the clusters
func (h *Handler) Consolidate(w http.ResponseWriter, r *http.Request) {
	var req ConsolidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	strength := h.defaults.ClusteringStrength
	if req.ClusteringStrength != nil {
		strength = *req.ClusteringStrength
	}

	result, err := h.consolidator.ConsolidateDetailed(r.Context(), req.Tags, strength)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, tagging.ErrClustering) {
			status = http.StatusBadRequest
		}
		h.log.WithRequest(r).WithError(err).Warn("consolidation failed")
		respondError(w, err.Error(), status)
		return
	}
	respondJSON(w, result, http.StatusOK)
}

// Health reports whether the service and its database are reachable
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.Ping(r.Context()); err != nil {
		respondJSON(w, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		}, http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, map[string]string{
		"status":   "healthy",
		"database": h.storage.Driver(),
	}, http.StatusOK)
}

func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (*storage.Session, bool) {
	sess, err := h.storage.GetSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		respondError(w, fmt.Sprintf("Failed to get session: %v", err), http.StatusInternalServerError)
		return nil, false
	}
	return sess, true
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
