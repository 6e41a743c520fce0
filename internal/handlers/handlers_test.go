package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zombar/videotagger/internal/events"
	"github.com/zombar/videotagger/internal/logger"
	"github.com/zombar/videotagger/internal/metrics"
	"github.com/zombar/videotagger/internal/pipeline"
	"github.com/zombar/videotagger/internal/storage"
	"github.com/zombar/videotagger/internal/tagging"
)

// fakeStarter validates and stores the session without dispatching work
type fakeStarter struct {
	store *storage.Storage
	last  pipeline.Request
}

func (f *fakeStarter) StartSession(ctx context.Context, req pipeline.Request) (*storage.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.last = req
	sess := &storage.Session{
		ID:                 fmt.Sprintf("sess-%d", time.Now().UnixNano()),
		VideoIDs:           req.VideoIDs,
		NumVideos:          req.NumVideos,
		NumComments:        req.NumComments,
		NumTags:            req.NumTags,
		ClusteringStrength: req.ClusteringStrength,
	}
	return sess, f.store.CreateSession(ctx, sess)
}

type fakeConsolidator struct {
	threshold float64
	err       error
}

func (f *fakeConsolidator) ConsolidateDetailed(ctx context.Context, raw []string, threshold float64) (*tagging.Result, error) {
	f.threshold = threshold
	if f.err != nil {
		return nil, f.err
	}
	return &tagging.Result{
		Tags:     []string{"cooking"},
		Names:    []string{},
		Clusters: []tagging.ClusterResult{{Representative: "cooking", Members: []string{"cook", "cooking"}}},
		Mapping:  map[string]string{"cook": "cooking", "cooking": "cooking"},
	}, nil
}

type testEnv struct {
	store        *storage.Storage
	starter      *fakeStarter
	consolidator *fakeConsolidator
	broadcaster  *events.Broadcaster
	metrics      *metrics.BusinessMetrics
	router       http.Handler
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dbPath := fmt.Sprintf("test_handlers_%d.db", time.Now().UnixNano())
	store, err := storage.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test storage: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		os.Remove(dbPath)
	})

	env := &testEnv{
		store:        store,
		starter:      &fakeStarter{store: store},
		consolidator: &fakeConsolidator{},
		broadcaster:  events.NewBroadcaster(),
		metrics:      metrics.New(),
	}
	h := New(store, env.starter, env.consolidator, env.broadcaster, env.metrics, logger.Discard(), Defaults{
		NumVideos:          10,
		NumComments:        50,
		NumTags:            5,
		ClusteringStrength: 0.3,
	})
	env.router = h.Routes()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedVideo(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	if err := e.store.UpsertChannel(ctx, &storage.Channel{ChannelID: "UC1", ChannelName: "Test Kitchen", ChannelRetrievalDate: now}); err != nil {
		t.Fatalf("UpsertChannel failed: %v", err)
	}
	if err := e.store.UpsertVideos(ctx, []*storage.Video{{VideoID: "v1", ChannelID: "UC1", Title: "Bread", RetrievalDate: now}}); err != nil {
		t.Fatalf("UpsertVideos failed: %v", err)
	}
	if err := e.store.ReplaceVideoTags(ctx, "v1", []string{"baking", "bread"}); err != nil {
		t.Fatalf("ReplaceVideoTags failed: %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "healthy" || resp["database"] != storage.DriverSQLite {
		t.Errorf("Unexpected health response %v", resp)
	}

	count := testutil.ToFloat64(env.metrics.HTTPRequestsTotal.WithLabelValues("GET /health", "200"))
	if count != 1 {
		t.Errorf("Expected one counted health request, got %v", count)
	}
}

func TestProcessVideos(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
	}{
		{"defaults applied", map[string]interface{}{"video_ids": []string{"abc"}}, http.StatusAccepted},
		{"explicit values", map[string]interface{}{"video_ids": []string{"abc"}, "num_videos": 50, "num_comments": 100, "num_tags": 3, "clustering_strength": 0}, http.StatusAccepted},
		{"no video ids", map[string]interface{}{"video_ids": []string{}}, http.StatusBadRequest},
		{"too many videos", map[string]interface{}{"video_ids": []string{"abc"}, "num_videos": 51}, http.StatusBadRequest},
		{"too many comments", map[string]interface{}{"video_ids": []string{"abc"}, "num_comments": 101}, http.StatusBadRequest},
		{"negative strength", map[string]interface{}{"video_ids": []string{"abc"}, "clustering_strength": -1}, http.StatusBadRequest},
		{"malformed body", "{", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			w := env.do(t, http.MethodPost, "/api/process", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus != http.StatusAccepted {
				return
			}

			var resp map[string]string
			json.NewDecoder(w.Body).Decode(&resp)
			if resp["session_id"] == "" {
				t.Fatal("Expected a session id")
			}
			if _, err := env.store.GetSession(context.Background(), resp["session_id"]); err != nil {
				t.Errorf("Session not stored: %v", err)
			}
		})
	}
}

func TestProcessVideosUsesDefaults(t *testing.T) {
	env := setupTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/process", map[string]interface{}{"video_ids": []string{"abc"}})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}
	got := env.starter.last
	if got.NumVideos != 10 || got.NumComments != 50 || got.NumTags != 5 || got.ClusteringStrength != 0.3 {
		t.Errorf("Defaults not applied: %+v", got)
	}
}

func TestGetSession(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	sess := &storage.Session{ID: "sess-1", VideoIDs: []string{"abc"}, NumVideos: 1, NumComments: 1, NumTags: 1}
	if err := env.store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for i, status := range []string{storage.JobCompleted, storage.JobQueued} {
		job := &storage.ProcessingJob{ID: fmt.Sprintf("job-%d", i), SessionID: "sess-1", Kind: storage.JobTagVideo, TargetID: "v"}
		if err := env.store.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
		if err := env.store.UpdateJobStatus(ctx, job.ID, status, ""); err != nil {
			t.Fatalf("UpdateJobStatus failed: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/sessions/sess-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp struct {
		ID     string         `json:"id"`
		Status string         `json:"status"`
		Jobs   map[string]int `json:"jobs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ID != "sess-1" || resp.Status != storage.SessionRunning {
		t.Errorf("Unexpected session %+v", resp)
	}
	if resp.Jobs[storage.JobCompleted] != 1 || resp.Jobs[storage.JobQueued] != 1 || resp.Jobs[storage.JobFailed] != 0 {
		t.Errorf("Unexpected job counts %v", resp.Jobs)
	}

	if w := env.do(t, http.MethodGet, "/api/sessions/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestListSessions(t *testing.T) {
	env := setupTestEnv(t)
	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/api/process", map[string]interface{}{"video_ids": []string{"abc"}})
	}

	w := env.do(t, http.MethodGet, "/api/sessions?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp struct {
		Count int `json:"count"`
		Limit int `json:"limit"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Count != 2 || resp.Limit != 2 {
		t.Errorf("Expected 2 sessions with limit 2, got %+v", resp)
	}
}

func TestListUpdates(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	if err := env.store.CreateSession(ctx, &storage.Session{ID: "sess-1", VideoIDs: []string{"abc"}}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for i, msg := range []string{"Starting video processing...", "Video processing completed."} {
		if err := env.store.InsertUpdate(ctx, &storage.Update{
			ID:        fmt.Sprintf("u%d", i),
			SessionID: "sess-1",
			Message:   msg,
			Timestamp: time.Now(),
		}); err != nil {
			t.Fatalf("InsertUpdate failed: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/sessions/sess-1/updates", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp struct {
		Updates []storage.Update `json:"updates"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Updates) != 2 || resp.Updates[1].Message != "Video processing completed." {
		t.Errorf("Unexpected updates %+v", resp.Updates)
	}
}

func TestGetVideo(t *testing.T) {
	env := setupTestEnv(t)
	env.seedVideo(t)

	w := env.do(t, http.MethodGet, "/api/videos/v1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp struct {
		VideoID string   `json:"video_id"`
		Tags    string   `json:"tags"`
		TagList []string `json:"tag_list"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.VideoID != "v1" || resp.Tags != "baking, bread" || len(resp.TagList) != 2 {
		t.Errorf("Unexpected video response %+v", resp)
	}

	if w := env.do(t, http.MethodGet, "/api/videos/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestSearchTag(t *testing.T) {
	env := setupTestEnv(t)
	env.seedVideo(t)

	w := env.do(t, http.MethodGet, "/api/tags/Baking/videos", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp struct {
		Tag      string   `json:"tag"`
		VideoIDs []string `json:"video_ids"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Tag != "baking" || len(resp.VideoIDs) != 1 || resp.VideoIDs[0] != "v1" {
		t.Errorf("Unexpected search response %+v", resp)
	}
}

func TestExportChannel(t *testing.T) {
	env := setupTestEnv(t)
	env.seedVideo(t)

	w := env.do(t, http.MethodGet, "/api/channels/UC1/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Unexpected content type %s", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "test-kitchen.xlsx") {
		t.Errorf("Unexpected content disposition %s", cd)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Error("Expected a zip-based xlsx body")
	}

	if w := env.do(t, http.MethodGet, "/api/channels/missing/export", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestConsolidate(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		err           error
		wantStatus    int
		wantThreshold float64
	}{
		{"default strength", `{"tags":["cook","cooking"]}`, nil, http.StatusOK, 0.3},
		{"explicit zero strength", `{"tags":["cook"],"clustering_strength":0}`, nil, http.StatusOK, 0},
		{"invalid threshold", `{"tags":["cook"],"clustering_strength":-1}`, &tagging.ConsolidationError{Stage: tagging.StageClustering, Err: errors.New("negative")}, http.StatusBadRequest, -1},
		{"embedding backend down", `{"tags":["cook"]}`, &tagging.ConsolidationError{Stage: tagging.StageEmbedding, Err: errors.New("refused")}, http.StatusBadGateway, 0.3},
		{"malformed body", `{"tags":`, nil, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			env.consolidator.err = tt.err

			w := env.do(t, http.MethodPost, "/api/consolidate", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if env.consolidator.threshold != tt.wantThreshold {
				t.Errorf("Expected threshold %v, got %v", tt.wantThreshold, env.consolidator.threshold)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var result tagging.Result
			json.NewDecoder(w.Body).Decode(&result)
			if len(result.Tags) != 1 || len(result.Clusters) != 1 || result.Mapping["cook"] != "cooking" {
				t.Errorf("Unexpected result %+v", result)
			}
		})
	}
}

func TestStreamEventsReplaysCompletedSession(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	if err := env.store.CreateSession(ctx, &storage.Session{ID: "sess-1", VideoIDs: []string{"abc"}}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	for i, msg := range []string{"Starting video processing...", completionMessage} {
		env.store.InsertUpdate(ctx, &storage.Update{ID: fmt.Sprintf("u%d", i), SessionID: "sess-1", Message: msg, Timestamp: time.Now()})
	}

	w := env.do(t, http.MethodGet, "/api/sessions/sess-1/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Unexpected content type %s", ct)
	}
	body := w.Body.String()
	if strings.Count(body, "data: ") != 2 || !strings.Contains(body, completionMessage) {
		t.Errorf("Unexpected stream body %q", body)
	}
	if env.broadcaster.SubscriberCount() != 0 {
		t.Error("Expected subscriber to be removed after the stream ended")
	}
}

func TestStreamEventsLive(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	if err := env.store.CreateSession(ctx, &storage.Session{ID: "sess-1", VideoIDs: []string{"abc"}}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	server := httptest.NewServer(env.router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/sessions/sess-1/events")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.broadcaster.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.broadcaster.Publish(events.SessionUpdateEvent{ID: "a", SessionID: "other", Message: "not mine"})
	env.broadcaster.Publish(events.SessionUpdateEvent{ID: "b", SessionID: "sess-1", Message: "Saved 3 comments for video ID: v1"})
	env.broadcaster.Publish(events.SessionUpdateEvent{ID: "c", SessionID: "sess-1", Message: completionMessage})

	var messages []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event events.SessionUpdateEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("Bad event %q: %v", line, err)
		}
		messages = append(messages, event.Message)
	}

	if len(messages) != 2 || messages[1] != completionMessage {
		t.Errorf("Unexpected streamed messages %v", messages)
	}
}
