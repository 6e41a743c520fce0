package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"testing"
	"time"
)

// setupTestDB creates a temporary test database and returns a cleanup function
func setupTestDB(t *testing.T) (*Storage, func()) {
	t.Helper()
	dbPath := fmt.Sprintf("test_storage_%d.db", time.Now().UnixNano())

	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test storage: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.Remove(dbPath)
	}

	return store, cleanup
}

func TestNew(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if store.db == nil {
		t.Fatal("Database connection is nil")
	}
	if store.Driver() != DriverSQLite {
		t.Errorf("Expected driver %q, got %q", DriverSQLite, store.Driver())
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dbPath := fmt.Sprintf("test_migrations_%d.db", time.Now().UnixNano())
	defer os.Remove(dbPath)

	for i := 0; i < 2; i++ {
		store, err := New(dbPath)
		if err != nil {
			t.Fatalf("Open %d failed: %v", i, err)
		}
		var version int
		if err := store.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
			t.Fatalf("Failed to read schema version: %v", err)
		}
		if version != migrations[len(migrations)-1].Version {
			t.Errorf("Expected schema version %d, got %d", migrations[len(migrations)-1].Version, version)
		}
		store.Close()
	}
}

func TestRebind(t *testing.T) {
	pg := &Storage{driver: DriverPostgres}
	if got := pg.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)"); got != "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)" {
		t.Errorf("Unexpected postgres query: %s", got)
	}

	lite := &Storage{driver: DriverSQLite}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("SQLite query should be unchanged, got %s", got)
	}
}

func TestChannelRoundTrip(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.GetChannel(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	ch := &Channel{
		ChannelID:               "UC123",
		ChannelName:             "Field Notes",
		ChannelSlug:             "field-notes",
		LinkToChannel:           "https://www.youtube.com/channel/UC123",
		About:                   "Long form interviews",
		NumberOfTotalVideos:     240,
		NumberOfRetrievedVideos: 2,
		IDsOfRetrievedVideos:    []string{"v1", "v2"},
		Subscribers:             1200,
		ChannelRetrievalDate:    time.Now().UTC().Truncate(time.Second),
	}
	if err := store.UpsertChannel(ctx, ch); err != nil {
		t.Fatalf("Failed to upsert channel: %v", err)
	}

	ch.Subscribers = 1300
	ch.IDsOfRetrievedVideos = []string{"v1", "v2", "v3"}
	ch.NumberOfRetrievedVideos = 3
	if err := store.UpsertChannel(ctx, ch); err != nil {
		t.Fatalf("Failed to refresh channel: %v", err)
	}

	got, err := store.GetChannel(ctx, "UC123")
	if err != nil {
		t.Fatalf("Failed to get channel: %v", err)
	}
	if got.Subscribers != 1300 || got.NumberOfRetrievedVideos != 3 {
		t.Errorf("Channel was not refreshed: %+v", got)
	}
	if !reflect.DeepEqual(got.IDsOfRetrievedVideos, []string{"v1", "v2", "v3"}) {
		t.Errorf("Unexpected video ids: %v", got.IDsOfRetrievedVideos)
	}
	if got.ChannelSlug != "field-notes" {
		t.Errorf("Expected slug field-notes, got %q", got.ChannelSlug)
	}
}

func TestVideosAndComments(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	videos := []*Video{
		{VideoID: "v1", ChannelID: "UC1", Title: "First", ViewCount: 10, RetrievalDate: now},
		{VideoID: "v2", ChannelID: "UC1", Title: "Second", ViewCount: 500, RetrievalDate: now},
		{VideoID: "v3", ChannelID: "UC2", Title: "Other", ViewCount: 1, RetrievalDate: now},
	}
	if err := store.UpsertVideos(ctx, videos); err != nil {
		t.Fatalf("Failed to upsert videos: %v", err)
	}
	if err := store.UpsertVideos(ctx, nil); err != nil {
		t.Fatalf("Empty upsert should be a no-op: %v", err)
	}

	list, err := store.ListChannelVideos(ctx, "UC1")
	if err != nil {
		t.Fatalf("Failed to list videos: %v", err)
	}
	if len(list) != 2 || list[0].VideoID != "v2" || list[1].VideoID != "v1" {
		t.Fatalf("Expected [v2 v1] ordered by views, got %d videos", len(list))
	}

	if _, err := store.GetVideo(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	comments := []*Comment{
		{CommentID: "c1", VideoID: "v1", Author: "a", Likes: 3, Text: "great", RetrievalDate: now},
		{CommentID: "c1.r1", VideoID: "v1", Author: "b", ParentID: "c1", Text: "agreed", RetrievalDate: now},
	}
	if err := store.UpsertComments(ctx, comments); err != nil {
		t.Fatalf("Failed to upsert comments: %v", err)
	}
	comments[0].Likes = 7
	if err := store.UpsertComments(ctx, comments[:1]); err != nil {
		t.Fatalf("Failed to refresh comment: %v", err)
	}

	stored, err := store.ListVideoComments(ctx, "v1")
	if err != nil {
		t.Fatalf("Failed to list comments: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("Expected 2 comments, got %d", len(stored))
	}
	for _, c := range stored {
		if c.CommentID == "c1" && c.Likes != 7 {
			t.Errorf("Expected refreshed likes 7, got %d", c.Likes)
		}
		if c.CommentID == "c1.r1" && c.ParentID != "c1" {
			t.Errorf("Reply lost its parent: %+v", c)
		}
	}
}

func TestReplaceVideoTags(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.UpsertVideos(ctx, []*Video{{VideoID: "v1", Title: "t", RetrievalDate: time.Now()}}); err != nil {
		t.Fatalf("Failed to upsert video: %v", err)
	}

	if err := store.ReplaceVideoTags(ctx, "v1", []string{"cooking", "elon musk"}); err != nil {
		t.Fatalf("Failed to store tags: %v", err)
	}
	if err := store.ReplaceVideoTags(ctx, "v1", []string{"baking", "cooking"}); err != nil {
		t.Fatalf("Failed to replace tags: %v", err)
	}

	tags, err := store.GetVideoTags(ctx, "v1")
	if err != nil {
		t.Fatalf("Failed to get tags: %v", err)
	}
	if !reflect.DeepEqual(tags, []string{"baking", "cooking"}) {
		t.Errorf("Expected replaced tags, got %v", tags)
	}

	video, err := store.GetVideo(ctx, "v1")
	if err != nil {
		t.Fatalf("Failed to get video: %v", err)
	}
	if video.Tags != "baking, cooking" {
		t.Errorf("Expected joined tags, got %q", video.Tags)
	}

	ids, err := store.SearchVideosByTag(ctx, "cooking")
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"v1"}) {
		t.Errorf("Expected [v1], got %v", ids)
	}

	if err := store.ReplaceVideoTags(ctx, "v1", nil); err != nil {
		t.Fatalf("Failed to clear tags: %v", err)
	}
	tags, _ = store.GetVideoTags(ctx, "v1")
	if len(tags) != 0 {
		t.Errorf("Expected no tags after clearing, got %v", tags)
	}
}

func TestTranscripts(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.GetLatestTranscript(ctx, "v1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	failed := &Transcript{
		VideoID:       "v1",
		Status:        TranscriptFailed,
		ErrorMessage:  "captions disabled",
		RetrievalDate: time.Now().UTC().Add(-time.Hour),
	}
	if err := store.SaveTranscript(ctx, failed); err != nil {
		t.Fatalf("Failed to save failed transcript: %v", err)
	}

	done := &Transcript{
		VideoID: "v1",
		Status:  TranscriptCompleted,
		Segments: []TranscriptSegment{
			{Text: "hello", Start: 0, Duration: 1.5},
			{Text: "world", Start: 1.5, Duration: 1},
		},
	}
	if err := store.SaveTranscript(ctx, done); err != nil {
		t.Fatalf("Failed to save transcript: %v", err)
	}
	if done.ID == 0 || done.Source != TranscriptSource {
		t.Errorf("Expected id and default source to be set, got %+v", done)
	}

	latest, err := store.GetLatestTranscript(ctx, "v1")
	if err != nil {
		t.Fatalf("Failed to get transcript: %v", err)
	}
	if latest.Status != TranscriptCompleted {
		t.Errorf("Expected latest status completed, got %s", latest.Status)
	}
	if latest.Text() != "hello world" {
		t.Errorf("Expected joined text, got %q", latest.Text())
	}
}

func TestUpdatesOrdering(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	msgs := []string{"Starting video processing...", "Saved 3 comments for video ID: v1", "Video processing completed."}
	for i, m := range msgs {
		u := &Update{ID: fmt.Sprintf("01H%023d", i), SessionID: "s1", Message: m, Timestamp: time.Now()}
		if err := store.InsertUpdate(ctx, u); err != nil {
			t.Fatalf("Failed to insert update: %v", err)
		}
	}
	if err := store.InsertUpdate(ctx, &Update{ID: "01Z", SessionID: "s2", Message: "other", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Failed to insert update: %v", err)
	}

	updates, err := store.ListUpdates(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to list updates: %v", err)
	}
	if len(updates) != len(msgs) {
		t.Fatalf("Expected %d updates, got %d", len(msgs), len(updates))
	}
	for i, u := range updates {
		if u.Message != msgs[i] {
			t.Errorf("Update %d: expected %q, got %q", i, msgs[i], u.Message)
		}
	}
}
