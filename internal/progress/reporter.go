package progress

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/zombar/videotagger/internal/events"
	"github.com/zombar/videotagger/internal/storage"
)

// Store persists progress updates
type Store interface {
	InsertUpdate(ctx context.Context, u *storage.Update) error
}

// Reporter records session progress messages and pushes them to live subscribers
type Reporter struct {
	store     Store
	publisher events.Publisher
	log       *logrus.Entry

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewReporter creates a progress reporter. publisher may be nil when no
// live subscribers exist.
func NewReporter(store Store, publisher events.Publisher, log *logrus.Entry) *Reporter {
	return &Reporter{
		store:     store,
		publisher: publisher,
		log:       log,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// Send persists a message for a session and publishes it. A failure to
// persist is returned; the message is still logged.
func (r *Reporter) Send(ctx context.Context, sessionID, message string) error {
	now := time.Now().UTC()
	update := &storage.Update{
		ID:        r.newID(now),
		SessionID: sessionID,
		Message:   message,
		Timestamp: now,
	}

	r.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"update_id":  update.ID,
	}).Info(message)

	if err := r.store.InsertUpdate(ctx, update); err != nil {
		return fmt.Errorf("failed to persist update: %w", err)
	}

	if r.publisher != nil {
		r.publisher.Publish(events.SessionUpdateEvent{
			ID:        update.ID,
			SessionID: update.SessionID,
			Message:   update.Message,
			Timestamp: update.Timestamp,
		})
	}
	return nil
}

// Sendf formats and sends a message, logging rather than returning a
// persistence failure.
func (r *Reporter) Sendf(ctx context.Context, sessionID, format string, args ...interface{}) {
	if err := r.Send(ctx, sessionID, fmt.Sprintf(format, args...)); err != nil {
		r.log.WithError(err).WithField("session_id", sessionID).Warn("failed to send update")
	}
}

// newID returns a ULID that sorts after every earlier id from this reporter
func (r *Reporter) newID(t time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), r.entropy).String()
}
