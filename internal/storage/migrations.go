package storage

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations contains all SQLite migrations in order
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_youtube_schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS channels (
				channel_id TEXT PRIMARY KEY,
				channel_name TEXT NOT NULL,
				link_to_channel TEXT NOT NULL,
				about TEXT,
				number_of_total_videos INTEGER NOT NULL DEFAULT 0,
				number_of_retrieved_videos INTEGER NOT NULL DEFAULT 0,
				ids_of_retrieved_videos TEXT,
				subscribers INTEGER NOT NULL DEFAULT 0,
				channel_retrieval_date TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS videos (
				video_id TEXT PRIMARY KEY,
				channel_id TEXT,
				title TEXT NOT NULL,
				description TEXT,
				duration TEXT,
				view_count INTEGER NOT NULL DEFAULT 0,
				like_count INTEGER NOT NULL DEFAULT 0,
				comment_count INTEGER NOT NULL DEFAULT 0,
				tags TEXT,
				retrieval_date TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_videos_channel_id ON videos(channel_id);

			CREATE TABLE IF NOT EXISTS comments (
				comment_id TEXT PRIMARY KEY,
				video_id TEXT NOT NULL,
				comment_author TEXT,
				comment_likes INTEGER NOT NULL DEFAULT 0,
				comment_published_at TEXT,
				comment_updated_at TEXT,
				comment_parent_id TEXT,
				comment_text TEXT,
				comment_retrieval_date TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_comments_video_id ON comments(video_id);
		`,
	},
	{
		Version: 2,
		Name:    "add_transcripts_and_tags",
		SQL: `
			CREATE TABLE IF NOT EXISTS transcripts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				video_id TEXT NOT NULL,
				transcript TEXT,
				retrieval_date TIMESTAMP NOT NULL,
				status TEXT NOT NULL,
				source TEXT NOT NULL,
				error_message TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_transcripts_video_id ON transcripts(video_id);

			CREATE TABLE IF NOT EXISTS tags (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				video_id TEXT NOT NULL,
				tag TEXT NOT NULL,
				processed_date TIMESTAMP NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);
			CREATE INDEX IF NOT EXISTS idx_tags_video_id ON tags(video_id);
		`,
	},
	{
		Version: 3,
		Name:    "add_sessions_jobs_and_updates",
		SQL: `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				status TEXT NOT NULL,
				video_ids_json TEXT NOT NULL,
				num_videos INTEGER NOT NULL,
				num_comments INTEGER NOT NULL,
				num_tags INTEGER NOT NULL,
				clustering_strength REAL NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				completed_at TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at DESC);

			CREATE TABLE IF NOT EXISTS processing_jobs (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				target_id TEXT NOT NULL,
				status TEXT NOT NULL,
				retries INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				asynq_task_id TEXT,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				completed_at TIMESTAMP,
				FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_processing_jobs_session ON processing_jobs(session_id, status);

			CREATE TABLE IF NOT EXISTS updates (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				message TEXT NOT NULL,
				timestamp TIMESTAMP NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_updates_session ON updates(session_id, id);
		`,
	},
	{
		Version: 4,
		Name:    "add_channel_slug",
		SQL: `
			-- Slug used for export file and sheet names
			ALTER TABLE channels ADD COLUMN channel_slug TEXT;
		`,
	},
}

// RunMigrations executes all pending migrations
func RunMigrations(db *sql.DB) error {
	return runMigrations(db, migrations, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`, "INSERT INTO schema_version (version) VALUES (?)")
}

func runMigrations(db *sql.DB, pending []Migration, createVersionTable, recordVersion string) error {
	// Create schema_version table if it doesn't exist
	if _, err := db.Exec(createVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	for _, migration := range pending {
		if migration.Version <= currentVersion {
			continue
		}

		logrus.WithFields(logrus.Fields{
			"version": migration.Version,
			"name":    migration.Name,
		}).Info("applying migration")
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		if _, err := tx.Exec(recordVersion, migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
