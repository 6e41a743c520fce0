package storage

import (
	"database/sql"
)

// PostgreSQL-specific migrations, mirroring the SQLite versions with
// SERIAL keys and TIMESTAMPTZ columns.
var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_youtube_schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS channels (
				channel_id TEXT PRIMARY KEY,
				channel_name TEXT NOT NULL,
				link_to_channel TEXT NOT NULL,
				about TEXT,
				number_of_total_videos BIGINT NOT NULL DEFAULT 0,
				number_of_retrieved_videos INTEGER NOT NULL DEFAULT 0,
				ids_of_retrieved_videos JSONB,
				subscribers BIGINT NOT NULL DEFAULT 0,
				channel_retrieval_date TIMESTAMPTZ
			);

			CREATE TABLE IF NOT EXISTS videos (
				video_id TEXT PRIMARY KEY,
				channel_id TEXT,
				title TEXT NOT NULL,
				description TEXT,
				duration TEXT,
				view_count BIGINT NOT NULL DEFAULT 0,
				like_count BIGINT NOT NULL DEFAULT 0,
				comment_count BIGINT NOT NULL DEFAULT 0,
				tags TEXT,
				retrieval_date TIMESTAMPTZ
			);

			CREATE INDEX IF NOT EXISTS idx_videos_channel_id ON videos(channel_id);

			CREATE TABLE IF NOT EXISTS comments (
				comment_id TEXT PRIMARY KEY,
				video_id TEXT NOT NULL,
				comment_author TEXT,
				comment_likes BIGINT NOT NULL DEFAULT 0,
				comment_published_at TEXT,
				comment_updated_at TEXT,
				comment_parent_id TEXT,
				comment_text TEXT,
				comment_retrieval_date TIMESTAMPTZ
			);

			CREATE INDEX IF NOT EXISTS idx_comments_video_id ON comments(video_id);
		`,
	},
	{
		Version: 2,
		Name:    "add_transcripts_and_tags",
		SQL: `
			CREATE TABLE IF NOT EXISTS transcripts (
				id SERIAL PRIMARY KEY,
				video_id TEXT NOT NULL,
				transcript JSONB,
				retrieval_date TIMESTAMPTZ NOT NULL,
				status TEXT NOT NULL,
				source TEXT NOT NULL,
				error_message TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_transcripts_video_id ON transcripts(video_id);

			CREATE TABLE IF NOT EXISTS tags (
				id SERIAL PRIMARY KEY,
				video_id TEXT NOT NULL,
				tag TEXT NOT NULL,
				processed_date TIMESTAMPTZ NOT NULL
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
				video_ids_json JSONB NOT NULL,
				num_videos INTEGER NOT NULL,
				num_comments INTEGER NOT NULL,
				num_tags INTEGER NOT NULL,
				clustering_strength DOUBLE PRECISION NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				completed_at TIMESTAMPTZ
			);

			CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at DESC);

			CREATE TABLE IF NOT EXISTS processing_jobs (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				kind TEXT NOT NULL,
				target_id TEXT NOT NULL,
				status TEXT NOT NULL,
				retries INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				asynq_task_id TEXT,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				completed_at TIMESTAMPTZ
			);

			CREATE INDEX IF NOT EXISTS idx_processing_jobs_session ON processing_jobs(session_id, status);

			CREATE TABLE IF NOT EXISTS updates (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				message TEXT NOT NULL,
				timestamp TIMESTAMPTZ NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_updates_session ON updates(session_id, id);
		`,
	},
	{
		Version: 4,
		Name:    "add_channel_slug",
		SQL: `
			ALTER TABLE channels ADD COLUMN IF NOT EXISTS channel_slug TEXT;
		`,
	},
}

// RunPostgresMigrations executes all pending PostgreSQL migrations
func RunPostgresMigrations(db *sql.DB) error {
	return runMigrations(db, postgresMigrations, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`, "INSERT INTO schema_version (version) VALUES ($1)")
}
