package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS study_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'unassigned',
		social_style TEXT,
		persona TEXT,
		domain TEXT,
		condition TEXT,
		profile_survey JSONB,
		consent_accepted BOOLEAN NOT NULL DEFAULT FALSE,
		match_status TEXT NOT NULL DEFAULT 'pre_consent',
		matched_session_id TEXT,
		first_message_sender TEXT,
		waiting_room_entered_at TIMESTAMPTZ,
		matched_at TIMESTAMPTZ,
		proceed_to_chat_at TIMESTAMPTZ,
		session_status TEXT NOT NULL DEFAULT 'pre_consent',
		started_at TIMESTAMPTZ NOT NULL,
		conversation_started_at TIMESTAMPTZ,
		last_updated TIMESTAMPTZ NOT NULL,
		recovered_from_restart BOOLEAN NOT NULL DEFAULT FALSE,
		requeue_count INTEGER NOT NULL DEFAULT 0,
		counter_decremented BOOLEAN NOT NULL DEFAULT FALSE,
		timeout_screen TEXT,
		conversation JSONB NOT NULL DEFAULT '[]',
		ratings JSONB NOT NULL DEFAULT '[]',
		comments JSONB NOT NULL DEFAULT '[]',
		ui_events JSONB NOT NULL DEFAULT '[]',
		outcome JSONB NOT NULL DEFAULT '{}',
		previous_partner_id TEXT
	)`,
	`ALTER TABLE study_sessions ADD COLUMN IF NOT EXISTS previous_partner_id TEXT`,
	`CREATE INDEX IF NOT EXISTS study_sessions_waiting_idx
		ON study_sessions (role, waiting_room_entered_at)
		WHERE match_status = 'waiting'`,
	`CREATE INDEX IF NOT EXISTS study_sessions_status_idx
		ON study_sessions (session_status, match_status)`,
	`CREATE TABLE IF NOT EXISTS role_counter (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		interrogator_count INTEGER NOT NULL DEFAULT 0,
		witness_count INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`INSERT INTO role_counter (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS dropped_participants (
		id TEXT PRIMARY KEY,
		participant_id TEXT NOT NULL,
		external_id TEXT,
		reason TEXT NOT NULL,
		ui_events JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS dropped_participants_participant_idx
		ON dropped_participants (participant_id)`,
}

// Migrate creates the tables if they are missing. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
