// Package repository provides persistence implementations for user records,
// relay settings and reply correlations.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/atinyakov/GophRelay/internal/models"
	"github.com/lib/pq"
)

// Keys of the settings table.
const (
	settingQuestion      = "security_question"
	settingAnswer        = "security_answer"
	settingBackupChannel = "backup_channel"
)

// PostgresUserRepository stores user records and relay settings in PostgreSQL.
type PostgresUserRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresUserRepository creates a PostgresUserRepository using the provided *sql.DB.
// db must be a valid connection to a PostgreSQL instance with the schema applied.
func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{DB: db}
}

// Load reads every user record and the persisted settings.
func (r *PostgresUserRepository) Load(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, display_name, username, auth_state, blocked, failed_attempts, created_at, last_active_at
		FROM users ORDER BY id
	`)
	if err != nil {
		return snap, fmt.Errorf("load users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			u     models.UserRecord
			state string
		)
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Username, &state, &u.Blocked, &u.FailedAttempts, &u.CreatedAt, &u.LastActiveAt); err != nil {
			return snap, fmt.Errorf("scan user: %w", err)
		}
		u.AuthState = models.AuthState(state)
		snap.Users = append(snap.Users, u)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate users: %w", err)
	}

	settings, err := r.loadSettings(ctx, settingQuestion, settingAnswer, settingBackupChannel)
	if err != nil {
		return snap, err
	}
	if q, ok := settings[settingQuestion]; ok {
		snap.Challenge = &models.SecurityChallenge{Question: q, Answer: settings[settingAnswer]}
	}
	if v, ok := settings[settingBackupChannel]; ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return snap, fmt.Errorf("parse backup channel %q: %w", v, err)
		}
		snap.BackupChannel = id
	}
	return snap, nil
}

func (r *PostgresUserRepository) loadSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key, value FROM settings WHERE key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SaveUser inserts the record or replaces the stored one with the same id.
func (r *PostgresUserRepository) SaveUser(ctx context.Context, u models.UserRecord) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO users (id, display_name, username, auth_state, blocked, failed_attempts, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			username = EXCLUDED.username,
			auth_state = EXCLUDED.auth_state,
			blocked = EXCLUDED.blocked,
			failed_attempts = EXCLUDED.failed_attempts,
			last_active_at = EXCLUDED.last_active_at
	`, u.ID, u.DisplayName, u.Username, string(u.AuthState), u.Blocked, u.FailedAttempts, u.CreatedAt, u.LastActiveAt)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// SaveChallenge replaces the question and the answer in one transaction.
func (r *PostgresUserRepository) SaveChallenge(ctx context.Context, c models.SecurityChallenge) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, kv := range [][2]string{{settingQuestion, c.Question}, {settingAnswer, c.Answer}} {
		if err := upsertSetting(ctx, tx, kv[0], kv[1]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveBackupChannel replaces the backup channel id.
func (r *PostgresUserRepository) SaveBackupChannel(ctx context.Context, chatID int64) error {
	return upsertSetting(ctx, r.DB, settingBackupChannel, strconv.FormatInt(chatID, 10))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSetting(ctx context.Context, db execer, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}
