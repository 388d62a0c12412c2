package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/GophRelay/internal/models"
)

// PostgresCorrelationRepository stores reply correlations in PostgreSQL so
// replies keep working across restarts. Old rows are removed by db.StartCorrelationCleaner.
type PostgresCorrelationRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
	// MaxAge hides rows older than this from Get. Zero disables the check.
	MaxAge time.Duration

	now func() time.Time
}

// NewPostgresCorrelationRepository creates a PostgresCorrelationRepository.
func NewPostgresCorrelationRepository(db *sql.DB, maxAge time.Duration) *PostgresCorrelationRepository {
	return &PostgresCorrelationRepository{DB: db, MaxAge: maxAge, now: time.Now}
}

// Put records that ref was forwarded for user.
func (r *PostgresCorrelationRepository) Put(ctx context.Context, ref models.MessageRef, user models.UserID) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO correlations (chat_id, message_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id, message_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			created_at = EXCLUDED.created_at
	`, ref.ChatID, ref.MessageID, user, r.now())
	if err != nil {
		return fmt.Errorf("insert correlation: %w", err)
	}
	return nil
}

// Get returns the user recorded for ref.
func (r *PostgresCorrelationRepository) Get(ctx context.Context, ref models.MessageRef) (models.UserID, bool, error) {
	var cutoff time.Time
	if r.MaxAge > 0 {
		cutoff = r.now().Add(-r.MaxAge)
	}

	var user models.UserID
	err := r.DB.QueryRowContext(ctx, `
		SELECT user_id FROM correlations
		WHERE chat_id = $1 AND message_id = $2 AND created_at > $3
	`, ref.ChatID, ref.MessageID, cutoff).Scan(&user)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select correlation: %w", err)
	}
	return user, true, nil
}
