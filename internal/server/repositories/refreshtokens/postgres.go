package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avolkov/authcore/internal/common"
	"github.com/avolkov/authcore/internal/dbx"
	"github.com/avolkov/authcore/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new refresh-token record.
func (r *PostgresRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, issued_at, expires_at, revoked, predecessor_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		token.ID, token.UserID, token.IssuedAt, token.Expires, token.Revoked, token.PredecessorID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Find returns the refresh-token record for the given id.
// If not found, it returns common.ErrorNotFound.
func (r *PostgresRepository) Find(ctx context.Context, id string) (*models.RefreshToken, error) {
	query := `
		SELECT id, user_id, issued_at, expires_at, revoked, predecessor_id
		FROM refresh_tokens
		WHERE id = $1
	`
	token := &models.RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&token.ID, &token.UserID, &token.IssuedAt, &token.Expires, &token.Revoked, &token.PredecessorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

// MarkRevoked flips the revoked flag iff it is currently clear. The
// conditional predicate is re-evaluated by the database after any lock wait,
// so of two racing transactions only one sees a row flip.
func (r *PostgresRepository) MarkRevoked(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE id = $1 AND NOT revoked
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

// Revoke marks the record revoked; already-revoked or absent ids are a no-op.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// FindSuccessor returns the record that was minted by rotating id.
func (r *PostgresRepository) FindSuccessor(ctx context.Context, id string) (*models.RefreshToken, error) {
	query := `
		SELECT id, user_id, issued_at, expires_at, revoked, predecessor_id
		FROM refresh_tokens
		WHERE predecessor_id = $1
	`
	token := &models.RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&token.ID, &token.UserID, &token.IssuedAt, &token.Expires, &token.Revoked, &token.PredecessorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

// RevokeAllForUser revokes every live record of userID.
func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE user_id = $1 AND NOT revoked AND expires_at > NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteExpiredBefore garbage-collects records that expired before cutoff.
func (r *PostgresRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
