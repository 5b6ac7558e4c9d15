// Package refreshtokens declares the repository contract over refresh-token
// records, the persisted links of rotation chains.
package refreshtokens

import (
	"context"
	"time"

	"github.com/avolkov/authcore/internal/server/models"
)

// Repository defines storage operations over refresh-token records. The
// session store is the only caller; nothing else writes these rows.
type Repository interface {
	// Create inserts a new record.
	Create(ctx context.Context, token *models.RefreshToken) error

	// Find looks a record up by id. Implementations return
	// common.ErrorNotFound when the record is absent.
	Find(ctx context.Context, id string) (*models.RefreshToken, error)

	// MarkRevoked flips the revoked flag only if it is not set yet and
	// reports whether this call did the flip. Run inside a transaction it is
	// the linearization point for rotation: of N concurrent callers exactly
	// one observes true.
	MarkRevoked(ctx context.Context, id string) (bool, error)

	// Revoke marks the record revoked. Idempotent; absent ids are a no-op.
	Revoke(ctx context.Context, id string) error

	// FindSuccessor returns the record whose predecessor pointer names id,
	// or common.ErrorNotFound if the chain ends here.
	FindSuccessor(ctx context.Context, id string) (*models.RefreshToken, error)

	// RevokeAllForUser revokes every non-expired record of userID.
	RevokeAllForUser(ctx context.Context, userID string) error

	// DeleteExpiredBefore removes records whose expiry predates cutoff and
	// returns how many rows were deleted.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
