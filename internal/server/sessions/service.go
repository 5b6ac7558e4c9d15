// Package sessions implements the session store: it owns refresh-token
// records and enforces the rotation, replay-containment, and revocation rules
// over them. Services never touch the underlying rows directly.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avolkov/authcore/internal/common"
	"github.com/avolkov/authcore/internal/dbx"
	"github.com/avolkov/authcore/internal/logging"
	"github.com/avolkov/authcore/internal/server/models"
	"github.com/avolkov/authcore/internal/server/repositories/refreshtokens"
	"github.com/avolkov/authcore/internal/server/repositories/repomanager"
)

// recordIDBytes sizes the random record id; 32 bytes = 256 bits of entropy,
// well past the unguessability the records need.
const recordIDBytes = 32

// maxChainDepth bounds the iterative chain walk during replay containment so
// corrupted predecessor graphs cannot drive an unbounded loop.
const maxChainDepth = 64

// Service owns refresh-token records. Rotation runs as a single database
// transaction whose conditional revoke is the linearization point: of N
// concurrent rotations of one record, exactly one wins.
type Service struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	validity time.Duration
	now      func() time.Time
	logger   logging.Logger
}

// NewService constructs the session store.
func NewService(db *sql.DB, repos repomanager.RepositoryManager, validity time.Duration, logger logging.Logger) *Service {
	return &Service{
		db:       db,
		repos:    repos,
		validity: validity,
		now:      time.Now,
		logger:   logger.With("module", "sessions"),
	}
}

func (s *Service) newRecord(subjectID string, predecessorID *string) (*models.RefreshToken, error) {
	id, err := common.MakeRandHexString(recordIDBytes)
	if err != nil {
		return nil, fmt.Errorf("error generating record id: %w", err)
	}
	now := s.now()
	return &models.RefreshToken{
		ID:            id,
		UserID:        subjectID,
		IssuedAt:      now,
		Expires:       now.Add(s.validity),
		Revoked:       false,
		PredecessorID: predecessorID,
	}, nil
}

// Create starts a new rotation chain for subjectID and returns its root record.
func (s *Service) Create(ctx context.Context, subjectID string) (*models.RefreshToken, error) {
	record, err := s.newRecord(subjectID, nil)
	if err != nil {
		return nil, err
	}
	if err := s.repos.RefreshTokens(s.db).Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Rotate consumes the record named by id and mints its successor inside one
// transaction. Outcomes:
//   - absent record: common.ErrInvalidToken
//   - expired record: common.ErrRefreshTokenExpired
//   - revoked record, or losing a concurrent rotation race: every record
//     reachable forward through the chain is revoked (theft containment) and
//     common.ErrTokenReplay is returned
//   - otherwise: the presented record is revoked and the successor returned
func (s *Service) Rotate(ctx context.Context, id string) (*models.RefreshToken, error) {
	var successor *models.RefreshToken
	var replayed *models.RefreshToken

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.RefreshTokens(tx)

		record, err := repo.Find(ctx, id)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidToken
			}
			return err
		}

		if record.Revoked {
			replayed = record
			return common.ErrTokenReplay
		}

		if record.Expired(s.now()) {
			return common.ErrRefreshTokenExpired
		}

		flipped, err := repo.MarkRevoked(ctx, record.ID)
		if err != nil {
			return err
		}
		if !flipped {
			// A concurrent rotation won the race after our read.
			replayed = record
			return common.ErrTokenReplay
		}

		successor, err = s.newRecord(record.UserID, &record.ID)
		if err != nil {
			return err
		}
		return repo.Create(ctx, successor)
	})
	if err != nil {
		// The rotation transaction rolls back with the replay sentinel, so
		// containment must run in its own transaction: the revocations have
		// to commit even though the rotation itself failed.
		if errors.Is(err, common.ErrTokenReplay) && replayed != nil {
			return nil, s.containReplay(ctx, replayed)
		}
		return nil, err
	}

	return successor, nil
}

// containReplay revokes everything reachable forward from record in its own
// committed transaction and reports the replay to the caller.
func (s *Service) containReplay(ctx context.Context, record *models.RefreshToken) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos.RefreshTokens(tx)
		revoked, err := s.revokeSuccessors(ctx, repo, record.ID)
		if err != nil {
			return err
		}
		s.logger.Warn(ctx, "refresh token replay detected, chain revoked",
			"subject", record.UserID, "revoked_successors", revoked)
		return nil
	})
	if err != nil {
		return err
	}
	return common.ErrTokenReplay
}

// revokeSuccessors walks the chain tip-ward from id, revoking every link.
// The walk is iterative and bounded by maxChainDepth.
func (s *Service) revokeSuccessors(ctx context.Context, repo refreshtokens.Repository, id string) (int, error) {
	revoked := 0
	current := id
	for depth := 0; depth < maxChainDepth; depth++ {
		next, err := repo.FindSuccessor(ctx, current)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return revoked, nil
			}
			return revoked, err
		}
		if err := repo.Revoke(ctx, next.ID); err != nil {
			return revoked, err
		}
		revoked++
		current = next.ID
	}
	s.logger.Warn(ctx, "chain revocation hit depth guard", "record_id", id, "depth", maxChainDepth)
	return revoked, nil
}

// Revoke marks the record revoked. Idempotent: revoking an already-revoked or
// unknown id succeeds, so callers cannot probe for record existence.
func (s *Service) Revoke(ctx context.Context, id string) error {
	return s.repos.RefreshTokens(s.db).Revoke(ctx, id)
}

// RevokeAllForSubject revokes every live record of subjectID
// (logout-everywhere, detected compromise).
func (s *Service) RevokeAllForSubject(ctx context.Context, subjectID string) error {
	return s.repos.RefreshTokens(s.db).RevokeAllForUser(ctx, subjectID)
}

// IsValid reports whether id names a record that is present, not revoked,
// and not expired.
func (s *Service) IsValid(ctx context.Context, id string) (bool, error) {
	record, err := s.repos.RefreshTokens(s.db).Find(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, err
	}
	return !record.Revoked && !record.Expired(s.now()), nil
}

// PurgeExpired deletes records that have been expired for longer than the
// retention grace period and returns the number of rows removed.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	return s.repos.RefreshTokens(s.db).DeleteExpiredBefore(ctx, cutoff)
}
