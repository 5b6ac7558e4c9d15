// Package services implements the authentication service: credential
// verification, token issuance, refresh rotation, and revocation. It composes
// the hasher, the token codec, and the session store; handlers above it only
// translate transport.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avolkov/authcore/internal/common"
	"github.com/avolkov/authcore/internal/logging"
	"github.com/avolkov/authcore/internal/server/audit"
	"github.com/avolkov/authcore/internal/server/auth"
	"github.com/avolkov/authcore/internal/server/models"
	"github.com/avolkov/authcore/internal/server/password"
	"github.com/avolkov/authcore/internal/server/repositories/repomanager"
	"github.com/avolkov/authcore/internal/server/sessions"
)

// TokenPair is what a successful login or refresh hands back: a short-lived
// signed access token and the opaque id of the refresh record.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// passwordHasher is the slice of password.Hasher the service relies on. The
// seam lets tests observe that the dummy verification really runs on the
// unknown-user path.
type passwordHasher interface {
	Hash(pwd string) (string, error)
	Verify(pwd, hash string) bool
	DummyVerify(pwd string)
}

var _ passwordHasher = (*password.Hasher)(nil)

// AuthService verifies credentials and manages token lifecycles.
type AuthService struct {
	db                  *sql.DB
	repomanager         repomanager.RepositoryManager
	hasher              passwordHasher
	codec               *auth.Codec
	sessions            *sessions.Service
	audit               audit.Recorder
	accessTokenValidity time.Duration
	logger              logging.Logger
}

// NewAuthService wires the service from its collaborators.
func NewAuthService(
	db *sql.DB,
	m repomanager.RepositoryManager,
	hasher passwordHasher,
	codec *auth.Codec,
	sessionStore *sessions.Service,
	recorder audit.Recorder,
	accessTokenValidity time.Duration,
	logger logging.Logger,
) *AuthService {
	return &AuthService{
		db:                  db,
		repomanager:         m,
		hasher:              hasher,
		codec:               codec,
		sessions:            sessionStore,
		audit:               recorder,
		accessTokenValidity: accessTokenValidity,
		logger:              logger.With("module", "services"),
	}
}

// Login verifies username/password and, on success, mints an access token and
// starts a refresh chain. An unknown username burns a dummy hash verification
// so its timing matches the wrong-password path, and both cases collapse into
// common.ErrInvalidCredentials. A disabled account is only reported after the
// password matched, so the disabled state leaks nothing to guessers.
func (s *AuthService) Login(ctx context.Context, username, pwd string) (*TokenPair, error) {
	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.DummyVerify(pwd)
			s.audit.Record(ctx, audit.KindLoginFailure, "", "")
			return nil, common.ErrInvalidCredentials
		}
		s.logger.Error(ctx, "user lookup failed", "error", err)
		return nil, common.ErrorUnavailable
	}

	if !s.hasher.Verify(pwd, user.PasswordHash) {
		s.audit.Record(ctx, audit.KindLoginFailure, user.ID, "")
		return nil, common.ErrInvalidCredentials
	}

	if user.Disabled {
		return nil, common.ErrAccountDisabled
	}

	return s.issueTokenPair(ctx, user.ID)
}

// Refresh rotates the presented refresh record and mints a fresh access token
// for its subject. A replayed record surfaces as common.ErrTokenReplay after
// the session store has revoked the whole chain.
func (s *AuthService) Refresh(ctx context.Context, refreshID string) (*TokenPair, error) {
	record, err := s.sessions.Rotate(ctx, refreshID)
	if err != nil {
		if errors.Is(err, common.ErrTokenReplay) {
			s.audit.Record(ctx, audit.KindTokenReplay, "", refreshID)
		}
		return nil, err
	}

	accessToken, err := s.codec.Mint(record.UserID, auth.TokenTypeAccess, s.accessTokenValidity)
	if err != nil {
		return nil, fmt.Errorf("error minting access token: %w", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: record.ID}, nil
}

// Logout revokes the presented refresh record. It is idempotent and succeeds
// for unknown ids, so the endpoint cannot be used to probe which ids exist.
func (s *AuthService) Logout(ctx context.Context, refreshID string) error {
	return s.sessions.Revoke(ctx, refreshID)
}

// LogoutAll revokes every live refresh record of the subject.
func (s *AuthService) LogoutAll(ctx context.Context, subjectID string) error {
	if err := s.sessions.RevokeAllForSubject(ctx, subjectID); err != nil {
		return err
	}
	s.audit.Record(ctx, audit.KindLogoutEverywhere, subjectID, "")
	return nil
}

// Verify checks an access token against the codec only. No store access, so
// it stays cheap enough to sit on every authenticated request.
func (s *AuthService) Verify(tokenString string) (string, error) {
	claims, err := s.codec.Verify(tokenString, auth.TokenTypeAccess)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// Register creates a user with a freshly hashed password.
func (s *AuthService) Register(ctx context.Context, username, pwd string) (*models.User, error) {
	if username == "" || pwd == "" {
		return nil, common.ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(pwd)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user, err := s.repomanager.Users(s.db).Create(ctx, &models.User{
		UserName:     username,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, common.ErrUserExists) {
			return nil, err
		}
		s.logger.Error(ctx, "user create failed", "error", err)
		return nil, common.ErrorUnavailable
	}

	return user, nil
}

// ChangePassword verifies the current password, stores a hash of the new one,
// and revokes every refresh record of the subject so stolen sessions die with
// the old credential. The new password must differ from the current one.
func (s *AuthService) ChangePassword(ctx context.Context, subjectID, oldPwd, newPwd string) error {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetUserByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidCredentials
		}
		s.logger.Error(ctx, "user lookup failed", "error", err)
		return common.ErrorUnavailable
	}

	if !s.hasher.Verify(oldPwd, user.PasswordHash) {
		s.audit.Record(ctx, audit.KindLoginFailure, user.ID, "")
		return common.ErrInvalidCredentials
	}

	if newPwd == "" {
		return common.ErrInvalidCredentials
	}
	if s.hasher.Verify(newPwd, user.PasswordHash) {
		return common.ErrPasswordUnchanged
	}

	hash, err := s.hasher.Hash(newPwd)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}

	if err := repo.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		s.logger.Error(ctx, "password update failed", "error", err)
		return common.ErrorUnavailable
	}

	return s.LogoutAll(ctx, user.ID)
}

func (s *AuthService) issueTokenPair(ctx context.Context, userID string) (*TokenPair, error) {
	accessToken, err := s.codec.Mint(userID, auth.TokenTypeAccess, s.accessTokenValidity)
	if err != nil {
		return nil, fmt.Errorf("error minting access token: %w", err)
	}

	record, err := s.sessions.Create(ctx, userID)
	if err != nil {
		s.logger.Error(ctx, "refresh record create failed", "error", err)
		return nil, common.ErrorUnavailable
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: record.ID}, nil
}
