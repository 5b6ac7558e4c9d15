package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"

	"github.com/avolkov/authcore/internal/common"
	"github.com/avolkov/authcore/internal/dbx"
	"github.com/avolkov/authcore/internal/logging"
	"github.com/avolkov/authcore/internal/server/audit"
	"github.com/avolkov/authcore/internal/server/auth"
	"github.com/avolkov/authcore/internal/server/models"
	"github.com/avolkov/authcore/internal/server/password"
	refreshtokensrepo "github.com/avolkov/authcore/internal/server/repositories/refreshtokens"
	usersrepo "github.com/avolkov/authcore/internal/server/repositories/users"
	"github.com/avolkov/authcore/internal/server/services"
	"github.com/avolkov/authcore/internal/server/sessions"
)

// --- in-memory fakes backing the full stack under the handlers ---

type fakeUsersRepo struct {
	mu     sync.Mutex
	nextID int
	users  map[string]*models.User
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{users: make(map[string]*models.User)}
}

func (f *fakeUsersRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.UserName == user.UserName {
			return nil, common.ErrUserExists
		}
	}
	f.nextID++
	cp := *user
	cp.ID = fmt.Sprintf("u%d", f.nextID)
	f.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeUsersRepo) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.UserName == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsersRepo) UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeUsersRepo) setDisabled(t *testing.T, username string, disabled bool) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.UserName == username {
			u.Disabled = disabled
			return
		}
	}
	t.Fatalf("user %q not found", username)
}

type fakeTokensRepo struct {
	mu         sync.Mutex
	records    map[string]*models.RefreshToken
	failRevoke error
}

func newFakeTokensRepo() *fakeTokensRepo {
	return &fakeTokensRepo{records: make(map[string]*models.RefreshToken)}
}

func (f *fakeTokensRepo) Create(ctx context.Context, token *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *token
	f.records[token.ID] = &cp
	return nil
}

func (f *fakeTokensRepo) Find(ctx context.Context, id string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeTokensRepo) MarkRevoked(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok || rec.Revoked {
		return false, nil
	}
	rec.Revoked = true
	return true, nil
}

func (f *fakeTokensRepo) Revoke(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRevoke != nil {
		return f.failRevoke
	}
	if rec, ok := f.records[id]; ok {
		rec.Revoked = true
	}
	return nil
}

func (f *fakeTokensRepo) FindSuccessor(ctx context.Context, id string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.PredecessorID != nil && *rec.PredecessorID == id {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeTokensRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.UserID == userID {
			rec.Revoked = true
		}
	}
	return nil
}

func (f *fakeTokensRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, rec := range f.records {
		if rec.Expires.Before(cutoff) {
			delete(f.records, id)
			n++
		}
	}
	return n, nil
}

type fakeRepoManager struct {
	users  *fakeUsersRepo
	tokens *fakeTokensRepo
}

func (f *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository       { return f.users }
func (f *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository {
	return f.tokens
}

// --- harness ---

type testServer struct {
	ts     *httptest.Server
	users  *fakeUsersRepo
	tokens *fakeTokensRepo
	codec  *auth.Codec
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 32; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}

	hasher, err := password.NewHasherWithCost(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewHasherWithCost error: %v", err)
	}

	codec := auth.NewCodec(auth.NewKeyring("test-key", []byte("test-secret-material")))
	logger := logging.NewSlogLogger(slog.New(slog.DiscardHandler))

	usersRepo := newFakeUsersRepo()
	tokensRepo := newFakeTokensRepo()
	manager := &fakeRepoManager{users: usersRepo, tokens: tokensRepo}

	sessionStore := sessions.NewService(db, manager, time.Hour, logger)
	authSvc := services.NewAuthService(db, manager, hasher, codec, sessionStore,
		audit.NewLogRecorder(logger), 15*time.Minute, logger)

	ts := httptest.NewServer(NewServer(authSvc, logger).Handler())
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, users: usersRepo, tokens: tokensRepo, codec: codec}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) (*http.Response, map[string]string) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, s.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerSchemePrefix+bearer)
	}

	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	fields := map[string]string{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&fields)
	}
	return resp, fields
}

func (s *testServer) register(t *testing.T, username, pwd string) {
	t.Helper()
	resp, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", "",
		credentialsRequest{Username: username, Password: pwd})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status: got %d", resp.StatusCode)
	}
}

func (s *testServer) login(t *testing.T, username, pwd string) (access, refresh string) {
	t.Helper()
	resp, fields := s.do(t, http.MethodPost, "/api/v1/auth/login", "",
		credentialsRequest{Username: username, Password: pwd})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: got %d body %v", resp.StatusCode, fields)
	}
	if fields["access_token"] == "" || fields["refresh_token"] == "" {
		t.Fatalf("incomplete token pair: %v", fields)
	}
	return fields["access_token"], fields["refresh_token"]
}

// --- tests ---

func TestLoginAndWhoami(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "alice", "s3cret")

	access, _ := srv.login(t, "alice", "s3cret")

	resp, fields := srv.do(t, http.MethodGet, "/api/v1/auth/whoami", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("whoami status: got %d", resp.StatusCode)
	}
	if fields["subject"] == "" {
		t.Fatalf("whoami must return the subject id, got %v", fields)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "alice", "s3cret")

	for _, req := range []credentialsRequest{
		{Username: "alice", Password: "wrong"},
		{Username: "nobody", Password: "s3cret"},
	} {
		resp, fields := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", req)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("login %q status: got %d", req.Username, resp.StatusCode)
		}
		if fields["error"] != "unauthorized" {
			t.Fatalf("login %q error code: got %q", req.Username, fields["error"])
		}
	}
}

func TestLogin_DisabledAccount(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "alice", "s3cret")
	srv.users.setDisabled(t, "alice", true)

	resp, fields := srv.do(t, http.MethodPost, "/api/v1/auth/login", "",
		credentialsRequest{Username: "alice", Password: "s3cret"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	if fields["error"] != "account_disabled" {
		t.Fatalf("error code: got %q", fields["error"])
	}
}

func TestWhoami_TokenFailures(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "alice", "s3cret")

	// No token at all.
	resp, _ := srv.do(t, http.MethodGet, "/api/v1/auth/whoami", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token status: got %d", resp.StatusCode)
	}

	// Garbage token: generic 401.
	resp, fields := srv.do(t, http.MethodGet, "/api/v1/auth/whoami", "garbage", nil)
	if resp.StatusCode != http.StatusUnauthorized || fields["error"] != "unauthorized" {
		t.Fatalf("garbage token: status %d error %q", resp.StatusCode, fields["error"])
	}

	// Expired token: distinguishable, so clients know to refresh.
	expired, err := srv.codec.Mint("u1", auth.TokenTypeAccess, -time.Minute)
	if err != nil {
		t.Fatalf("Mint error: %v", err)
	}
	resp, fields = srv.do(t, http.MethodGet, "/api/v1/auth/whoami", expired, nil)
	if resp.StatusCode != http.StatusUnauthorized || fields["error"] != "token_expired" {
		t.Fatalf("expired token: status %d error %q", resp.StatusCode, fields["error"])
	}

	// Refresh-type token on an access check: generic 401.
	wrongType, err := srv.codec.Mint("u1", auth.TokenTypeRefresh, time.Hour)
	if err != nil {
		t.Fatalf("Mint error: %v", err)
	}
	resp, fields = srv.do(t, http.MethodGet, "/api/v1/auth/whoami", wrongType, nil)
	if resp.StatusCode != http.StatusUnauthorized || fields["error"] != "unauthorized" {
		t.Fatalf("wrong-type token: status %d error %q", resp.StatusCode, fields["error"])
	}
}

func TestRefreshAndReplay(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "alice", "s3cret")
	_, refresh := srv.login(t, "alice", "s3cret")

	resp, fields := srv.do(t, http.MethodPost, "/api/v1/auth/refresh", "",
		refreshRequest{RefreshToken: refresh})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status: got %d body %v", resp.StatusCode, fields)
	}
	rotated := fields["refresh_token"]
	if rotated == "" || rotated == refresh {
		t.Fatalf("rotation must mint a new refresh token")
	}

	// Replay of the consumed token: generic 401, indistinguishable from any
	// other invalid token.
	resp, fields = srv.do(t, http.MethodPost, "/api/v1/auth/refresh", "",
		refreshRequest{RefreshToken: refresh})
	if resp.StatusCode != http.StatusUnauthorized || fields["error"] != "unauthorized" {
		t.Fatalf("replay: status %d error %q", resp.StatusCode, fields["error"])
	}

	// The successor died with it.
	resp, _ = srv.do(t, http.MethodPost, "/api/v1/auth/refresh", "",
		refreshRequest{RefreshToken: rotated})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("post-replay successor status: got %d", resp.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "alice", "s3cret")
	_, refresh := srv.login(t, "alice", "s3cret")

	for i := 0; i < 2; i++ {
		resp, _ := srv.do(t, http.MethodPost, "/api/v1/auth/logout", "",
			refreshRequest{RefreshToken: refresh})
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("logout #%d status: got %d", i+1, resp.StatusCode)
		}
	}

	resp, _ := srv.do(t, http.MethodPost, "/api/v1/auth/refresh", "",
		refreshRequest{RefreshToken: refresh})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status: got %d", resp.StatusCode)
	}
}

// Logout answers 204 even when the store is down; the client's side of the
// logout must succeed regardless.
func TestLogout_StoreErrorStillSucceeds(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "alice", "s3cret")
	_, refresh := srv.login(t, "alice", "s3cret")

	srv.tokens.failRevoke = errors.New("connection refused")

	resp, _ := srv.do(t, http.MethodPost, "/api/v1/auth/logout", "",
		refreshRequest{RefreshToken: refresh})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout with failing store status: got %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestLogoutAllEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "alice", "s3cret")
	access, refreshA := srv.login(t, "alice", "s3cret")
	_, refreshB := srv.login(t, "alice", "s3cret")

	resp, _ := srv.do(t, http.MethodPost, "/api/v1/auth/logout_all", access, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout_all status: got %d", resp.StatusCode)
	}

	for _, refresh := range []string{refreshA, refreshB} {
		resp, _ := srv.do(t, http.MethodPost, "/api/v1/auth/refresh", "",
			refreshRequest{RefreshToken: refresh})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("refresh after logout_all status: got %d", resp.StatusCode)
		}
	}
}

func TestChangePasswordEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "alice", "old-pass")
	access, _ := srv.login(t, "alice", "old-pass")

	resp, fields := srv.do(t, http.MethodPost, "/api/v1/auth/password", access,
		changePasswordRequest{OldPassword: "old-pass", NewPassword: "old-pass"})
	if resp.StatusCode != http.StatusBadRequest || fields["error"] != "password_unchanged" {
		t.Fatalf("unchanged password: status %d error %q", resp.StatusCode, fields["error"])
	}

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/auth/password", access,
		changePasswordRequest{OldPassword: "old-pass", NewPassword: "new-pass"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("change password status: got %d", resp.StatusCode)
	}

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/auth/login", "",
		credentialsRequest{Username: "alice", Password: "old-pass"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old password after change status: got %d", resp.StatusCode)
	}
	srv.login(t, "alice", "new-pass")
}

func TestRegister_Duplicate(t *testing.T) {
	srv := newTestServer(t)
	srv.register(t, "alice", "s3cret")

	resp, fields := srv.do(t, http.MethodPost, "/api/v1/auth/register", "",
		credentialsRequest{Username: "alice", Password: "other"})
	if resp.StatusCode != http.StatusConflict || fields["error"] != "user_exists" {
		t.Fatalf("duplicate register: status %d error %q", resp.StatusCode, fields["error"])
	}
}

func TestMalformedBody(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.ts.URL+"/api/v1/auth/login",
		bytes.NewBufferString("{not json"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status: got %d", resp.StatusCode)
	}
}
