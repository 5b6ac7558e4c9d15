package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/avolkov/authcore/internal/common"
)

type contextKey string

// contextKeySubject stores the authenticated subject id.
const contextKeySubject contextKey = "subject_id"

// SubjectFromContext returns the subject id placed by Authenticate.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(contextKeySubject).(string)
	return subject, ok
}

// Authenticate validates the Bearer access token and injects the subject id
// into the request context. Any failure answers 401 without reaching next;
// only an overdue expiry gets a distinguishable error code.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeaderName)
		if !strings.HasPrefix(header, common.BearerSchemePrefix) {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		token := strings.TrimPrefix(header, common.BearerSchemePrefix)
		subject, err := s.auth.Verify(token)
		if err != nil {
			status, code := mapError(err)
			writeError(w, status, code)
			return
		}

		ctx := context.WithValue(r.Context(), contextKeySubject, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
