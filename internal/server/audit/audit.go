// Package audit records security-relevant events (failed logins, token
// replays, mass revocations) so operators can trace incidents. The default
// recorder writes structured log lines; a real deployment can swap in a
// durable sink behind the same interface.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avolkov/authcore/internal/logging"
)

// Kind identifies the class of security event.
type Kind string

const (
	KindLoginFailure     Kind = "login_failure"
	KindTokenReplay      Kind = "token_replay"
	KindChainRevoked     Kind = "chain_revoked"
	KindLogoutEverywhere Kind = "logout_everywhere"
)

// Event is one security occurrence. SubjectID and TokenID may be empty when
// the event precedes identification (for example a login failure for an
// unknown username).
type Event struct {
	ID        string
	Kind      Kind
	SubjectID string
	TokenID   string
	At        time.Time
}

// Recorder accepts security events. Implementations must be safe for
// concurrent use and must not block the calling request path.
type Recorder interface {
	Record(ctx context.Context, kind Kind, subjectID, tokenID string)
}

// LogRecorder emits every event as a structured warning.
type LogRecorder struct {
	logger logging.Logger
	now    func() time.Time
}

func NewLogRecorder(logger logging.Logger) *LogRecorder {
	return &LogRecorder{
		logger: logger.With("module", "audit"),
		now:    time.Now,
	}
}

func (r *LogRecorder) Record(ctx context.Context, kind Kind, subjectID, tokenID string) {
	e := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		SubjectID: subjectID,
		TokenID:   tokenID,
		At:        r.now(),
	}
	r.logger.Warn(ctx, "security event",
		"event_id", e.ID, "kind", string(e.Kind),
		"subject", e.SubjectID, "token_id", e.TokenID,
		"at", e.At.Format(time.RFC3339))
}
