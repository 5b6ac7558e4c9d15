package repomanager

import (
	"context"
	"database/sql"

	"github.com/avolkov/authcore/internal/dbx"
	"github.com/avolkov/authcore/internal/server/repositories/refreshtokens"
	"github.com/avolkov/authcore/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so services can run
// the same repository code against the pooled connection or inside a
// transaction handle.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
