package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/imagesigner/internal/dbx"
	"github.com/dmitrijs2005/imagesigner/internal/server/repositories/images"
	"github.com/dmitrijs2005/imagesigner/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so the same
// repository code runs against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Images(db dbx.DBTX) images.Repository
}
