package images

import (
	"context"

	"github.com/dmitrijs2005/imagesigner/internal/server/models"
)

// Repository persists signed image records.
//
// GetForUpdate must lock the row for the duration of the enclosing
// transaction: the workflow's read-check-write transitions rely on it to
// serialize concurrent attempts on the same record.
type Repository interface {
	Create(ctx context.Context, img *models.SignedImage) (*models.SignedImage, error)
	Get(ctx context.Context, id string) (*models.SignedImage, error)
	GetForUpdate(ctx context.Context, id string) (*models.SignedImage, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.SignedImage, error)
	ListByStatus(ctx context.Context, status models.ImageStatus) ([]*models.SignedImage, error)
	UpdateStatus(ctx context.Context, id string, status models.ImageStatus, comment string) error
	UpdateSigned(ctx context.Context, id string, data []byte, signature, storageKey string) error
	Delete(ctx context.Context, id string) error
}
