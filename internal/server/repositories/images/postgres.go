package images

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/imagesigner/internal/common"
	"github.com/dmitrijs2005/imagesigner/internal/dbx"
	"github.com/dmitrijs2005/imagesigner/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const imageColumns = `id, owner_id, display_name, original_data, canonical_data,
	coalesce(signature, ''), coalesce(storage_key, ''), status, coalesce(comment, ''),
	uploaded_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, img *models.SignedImage) (*models.SignedImage, error) {

	query :=
		`INSERT INTO images (owner_id, display_name, original_data, canonical_data, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, uploaded_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		img.OwnerID, img.DisplayName, img.OriginalData, img.CanonicalData, string(img.Status)).
		Scan(&img.ID, &img.UploadedAt, &img.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return img, nil
}

func (r *PostgresRepository) scanImage(row *sql.Row) (*models.SignedImage, error) {
	img := &models.SignedImage{}
	var status string
	err := row.Scan(&img.ID, &img.OwnerID, &img.DisplayName, &img.OriginalData,
		&img.CanonicalData, &img.Signature, &img.StorageKey, &status, &img.Comment,
		&img.UploadedAt, &img.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	img.Status, err = models.ParseImageStatus(status)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return img, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.SignedImage, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE id = $1`
	return r.scanImage(r.db.QueryRowContext(ctx, query, id))
}

// GetForUpdate locks the row until the surrounding transaction ends.
// Must be called on a transactional DBTX.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.SignedImage, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE id = $1 FOR UPDATE`
	return r.scanImage(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) list(ctx context.Context, query string, arg any) ([]*models.SignedImage, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.SignedImage
	for rows.Next() {
		img := &models.SignedImage{}
		var status string
		if err := rows.Scan(&img.ID, &img.OwnerID, &img.DisplayName, &img.Signature,
			&status, &img.Comment, &img.UploadedAt, &img.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if img.Status, err = models.ParseImageStatus(status); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// listColumns omit the image payloads: listings carry workflow fields
// only, bytes are fetched per record on download.
const listColumns = `id, owner_id, display_name, coalesce(signature, ''),
	status, coalesce(comment, ''), uploaded_at, updated_at`

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.SignedImage, error) {
	query := `SELECT ` + listColumns + ` FROM images WHERE owner_id = $1 ORDER BY uploaded_at`
	return r.list(ctx, query, ownerID)
}

func (r *PostgresRepository) ListByStatus(ctx context.Context, status models.ImageStatus) ([]*models.SignedImage, error) {
	query := `SELECT ` + listColumns + ` FROM images WHERE status = $1 ORDER BY uploaded_at`
	return r.list(ctx, query, string(status))
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.ImageStatus, comment string) error {
	query := `UPDATE images SET status = $2, comment = nullif($3, ''), updated_at = now() WHERE id = $1`
	return r.exec(ctx, query, id, string(status), comment)
}

// UpdateSigned flips the record to signed and replaces the original
// bytes with the signature-embedded ones in a single statement, so
// status and signature can never be observed apart.
func (r *PostgresRepository) UpdateSigned(ctx context.Context, id string, data []byte, signature, storageKey string) error {
	query := `UPDATE images
		 SET status = $2, original_data = $3, signature = $4, storage_key = nullif($5, ''), updated_at = now()
		 WHERE id = $1`
	return r.exec(ctx, query, id, string(models.StatusSigned), data, signature, storageKey)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM images WHERE id = $1`, id)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}
	return nil
}
