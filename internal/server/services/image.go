package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/imagesigner/internal/common"
	"github.com/dmitrijs2005/imagesigner/internal/dbx"
	"github.com/dmitrijs2005/imagesigner/internal/imaging"
	"github.com/dmitrijs2005/imagesigner/internal/logging"
	"github.com/dmitrijs2005/imagesigner/internal/server/blobstore"
	"github.com/dmitrijs2005/imagesigner/internal/server/models"
	"github.com/dmitrijs2005/imagesigner/internal/server/notify"
	"github.com/dmitrijs2005/imagesigner/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/imagesigner/internal/sigkey"
)

// ImageService owns the image signing workflow: upload, review
// transitions, signing and the anonymous verification operations.
//
// Every transition is a transactional read-modify-write over a
// row-locked record; a guard mismatch fails with
// common.ErrorInvalidState and leaves the record untouched, which is
// what a losing concurrent caller observes.
type ImageService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	signer      sigkey.Signer
	verifier    sigkey.Verifier
	blobs       *blobstore.Store
	notifier    notify.Notifier
	logger      logging.Logger
}

func NewImageService(db *sql.DB, m repomanager.RepositoryManager, signer sigkey.Signer,
	verifier sigkey.Verifier, blobs *blobstore.Store, notifier notify.Notifier, l logging.Logger) *ImageService {
	return &ImageService{
		db:          db,
		repomanager: m,
		signer:      signer,
		verifier:    verifier,
		blobs:       blobs,
		notifier:    notifier,
		logger:      l.With("module", "image_service"),
	}
}

// Upload canonicalizes and stores a fresh PNG upload in
// AwaitingSignature. Non-PNG input, empty input and undecodable input
// all fail validation with no record created.
func (s *ImageService) Upload(ctx context.Context, ownerID, displayName string, data []byte) (*models.SignedImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", common.ErrorValidation)
	}

	format, err := imaging.DetectFormat(data)
	if err != nil || format != imaging.FormatPNG {
		return nil, fmt.Errorf("%w: only PNG uploads are accepted", common.ErrorValidation)
	}

	canonical, err := imaging.Canonicalize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}

	img := &models.SignedImage{
		OwnerID:       ownerID,
		DisplayName:   displayName,
		OriginalData:  data,
		CanonicalData: canonical,
		Status:        models.StatusAwaitingSignature,
	}

	repo := s.repomanager.Images(s.db)
	created, err := repo.Create(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("error creating image record: %w", err)
	}
	return created, nil
}

// RequestSignature moves AwaitingSignature to PendingAdminSignature.
// Any other current status, including a repeated request, fails with
// ErrorInvalidState.
func (s *ImageService) RequestSignature(ctx context.Context, id string) error {
	var owner *models.User

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Images(tx)
		img, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if img.Status != models.StatusAwaitingSignature {
			return common.ErrorInvalidState
		}
		if err := repo.UpdateStatus(ctx, id, models.StatusPendingAdminSignature, ""); err != nil {
			return err
		}
		owner, _ = s.repomanager.Users(tx).GetByID(ctx, img.OwnerID)
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, notify.Event{Kind: notify.EventSignatureRequested, ImageID: id}, owner)
	return nil
}

// Sign runs the signing pipeline inside the transition transaction:
// sign canonical bytes, embed the signature into the distributed bytes,
// persist signature, bytes and status in one write. A failure at any
// step aborts the transaction with the record unchanged.
//
// Allowed from AwaitingSignature and PendingAdminSignature.
func (s *ImageService) Sign(ctx context.Context, id string) error {
	var (
		owner      *models.User
		storageKey string
		embedded   []byte
	)

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Images(tx)
		img, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if img.Status != models.StatusAwaitingSignature && img.Status != models.StatusPendingAdminSignature {
			return common.ErrorInvalidState
		}

		signature, err := s.signer.Sign(img.CanonicalData)
		if err != nil {
			return fmt.Errorf("signing: %w", err)
		}

		embedded, err = imaging.EmbedSignature(img.OriginalData, signature)
		if err != nil {
			return fmt.Errorf("embedding signature: %w", err)
		}

		if s.blobs != nil {
			storageKey = blobstore.RandomKey()
		}
		if err := repo.UpdateSigned(ctx, id, embedded, signature, storageKey); err != nil {
			return err
		}
		owner, _ = s.repomanager.Users(tx).GetByID(ctx, img.OwnerID)
		return nil
	})
	if err != nil {
		return err
	}

	if storageKey != "" {
		// Best-effort mirror; postgres already holds the signed bytes.
		go func() {
			ctx := context.WithoutCancel(ctx)
			if err := s.blobs.Put(ctx, storageKey, embedded, "image/png"); err != nil {
				s.logger.Warn(ctx, "mirroring signed image failed", "image_id", id, "error", err.Error())
			}
		}()
	}

	s.emit(ctx, notify.Event{Kind: notify.EventImageSigned, ImageID: id}, owner)
	return nil
}

// Reject moves any non-terminal status to Rejected. The optional
// comment is kept for notification only.
func (s *ImageService) Reject(ctx context.Context, id, comment string) error {
	var owner *models.User

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Images(tx)
		img, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if img.Status.Terminal() {
			return common.ErrorInvalidState
		}
		if err := repo.UpdateStatus(ctx, id, models.StatusRejected, comment); err != nil {
			return err
		}
		owner, _ = s.repomanager.Users(tx).GetByID(ctx, img.OwnerID)
		return nil
	})
	if err != nil {
		return err
	}

	s.emit(ctx, notify.Event{Kind: notify.EventImageRejected, ImageID: id, Comment: comment}, owner)
	return nil
}

// GetForDownload returns the record if the requester may read it:
// the owner, or reviewers (support/admin) working the queue.
func (s *ImageService) GetForDownload(ctx context.Context, id string, requester *models.User) (*models.SignedImage, error) {
	repo := s.repomanager.Images(s.db)
	img, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if img.OwnerID != requester.ID && requester.Role == models.RoleUser {
		return nil, common.ErrorNotFound
	}
	return img, nil
}

// PresignDownload returns a temporary object-storage URL for the
// mirrored signed bytes, or "" when the record is not mirrored.
func (s *ImageService) PresignDownload(ctx context.Context, img *models.SignedImage) (string, error) {
	if img.StorageKey == "" {
		return "", nil
	}
	return s.blobs.PresignGet(ctx, img.StorageKey)
}

// ListOwned returns the caller's images, payloads omitted.
func (s *ImageService) ListOwned(ctx context.Context, ownerID string) ([]*models.SignedImage, error) {
	return s.repomanager.Images(s.db).ListByOwner(ctx, ownerID)
}

// ListPending returns the review queue: records awaiting support or
// admin action.
func (s *ImageService) ListPending(ctx context.Context) ([]*models.SignedImage, error) {
	repo := s.repomanager.Images(s.db)
	awaiting, err := repo.ListByStatus(ctx, models.StatusAwaitingSignature)
	if err != nil {
		return nil, err
	}
	pending, err := repo.ListByStatus(ctx, models.StatusPendingAdminSignature)
	if err != nil {
		return nil, err
	}
	return append(awaiting, pending...), nil
}

// Delete removes a record. Only the owner may delete; terminal and
// in-flight records alike.
func (s *ImageService) Delete(ctx context.Context, id string, requester *models.User) error {
	repo := s.repomanager.Images(s.db)
	img, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if img.OwnerID != requester.ID {
		return common.ErrorNotFound
	}
	return repo.Delete(ctx, id)
}

// VerifyFile implements the anonymous verification flow: extract the
// embedded signature, canonicalize a fresh copy of the bytes, verify.
// Verification never runs on the signature-bearing bytes themselves.
func (s *ImageService) VerifyFile(raw []byte) (bool, error) {
	signature, err := imaging.ExtractSignature(raw)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, fmt.Errorf("%w: no signature in metadata", common.ErrorValidation)
		}
		return false, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}

	canonical, err := imaging.Canonicalize(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}

	return s.verifier.Verify(canonical, signature), nil
}

// FindSignature returns the embedded signature string for the anonymous
// metadata inspection endpoint.
func (s *ImageService) FindSignature(raw []byte) (string, error) {
	signature, err := imaging.ExtractSignature(raw)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", fmt.Errorf("%w: no signature in metadata", common.ErrorValidation)
		}
		return "", fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	return signature, nil
}

// emit delivers a workflow event without ever blocking or failing the
// transition that produced it.
func (s *ImageService) emit(ctx context.Context, e notify.Event, owner *models.User) {
	if owner != nil {
		e.Owner = owner.UserName
		e.OwnerEmail = owner.Email
	}
	go func() {
		ctx := context.WithoutCancel(ctx)
		if err := s.notifier.Notify(ctx, e); err != nil {
			s.logger.Warn(ctx, "notification failed", "kind", string(e.Kind), "error", err.Error())
		}
	}()
}
