// Package services contains server-side business logic. This file
// implements UserService: registration with digest credential
// derivation, credential lookup for the auth gate, and account removal.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/imagesigner/internal/common"
	"github.com/dmitrijs2005/imagesigner/internal/server/config"
	"github.com/dmitrijs2005/imagesigner/internal/server/digest"
	"github.com/dmitrijs2005/imagesigner/internal/server/models"
	"github.com/dmitrijs2005/imagesigner/internal/server/repositories/repomanager"
)

// UserService manages credential records. The stored secret-derived
// value is HA1 = MD5(username:realm:password), computed here once at
// registration and bound to the configured realm: changing the realm
// invalidates every account.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	realm       string
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		realm:       cfg.DigestRealm,
	}
}

func validateUsername(username string) error {
	if len(username) < 3 {
		return fmt.Errorf("%w: username must be at least 3 characters", common.ErrorValidation)
	}
	// Colons and quotes would corrupt the digest header directives the
	// username travels in.
	if strings.ContainsAny(username, `:"`) {
		return fmt.Errorf("%w: username must not contain ':' or '\"'", common.ErrorValidation)
	}
	return nil
}

// Register creates a credential record. The password is hashed into HA1
// immediately and never stored or logged.
func (s *UserService) Register(ctx context.Context, username, email, password string, role models.Role) (*models.User, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", common.ErrorValidation)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", common.ErrorValidation)
	}
	if role == "" {
		role = models.RoleUser
	}

	user := &models.User{
		UserName: username,
		Email:    email,
		HA1:      digest.ComputeHA1(username, s.realm, password),
		Role:     role,
	}

	repo := s.repomanager.Users(s.db)
	u, err := repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, fmt.Errorf("%w: username or email taken", common.ErrorValidation)
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return u, nil
}

// GetByUsername satisfies digest.UserLookup for the auth gate.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	repo := s.repomanager.Users(s.db)
	return repo.GetByUsername(ctx, username)
}

// DeleteAccount removes the caller's account; owned images
// cascade-delete with it.
func (s *UserService) DeleteAccount(ctx context.Context, userID string) error {
	repo := s.repomanager.Users(s.db)
	return repo.Delete(ctx, userID)
}
