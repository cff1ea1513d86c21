package digest

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/imagesigner/internal/common"
	"github.com/dmitrijs2005/imagesigner/internal/server/models"
)

// UserLookup is the slice of the user store the validator needs.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// Validator checks digest responses against stored HA1 credentials.
type Validator struct {
	realm  string
	nonces *NonceStore
	users  UserLookup
}

func NewValidator(realm string, nonces *NonceStore, users UserLookup) *Validator {
	return &Validator{realm: realm, nonces: nonces, users: users}
}

// Realm returns the realm the validator challenges under.
func (v *Validator) Realm() string {
	return v.realm
}

// Challenge builds a WWW-Authenticate header value with a fresh nonce.
// stale=true tells well-behaved clients their credentials were fine and
// only the nonce needs refreshing.
func (v *Validator) Challenge(stale bool) (string, error) {
	nonce, err := v.nonces.Issue()
	if err != nil {
		return "", err
	}
	challenge := fmt.Sprintf("Digest realm=%q, qop=\"auth\", nonce=%q, opaque=%q", v.realm, nonce, v.nonces.Opaque())
	if stale {
		challenge += ", stale=true"
	}
	return challenge, nil
}

// Validate authenticates a parsed Authorization header against the
// actual request method and URI, never the client-claimed ones. The
// nonce must be one the store issued and not yet consumed; it is checked
// against the value embedded in the client's header, not a freshly
// generated one.
//
// Unknown username and wrong password are indistinguishable: both fail
// with common.ErrorUnauthorized.
func (v *Validator) Validate(ctx context.Context, method, uri string, creds *Credentials) (*models.User, error) {
	if creds.Realm != v.realm || creds.QOP != "auth" {
		return nil, common.ErrorUnauthorized
	}

	if !v.nonces.Consume(creds.Nonce) {
		return nil, ErrStaleNonce
	}

	user, err := v.users.GetByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	expected := ComputeResponse(user.HA1, method, uri, creds.Nonce, creds.NC, creds.CNonce, creds.QOP)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(creds.Response)) != 1 {
		return nil, common.ErrorUnauthorized
	}

	return user, nil
}
