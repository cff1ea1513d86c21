// Package httpapi exposes the signing service over HTTP: digest-gated
// workflow endpoints, anonymous registration and verification, and the
// role checks in front of the review operations.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vitalvas/kasper/mux"
	"github.com/vitalvas/kasper/muxhandlers"

	"github.com/dmitrijs2005/imagesigner/internal/logging"
	"github.com/dmitrijs2005/imagesigner/internal/server/config"
	"github.com/dmitrijs2005/imagesigner/internal/server/digest"
	"github.com/dmitrijs2005/imagesigner/internal/server/models"
	"github.com/dmitrijs2005/imagesigner/internal/server/services"
)

// Server wires the HTTP surface over the services layer.
type Server struct {
	cfg       *config.Config
	logger    logging.Logger
	users     *services.UserService
	images    *services.ImageService
	validator *digest.Validator
	nonces    *digest.NonceStore
	srv       *http.Server
}

func NewServer(cfg *config.Config, l logging.Logger, users *services.UserService,
	images *services.ImageService, validator *digest.Validator, nonces *digest.NonceStore) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    l.With("module", "httpapi"),
		users:     users,
		images:    images,
		validator: validator,
		nonces:    nonces,
	}

	router, err := s.buildRouter()
	if err != nil {
		return nil, err
	}

	s.srv = &http.Server{
		Addr:              cfg.EndpointAddrHTTP,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) buildRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	sizeLimit, err := muxhandlers.RequestSizeLimitMiddleware(muxhandlers.RequestSizeLimitConfig{
		MaxBytes: s.cfg.MaxUploadBytes,
	})
	if err != nil {
		return nil, err
	}

	r.Use(
		muxhandlers.RequestIDMiddleware(muxhandlers.RequestIDConfig{}),
		muxhandlers.RecoveryMiddleware(muxhandlers.RecoveryConfig{
			LogFunc: func(req *http.Request, err any) {
				s.logger.Error(req.Context(), "panic in handler", "path", req.URL.Path, "panic", err)
			},
		}),
		sizeLimit,
		s.logRequests,
	)

	// Anonymous surface.
	r.HandleFunc("/auth/nonce", s.handleNonce).Methods(http.MethodGet)
	r.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/unauthorized/verify-file-signature", s.handleVerifyFile).Methods(http.MethodPost)
	r.HandleFunc("/unauthorized/find-signature", s.handleFindSignature).Methods(http.MethodPost)

	// Digest-gated surface. Roles beyond "authenticated" are listed per
	// route; the gate handles both the 401 and the 403 side.
	anyRole := []models.Role{models.RoleUser, models.RoleSupport, models.RoleAdmin}
	reviewers := []models.Role{models.RoleSupport, models.RoleAdmin}
	adminOnly := []models.Role{models.RoleAdmin}

	r.Handle("/auth/login", s.authenticated(s.handleLogin, anyRole...)).Methods(http.MethodPost)
	r.Handle("/auth/account", s.authenticated(s.handleDeleteAccount, anyRole...)).Methods(http.MethodDelete)

	r.Handle("/images/upload", s.authenticated(s.handleUpload, anyRole...)).Methods(http.MethodPost)
	r.Handle("/images", s.authenticated(s.handleListOwned, anyRole...)).Methods(http.MethodGet)
	r.Handle("/images/{id}/download", s.authenticated(s.handleDownload, anyRole...)).Methods(http.MethodGet)
	r.Handle("/images/{id}/download-without-exif", s.authenticated(s.handleDownloadCanonical, anyRole...)).Methods(http.MethodGet)
	r.Handle("/images/{id}", s.authenticated(s.handleDeleteImage, anyRole...)).Methods(http.MethodDelete)

	r.Handle("/support/request-signature/{id}", s.authenticated(s.handleRequestSignature, reviewers...)).Methods(http.MethodPost)
	r.Handle("/support/reject/{id}", s.authenticated(s.handleReject, reviewers...)).Methods(http.MethodPost)

	r.Handle("/admin/sign/{id}", s.authenticated(s.handleSign, adminOnly...)).Methods(http.MethodPost)
	r.Handle("/admin/reject/{id}", s.authenticated(s.handleReject, adminOnly...)).Methods(http.MethodPost)
	r.Handle("/admin/images", s.authenticated(s.handleListPending, reviewers...)).Methods(http.MethodGet)

	return r, nil
}

// Handler returns the composed router, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until ctx is cancelled, then drains with a bounded
// shutdown window.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", muxhandlers.RequestIDFromContext(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
