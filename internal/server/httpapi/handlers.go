package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vitalvas/kasper/mux"

	"github.com/dmitrijs2005/imagesigner/internal/common"
	"github.com/dmitrijs2005/imagesigner/internal/imaging"
	"github.com/dmitrijs2005/imagesigner/internal/server/models"
)

type errorResponse struct {
	Error string `json:"error"`
}

type nonceResponse struct {
	Nonce  string `json:"nonce"`
	Realm  string `json:"realm"`
	Opaque string `json:"opaque"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type imageResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
	UploadedAt  string `json:"uploaded_at"`
}

type commentRequest struct {
	Comment string `json:"comment"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

type signatureResponse struct {
	Signature string `json:"signature"`
}

// writeError maps service errors to HTTP statuses with a JSON body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	// A guard-condition miss is a validation failure of the request,
	// same as a bad upload.
	case errors.Is(err, common.ErrorValidation), errors.Is(err, common.ErrorInvalidState):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrorNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrorForbidden):
		status = http.StatusForbidden
	case errors.Is(err, common.ErrorUnauthorized):
		status = http.StatusUnauthorized
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	s.writeErrorStatus(w, status, msg)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	mux.ResponseJSON(w, status, errorResponse{Error: msg})
}

// formFile reads the uploaded "file" part of a multipart request.
func formFile(r *http.Request) (string, []byte, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("%w: missing multipart field 'file'", common.ErrorValidation)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("%w: reading upload: %v", common.ErrorValidation, err)
	}
	return header.Filename, data, nil
}

func toImageResponse(img *models.SignedImage) imageResponse {
	return imageResponse{
		ID:          img.ID,
		DisplayName: img.DisplayName,
		Status:      string(img.Status),
		UploadedAt:  img.UploadedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	nonce, err := s.nonces.Issue()
	if err != nil {
		s.writeError(w, common.ErrorInternal)
		return
	}
	mux.ResponseJSON(w, http.StatusOK, nonceResponse{
		Nonce:  nonce,
		Realm:  s.validator.Realm(),
		Opaque: s.nonces.Opaque(),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, "invalid json body")
		return
	}

	u, err := s.users.Register(r.Context(), req.Username, req.Email, req.Password, models.RoleUser)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mux.ResponseJSON(w, http.StatusCreated, userResponse{ID: u.ID, Username: u.UserName, Role: string(u.Role)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	mux.ResponseJSON(w, http.StatusOK, userResponse{ID: u.ID, Username: u.UserName, Role: string(u.Role)})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.users.DeleteAccount(r.Context(), userFrom(r).ID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, data, err := formFile(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	img, err := s.images.Upload(r.Context(), userFrom(r).ID, name, data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mux.ResponseJSON(w, http.StatusCreated, toImageResponse(img))
}

func (s *Server) handleListOwned(w http.ResponseWriter, r *http.Request) {
	list, err := s.images.ListOwned(r.Context(), userFrom(r).ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]imageResponse, 0, len(list))
	for _, img := range list {
		out = append(out, toImageResponse(img))
	}
	mux.ResponseJSON(w, http.StatusOK, out)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	img, err := s.images.GetForDownload(r.Context(), mux.Vars(r)["id"], userFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	// Signed records mirrored to object storage redirect to a presigned
	// URL so the bytes do not stream through the API server.
	if img.Status == models.StatusSigned && img.StorageKey != "" {
		url, err := s.images.PresignDownload(r.Context(), img)
		if err == nil && url != "" {
			http.Redirect(w, r, url, http.StatusFound)
			return
		}
		// Fall through to streaming from postgres.
	}

	s.writeImage(w, img.DisplayName, img.OriginalData)
}

func (s *Server) handleDownloadCanonical(w http.ResponseWriter, r *http.Request) {
	img, err := s.images.GetForDownload(r.Context(), mux.Vars(r)["id"], userFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeImage(w, img.DisplayName, img.CanonicalData)
}

func (s *Server) writeImage(w http.ResponseWriter, name string, data []byte) {
	contentType := "application/octet-stream"
	if format, err := imaging.DetectFormat(data); err == nil {
		contentType = format.ContentType()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := s.images.Delete(r.Context(), mux.Vars(r)["id"], userFrom(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRequestSignature(w http.ResponseWriter, r *http.Request) {
	if err := s.images.RequestSignature(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	if err := s.images.Sign(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if r.Body != nil {
		// The comment body is optional; anything undecodable is ignored.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := s.images.Reject(r.Context(), mux.Vars(r)["id"], req.Comment); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	list, err := s.images.ListPending(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]imageResponse, 0, len(list))
	for _, img := range list {
		out = append(out, toImageResponse(img))
	}
	mux.ResponseJSON(w, http.StatusOK, out)
}

func (s *Server) handleVerifyFile(w http.ResponseWriter, r *http.Request) {
	_, data, err := formFile(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	valid, err := s.images.VerifyFile(data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mux.ResponseJSON(w, http.StatusOK, verifyResponse{Valid: valid})
}

func (s *Server) handleFindSignature(w http.ResponseWriter, r *http.Request) {
	_, data, err := formFile(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	signature, err := s.images.FindSignature(data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	mux.ResponseJSON(w, http.StatusOK, signatureResponse{Signature: signature})
}
