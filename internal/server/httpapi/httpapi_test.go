package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/imagesigner/internal/common"
	"github.com/dmitrijs2005/imagesigner/internal/dbx"
	"github.com/dmitrijs2005/imagesigner/internal/imaging"
	"github.com/dmitrijs2005/imagesigner/internal/logging"
	"github.com/dmitrijs2005/imagesigner/internal/server/config"
	"github.com/dmitrijs2005/imagesigner/internal/server/digest"
	"github.com/dmitrijs2005/imagesigner/internal/server/models"
	"github.com/dmitrijs2005/imagesigner/internal/server/notify"
	"github.com/dmitrijs2005/imagesigner/internal/server/repositories/images"
	"github.com/dmitrijs2005/imagesigner/internal/server/repositories/users"
	"github.com/dmitrijs2005/imagesigner/internal/server/services"
	"github.com/dmitrijs2005/imagesigner/internal/sigkey"
)

type memUserRepo struct {
	mu   sync.Mutex
	seq  int
	rows map[string]*models.User
}

func (r *memUserRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if strings.EqualFold(row.UserName, u.UserName) || row.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	r.seq++
	c := *u
	c.ID = fmt.Sprintf("u%d", r.seq)
	r.rows[c.ID] = &c
	cc := c
	return &cc, nil
}

func (r *memUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if strings.EqualFold(row.UserName, username) {
			c := *row
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *row
	return &c, nil
}

func (r *memUserRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.rows, id)
	return nil
}

type memImageRepo struct {
	mu   sync.Mutex
	seq  int
	rows map[string]*models.SignedImage
}

func (r *memImageRepo) Create(ctx context.Context, img *models.SignedImage) (*models.SignedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	c := *img
	c.ID = fmt.Sprintf("i%d", r.seq)
	c.UploadedAt = time.Now()
	r.rows[c.ID] = &c
	cc := c
	return &cc, nil
}

func (r *memImageRepo) Get(ctx context.Context, id string) (*models.SignedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *row
	return &c, nil
}

func (r *memImageRepo) GetForUpdate(ctx context.Context, id string) (*models.SignedImage, error) {
	return r.Get(ctx, id)
}

func (r *memImageRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.SignedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SignedImage
	for _, row := range r.rows {
		if row.OwnerID == ownerID {
			c := *row
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memImageRepo) ListByStatus(ctx context.Context, status models.ImageStatus) ([]*models.SignedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SignedImage
	for _, row := range r.rows {
		if row.Status == status {
			c := *row
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memImageRepo) UpdateStatus(ctx context.Context, id string, status models.ImageStatus, comment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	row.Status = status
	row.Comment = comment
	return nil
}

func (r *memImageRepo) UpdateSigned(ctx context.Context, id string, data []byte, signature, storageKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	row.Status = models.StatusSigned
	row.OriginalData = data
	row.Signature = signature
	row.StorageKey = storageKey
	return nil
}

func (r *memImageRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.rows, id)
	return nil
}

type memRepoManager struct {
	userRepo  *memUserRepo
	imageRepo *memImageRepo
}

func (m *memRepoManager) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }
func (m *memRepoManager) Users(db dbx.DBTX) users.Repository                  { return m.userRepo }
func (m *memRepoManager) Images(db dbx.DBTX) images.Repository                { return m.imageRepo }

type apiEnv struct {
	srv    *httptest.Server
	cfg    *config.Config
	nonces *digest.NonceStore
	users  *memUserRepo
	images *memImageRepo
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)
	// Workflow transitions run in transactions against the in-memory
	// repos; keep the pool permissive for however many the test needs.
	for i := 0; i < 16; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DigestRealm = "Test Realm"

	nonces, err := digest.NewNonceStore(cfg.NonceTTL)
	require.NoError(t, err)

	userRepo := &memUserRepo{rows: map[string]*models.User{}}
	imageRepo := &memImageRepo{rows: map[string]*models.SignedImage{}}
	m := &memRepoManager{userRepo: userRepo, imageRepo: imageRepo}

	keys, err := sigkey.Generate(2048)
	require.NoError(t, err)

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	userSvc := services.NewUserService(db, m, cfg)
	imageSvc := services.NewImageService(db, m, sigkey.NewRSASigner(keys),
		sigkey.NewRSAVerifier(keys.Public()), nil, notify.NewLogNotifier(logger), logger)

	validator := digest.NewValidator(cfg.DigestRealm, nonces, userSvc)
	server, err := NewServer(cfg, logger, userSvc, imageSvc, validator, nonces)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &apiEnv{srv: ts, cfg: cfg, nonces: nonces, users: userRepo, images: imageRepo}
}

func (e *apiEnv) register(t *testing.T, username, password string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	})
	resp, err := http.Post(e.srv.URL+"/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (e *apiEnv) promote(t *testing.T, username string, role models.Role) {
	t.Helper()
	u, err := e.users.GetByUsername(context.Background(), username)
	require.NoError(t, err)
	e.users.mu.Lock()
	e.users.rows[u.ID].Role = role
	e.users.mu.Unlock()
}

// authHeader runs the client side of the handshake: fetch a nonce and
// compute the digest response for the given request line.
func (e *apiEnv) authHeader(t *testing.T, username, password, method, uri string) string {
	t.Helper()

	resp, err := http.Get(e.srv.URL + "/auth/nonce")
	require.NoError(t, err)
	defer resp.Body.Close()
	var n struct {
		Nonce  string `json:"nonce"`
		Realm  string `json:"realm"`
		Opaque string `json:"opaque"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&n))

	ha1 := digest.ComputeHA1(username, n.Realm, password)
	cnonce := "0a4f113b"
	nc := "00000001"
	response := digest.ComputeResponse(ha1, method, uri, n.Nonce, nc, cnonce, "auth")

	return fmt.Sprintf(`Digest username=%q, realm=%q, nonce=%q, uri=%q, qop=auth, nc=%s, cnonce=%q, opaque=%q, response=%q`,
		username, n.Realm, n.Nonce, uri, nc, cnonce, n.Opaque, response)
}

func (e *apiEnv) do(t *testing.T, method, uri, auth string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+uri, body)
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func multipartPNG(t *testing.T, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func smallPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestChallengeOnMissingAuth(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodGet, "/images", "", nil, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	challenge := resp.Header.Get("WWW-Authenticate")
	assert.True(t, strings.HasPrefix(challenge, "Digest "))
	assert.Contains(t, challenge, `realm="Test Realm"`)
	assert.Contains(t, challenge, `qop="auth"`)
	assert.Contains(t, challenge, "nonce=")
	assert.NotContains(t, challenge, "stale=true")
}

func TestRegisterAndLogin(t *testing.T) {
	env := newAPIEnv(t)
	env.register(t, "alice", "Circle Of Life")

	t.Run("duplicate username", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{
			"username": "alice", "email": "other@example.com", "password": "secret1",
		})
		resp, err := http.Post(env.srv.URL+"/auth/register", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("login with computed digest", func(t *testing.T) {
		auth := env.authHeader(t, "alice", "Circle Of Life", http.MethodPost, "/auth/login")
		resp := env.do(t, http.MethodPost, "/auth/login", auth, nil, "")
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var u struct {
			Username string `json:"username"`
			Role     string `json:"role"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&u))
		assert.Equal(t, "alice", u.Username)
		assert.Equal(t, "user", u.Role)
	})

	t.Run("wrong password", func(t *testing.T) {
		auth := env.authHeader(t, "alice", "not the password", http.MethodPost, "/auth/login")
		resp := env.do(t, http.MethodPost, "/auth/login", auth, nil, "")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown user looks the same as wrong password", func(t *testing.T) {
		auth := env.authHeader(t, "nobody", "whatever", http.MethodPost, "/auth/login")
		resp := env.do(t, http.MethodPost, "/auth/login", auth, nil, "")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
	})
}

func TestNonceReplayGetsStaleChallenge(t *testing.T) {
	env := newAPIEnv(t)
	env.register(t, "alice", "Circle Of Life")

	auth := env.authHeader(t, "alice", "Circle Of Life", http.MethodPost, "/auth/login")

	resp := env.do(t, http.MethodPost, "/auth/login", auth, nil, "")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The nonce was consumed by the first request.
	resp = env.do(t, http.MethodPost, "/auth/login", auth, nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "stale=true")
}

func TestRoleEnforcement(t *testing.T) {
	env := newAPIEnv(t)
	env.register(t, "alice", "Circle Of Life")
	env.register(t, "helper", "support-pass")
	env.promote(t, "helper", models.RoleSupport)

	// A plain user may not touch review endpoints.
	auth := env.authHeader(t, "alice", "Circle Of Life", http.MethodPost, "/admin/sign/i1")
	resp := env.do(t, http.MethodPost, "/admin/sign/i1", auth, nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Support is not admin either.
	auth = env.authHeader(t, "helper", "support-pass", http.MethodPost, "/admin/sign/i1")
	resp = env.do(t, http.MethodPost, "/admin/sign/i1", auth, nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Support may work the queue.
	auth = env.authHeader(t, "helper", "support-pass", http.MethodGet, "/admin/images")
	resp = env.do(t, http.MethodGet, "/admin/images", auth, nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadSignDownloadFlow(t *testing.T) {
	env := newAPIEnv(t)
	env.register(t, "alice", "Circle Of Life")
	env.register(t, "boss", "admin-pass")
	env.promote(t, "boss", models.RoleAdmin)

	raw := smallPNG(t)

	// Upload.
	body, contentType := multipartPNG(t, raw)
	auth := env.authHeader(t, "alice", "Circle Of Life", http.MethodPost, "/images/upload")
	resp := env.do(t, http.MethodPost, "/images/upload", auth, body, contentType)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, "awaiting_signature", created.Status)

	// Owner sees it in the listing.
	auth = env.authHeader(t, "alice", "Circle Of Life", http.MethodGet, "/images")
	resp = env.do(t, http.MethodGet, "/images", auth, nil, "")
	var list []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)

	// Admin signs.
	signURI := "/admin/sign/" + created.ID
	auth = env.authHeader(t, "boss", "admin-pass", http.MethodPost, signURI)
	resp = env.do(t, http.MethodPost, signURI, auth, nil, "")
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Owner downloads signed bytes; the signature inside verifies.
	dlURI := "/images/" + created.ID + "/download"
	auth = env.authHeader(t, "alice", "Circle Of Life", http.MethodGet, dlURI)
	resp = env.do(t, http.MethodGet, dlURI, auth, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	signed, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	sig, err := imaging.ExtractSignature(signed)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	// Anonymous verification of the downloaded file.
	body, contentType = multipartPNG(t, signed)
	resp = env.do(t, http.MethodPost, "/unauthorized/verify-file-signature", "", body, contentType)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var verdict struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&verdict))
	resp.Body.Close()
	assert.True(t, verdict.Valid)

	// Signing a terminal record fails as a bad request.
	auth = env.authHeader(t, "boss", "admin-pass", http.MethodPost, signURI)
	resp = env.do(t, http.MethodPost, signURI, auth, nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnonymousVerifyWithoutSignature(t *testing.T) {
	env := newAPIEnv(t)

	body, contentType := multipartPNG(t, smallPNG(t))
	resp := env.do(t, http.MethodPost, "/unauthorized/verify-file-signature", "", body, contentType)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var e struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Contains(t, e.Error, "no signature")
}

func TestFindSignatureEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	embedded, err := imaging.EmbedSignature(smallPNG(t), "c2lnbmF0dXJl")
	require.NoError(t, err)

	body, contentType := multipartPNG(t, embedded)
	resp := env.do(t, http.MethodPost, "/unauthorized/find-signature", "", body, contentType)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Signature string `json:"signature"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "c2lnbmF0dXJl", out.Signature)
}

func TestDownloadAccessControl(t *testing.T) {
	env := newAPIEnv(t)
	env.register(t, "alice", "Circle Of Life")
	env.register(t, "bob", "bob-pass-1")

	body, contentType := multipartPNG(t, smallPNG(t))
	auth := env.authHeader(t, "alice", "Circle Of Life", http.MethodPost, "/images/upload")
	resp := env.do(t, http.MethodPost, "/images/upload", auth, body, contentType)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	dlURI := "/images/" + created.ID + "/download"
	auth = env.authHeader(t, "bob", "bob-pass-1", http.MethodGet, dlURI)
	resp = env.do(t, http.MethodGet, dlURI, auth, nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
