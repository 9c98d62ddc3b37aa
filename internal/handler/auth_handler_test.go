package handler

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	internalmiddleware "github.com/allo-oral/clinicaflow-api/internal/middleware"
	"github.com/allo-oral/clinicaflow-api/internal/models"
	"github.com/allo-oral/clinicaflow-api/internal/service"
)

type memoryUserRepo struct {
	users      map[string]*models.User
	idsByEmail map[string]string
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]*models.User), idsByEmail: make(map[string]string)}
}

func (r *memoryUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	id, ok := r.idsByEmail[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return r.users[id], nil
}

func (r *memoryUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (r *memoryUserRepo) Create(ctx context.Context, user *models.User) error {
	r.users[user.ID] = user
	r.idsByEmail[user.Email] = user.ID
	return nil
}

func (r *memoryUserRepo) SetRefreshTokenHash(ctx context.Context, userID, hash string) error {
	if user, ok := r.users[userID]; ok {
		user.RefreshTokenHash = &hash
	}
	return nil
}

func (r *memoryUserRepo) RotateRefreshTokenHash(ctx context.Context, userID, oldHash, newHash string) (bool, error) {
	user, ok := r.users[userID]
	if !ok || user.RefreshTokenHash == nil || *user.RefreshTokenHash != oldHash {
		return false, nil
	}
	user.RefreshTokenHash = &newHash
	return true, nil
}

func (r *memoryUserRepo) ClearRefreshTokenHash(ctx context.Context, userID string) error {
	if user, ok := r.users[userID]; ok {
		user.RefreshTokenHash = nil
	}
	return nil
}

func (r *memoryUserRepo) SetResetToken(ctx context.Context, userID, hash string, expiry time.Time) error {
	if user, ok := r.users[userID]; ok {
		user.ResetTokenHash = &hash
		user.ResetTokenExpiry = &expiry
	}
	return nil
}

func (r *memoryUserRepo) CompletePasswordReset(ctx context.Context, userID, passwordHash string) error {
	if user, ok := r.users[userID]; ok {
		user.PasswordHash = passwordHash
		user.ResetTokenHash = nil
		user.ResetTokenExpiry = nil
		user.RefreshTokenHash = nil
	}
	return nil
}

func (r *memoryUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

func buildAuthRouter(t *testing.T) (*gin.Engine, *memoryUserRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := newMemoryUserRepo()
	sessions := service.NewSessionService(repo, nil, nil, nil, zap.NewNop(), nil, service.SessionConfig{
		AccessTokenSecret:  "access-secret-for-tests-0123456789ab",
		RefreshTokenSecret: "refresh-secret-for-tests-0123456789a",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		ResetCodeExpiry:    15 * time.Minute,
		Issuer:             "clinicaflow-test",
	})
	h := NewAuthHandler(sessions)

	r := gin.New()
	auth := r.Group("/auth")
	auth.POST("/login", h.Login)
	auth.POST("/register", h.Register)
	auth.POST("/refresh", h.Refresh)
	auth.POST("/request-password-reset", h.RequestPasswordReset)
	auth.POST("/reset-password", h.ResetPassword)

	secured := auth.Group("")
	secured.Use(internalmiddleware.JWT(sessions))
	secured.POST("/logout", h.Logout)
	secured.GET("/me", h.Me)

	return r, repo
}

func seedAccount(t *testing.T, repo *memoryUserRepo, email, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	user := &models.User{
		ID:           "user-" + email,
		Email:        email,
		PasswordHash: string(hash),
		FullName:     "Alice Example",
		ClinicName:   "Allo Oral",
		TenantID:     "user-" + email,
	}
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func postJSON(router *gin.Engine, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	return env
}

func TestLoginEndpoint(t *testing.T) {
	router, repo := buildAuthRouter(t)
	seedAccount(t, repo, "alice@example.com", "secret1")

	t.Run("success", func(t *testing.T) {
		resp := postJSON(router, "/auth/login", `{"email":"alice@example.com","password":"secret1"}`, nil)
		require.Equal(t, http.StatusOK, resp.Code)

		env := decodeEnvelope(t, resp)
		require.Nil(t, env.Error)

		var payload models.AuthResponse
		require.NoError(t, json.Unmarshal(env.Data, &payload))
		require.NotEmpty(t, payload.AccessToken)
		require.NotEmpty(t, payload.RefreshToken)
		require.Equal(t, payload.AccessToken, payload.Token)
		require.Equal(t, "alice@example.com", payload.User.Email)
		require.NotContains(t, resp.Body.String(), "password_hash")
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := postJSON(router, "/auth/login", `{"email":"alice@example.com","password":"nope"}`, nil)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
		env := decodeEnvelope(t, resp)
		require.NotNil(t, env.Error)
		require.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
	})

	t.Run("unknown email matches wrong password", func(t *testing.T) {
		resp := postJSON(router, "/auth/login", `{"email":"ghost@example.com","password":"nope"}`, nil)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
		env := decodeEnvelope(t, resp)
		require.NotNil(t, env.Error)
		require.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp := postJSON(router, "/auth/login", `{`, nil)
		require.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestRegisterEndpoint(t *testing.T) {
	router, _ := buildAuthRouter(t)

	body := `{"name":"Alice Example","email":"alice@example.com","password":"secret1","clinicName":"Allo Oral"}`
	resp := postJSON(router, "/auth/register", body, nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	env := decodeEnvelope(t, resp)
	require.Nil(t, env.Error)
	var payload models.AuthResponse
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	require.Equal(t, payload.User.ID, payload.User.TenantID)

	resp = postJSON(router, "/auth/register", body, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	env = decodeEnvelope(t, resp)
	require.NotNil(t, env.Error)
	require.Equal(t, "EMAIL_TAKEN", env.Error.Code)
}

func TestRefreshEndpointRotation(t *testing.T) {
	router, repo := buildAuthRouter(t)
	seedAccount(t, repo, "alice@example.com", "secret1")

	resp := postJSON(router, "/auth/login", `{"email":"alice@example.com","password":"secret1"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var login models.AuthResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &login))

	resp = postJSON(router, "/auth/refresh", fmt.Sprintf(`{"refreshToken":%q}`, login.RefreshToken), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var pair models.TokenPair
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &pair))
	require.NotEqual(t, login.RefreshToken, pair.RefreshToken)

	// Replaying the superseded token is reuse.
	resp = postJSON(router, "/auth/refresh", fmt.Sprintf(`{"refreshToken":%q}`, login.RefreshToken), nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, "TOKEN_REUSED", decodeEnvelope(t, resp).Error.Code)

	resp = postJSON(router, "/auth/refresh", `{}`, nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, "MISSING_TOKEN", decodeEnvelope(t, resp).Error.Code)
}

func TestLogoutEndpoint(t *testing.T) {
	router, repo := buildAuthRouter(t)
	seedAccount(t, repo, "alice@example.com", "secret1")

	resp := postJSON(router, "/auth/login", `{"email":"alice@example.com","password":"secret1"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var login models.AuthResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &login))

	resp = postJSON(router, "/auth/logout", ``, map[string]string{"Authorization": "Bearer " + login.AccessToken})
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = postJSON(router, "/auth/refresh", fmt.Sprintf(`{"refreshToken":%q}`, login.RefreshToken), nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, "TOKEN_REUSED", decodeEnvelope(t, resp).Error.Code)

	resp = postJSON(router, "/auth/logout", ``, nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestMeEndpoint(t *testing.T) {
	router, repo := buildAuthRouter(t)
	user := seedAccount(t, repo, "alice@example.com", "secret1")

	resp := postJSON(router, "/auth/login", `{"email":"alice@example.com","password":"secret1"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var login models.AuthResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, resp).Data, &login))

	req, _ := http.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), user.ID)

	// A refresh token is not a bearer credential.
	req, _ = http.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.RefreshToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordResetEndpoints(t *testing.T) {
	router, repo := buildAuthRouter(t)
	user := seedAccount(t, repo, "alice@example.com", "secret1")

	// The acknowledgement is identical for known and unknown emails.
	known := postJSON(router, "/auth/request-password-reset", `{"email":"alice@example.com"}`, nil)
	unknown := postJSON(router, "/auth/request-password-reset", `{"email":"ghost@example.com"}`, nil)
	require.Equal(t, http.StatusOK, known.Code)
	require.Equal(t, http.StatusOK, unknown.Code)
	require.Equal(t, known.Body.String(), unknown.Body.String())

	require.NotNil(t, user.ResetTokenHash, "known account got a code even without a mailer")

	// Plant a known code so the completion path is deterministic.
	sum := sha256.Sum256([]byte("123456"))
	codeHash := hex.EncodeToString(sum[:])
	expiry := time.Now().UTC().Add(15 * time.Minute)
	require.NoError(t, repo.SetResetToken(context.Background(), user.ID, codeHash, expiry))

	resp := postJSON(router, "/auth/reset-password", `{"email":"alice@example.com","resetToken":"654321","newPassword":"brandnew"}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "INVALID_RESET_CODE", decodeEnvelope(t, resp).Error.Code)

	resp = postJSON(router, "/auth/reset-password", `{"email":"alice@example.com","resetToken":"123456","newPassword":"x"}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, resp).Error.Code)

	resp = postJSON(router, "/auth/reset-password", `{"email":"alice@example.com","resetToken":"123456","newPassword":"brandnew"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = postJSON(router, "/auth/login", `{"email":"alice@example.com","password":"brandnew"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)
}
