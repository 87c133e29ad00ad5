package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chatcore/internal/auth"
	"chatcore/internal/middleware"
	"chatcore/internal/models"
	appRedis "chatcore/internal/redis"
	"chatcore/internal/services"
	"chatcore/internal/storage"
)

// stubPresence 只满足接口，状态常驻内存。
type stubPresence struct {
	statuses map[string]models.UserStatus
}

func (p *stubPresence) SetStatus(_ context.Context, userID string, status models.UserStatus) error {
	p.statuses[userID] = status
	return nil
}

func (p *stubPresence) Heartbeat(_ context.Context, userID string) error {
	p.statuses[userID] = models.StatusOnline
	return nil
}

func (p *stubPresence) GetStatus(_ context.Context, userID string) (models.UserStatus, error) {
	if s, ok := p.statuses[userID]; ok {
		return s, nil
	}
	return models.StatusOffline, nil
}

var _ appRedis.PresenceStore = (*stubPresence)(nil)

func newUserRouter(t *testing.T) (*mux.Router, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, storage.AutoMigrateTables(db))

	userRepo := storage.NewGormUserRepository(db)
	svc := services.NewUserService(userRepo, &stubPresence{statuses: make(map[string]models.UserStatus)})
	h := NewUserHandler(svc)

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/users/sync", h.SyncProfileHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/users/me", h.GetMyProfileHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/users/me", h.UpdateMyProfileHandler).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/users/me/status", h.SetStatusHandler).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/users/search", h.SearchUsersHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/users/{userID}/status", h.GetStatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/users/{userID}", h.GetUserProfileHandler).Methods(http.MethodGet)
	return r, db
}

// authedRequest 构造一个已通过认证中间件的请求。
func authedRequest(method, target, body, userID, email, displayName string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	claims := &auth.Claims{
		Email:       email,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID)
	ctx = context.WithValue(ctx, middleware.ClaimsKey, claims)
	return req.WithContext(ctx)
}

func TestSyncProfileHandler(t *testing.T) {
	router, _ := newUserRouter(t)

	req := authedRequest(http.MethodPost, "/api/v1/users/sync", "", "u1", "alice@example.com", "Alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var user models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "Alice", user.DisplayName)

	// 再次同步幂等
	req = authedRequest(http.MethodPost, "/api/v1/users/sync", "", "u1", "alice@example.com", "Alice")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetProfileHandlers(t *testing.T) {
	router, _ := newUserRouter(t)

	req := authedRequest(http.MethodPost, "/api/v1/users/sync", "", "u1", "alice@example.com", "Alice")
	router.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/users/me", "", "u1", "", ""))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/users/u1", "", "u2", "", ""))
	assert.Equal(t, http.StatusOK, rec.Code)

	// 不存在的用户返回 404
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/users/ghost", "", "u1", "", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateMyProfileHandler(t *testing.T) {
	router, _ := newUserRouter(t)
	router.ServeHTTP(httptest.NewRecorder(),
		authedRequest(http.MethodPost, "/api/v1/users/sync", "", "u1", "alice@example.com", "Alice"))

	body := `{"displayName":"Alice B","avatarUrl":"https://cdn.example.com/a.png"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/api/v1/users/me", body, "u1", "", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var user models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "Alice B", user.DisplayName)
	assert.Equal(t, "https://cdn.example.com/a.png", user.AvatarURL)

	// 非法请求体
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/api/v1/users/me", "{bad json", "u1", "", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusHandlers(t *testing.T) {
	router, _ := newUserRouter(t)
	router.ServeHTTP(httptest.NewRecorder(),
		authedRequest(http.MethodPost, "/api/v1/users/sync", "", "u1", "alice@example.com", "Alice"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/api/v1/users/me/status", `{"status":"away"}`, "u1", "", ""))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/users/u1/status", "", "u2", "", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "away", resp["status"])

	// 非法状态值
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodPut, "/api/v1/users/me/status", `{"status":"invisible"}`, "u1", "", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchUsersHandler(t *testing.T) {
	router, _ := newUserRouter(t)
	router.ServeHTTP(httptest.NewRecorder(),
		authedRequest(http.MethodPost, "/api/v1/users/sync", "", "u1", "alice@example.com", "Alice"))
	router.ServeHTTP(httptest.NewRecorder(),
		authedRequest(http.MethodPost, "/api/v1/users/sync", "", "u2", "bob@example.com", "Bob"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/users/search?q=bob", "", "u1", "", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var results []models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "u2", results[0].ID)

	// 缺少查询参数
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/users/search", "", "u1", "", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
