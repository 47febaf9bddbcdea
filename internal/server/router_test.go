package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarcoPoloResearchLab/campbot/internal/auth"
	"github.com/MarcoPoloResearchLab/campbot/internal/database"
	"github.com/MarcoPoloResearchLab/campbot/internal/store"
)

func newSeededStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	cache, err := store.NewStore(store.Config{Database: db})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cache.UpsertDocument(ctx, store.DocumentSnapshot{
		DocumentID: 42,
		Type:       "r",
		VersionID:  120,
		Locales: []store.LocaleFields{
			{Lang: "fr", Fields: map[string]string{"title": "Arête sud", "description": "voir [picto] ici"}},
			{Lang: "en", Fields: map[string]string{"title": "South ridge"}},
		},
	})
	require.NoError(t, err)
	_, err = cache.InsertContribution(ctx, store.Contribution{VersionID: 130, DocumentID: 42, Type: "r"})
	require.NoError(t, err)
	return cache
}

func newTestRouter(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if deps.UIURL == "" {
		deps.UIURL = "https://www.camptocamp.org"
	}
	handler, err := NewHTTPHandler(deps)
	require.NoError(t, err)
	return handler
}

func serve(handler http.Handler, target string, headers map[string]string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestNewHTTPHandlerRequiresCache(t *testing.T) {
	_, err := NewHTTPHandler(Dependencies{})
	require.ErrorIs(t, err, errMissingCache)
}

func TestHandleGetDocument(t *testing.T) {
	router := newTestRouter(t, Dependencies{Cache: newSeededStore(t)})

	recorder := serve(router, "/documents/42", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var payload documentResponsePayload
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.Equal(t, int64(120), payload.VersionID)
	require.Equal(t, "https://www.camptocamp.org/routes/42", payload.URL)
	require.Equal(t, map[string]map[string]string{
		"en": {"title": "South ridge"},
		"fr": {"title": "Arête sud", "description": "voir [picto] ici"},
	}, payload.Locales)

	require.Equal(t, http.StatusNotFound, serve(router, "/documents/7", nil).Code)
	require.Equal(t, http.StatusBadRequest, serve(router, "/documents/abc", nil).Code)
}

func TestHandleSearch(t *testing.T) {
	router := newTestRouter(t, Dependencies{Cache: newSeededStore(t)})

	recorder := serve(router, "/search?pattern="+url.QueryEscape(`\[picto`), nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var payload searchResponsePayload
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.Equal(t, []searchMatchPayload{{
		DocumentID: 42, Type: "r", Lang: "fr", Field: "description",
		URL: "https://www.camptocamp.org/routes/42/fr",
	}}, payload.Matches)

	recorder = serve(router, "/search?ignore_case=true&pattern="+url.QueryEscape("SOUTH"), nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.Len(t, payload.Matches, 1)
	require.Equal(t, "en", payload.Matches[0].Lang)

	recorder = serve(router, "/search?pattern="+url.QueryEscape("[unclosed"), nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.JSONEq(t, `{"error":"invalid_pattern","code":"store.search.invalid_pattern"}`, recorder.Body.String())

	require.Equal(t, http.StatusBadRequest, serve(router, "/search", nil).Code)
}

func TestHandleCursor(t *testing.T) {
	router := newTestRouter(t, Dependencies{Cache: newSeededStore(t)})

	recorder := serve(router, "/cursor", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.JSONEq(t, `{"document":120,"contribution":130}`, recorder.Body.String())
}

type failingCache struct {
	err error
}

func (c failingCache) GetDocument(context.Context, int64) (store.StoredDocument, error) {
	return store.StoredDocument{}, c.err
}

func (c failingCache) Search(context.Context, string, store.SearchOptions) ([]store.SearchMatch, error) {
	return nil, c.err
}

func (c failingCache) HighestVersionID(context.Context, store.RecordKind) (int64, error) {
	return 0, c.err
}

func TestStoreFailuresAreReported(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := newTestRouter(t, Dependencies{Cache: failingCache{err: errors.New("database is locked")}, Logger: zap.New(core)})

	require.Equal(t, http.StatusInternalServerError, serve(router, "/cursor", nil).Code)
	require.Equal(t, http.StatusInternalServerError, serve(router, "/documents/1", nil).Code)
	require.Equal(t, 2, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("api-secret"),
		Issuer:        "campbot",
		Audience:      "campbot-api",
	})
	require.NoError(t, err)
	router := newTestRouter(t, Dependencies{Cache: newSeededStore(t), Tokens: issuer})

	require.Equal(t, http.StatusOK, serve(router, "/healthz", nil).Code)
	require.Equal(t, http.StatusUnauthorized, serve(router, "/cursor", nil).Code)
	require.Equal(t, http.StatusUnauthorized, serve(router, "/cursor", map[string]string{"Authorization": "Bearer garbage"}).Code)

	token, _, err := issuer.IssueToken(context.Background(), "reviewer")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, serve(router, "/cursor", map[string]string{"Authorization": "Bearer " + token}).Code)
}

type stubTokenValidator struct {
	subject     string
	validateErr error
}

func (s stubTokenValidator) ValidateToken(string) (string, error) {
	return s.subject, s.validateErr
}

func TestAuthorizeRequestLogLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testCases := []struct {
		name  string
		err   error
		level zapcore.Level
	}{
		{name: "expired", err: jwt.ErrTokenExpired, level: zapcore.InfoLevel},
		{name: "unexpected", err: errors.New("signature is invalid"), level: zapcore.WarnLevel},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			request := httptest.NewRequest(http.MethodGet, "/cursor", http.NoBody)
			request.Header.Set("Authorization", "Bearer some-token")
			ctx.Request = request

			core, logs := observer.New(zapcore.DebugLevel)
			handler := &httpHandler{tokens: stubTokenValidator{validateErr: testCase.err}, logger: zap.New(core)}
			handler.authorizeRequest(ctx)

			require.Equal(t, http.StatusUnauthorized, recorder.Code)
			entries := logs.All()
			require.Len(t, entries, 1)
			require.Equal(t, testCase.level, entries[0].Level)
			require.Equal(t, "token validation failed", entries[0].Message)
		})
	}
}

func TestAuthorizeRequestStoresSubject(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/cursor", http.NoBody)
	request.Header.Set("Authorization", "Bearer valid")
	ctx.Request = request

	handler := &httpHandler{tokens: stubTokenValidator{subject: "reviewer"}, logger: zap.NewNop()}
	handler.authorizeRequest(ctx)

	require.False(t, ctx.IsAborted())
	require.Equal(t, "reviewer", ctx.GetString(subjectContextKey))
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t, Dependencies{Cache: newSeededStore(t)})

	request := httptest.NewRequest(http.MethodOptions, "/search", http.NoBody)
	request.Header.Set("Origin", "https://review.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusNoContent, recorder.Code)
	require.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "43200", recorder.Header().Get("Access-Control-Max-Age"))
}
