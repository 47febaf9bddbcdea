package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/campbot/internal/remote"
	"github.com/MarcoPoloResearchLab/campbot/internal/store"
)

const subjectContextKey = "campbot_subject"

var (
	errMissingCache         = errors.New("cache dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Cache is the read side of the local store served over HTTP.
type Cache interface {
	GetDocument(ctx context.Context, documentID int64) (store.StoredDocument, error)
	Search(ctx context.Context, pattern string, opts store.SearchOptions) ([]store.SearchMatch, error)
	HighestVersionID(ctx context.Context, kind store.RecordKind) (int64, error)
}

// TokenValidator checks bearer tokens and returns their subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP handler. A nil Tokens leaves the API open.
type Dependencies struct {
	Cache  Cache
	Tokens TokenValidator
	UIURL  string
	Logger *zap.Logger
}

// NewHTTPHandler builds the read-only API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Cache == nil {
		return nil, errMissingCache
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		cache:  deps.Cache,
		tokens: deps.Tokens,
		uiURL:  deps.UIURL,
		logger: logger,
	}

	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/")
	if deps.Tokens != nil {
		api.Use(handler.authorizeRequest)
	}
	api.GET("/documents/:id", handler.handleGetDocument)
	api.GET("/search", handler.handleSearch)
	api.GET("/cursor", handler.handleCursor)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	cache  Cache
	tokens TokenValidator
	uiURL  string
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type documentResponsePayload struct {
	DocumentID int64                        `json:"document_id"`
	Type       string                       `json:"type"`
	VersionID  int64                        `json:"version_id"`
	URL        string                       `json:"url,omitempty"`
	Locales    map[string]map[string]string `json:"locales"`
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	documentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || documentID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document_id"})
		return
	}

	stored, err := h.cache.GetDocument(c.Request.Context(), documentID)
	if errors.Is(err, store.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.respondStoreError(c, "failed to load document", err)
		return
	}

	response := documentResponsePayload{
		DocumentID: stored.Document.DocumentID,
		Type:       stored.Document.Type,
		VersionID:  stored.Document.VersionID,
		Locales:    make(map[string]map[string]string),
	}
	if h.uiURL != "" {
		if url, err := remote.DocumentURL(h.uiURL, documentID, stored.Document.Type, ""); err == nil {
			response.URL = url
		}
	}
	for _, locale := range stored.Locales {
		fields, ok := response.Locales[locale.Lang]
		if !ok {
			fields = make(map[string]string)
			response.Locales[locale.Lang] = fields
		}
		fields[locale.Field] = locale.Value
	}
	c.JSON(http.StatusOK, response)
}

type searchMatchPayload struct {
	DocumentID int64  `json:"document_id"`
	Type       string `json:"type"`
	Lang       string `json:"lang"`
	Field      string `json:"field"`
	URL        string `json:"url,omitempty"`
}

type searchResponsePayload struct {
	Pattern string               `json:"pattern"`
	Matches []searchMatchPayload `json:"matches"`
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	pattern := c.Query("pattern")
	if strings.TrimSpace(pattern) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_pattern"})
		return
	}
	ignoreCase, _ := strconv.ParseBool(c.DefaultQuery("ignore_case", "false"))

	matches, err := h.cache.Search(c.Request.Context(), pattern, store.SearchOptions{IgnoreCase: ignoreCase})
	if errors.Is(err, store.ErrInvalidPattern) {
		h.respondError(c, http.StatusBadRequest, "invalid_pattern", err)
		return
	}
	if err != nil {
		h.respondStoreError(c, "search failed", err)
		return
	}

	response := searchResponsePayload{Pattern: pattern, Matches: make([]searchMatchPayload, 0, len(matches))}
	for _, match := range matches {
		payload := searchMatchPayload{
			DocumentID: match.DocumentID,
			Type:       match.Type,
			Lang:       match.Lang,
			Field:      match.Field,
		}
		if h.uiURL != "" {
			if url, err := remote.DocumentURL(h.uiURL, match.DocumentID, match.Type, match.Lang); err == nil {
				payload.URL = url
			}
		}
		response.Matches = append(response.Matches, payload)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCursor(c *gin.Context) {
	response := make(map[string]int64, 2)
	for _, kind := range []store.RecordKind{store.RecordKindDocument, store.RecordKindContribution} {
		highest, err := h.cache.HighestVersionID(c.Request.Context(), kind)
		if err != nil {
			h.respondStoreError(c, "failed to read cursor", err)
			return
		}
		response[string(kind)] = highest
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) respondStoreError(c *gin.Context, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	h.respondError(c, http.StatusInternalServerError, "store_failed", err)
}

func (h *httpHandler) respondError(c *gin.Context, status int, code string, err error) {
	body := gin.H{"error": code}
	var serviceErr *store.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	c.JSON(status, body)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}
