package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/campbot/internal/auth"
)

const (
	contributionsPageSize = 100
	maxErrorBodyBytes     = 512
	defaultRequestTimeout = 60 * time.Second
)

var (
	ErrInvalidClientConfig = errors.New("remote: invalid client configuration")
	ErrNotLoggedIn         = errors.New("remote: login required")
	ErrSessionExpired      = errors.New("remote: session expired")
	ErrUnexpectedStatus    = errors.New("remote: unexpected status")
)

// StatusError reports a non-2xx answer from the platform.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// ClientConfig configures the platform client.
type ClientConfig struct {
	APIURL     string
	UIURL      string
	MinDelay   time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Client talks to the content platform API. It is built once and shared; the
// session obtained by Login is never renewed implicitly.
type Client struct {
	apiURL     *url.URL
	uiURL      string
	minDelay   time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	clock      func() time.Time

	mu          sync.Mutex
	lastRequest time.Time
	session     auth.RemoteSession
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiURL, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"))
	if err != nil || apiURL.Scheme == "" || apiURL.Host == "" {
		return nil, fmt.Errorf("%w: api url %q must be absolute", ErrInvalidClientConfig, cfg.APIURL)
	}
	if cfg.MinDelay < 0 {
		return nil, fmt.Errorf("%w: negative min delay", ErrInvalidClientConfig)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Client{
		apiURL:     apiURL,
		uiURL:      strings.TrimRight(strings.TrimSpace(cfg.UIURL), "/"),
		minDelay:   cfg.MinDelay,
		httpClient: httpClient,
		logger:     logger,
		clock:      clock,
	}, nil
}

// DocumentURL returns the UI address of a document.
func (c *Client) DocumentURL(documentID int64, documentType, lang string) (string, error) {
	return DocumentURL(c.uiURL, documentID, documentType, lang)
}

type loginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Discourse bool   `json:"discourse"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login opens an authenticated session used by every later request.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var response loginResponse
	request := loginRequest{Username: username, Password: password, Discourse: true}
	if err := c.do(ctx, http.MethodPost, "/users/login", nil, request, &response); err != nil {
		return err
	}
	session, err := auth.ParseRemoteSession(response.Token)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	c.logger.Info("logged in", zap.String("username", username), zap.Time("expires_at", session.ExpiresAt))
	return nil
}

// LoggedIn reports whether Login succeeded on this client.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Token != ""
}

// GetDocument fetches the latest snapshot of one document.
func (c *Client) GetDocument(ctx context.Context, documentID int64, documentType string) (Document, error) {
	path, err := documentPath(documentID, documentType)
	if err != nil {
		return Document{}, err
	}
	var document Document
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &document); err != nil {
		return Document{}, err
	}
	return document, nil
}

type saveRequest struct {
	Message  string   `json:"message"`
	Document Document `json:"document"`
}

// SaveDocument pushes a modified document back with a change message.
func (c *Client) SaveDocument(ctx context.Context, document Document, message string) error {
	if !c.LoggedIn() {
		return ErrNotLoggedIn
	}
	path, err := documentPath(document.DocumentID, document.Type)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, path, nil, saveRequest{Message: message, Document: document}, nil)
}

type changesPage struct {
	Feed            []Contribution `json:"feed"`
	PaginationToken string         `json:"pagination_token"`
}

// Contributions lazily walks the change feed from the newest contribution
// backwards. The sequence ends on an empty page, on a missing pagination
// token, or at the first contribution written before oldestDate.
func (c *Client) Contributions(ctx context.Context, oldestDate string) iter.Seq2[Contribution, error] {
	return func(yield func(Contribution, error) bool) {
		token := ""
		for {
			query := url.Values{}
			query.Set("limit", strconv.Itoa(contributionsPageSize))
			if token != "" {
				query.Set("token", token)
			}
			var page changesPage
			if err := c.do(ctx, http.MethodGet, "/documents/changes", query, nil, &page); err != nil {
				yield(Contribution{}, err)
				return
			}
			for _, contribution := range page.Feed {
				if oldestDate != "" && contribution.WrittenAt < oldestDate {
					return
				}
				if !yield(contribution, nil) {
					return
				}
			}
			if len(page.Feed) == 0 || page.PaginationToken == "" {
				return
			}
			token = page.PaginationToken
		}
	}
}

func documentPath(documentID int64, documentType string) (string, error) {
	segment, err := URLPath(documentType)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/%s/%d", segment, documentID), nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}

	endpoint := *c.apiURL
	endpoint.Path = c.apiURL.Path + path
	endpoint.RawQuery = query.Encode()

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), payload)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(request); err != nil {
		return err
	}

	c.logger.Debug("remote request", zap.String("method", method), zap.String("path", path))
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return &StatusError{Method: method, Path: path, StatusCode: response.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) authorize(request *http.Request) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session.Token == "" {
		return nil
	}
	if err := session.CheckActive(c.clock()); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	request.Header.Set("Authorization", fmt.Sprintf("JWT token=%q", session.Token))
	return nil
}

// throttle spaces successive requests by at least the configured minimum delay.
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.minDelay > 0 && !c.lastRequest.IsZero() {
		if wait := c.minDelay - c.clock().Sub(c.lastRequest); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	c.lastRequest = c.clock()
	return nil
}
