// Package translate mirrors content files into the WebTranslateIt
// translation service.
package translate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBaseURL is the service API root
const DefaultBaseURL = "https://webtranslateit.com/api"

// Client manages master documents of a translation project
type Client interface {
	// Create uploads a new document and returns its id
	Create(ctx context.Context, name string, r io.Reader) (string, error)
	// Move re-uploads document id under a new name
	Move(ctx context.Context, id, name string, r io.Reader) error
	Delete(ctx context.Context, id string) error
}

// Error is returned for failed service calls
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// HTTPClient implements Client against the WebTranslateIt file API
type HTTPClient struct {
	filesURL string
	locale   string
	http     *http.Client
	logger   *slog.Logger
}

// NewHTTPClient creates a client for the project identified by apiKey.
// baseURL may be empty.
func NewHTTPClient(baseURL, apiKey, locale string, logger *slog.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		filesURL: strings.TrimRight(baseURL, "/") + "/projects/" + apiKey + "/files",
		locale:   locale,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

func (c *HTTPClient) Create(ctx context.Context, name string, r io.Reader) (string, error) {
	body, err := c.send(ctx, http.MethodPost, c.filesURL, name, r)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(body))
	if id == "" {
		return "", fmt.Errorf("no document id returned for %s", name)
	}
	return id, nil
}

func (c *HTTPClient) Move(ctx context.Context, id, name string, r io.Reader) error {
	u := fmt.Sprintf("%s/%s/locales/%s", c.filesURL, id, c.locale)
	_, err := c.send(ctx, http.MethodPut, u, name, r)
	return err
}

func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	_, err := c.send(ctx, http.MethodDelete, c.filesURL+"/"+id, "", nil)
	return err
}

func (c *HTTPClient) send(ctx context.Context, method, u, name string, r io.Reader) ([]byte, error) {
	var body io.Reader
	contentType := ""
	if r != nil {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := mw.WriteField("name", name); err != nil {
			return nil, err
		}
		part, err := mw.CreateFormFile("file", path.Base(name))
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, r); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		body = &buf
		contentType = mw.FormDataContentType()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", u, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.logger.Debug("translation request", "method", method, "url", u, "request_id", requestID)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call translation service: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation service response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Method: method, URL: u, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
