package helpcenter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/schaermu/helpsync/internal/model"
)

// DefaultLocale is the locale content is authored in
const DefaultLocale = "en-US"

const (
	pageSize       = 100
	requestTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Options configures an HTTPClient
type Options struct {
	// Company is the service host, e.g. acme.zendesk.com
	Company string
	// PublicURI is the host attachment binaries are served from. Defaults to
	// Company.
	PublicURI string
	Locale    string

	User     string
	Password string
	// Token switches basic auth to API token auth for User
	Token string
	// OAuthToken switches to bearer auth and takes precedence
	OAuthToken string

	// BaseURL and PublicURL override the https://{host} prefixes
	BaseURL   string
	PublicURL string

	HTTPClient *http.Client
}

// HTTPClient implements Client against the Help Center REST API
type HTTPClient struct {
	apiURL    string
	publicURL string
	locale    string
	user      string
	secret    string
	basicAuth bool
	http      *http.Client
	logger    *slog.Logger
}

// NewHTTPClient creates a client from opts
func NewHTTPClient(ctx context.Context, opts Options, logger *slog.Logger) (*HTTPClient, error) {
	if opts.Company == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("company host is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://" + opts.Company
	}
	public := strings.TrimRight(opts.PublicURL, "/")
	if public == "" {
		host := opts.PublicURI
		if host == "" {
			host = opts.Company
		}
		public = "https://" + host
	}
	locale := opts.Locale
	if locale == "" {
		locale = DefaultLocale
	}

	c := &HTTPClient{
		apiURL:    base + "/api/v2",
		publicURL: public,
		locale:    locale,
		http:      opts.HTTPClient,
		logger:    logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: requestTimeout}
	}

	switch {
	case opts.OAuthToken != "":
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
		c.http = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: opts.OAuthToken,
			TokenType:   "Bearer",
		}))
	case opts.Token != "":
		c.basicAuth = true
		c.user = opts.User + "/token"
		c.secret = opts.Token
	default:
		c.basicAuth = true
		c.user = opts.User
		c.secret = opts.Password
	}
	return c, nil
}

func (c *HTTPClient) helpCenterURL(p string) string {
	return c.apiURL + "/help_center/" + strings.ToLower(c.locale) + "/" + p
}

func (c *HTTPClient) translationURL(ref Ref) string {
	return fmt.Sprintf("%s/help_center/%s/%d/translations/%s.json", c.apiURL, Collection(ref.Kind), ref.ID, c.locale)
}

func (c *HTTPClient) itemURL(ref Ref) string {
	if ref.Kind == model.KindAttachment {
		return c.helpCenterURL(fmt.Sprintf("articles/attachments/%d.json", ref.ID))
	}
	return c.helpCenterURL(fmt.Sprintf("%s/%d.json", Collection(ref.Kind), ref.ID))
}

func (c *HTTPClient) collectionURL(kind model.Kind, parent *Ref) string {
	if parent == nil {
		return c.helpCenterURL(Collection(kind) + ".json")
	}
	return c.helpCenterURL(fmt.Sprintf("%s/%d/%s.json", Collection(parent.Kind), parent.ID, Collection(kind)))
}

func (c *HTTPClient) GetItem(ctx context.Context, ref Ref) (Record, error) {
	var out map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.itemURL(ref), nil, "", &out); err != nil {
		return nil, err
	}
	return unwrap(out, Envelope(ref.Kind))
}

// GetItems returns every item of kind below parent, following pagination
func (c *HTTPClient) GetItems(ctx context.Context, kind model.Kind, parent *Ref) ([]Record, error) {
	next := fmt.Sprintf("%s?per_page=%d", c.collectionURL(kind, parent), pageSize)
	var items []Record
	for next != "" {
		var page map[string]json.RawMessage
		if err := c.do(ctx, http.MethodGet, next, nil, "", &page); err != nil {
			return nil, err
		}
		batch, err := unwrapList(page, ListEnvelope(kind))
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
		next = ""
		if raw, ok := page["next_page"]; ok {
			_ = json.Unmarshal(raw, &next)
		}
	}
	return items, nil
}

func (c *HTTPClient) GetTranslation(ctx context.Context, ref Ref) (Record, error) {
	var out map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.translationURL(ref), nil, "", &out); err != nil {
		return nil, err
	}
	return unwrap(out, "translation")
}

func (c *HTTPClient) Put(ctx context.Context, ref Ref, fields Record) (Record, error) {
	key := Envelope(ref.Kind)
	var out map[string]json.RawMessage
	if err := c.doJSON(ctx, http.MethodPut, c.itemURL(ref), Record{key: fields}, &out); err != nil {
		return nil, err
	}
	return unwrap(out, key)
}

func (c *HTTPClient) PutTranslation(ctx context.Context, ref Ref, fields Record) (Record, error) {
	var out map[string]json.RawMessage
	if err := c.doJSON(ctx, http.MethodPut, c.translationURL(ref), Record{"translation": fields}, &out); err != nil {
		return nil, err
	}
	return unwrap(out, "translation")
}

func (c *HTTPClient) Post(ctx context.Context, kind model.Kind, fields Record, parent *Ref) (Record, error) {
	key := Envelope(kind)
	var out map[string]json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, c.collectionURL(kind, parent), Record{key: fields}, &out); err != nil {
		return nil, err
	}
	return unwrap(out, key)
}

func (c *HTTPClient) PostAttachment(ctx context.Context, article *Ref, filename string, r io.Reader) (Record, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("inline", "true"); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	u := c.helpCenterURL("articles/attachments.json")
	if article != nil {
		u = c.helpCenterURL(fmt.Sprintf("articles/%d/attachments.json", article.ID))
	}
	var out map[string]json.RawMessage
	if err := c.do(ctx, http.MethodPost, u, &body, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return unwrap(out, Envelope(model.KindAttachment))
}

// GetAttachment streams the binary served under relativePath into w
func (c *HTTPClient) GetAttachment(ctx context.Context, relativePath string, w io.Writer) error {
	u := c.publicURL + "/" + strings.TrimLeft(relativePath, "/")
	resp, err := c.send(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return c.transient(&HTTPError{Method: http.MethodGet, URL: u, Err: err})
	}
	return nil
}

func (c *HTTPClient) Delete(ctx context.Context, ref Ref) error {
	return c.do(ctx, http.MethodDelete, c.itemURL(ref), nil, "", nil)
}

func (c *HTTPClient) GetUser(ctx context.Context, id int64) (Record, error) {
	var out map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/users/%d.json", c.apiURL, id), nil, "", &out); err != nil {
		return nil, err
	}
	return unwrap(out, "user")
}

// SearchUser returns the first user matching query. An empty result, or a
// first result without an id, is reported as not found.
func (c *HTTPClient) SearchUser(ctx context.Context, query string) (Record, error) {
	u := c.apiURL + "/search.json?query=" + url.QueryEscape(query)
	var out map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, u, nil, "", &out); err != nil {
		return nil, err
	}
	results, err := unwrapList(out, "results")
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &NotFoundError{URL: u}
	}
	id, err := model.MetaFromMap(Record{model.KeyID: results[0][model.KeyID]})
	if err != nil || !id.HasID() {
		c.logger.Warn("search result without user id", "query", query)
		return nil, &NotFoundError{URL: u}
	}
	return c.GetUser(ctx, id.RemoteID())
}

func (c *HTTPClient) GetUserSegments(ctx context.Context) ([]Record, error) {
	var out map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.apiURL+"/help_center/user_segments/applicable.json", nil, "", &out); err != nil {
		return nil, err
	}
	return unwrapList(out, "user_segments")
}

func (c *HTTPClient) GetPermissionGroups(ctx context.Context) ([]Record, error) {
	var out map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.apiURL+"/guide/permission_groups.json", nil, "", &out); err != nil {
		return nil, err
	}
	return unwrapList(out, "permission_groups")
}

func (c *HTTPClient) doJSON(ctx context.Context, method, u string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request for %s: %w", u, err)
	}
	return c.do(ctx, method, u, bytes.NewReader(data), "application/json", out)
}

func (c *HTTPClient) do(ctx context.Context, method, u string, body io.Reader, contentType string, out any) error {
	resp, err := c.send(ctx, method, u, body, contentType)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return c.transient(&HTTPError{Method: method, URL: u, StatusCode: resp.StatusCode, Err: err})
	}
	return nil
}

// send issues a request and returns the response of a 200 or 201 reply. The
// caller closes the body.
func (c *HTTPClient) send(ctx context.Context, method, u string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", u, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.basicAuth {
		req.SetBasicAuth(c.user, c.secret)
	}

	c.logger.Debug("remote request", "method", method, "url", u, "request_id", requestID)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, c.transient(&HTTPError{Method: method, URL: u, Err: err})
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return resp, nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, &NotFoundError{URL: u}
	}

	text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	return nil, c.transient(&HTTPError{
		Method:     method,
		URL:        u,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(text)),
	})
}

func (c *HTTPClient) transient(err *HTTPError) error {
	c.logger.Error("remote call failed",
		"method", err.Method,
		"url", err.URL,
		"status", err.StatusCode,
		"error", err)
	return err
}

func unwrap(payload map[string]json.RawMessage, key string) (Record, error) {
	raw, ok := payload[key]
	if !ok {
		return Record{}, nil
	}
	var rec Record
	if err := decode(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	if rec == nil {
		rec = Record{}
	}
	return rec, nil
}

func unwrapList(payload map[string]json.RawMessage, key string) ([]Record, error) {
	raw, ok := payload[key]
	if !ok {
		return nil, nil
	}
	var recs []Record
	if err := decode(raw, &recs); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return recs, nil
}

func decode(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}
