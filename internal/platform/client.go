// Package platform talks to the host platform's private HTTP API and
// classifies its failures (rate-limited, session-expired, not-found,
// restricted) for the retry machinery upstream.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxCommentFetch is how many comments are requested per scan regardless of
// the caller's processing limit, so the total count stays accurate.
const maxCommentFetch = 200

// Comment is one platform comment, fetched per poll cycle and never
// persisted independently.
type Comment struct {
	ID        string
	UserID    string
	Username  string
	Text      string
	CreatedAt time.Time
}

// Account identifies the authenticated account; used as a liveness probe.
type Account struct {
	UserID   string
	Username string
}

// Client is the platform surface the monitor and executor consume.
type Client interface {
	ResolvePostID(ctx context.Context, postURL string) (string, error)
	FetchComments(ctx context.Context, postID string, limit int) ([]Comment, int, error)
	SendDirectMessage(ctx context.Context, userID, text string) error
	PostReply(ctx context.Context, postID, commentID, text string) error
	AccountInfo(ctx context.Context) (Account, error)
}

// Config configures an HTTPClient. TokenSource supplies the session token
// per request so a refreshed session takes effect without rebuilding the
// client.
type Config struct {
	BaseURL     string
	HTTPClient  *http.Client
	TokenSource func() string
	UserAgent   string
}

type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	tokenSource func() string
	userAgent   string
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg Config) *HTTPClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	tokenSource := cfg.TokenSource
	if tokenSource == nil {
		tokenSource = func() string { return "" }
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient:  httpClient,
		tokenSource: tokenSource,
		userAgent:   strings.TrimSpace(cfg.UserAgent),
	}
}

// ResolvePostID extracts the shortcode from a post or reel URL and asks the
// platform for the native media id.
func (c *HTTPClient) ResolvePostID(ctx context.Context, postURL string) (string, error) {
	code, err := shortcodeFromURL(postURL)
	if err != nil {
		return "", err
	}

	var decoded struct {
		PostID string `json:"post_id"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/media/shortcode/"+url.PathEscape(code), nil, &decoded, "resolve post id"); err != nil {
		return "", err
	}
	if strings.TrimSpace(decoded.PostID) == "" {
		return "", errors.New("resolve post id: empty post_id in response")
	}
	return decoded.PostID, nil
}

// FetchComments returns up to limit comments plus the total count the
// platform reported.
func (c *HTTPClient) FetchComments(ctx context.Context, postID string, limit int) ([]Comment, int, error) {
	if strings.TrimSpace(postID) == "" {
		return nil, 0, errors.New("post id is required")
	}
	if limit <= 0 || limit > maxCommentFetch {
		limit = maxCommentFetch
	}

	var decoded struct {
		Comments []wireComment `json:"comments"`
		Total    int           `json:"total"`
	}
	path := "/api/v1/media/" + url.PathEscape(postID) + "/comments?limit=" + strconv.Itoa(maxCommentFetch)
	if err := c.do(ctx, http.MethodGet, path, nil, &decoded, "fetch comments"); err != nil {
		return nil, 0, err
	}

	total := decoded.Total
	if total == 0 {
		total = len(decoded.Comments)
	}
	if len(decoded.Comments) > limit {
		decoded.Comments = decoded.Comments[:limit]
	}
	out := make([]Comment, 0, len(decoded.Comments))
	for _, wc := range decoded.Comments {
		out = append(out, wc.toComment())
	}
	return out, total, nil
}

func (c *HTTPClient) SendDirectMessage(ctx context.Context, userID, text string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("text is required")
	}
	body := map[string]string{"recipient_id": userID, "text": text}
	return c.do(ctx, http.MethodPost, "/api/v1/direct/messages", body, nil, "send direct message")
}

func (c *HTTPClient) PostReply(ctx context.Context, postID, commentID, text string) error {
	if strings.TrimSpace(postID) == "" {
		return errors.New("post id is required")
	}
	if strings.TrimSpace(commentID) == "" {
		return errors.New("comment id is required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("text is required")
	}
	body := map[string]string{"text": text, "replied_to_comment_id": commentID}
	return c.do(ctx, http.MethodPost, "/api/v1/media/"+url.PathEscape(postID)+"/comments", body, nil, "post reply")
}

func (c *HTTPClient) AccountInfo(ctx context.Context) (Account, error) {
	var decoded struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/current", nil, &decoded, "account info"); err != nil {
		return Account{}, err
	}
	return Account{UserID: decoded.UserID, Username: decoded.Username}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, reqBody any, out any, op string) error {
	if c.baseURL == "" {
		return errors.New("platform base url is required")
	}

	var body io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(c.tokenSource()); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message := errorMessage(respBody)
		if message == "" {
			message = resp.Status
		}
		return &Error{
			Kind: classify(resp.StatusCode, message),
			Op:   op,
			Err:  fmt.Errorf("status %d: %s", resp.StatusCode, message),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

type wireComment struct {
	ID   string `json:"id"`
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

func (wc wireComment) toComment() Comment {
	createdAt, _ := time.Parse(time.RFC3339, wc.CreatedAt)
	return Comment{
		ID:        wc.ID,
		UserID:    wc.User.ID,
		Username:  wc.User.Username,
		Text:      wc.Text,
		CreatedAt: createdAt,
	}
}

func errorMessage(body []byte) string {
	var decoded struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && strings.TrimSpace(decoded.Message) != "" {
		return strings.TrimSpace(decoded.Message)
	}
	return strings.TrimSpace(string(body))
}

// shortcodeFromURL pulls the shortcode out of a /p/ or /reel/ URL.
func shortcodeFromURL(postURL string) (string, error) {
	trimmed := strings.TrimSpace(postURL)
	if trimmed == "" {
		return "", errors.New("post url is required")
	}
	for _, marker := range []string{"/p/", "/reel/"} {
		_, rest, found := strings.Cut(trimmed, marker)
		if !found {
			continue
		}
		code, _, _ := strings.Cut(rest, "/")
		code, _, _ = strings.Cut(code, "?")
		if code == "" {
			return "", fmt.Errorf("post url %q has empty shortcode", postURL)
		}
		return code, nil
	}
	return "", fmt.Errorf("post url %q is not a post or reel link", postURL)
}
