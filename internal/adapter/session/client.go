package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

// Client is the HTTP client for a remote session backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new session backend client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ Backend = (*Client)(nil)

type startRequest struct {
	URL string `json:"url"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

type clickRequest struct {
	SessionID string `json:"sessionId"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
}

// response is the envelope every backend endpoint answers with. Errors raised by the
// backend framework arrive nested under "detail".
type response struct {
	Status     string       `json:"status"`
	Message    string       `json:"message,omitempty"`
	Code       string       `json:"code,omitempty"`
	SessionID  string       `json:"sessionId,omitempty"`
	Screenshot string       `json:"screenshot,omitempty"`
	Context    *wireContext `json:"context,omitempty"`
	Detail     *response    `json:"detail,omitempty"`
}

type wireContext struct {
	DOMTree           json.RawMessage `json:"dom_tree,omitempty"`
	AccessibilityTree json.RawMessage `json:"accessibility_tree,omitempty"`
	PageMetadata      json.RawMessage `json:"page_metadata,omitempty"`
	ExtractedAt       string          `json:"extracted_at,omitempty"`
	Error             string          `json:"error,omitempty"`
}

const (
	statusOK          = "ok"
	statusClickFailed = "click_failed"

	codeSessionNotFound = "session_not_found"
	codeRenderTimeout   = "render_timeout"
)

// Start opens a session on url and returns its id.
func (c *Client) Start(ctx context.Context, url string) (string, error) {
	resp, err := c.post(ctx, "/start", startRequest{URL: url})
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	if resp.SessionID == "" {
		return "", errors.New("start session: backend returned no session id")
	}
	return resp.SessionID, nil
}

// Screenshot returns the decoded PNG bytes of the current page.
func (c *Client) Screenshot(ctx context.Context, sessionID string) ([]byte, error) {
	resp, err := c.post(ctx, "/screenshot", sessionRequest{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	if resp.Screenshot == "" {
		return nil, errors.New("screenshot: empty payload")
	}
	img, err := base64.StdEncoding.DecodeString(resp.Screenshot)
	if err != nil {
		return nil, fmt.Errorf("screenshot: decode: %w", err)
	}
	return img, nil
}

// Click clicks at (x, y). A "click_failed" answer means the click landed but nothing
// navigated; it is not an error.
func (c *Client) Click(ctx context.Context, sessionID string, x, y int) error {
	_, err := c.post(ctx, "/click", clickRequest{SessionID: sessionID, X: x, Y: y})
	return err
}

// ExtractContext asks the backend for DOM, accessibility and page metadata.
func (c *Client) ExtractContext(ctx context.Context, sessionID string) (*domain.SemanticContext, error) {
	resp, err := c.post(ctx, "/extract-context", sessionRequest{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	if resp.Context == nil {
		return nil, errors.New("extract context: empty payload")
	}
	if resp.Context.Error != "" {
		return nil, fmt.Errorf("extract context: %s", resp.Context.Error)
	}
	return &domain.SemanticContext{
		DOMTree:           resp.Context.DOMTree,
		AccessibilityTree: resp.Context.AccessibilityTree,
		PageMetadata:      resp.Context.PageMetadata,
		ExtractedAt:       parseExtractedAt(resp.Context.ExtractedAt),
	}, nil
}

// Close ends a session. Closing an unknown session is not an error.
func (c *Client) Close(ctx context.Context, sessionID string) error {
	_, err := c.post(ctx, "/close", sessionRequest{SessionID: sessionID})
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrRenderTimeout)
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out response
	decodeErr := json.Unmarshal(respBody, &out)
	if out.Detail != nil {
		out = *out.Detail
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", path, ErrSessionNotFound)
	}
	if resp.StatusCode != http.StatusOK || (out.Status != statusOK && out.Status != statusClickFailed) {
		return nil, backendError(path, resp.StatusCode, &out, respBody)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", decodeErr)
	}
	return &out, nil
}

func backendError(path string, status int, out *response, raw []byte) error {
	switch out.Code {
	case codeSessionNotFound:
		return fmt.Errorf("%s: %w", path, ErrSessionNotFound)
	case codeRenderTimeout:
		return fmt.Errorf("%s: %w", path, ErrRenderTimeout)
	}
	if out.Message != "" {
		return fmt.Errorf("session backend error [%d] %s: %s", status, path, out.Message)
	}
	return fmt.Errorf("session backend error [%d] %s: %s", status, path, strings.TrimSpace(string(raw)))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

var extractedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// parseExtractedAt accepts RFC 3339 and naive UTC ISO timestamps.
func parseExtractedAt(raw string) time.Time {
	for _, layout := range extractedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
