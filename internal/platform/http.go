package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/djlord-it/easy-post/internal/domain"
)

// DefaultTimeout bounds a single platform HTTP call.
const DefaultTimeout = 30 * time.Second

const (
	maxErrorBody = 4 << 10
	maxMediaSize = 5 << 20
)

// Option configures the HTTP transport shared by the adapters.
type Option func(*client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

// WithTimeout sets the per-call timeout. Zero keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

type client struct {
	http    *http.Client
	timeout time.Duration
}

func newClient(opts []Option) *client {
	c := &client{
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	method      string
	url         string
	token       string // sent as a bearer token when set
	contentType string
	header      map[string]string
	body        []byte
}

// do sends r and decodes a 2xx JSON body into out (if non-nil). Every failure
// comes back classified; do never returns a bare error.
func (c *client) do(ctx context.Context, r request, out any) (http.Header, *Error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, newError(domain.FailureTransport, 0, "create request: %v", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	for k, v := range r.header {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(domain.FailureTransport, 0, "timeout after %s", c.timeout)
		}
		return nil, newError(domain.FailureTransport, 0, "send: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.Header, classifyStatus(resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.Header, newError(domain.FailureTransport, resp.StatusCode, "decode response: %v", err)
		}
	}
	return resp.Header, nil
}

// download fetches a media reference for platforms that need the bytes.
func (c *client) download(ctx context.Context, url string) ([]byte, string, *Error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", newError(domain.FailurePlatformRejected, 0, "media %s: %v", url, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", newError(domain.FailureTransport, 0, "fetch media %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", newError(domain.FailurePlatformRejected, resp.StatusCode, "fetch media %s", url)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaSize+1))
	if err != nil {
		return nil, "", newError(domain.FailureTransport, 0, "read media %s: %v", url, err)
	}
	if len(data) > maxMediaSize {
		return nil, "", newError(domain.FailurePlatformRejected, 0, "media %s exceeds %d bytes", url, maxMediaSize)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// classifyStatus maps a non-2xx response onto a failure kind.
// 401 means the stored token no longer works, which only re-auth can fix.
// 429 and 5xx are transient. Any other 4xx is a platform-side rejection.
func classifyStatus(status int, body []byte) *Error {
	msg := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized:
		return newError(domain.FailureCredentialsMissing, status, "%s", msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return newError(domain.FailureTransport, status, "%s", msg)
	default:
		return newError(domain.FailurePlatformRejected, status, "%s", msg)
	}
}

// errorMessage extracts a human-readable message from the error bodies the
// supported platforms return.
func errorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Detail  string `json:"detail"`
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Error.Message != "":
			return parsed.Error.Message
		case parsed.Detail != "":
			return parsed.Detail
		case parsed.Message != "":
			return parsed.Message
		case parsed.Title != "":
			return parsed.Title
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

func jsonBody(v any) ([]byte, *Error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, newError(domain.FailurePlatformRejected, 0, "marshal: %v", err)
	}
	return b, nil
}

func requireToken(platform domain.Platform, conn domain.PlatformConnection) *Error {
	if conn.AccessToken == "" {
		return newError(domain.FailureCredentialsMissing, 0, "%s: no access token", platform)
	}
	return nil
}

func endpoint(base string, parts ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}
