// Package backend is the thin client for the managed backend-as-a-service
// that owns persistence and row-level security. The exchange service talks
// to it with service-role credentials; browsers talk to it with the
// deployment's public API key plus either its managed session or a bridge
// session token.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// Client issues REST-style requests against the backend. The zero value is
// not usable; construct with New or NewServiceRole.
type Client struct {
	baseURL string
	apiKey  string
	bearer  string
	http    *http.Client
}

// New returns a client authenticated as "a legitimate client of this
// deployment": both the api-key header and the bearer carry the public key.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		bearer:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// NewServiceRole returns a client with elevated store credentials. Server
// side only; the service key bypasses row-level security.
func NewServiceRole(baseURL, serviceKey string) *Client {
	return New(baseURL, serviceKey)
}

// WithToken returns a copy bound to a session token: the bearer is the
// token, the api-key header keeps the deployment key, and nothing
// auto-refreshes. This is the per-token client the auth context resolver
// caches.
func (c *Client) WithToken(tok string) *Client {
	cp := *c
	cp.bearer = tok
	return &cp
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Response is a decoded backend reply.
type Response struct {
	Status int
	Body   []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool { return r.Status/100 == 2 }

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error { return json.Unmarshal(r.Body, v) }

// Do performs one request. pathAndQuery must start with "/". A JSON body is
// marshalled when body is non-nil. The context bounds the call; pass a
// deadline for anything on a login path.
func (c *Client) Do(ctx context.Context, method, pathAndQuery string, headers map[string]string, body any) (*Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: marshal body: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, rd)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: read body: %w", err)
	}
	return &Response{Status: resp.StatusCode, Body: b}, nil
}

func (c *Client) Get(ctx context.Context, pathAndQuery string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, pathAndQuery, nil, nil)
}

func (c *Client) Post(ctx context.Context, pathAndQuery string, headers map[string]string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, pathAndQuery, headers, body)
}

func (c *Client) Patch(ctx context.Context, pathAndQuery string, headers map[string]string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, pathAndQuery, headers, body)
}
