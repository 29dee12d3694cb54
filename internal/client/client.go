// Package client is a typed HTTP client for the control-plane API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bcnelson/splunk-eam/internal/domain"
)

// Client talks to one control-plane server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithInsecure disables TLS certificate verification.
func WithInsecure(insecure bool) Option {
	return func(c *Client) {
		if !insecure {
			return
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed deployments
		c.http.Transport = tr
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a client for baseURL authenticating with token, which may be
// empty for the credential endpoints.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-success response in the standard error envelope.
type APIError struct {
	Status     int
	RetryAfter string
	domain.StandardError
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	if e.RetryAfter != "" {
		msg += " (retry after " + e.RetryAfter + "s)"
	}
	return msg
}

// dispatched are the statuses a dispatched call answers with a result body.
var dispatched = []int{http.StatusOK, http.StatusMultiStatus, http.StatusBadGateway}

func (c *Client) do(ctx context.Context, method, path string, body, out any, accept ...int) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if len(accept) > 0 {
		ok = slices.Contains(accept, resp.StatusCode)
	}
	if !ok {
		apiErr := &APIError{Status: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
		var env domain.StandardErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&env); err == nil {
			apiErr.StandardError = env.Error
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func stackPath(id string, rest ...string) string {
	p := "/api/v1/stacks/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

// Login exchanges the root credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (*domain.IssuedToken, error) {
	var tok domain.IssuedToken
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/token", domain.LoginRequest{Username: username, Password: password}, &tok)
	return &tok, err
}

// Revoke revokes token, or the client's own token when empty.
func (c *Client) Revoke(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/auth/revoke", map[string]string{"token": token}, nil)
}

// UpdatePassword replaces the root password.
func (c *Client) UpdatePassword(ctx context.Context, current, next string) error {
	return c.do(ctx, http.MethodPut, "/api/v1/auth/password",
		domain.UpdatePasswordRequest{CurrentPassword: current, NewPassword: next}, nil)
}

// CreateStack registers a stack.
func (c *Client) CreateStack(ctx context.Context, req *domain.CreateStackRequest) (*domain.Stack, error) {
	var s domain.Stack
	err := c.do(ctx, http.MethodPost, "/api/v1/stacks", req, &s)
	return &s, err
}

// GetStack fetches one stack.
func (c *Client) GetStack(ctx context.Context, id string) (*domain.Stack, error) {
	var s domain.Stack
	err := c.do(ctx, http.MethodGet, stackPath(id), nil, &s)
	return &s, err
}

// ListStacks fetches every stack keyed by id.
func (c *Client) ListStacks(ctx context.Context) (map[string]*domain.Stack, error) {
	var stacks map[string]*domain.Stack
	err := c.do(ctx, http.MethodGet, "/api/v1/stacks", nil, &stacks)
	return stacks, err
}

// DeleteStack removes a stack.
func (c *Client) DeleteStack(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, stackPath(id), nil, nil)
}

// SetInventory replaces a stack's inventory.
func (c *Client) SetInventory(ctx context.Context, id string, inv domain.Inventory) error {
	return c.do(ctx, http.MethodPut, stackPath(id, "inventory"), inv, nil)
}

// GetInventory fetches a stack's inventory.
func (c *Client) GetInventory(ctx context.Context, id string) (domain.Inventory, error) {
	var inv domain.Inventory
	err := c.do(ctx, http.MethodGet, stackPath(id, "inventory"), nil, &inv)
	return inv, err
}

// SetSSHKey uploads a base64-encoded private key.
func (c *Client) SetSSHKey(ctx context.Context, id, keyB64 string) error {
	return c.do(ctx, http.MethodPut, stackPath(id, "ssh_key"), domain.SetSSHKeyRequest{SSHKeyB64: keyB64}, nil)
}

// LockStatus fetches the live lease on a stack.
func (c *Client) LockStatus(ctx context.Context, id string) (*domain.LockStatus, error) {
	var st domain.LockStatus
	err := c.do(ctx, http.MethodGet, stackPath(id, "lock"), nil, &st)
	return &st, err
}

// CreateIndex creates one index.
func (c *Client) CreateIndex(ctx context.Context, id string, req *domain.CreateIndexRequest) (*domain.OperationResponse, error) {
	var resp domain.OperationResponse
	err := c.do(ctx, http.MethodPost, stackPath(id, "indexes"), req, &resp, dispatched...)
	return &resp, err
}

// RemoveIndex removes one index.
func (c *Client) RemoveIndex(ctx context.Context, id, name string, req *domain.RemoveItemRequest) (*domain.OperationResponse, error) {
	var resp domain.OperationResponse
	err := c.do(ctx, http.MethodDelete, stackPath(id, "indexes", name), req, &resp, dispatched...)
	return &resp, err
}

// CreateIndexes creates a batch of indexes.
func (c *Client) CreateIndexes(ctx context.Context, id string, req *domain.BatchIndexesRequest) (*domain.BatchResponse[domain.Index], error) {
	var resp domain.BatchResponse[domain.Index]
	err := c.do(ctx, http.MethodPost, stackPath(id, "batch_indexes"), req, &resp, dispatched...)
	return &resp, err
}

// InstallApp installs one app.
func (c *Client) InstallApp(ctx context.Context, id string, req *domain.InstallAppRequest) (*domain.OperationResponse, error) {
	var resp domain.OperationResponse
	err := c.do(ctx, http.MethodPost, stackPath(id, "apps"), req, &resp, dispatched...)
	return &resp, err
}

// RemoveApp removes one app.
func (c *Client) RemoveApp(ctx context.Context, id, name string, req *domain.RemoveItemRequest) (*domain.OperationResponse, error) {
	var resp domain.OperationResponse
	err := c.do(ctx, http.MethodDelete, stackPath(id, "apps", name), req, &resp, dispatched...)
	return &resp, err
}

// InstallApps installs a batch of apps.
func (c *Client) InstallApps(ctx context.Context, id string, req *domain.BatchAppsRequest) (*domain.BatchResponse[domain.App], error) {
	var resp domain.BatchResponse[domain.App]
	err := c.do(ctx, http.MethodPost, stackPath(id, "batch_install_apps"), req, &resp, dispatched...)
	return &resp, err
}

// RunOperation runs a named operation.
func (c *Client) RunOperation(ctx context.Context, id string, op domain.Operation, req *domain.OperationRequest) (*domain.OperationResponse, error) {
	var resp domain.OperationResponse
	err := c.do(ctx, http.MethodPost, stackPath(id, string(op)), req, &resp, dispatched...)
	return &resp, err
}
