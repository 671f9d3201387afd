// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package callapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nextcloud/go_call_client/internal/constants"
)

var (
	ErrUnauthorized = errors.New("call control rejected credentials")
	ErrEmptyGrant   = errors.New("call control returned an empty grant")
)

// StatusError is returned when the call control service answers with a
// non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d", e.Method, e.Path, e.Status)
}

type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string

	inflight sync.WaitGroup

	logger *slog.Logger
}

func NewClient(baseURL string, skipCertVerify bool) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if skipCertVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   constants.HTTPTimeout,
			Transport: transport,
		},
		logger: slog.With("component", "callapi"),
	}
}

// SetToken sets the bearer token sent with every request after login.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/login", req, &resp); err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, err
	}
	if resp.Token == "" || resp.ConversationID == "" {
		return nil, fmt.Errorf("%w: login response missing token or conversation", ErrUnauthorized)
	}
	return &resp, nil
}

func (c *Client) OnlineUsers(ctx context.Context) ([]OnlineUser, error) {
	var users []OnlineUser
	if err := c.do(ctx, http.MethodGet, "/online-users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) StartCall(ctx context.Context, req StartCallRequest) (*Grant, error) {
	var grant Grant
	if err := c.do(ctx, http.MethodPost, "/start-call", req, &grant); err != nil {
		return nil, err
	}
	if grant.Token == "" || grant.RoomName == "" {
		return nil, ErrEmptyGrant
	}
	return &grant, nil
}

func (c *Client) JoinCall(ctx context.Context, req JoinCallRequest) (*Grant, error) {
	var grant Grant
	if err := c.do(ctx, http.MethodPost, "/join-call", req, &grant); err != nil {
		return nil, err
	}
	if grant.Token == "" || grant.RoomName == "" {
		return nil, ErrEmptyGrant
	}
	return &grant, nil
}

func (c *Client) AddParticipant(ctx context.Context, req AddParticipantRequest) error {
	return c.do(ctx, http.MethodPost, "/add-participant", req, nil)
}

func (c *Client) DeclineCall(ctx context.Context, req DeclineCallRequest) error {
	return c.do(ctx, http.MethodPost, "/decline-call", req, nil)
}

// Logout notifies the backend without waiting for the outcome. It returns
// immediately; failures are only logged. Wait blocks on pending logouts.
func (c *Client) Logout(username string) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), constants.LogoutTimeout)
		defer cancel()
		if err := c.do(ctx, http.MethodPost, "/logout", LogoutRequest{Username: username}, nil); err != nil {
			c.logger.Debug("logout notification failed", "username", username, "error", err)
		}
	}()
}

// Wait blocks until every logout notification issued so far has finished
// or ctx is done.
func (c *Client) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, body != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("call control request failed", "method", method, "path", path, "status", resp.StatusCode, "body", string(respBody))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
