// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/canonical/mission-control/internal/types"
)

type adminClient struct {
	endpoint string
	token    string
	client   *http.Client
}

func newAdminClient(endpoint, token string) *adminClient {
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = "http://" + endpoint
	}
	// remove trailing slash
	endpoint = strings.TrimSuffix(endpoint, "/")

	return &adminClient{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends the request and decodes the data field of the response envelope into out
func (c *adminClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}{}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
			return fmt.Errorf("api error (status %d)", resp.StatusCode)
		}
		return fmt.Errorf("api error (status %d): %s: %s", resp.StatusCode, apiErr.Code, apiErr.Message)
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *adminClient) ListOrganizations(ctx context.Context) ([]*types.Organization, error) {
	var out []*types.Organization
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/organizations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) CreateOrganization(ctx context.Context, name, plan string) (*types.Organization, error) {
	out := new(types.Organization)
	in := map[string]string{"name": name, "plan": plan}
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/organizations", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) AddMember(ctx context.Context, organizationID, email string, role types.TenantRole) (*types.Membership, error) {
	out := new(types.Membership)
	in := map[string]string{"email": email, "role": string(role)}
	path := "/api/v1/admin/organizations/" + url.PathEscape(organizationID) + "/members"
	if err := c.do(ctx, http.MethodPost, path, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) SearchUsers(ctx context.Context, query, organizationID string, limit int) ([]*types.User, error) {
	q := url.Values{}
	q.Set("q", query)
	if organizationID != "" {
		q.Set("organization_id", organizationID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out []*types.User
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/users?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) Metrics(ctx context.Context) (*types.PlatformMetrics, error) {
	out := new(types.PlatformMetrics)
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/metrics", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Login returns the raw session token carried by the session cookie
func (c *adminClient) Login(ctx context.Context, email, password, cookieName string) (string, error) {
	b, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/v1/auth/login", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted:
		return "", fmt.Errorf("second factor required, sign in through the dashboard")
	default:
		return "", fmt.Errorf("login failed (status %d)", resp.StatusCode)
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == cookieName && cookie.Value != "" {
			return cookie.Value, nil
		}
	}

	return "", fmt.Errorf("no %s cookie in login response", cookieName)
}
