package authentik

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client talks to an Authentik instance's REST API (/api/v3) with a static
// API token. All calls carry the caller's context plus a hard timeout.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewFromEnv builds a client from OPSDECK_AUTHENTIK_URL and
// OPSDECK_AUTHENTIK_TOKEN. Returns an error when either is missing so the
// handlers can answer 503 instead of hammering a dead upstream.
func NewFromEnv() (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(os.Getenv("OPSDECK_AUTHENTIK_URL")), "/")
	token := strings.TrimSpace(os.Getenv("OPSDECK_AUTHENTIK_TOKEN"))
	if base == "" || token == "" {
		return nil, fmt.Errorf("authentik not configured: set OPSDECK_AUTHENTIK_URL and OPSDECK_AUTHENTIK_TOKEN")
	}
	return New(base, token), nil
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError reports a non-2xx upstream response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300]
	}
	return fmt.Sprintf("authentik: status %d: %s", e.Status, body)
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v3"+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

// page wraps Authentik's envelope. Next is the next page number, 0 when done.
type page[T any] struct {
	Pagination struct {
		Next float64 `json:"next"`
	} `json:"pagination"`
	Results []T `json:"results"`
}

func listAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var all []T
	pageNum := 1
	for {
		var p page[T]
		if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s%spage=%d", path, sep, pageNum), nil, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Results...)
		if p.Pagination.Next <= 0 {
			return all, nil
		}
		pageNum = int(p.Pagination.Next)
	}
}

// User is an Authentik core user.
type User struct {
	PK       int    `json:"pk"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

// Group is an Authentik core group (pk is a UUID string).
type Group struct {
	PK      string `json:"pk"`
	Name    string `json:"name"`
	Users   []int  `json:"users"`
	Parent  string `json:"parent,omitempty"`
	IsAdmin bool   `json:"is_superuser"`
}

// Application is an Authentik application entry.
type Application struct {
	PK       string `json:"pk"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Provider int    `json:"provider,omitempty"`
	Group    string `json:"group,omitempty"`
}

// Provider is a minimal view of an Authentik provider.
type Provider struct {
	PK   int    `json:"pk"`
	Name string `json:"name"`
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	return listAll[User](ctx, c, "/core/users/")
}

func (c *Client) CreateUser(ctx context.Context, username, name, email string) (*User, error) {
	var u User
	payload := map[string]any{"username": username, "name": name, "email": email, "is_active": true}
	if err := c.do(ctx, http.MethodPost, "/core/users/", payload, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) DeleteUser(ctx context.Context, pk int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/core/users/%d/", pk), nil, nil)
}

// SetUserPassword uses Authentik's set_password sub-endpoint.
func (c *Client) SetUserPassword(ctx context.Context, pk int, password string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/core/users/%d/set_password/", pk), map[string]string{"password": password}, nil)
}

func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	return listAll[Group](ctx, c, "/core/groups/")
}

func (c *Client) CreateGroup(ctx context.Context, name string) (*Group, error) {
	var g Group
	if err := c.do(ctx, http.MethodPost, "/core/groups/", map[string]any{"name": name}, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) DeleteGroup(ctx context.Context, pk string) error {
	return c.do(ctx, http.MethodDelete, "/core/groups/"+pk+"/", nil, nil)
}

// AddUserToGroup uses the group's add_user sub-endpoint.
func (c *Client) AddUserToGroup(ctx context.Context, groupPK string, userPK int) error {
	return c.do(ctx, http.MethodPost, "/core/groups/"+groupPK+"/add_user/", map[string]int{"pk": userPK}, nil)
}

func (c *Client) ListApplications(ctx context.Context) ([]Application, error) {
	return listAll[Application](ctx, c, "/core/applications/")
}

func (c *Client) CreateApplication(ctx context.Context, name, slug string) (*Application, error) {
	var a Application
	if err := c.do(ctx, http.MethodPost, "/core/applications/", map[string]any{"name": name, "slug": slug}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) DeleteApplication(ctx context.Context, slug string) error {
	return c.do(ctx, http.MethodDelete, "/core/applications/"+slug+"/", nil, nil)
}

func (c *Client) ListProviders(ctx context.Context) ([]Provider, error) {
	return listAll[Provider](ctx, c, "/providers/all/")
}
