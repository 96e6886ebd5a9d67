package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultPerPage = 100

// ErrChatNotFound is returned when the remote reports 404 for a chat.
// Callers treat this as "conversation expired" and recreate, never as a
// generic transport failure.
var ErrChatNotFound = errors.New("chat not found")

// APIError is a non-2xx response from the remote chat service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote chat API: HTTP %d: %s", e.Status, e.Body)
}

// Client is a stateless wrapper around the remote chat REST API.
// It holds no conversation state; every method is a single request.
// Transport-level retry is deliberately absent — failures surface to the
// delegation engine, which owns the recovery policy.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	perPage int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit caps outbound requests per second (burst = rps).
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
}

// WithPerPage sets the page size used by agent listing.
func WithPerPage(n int) Option {
	return func(c *Client) { c.perPage = n }
}

// NewClient creates a chat API client. The token is required by the
// service on every request; validation of its presence happens at
// config load, not here.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
		perPage: defaultPerPage,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listEnvelope[T any] struct {
	Items []T `json:"items"`
}

// ListOrganizations returns every organization the token can access.
func (c *Client) ListOrganizations(ctx context.Context) ([]Organization, error) {
	var out listEnvelope[Organization]
	if err := c.do(ctx, http.MethodGet, "/organizations", nil, &out); err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return out.Items, nil
}

// ListAgents returns the agents in one organization, or — when orgID is
// empty — the flattened roster across every accessible organization.
// A failure listing one organization's agents degrades to an empty
// contribution for that organization; it never aborts the others.
func (c *Client) ListAgents(ctx context.Context, orgID string) ([]Agent, error) {
	if orgID != "" {
		return c.listOrgAgents(ctx, orgID)
	}

	orgs, err := c.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var all []Agent
	g, gctx := errgroup.WithContext(ctx)
	for _, org := range orgs {
		g.Go(func() error {
			agents, err := c.listOrgAgents(gctx, org.ID)
			if err != nil {
				slog.Warn("agent listing failed for organization, skipping",
					"organization_id", org.ID, "error", err)
				return nil
			}
			mu.Lock()
			all = append(all, agents...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

func (c *Client) listOrgAgents(ctx context.Context, orgID string) ([]Agent, error) {
	q := url.Values{}
	q.Set("organization_id", orgID)
	q.Set("per_page", strconv.Itoa(c.perPage))

	var out listEnvelope[Agent]
	if err := c.do(ctx, http.MethodGet, "/agents?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("list agents for %s: %w", orgID, err)
	}
	return out.Items, nil
}

type createChatRequest struct {
	OrganizationID string    `json:"organization_id"`
	AgentID        string    `json:"agent_id"`
	Stream         bool      `json:"stream"`
	Messages       []Message `json:"messages"`
}

type createChatResponse struct {
	ID string `json:"id"`
}

// CreateChat opens a new chat with the agent and sends the query as the
// initial message, byte-for-byte as provided.
func (c *Client) CreateChat(ctx context.Context, orgID, agentID, query string, stream bool) (string, error) {
	req := createChatRequest{
		OrganizationID: orgID,
		AgentID:        agentID,
		Stream:         stream,
		Messages:       []Message{TextMessage(query)},
	}
	var out createChatResponse
	if err := c.do(ctx, http.MethodPost, "/chats", req, &out); err != nil {
		return "", fmt.Errorf("create chat with agent %s: %w", agentID, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("create chat with agent %s: remote returned no chat id", agentID)
	}
	return out.ID, nil
}

type appendMessageRequest struct {
	ChatID   string    `json:"chat_id"`
	Behavior string    `json:"behavior"`
	Messages []Message `json:"messages"`
}

// AppendMessage enqueues a new user message on an existing chat.
// Returns ErrChatNotFound when the remote reports the chat is gone.
func (c *Client) AppendMessage(ctx context.Context, chatID, text string) error {
	req := appendMessageRequest{
		ChatID:   chatID,
		Behavior: "enqueue",
		Messages: []Message{TextMessage(text)},
	}
	err := c.do(ctx, http.MethodPost, "/messages", req, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
		}
		return fmt.Errorf("append message to chat %s: %w", chatID, err)
	}
	return nil
}

// GetChat fetches a chat's status snapshot.
// Returns ErrChatNotFound when the chat no longer exists remotely.
func (c *Client) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var out Chat
	err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID), nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
		}
		return nil, fmt.Errorf("get chat %s: %w", chatID, err)
	}
	if out.ID == "" {
		out.ID = chatID
	}
	return &out, nil
}

// GetMessages fetches a chat's full message history in message order.
func (c *Client) GetMessages(ctx context.Context, chatID string) ([]Message, error) {
	q := url.Values{}
	q.Set("chat_id", chatID)

	var out listEnvelope[Message]
	if err := c.do(ctx, http.MethodGet, "/messages?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("get messages for chat %s: %w", chatID, err)
	}
	return out.Items, nil
}

// do issues one request against the API. Non-2xx responses become
// *APIError with the status code and body text preserved.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
