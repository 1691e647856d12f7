package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client provides access to the query/command API. Every response is a
// canonical entity snapshot.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g., "http://localhost:8080/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets the session token for authenticated requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Event endpoints

// ListEvents returns the events visible to the caller.
func (c *Client) ListEvents(ctx context.Context) ([]Event, error) {
	var resp []Event
	if err := c.do(ctx, http.MethodGet, "/events", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetEvent returns one event.
func (c *Client) GetEvent(ctx context.Context, id int64) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/events/%d", id), nil, &resp)
	return resp, err
}

// JoinEvent registers the caller as a participant.
func (c *Client) JoinEvent(ctx context.Context, id int64) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/events/%d/join", id), nil, &resp)
	return resp, err
}

// LeaveEvent removes the caller from the participants.
func (c *Client) LeaveEvent(ctx context.Context, id int64) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/events/%d/leave", id), nil, &resp)
	return resp, err
}

// SubmitRating rates an event and returns the updated event.
func (c *Client) SubmitRating(ctx context.Context, eventID int64, req RatingRequest) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/events/%d/ratings", eventID), req, &resp)
	return resp, err
}

// Team endpoints

// GetTeam returns one team.
func (c *Client) GetTeam(ctx context.Context, id int64) (Team, error) {
	var resp Team
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/teams/%d", id), nil, &resp)
	return resp, err
}

// CreateTeam creates a team owned by the caller.
func (c *Client) CreateTeam(ctx context.Context, req CreateTeamRequest) (Team, error) {
	var resp Team
	err := c.do(ctx, http.MethodPost, "/teams", req, &resp)
	return resp, err
}

// UpdateTeam changes a team's name or description.
func (c *Client) UpdateTeam(ctx context.Context, id int64, req UpdateTeamRequest) (Team, error) {
	var resp Team
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/teams/%d", id), req, &resp)
	return resp, err
}

// Message history endpoints

// GetMessages retrieves chat history for a room with cursor-based pagination.
// limit: maximum number of messages to return.
// before: if provided, returns messages before this message ID.
func (c *Client) GetMessages(ctx context.Context, roomID string, limit int, before *int64) (*MessagesResponse, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	if before != nil {
		q.Set("before", fmt.Sprint(*before))
	}
	path := "/rooms/" + url.PathEscape(roomID) + "/messages?" + q.Encode()

	var resp MessagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Analytics endpoints

// GetDashboardAnalytics returns the organizer dashboard aggregate.
func (c *Client) GetDashboardAnalytics(ctx context.Context) (DashboardAnalytics, error) {
	var resp DashboardAnalytics
	err := c.do(ctx, http.MethodGet, "/analytics/dashboard", nil, &resp)
	return resp, err
}

// Helper methods

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Handle error responses
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{Status: resp.StatusCode, Message: string(data)}
	}

	// Unmarshal success response
	if dest != nil {
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
