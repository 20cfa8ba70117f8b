package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const usersPath = "/api/users"

// maxErrorBody bounds how much of a failed response is read for a message.
const maxErrorBody = 64 << 10

// Client calls the users backend over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient validates baseURL and returns a Client using httpClient, or a
// client with a 10s timeout when httpClient is nil.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("directory: parse backend url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("directory: invalid backend url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{BaseURL: parsed.String(), HTTPClient: httpClient}, nil
}

// FetchAllUsers issues GET /api/users. The endpoint is public, so no
// Authorization header is sent.
func (c *Client) FetchAllUsers(ctx context.Context) ([]User, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("directory: build users request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, backendError(res.StatusCode, extractMessage(body))
	}

	users, err := decodeUsers(res.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, networkError(ctx.Err())
		}
		if isTimeout(err) {
			return nil, networkError(errors.Unwrap(err))
		}
		return nil, err
	}
	return users, nil
}

func (c *Client) endpoint() (string, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("directory: parse backend url: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + usersPath
	return base.String(), nil
}

type wireUser struct {
	ID        *string `json:"id"`
	Email     *string `json:"email"`
	IsDeleted *bool   `json:"isDeleted"`
	CreatedAt *string `json:"createdAt"`
}

func decodeUsers(r io.Reader) ([]User, error) {
	dec := json.NewDecoder(r)
	var payload *[]wireUser
	if err := dec.Decode(&payload); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			if typeErr.Field == "" {
				return nil, malformedError("expected an array of users, got "+typeErr.Value, err)
			}
			return nil, malformedError(fmt.Sprintf("unexpected %s for field %s", typeErr.Value, typeErr.Field), err)
		}
		return nil, malformedError("invalid JSON", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, malformedError("trailing data after users array", err)
	}
	if payload == nil {
		return nil, malformedError("expected an array of users, got null", nil)
	}

	users := make([]User, 0, len(*payload))
	seen := make(map[string]struct{}, len(*payload))
	for i, w := range *payload {
		if w.ID == nil || *w.ID == "" {
			return nil, malformedError(fmt.Sprintf("user %d has no id", i), nil)
		}
		if w.Email == nil || w.IsDeleted == nil || w.CreatedAt == nil {
			return nil, malformedError(fmt.Sprintf("user %s is missing required fields", *w.ID), nil)
		}
		if _, dup := seen[*w.ID]; dup {
			return nil, malformedError(fmt.Sprintf("duplicate user id %s", *w.ID), nil)
		}
		seen[*w.ID] = struct{}{}
		users = append(users, User{
			ID:        *w.ID,
			Email:     *w.Email,
			IsDeleted: *w.IsDeleted,
			CreatedAt: *w.CreatedAt,
		})
	}
	return users, nil
}

// extractMessage pulls a human-readable message out of an error body. Spring
// and most JSON APIs use "message" or "error"; bare JSON strings and plain
// text bodies are used as is.
func extractMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		return payload.Error
	}
	var text string
	if err := json.Unmarshal(body, &text); err == nil {
		return text
	}
	if strings.HasPrefix(trimmed, "<") || len(trimmed) > 200 {
		return ""
	}
	return trimmed
}
