package krunker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sifan077/KrunkLink/config"
)

const (
	apiKeyHeader   = "X-Developer-API-Key"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
	maxBodyBytes   = 1 << 20
)

// ErrPlayerNotFound is returned when the API has no player with the requested name.
var ErrPlayerNotFound = errors.New("krunker: player not found")

// ErrResponseTooLarge is returned when a response body exceeds 1 MiB.
var ErrResponseTooLarge = errors.New("krunker: response too large")

// APIError is a non-2xx answer from the Krunker API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("krunker api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("krunker api: status %d: %s", e.StatusCode, e.Message)
}

// Post is a public social feed entry.
type Post struct {
	ID        int64  `json:"post_id"`
	Text      string `json:"post_text"`
	CreatedAt string `json:"post_date"`
}

// Profile is the subset of a player profile stored with a link.
type Profile struct {
	Username string `json:"player_name"`
	Region   string `json:"player_region"`
	Level    int    `json:"player_level"`
	Clan     string `json:"player_clan"`
}

type postsResponse struct {
	Posts []Post `json:"posts"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client reads public player data from the Krunker API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a client from config. A nil httpClient gets one with the configured timeout.
func NewClient(cfg config.KrunkerConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
	}
}

// FetchRecentPosts returns the bodies of the player's most recent posts, newest first.
func (c *Client) FetchRecentPosts(ctx context.Context, username string, limit int) ([]string, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var parsed postsResponse
	if err := c.get(ctx, "/player/"+url.PathEscape(username)+"/posts", query, &parsed); err != nil {
		return nil, err
	}

	posts := parsed.Posts
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	bodies := make([]string, 0, len(posts))
	for _, p := range posts {
		bodies = append(bodies, p.Text)
	}
	return bodies, nil
}

// FetchProfile returns the player's public profile.
func (c *Client) FetchProfile(ctx context.Context, username string) (*Profile, error) {
	var profile Profile
	if err := c.get(ctx, "/player/"+url.PathEscape(username), nil, &profile); err != nil {
		return nil, err
	}
	if profile.Username == "" {
		profile.Username = username
	}
	return &profile, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create krunker request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send krunker request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read krunker response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrPlayerNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(payload)}
	}
	if len(payload) > maxBodyBytes {
		return ErrResponseTooLarge
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode krunker response: %w", err)
	}
	return nil
}

func errorMessage(payload []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(payload, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	message := strings.TrimSpace(string(payload))
	if len(message) > maxErrorBody {
		message = message[:maxErrorBody]
	}
	return message
}
