package userdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ivmironov/order-saga/internal/cache"
	"go.opentelemetry.io/otel"
)

// Profile is the user directory's view of a user.
type Profile struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

var ErrUserNotFound = errors.New("user not found")

// Client looks up user profiles in the remote directory. Lookups are
// best-effort for callers: a failure here must never abort order creation.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      cache.Cache
	cacheTTL   time.Duration
}

type option func(*Client)

// WithCache enables cache-aside profile lookups.
func WithCache(c cache.Cache, ttl time.Duration) option {
	return func(cl *Client) {
		cl.cache = c
		cl.cacheTTL = ttl
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) option {
	return func(cl *Client) {
		cl.httpClient = hc
	}
}

// NewClient creates a directory client against the given base URL.
func NewClient(baseURL string, opts ...option) *Client {
	cl := &Client{
		httpClient: &http.Client{Timeout: 3 * time.Second},
		baseURL:    baseURL,
		cacheTTL:   5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cl)
	}

	return cl
}

// Lookup fetches a user profile. Not-found and unavailable both surface as
// errors the caller treats as non-fatal.
func (c *Client) Lookup(ctx context.Context, userID int64) (*Profile, error) {
	ctx, span := otel.Tracer("userdir").Start(ctx, "Client.Lookup")
	defer span.End()

	cacheKey := ""
	if c.cache != nil {
		cacheKey = c.cache.GenerateKey("profile", strconv.FormatInt(userID, 10))
		cached, err := c.cache.Get(ctx, cacheKey)
		if err != nil {
			slog.Warn("Profile cache read failed", "user_id", userID, "error", err)
		} else if cached != "" {
			var profile Profile
			if err := json.Unmarshal([]byte(cached), &profile); err == nil {
				return &profile, nil
			}
		}
	}

	url := fmt.Sprintf("%s/api/users/%d", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build user directory request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user directory unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user directory returned status %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode user directory response: %w", err)
	}

	if c.cache != nil {
		raw, err := json.Marshal(profile)
		if err == nil {
			if err := c.cache.Set(ctx, cacheKey, string(raw), c.cacheTTL); err != nil {
				slog.Warn("Profile cache write failed", "user_id", userID, "error", err)
			}
		}
	}

	return &profile, nil
}
