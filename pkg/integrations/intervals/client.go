package intervals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	httputil "github.com/tracktiles/server/pkg/infrastructure/http"
	"github.com/tracktiles/server/pkg/infrastructure/metrics"
)

const (
	defaultEndpoint = "https://intervals.icu"

	// OAuthScope is the permission requested during login.
	OAuthScope = "ACTIVITY:READ"

	maxRetries   = 2
	retryBackoff = 500 * time.Millisecond
)

// OAuthEndpoint is the intervals.icu OAuth2 endpoint for golang.org/x/oauth2.
var OAuthEndpoint = oauth2.Endpoint{
	AuthURL:  "https://intervals.icu/oauth/authorize",
	TokenURL: "https://intervals.icu/api/oauth/token",
}

// ErrNoGPSData is returned by DownloadFIT when the service reports the
// activity has no recording to download (HTTP 422). It is an expected
// outcome, not a failure.
var ErrNoGPSData = errors.New("activity has no GPS data")

// Client is an API client for Intervals.icu
type Client struct {
	endpoint    string
	athleteID   string
	apiKey      string // Basic Auth, used by the CLI
	accessToken string // Bearer, used after OAuth login
	client      *http.Client
}

// NewClient creates a client authenticating with a personal API key.
func NewClient(apiKey, athleteID string) *Client {
	return &Client{
		endpoint:  defaultEndpoint,
		apiKey:    apiKey,
		athleteID: athleteID,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewTokenClient creates a client authenticating with an OAuth access token.
func NewTokenClient(accessToken, athleteID string) *Client {
	return &Client{
		endpoint:    defaultEndpoint,
		accessToken: accessToken,
		athleteID:   athleteID,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// AthleteID returns the athlete this client is scoped to.
func (c *Client) AthleteID() string {
	return c.athleteID
}

// doRequest performs a GET with auth and bounded retry on transient
// failures (network errors and 5xx). Non-2xx responses are returned to
// the caller for status-specific handling.
func (c *Client) doRequest(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff << (attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if c.accessToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.accessToken)
		} else {
			// Basic Auth with API key as the username, no password
			req.SetBasicAuth(c.apiKey, "")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("execute request: %w", err)
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = httputil.ParseErrorResponse(resp)
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// ListActivities retrieves the athlete's full activity catalog.
func (c *Client) ListActivities(ctx context.Context) ([]Activity, error) {
	url := fmt.Sprintf("%s/api/v1/athlete/%s/activities", c.endpoint, c.athleteID)

	resp, err := c.doRequest(ctx, url)
	if err != nil {
		metrics.CatalogRequests.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}
	defer resp.Body.Close()

	if err := httputil.ParseErrorResponse(resp); err != nil {
		metrics.CatalogRequests.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}

	var activities []Activity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		metrics.CatalogRequests.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, fmt.Errorf("decode response: %w", err)
	}

	metrics.CatalogRequests.WithLabelValues(metrics.ResultSuccess).Inc()
	return activities, nil
}

// DownloadFIT fetches the raw recording for an activity. It returns
// ErrNoGPSData when the service answers 422, which means the activity
// has no recording rather than something going wrong.
func (c *Client) DownloadFIT(ctx context.Context, activityID string) ([]byte, error) {
	url := fmt.Sprintf("%s/api/v1/activity/%s/fit-file", c.endpoint, activityID)

	resp, err := c.doRequest(ctx, url)
	if err != nil {
		metrics.CatalogRequests.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		metrics.CatalogRequests.WithLabelValues(metrics.ResultSuccess).Inc()
		return nil, ErrNoGPSData
	}
	if err := httputil.ParseErrorResponse(resp); err != nil {
		metrics.CatalogRequests.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.CatalogRequests.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}

	metrics.CatalogRequests.WithLabelValues(metrics.ResultSuccess).Inc()
	return data, nil
}

// AthleteProfile is the athlete record behind an access token.
type AthleteProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// GetAthleteProfile fetches the profile of the authenticated athlete.
func (c *Client) GetAthleteProfile(ctx context.Context) (*AthleteProfile, error) {
	resp, err := c.doRequest(ctx, c.endpoint+"/api/athlete")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := httputil.ParseErrorResponse(resp); err != nil {
		return nil, err
	}

	var profile AthleteProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &profile, nil
}
