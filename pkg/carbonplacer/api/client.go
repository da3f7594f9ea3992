package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/config"
)

// TimeLayout is the minute-resolution UTC layout used by the carbon intensity API.
const TimeLayout = "2006-01-02T15:04Z"

// HTTPClient interface allows mocking http.Client in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to a regional carbon intensity API shaped like
// api.carbonintensity.org.uk.
type Client struct {
	apiConfig   config.APIConfig
	httpClient  HTTPClient
	rateLimiter *time.Ticker
}

// FuelShare is one entry of a region's generation mix.
type FuelShare struct {
	Fuel string  `json:"fuel"`
	Perc float64 `json:"perc"`
}

// IntensityValue is the intensity block of both regional and national responses.
type IntensityValue struct {
	Forecast *float64 `json:"forecast"`
	Actual   *float64 `json:"actual,omitempty"`
	Index    string   `json:"index"`
}

// Value prefers the measured value and falls back to the forecast.
func (v IntensityValue) Value() (float64, bool) {
	if v.Actual != nil {
		return *v.Actual, true
	}
	if v.Forecast != nil {
		return *v.Forecast, true
	}
	return 0, false
}

// Region is one grid region in a regional response.
type Region struct {
	RegionID      int            `json:"regionid"`
	DNORegion     string         `json:"dnoregion"`
	ShortName     string         `json:"shortname"`
	Intensity     IntensityValue `json:"intensity"`
	GenerationMix []FuelShare    `json:"generationmix"`
}

// RegionalPeriod groups regions reported for one half-hour period.
type RegionalPeriod struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Regions []Region `json:"regions"`
}

// IntensityPeriod is one half-hour period of the national series.
type IntensityPeriod struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Intensity IntensityValue `json:"intensity"`
}

// Start parses the period's start time.
func (p IntensityPeriod) Start() (time.Time, error) {
	return time.Parse(TimeLayout, p.From)
}

type regionalResponse struct {
	Data []RegionalPeriod `json:"data"`
}

type intensityResponse struct {
	Data []IntensityPeriod `json:"data"`
}

// ClientOption allows customizing the client
type ClientOption func(*Client)

// WithHTTPClient allows injecting a custom HTTP client
func WithHTTPClient(client HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a new API client
func NewClient(apiCfg config.APIConfig, opts ...ClientOption) *Client {
	rate := apiCfg.RateLimit
	if rate <= 0 {
		rate = 1
	}
	client := &Client{
		apiConfig: apiCfg,
		httpClient: &http.Client{
			Timeout: apiCfg.Timeout,
		},
		rateLimiter: time.NewTicker(time.Second / time.Duration(rate)),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// GetRegional fetches the latest regional intensities and generation mixes.
func (c *Client) GetRegional(ctx context.Context) ([]Region, error) {
	var resp regionalResponse
	if err := c.getWithRetry(ctx, "/regional", &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("regional response contained no data")
	}

	regions := resp.Data[0].Regions
	klog.V(2).InfoS("Fetched regional carbon intensity", "regions", len(regions), "from", resp.Data[0].From)
	return regions, nil
}

// GetNationalForecast fetches the national intensity series between from and to.
func (c *Client) GetNationalForecast(ctx context.Context, from, to time.Time) ([]IntensityPeriod, error) {
	path := fmt.Sprintf("/intensity/%s/%s", from.UTC().Format(TimeLayout), to.UTC().Format(TimeLayout))

	var resp intensityResponse
	if err := c.getWithRetry(ctx, path, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("forecast response contained no data")
	}
	return resp.Data, nil
}

// getWithRetry performs a GET with rate limiting and exponential backoff.
func (c *Client) getWithRetry(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.apiConfig.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		case <-c.rateLimiter.C:
			err := c.doRequest(ctx, path, out)
			if err == nil {
				return nil
			}
			lastErr = err
			klog.V(2).InfoS("Carbon API request failed, retrying",
				"path", path,
				"attempt", attempt+1,
				"maxRetries", c.apiConfig.MaxRetries,
				"error", err)

			if attempt == c.apiConfig.MaxRetries {
				break
			}

			timer := time.NewTimer(c.getBackoffDuration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, path string, out any) error {
	url := strings.TrimSuffix(c.apiConfig.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	klog.V(3).InfoS("Making carbon API request", "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limit exceeded")
	case http.StatusNotFound:
		return fmt.Errorf("endpoint not found: %s", path)
	default:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) getBackoffDuration(attempt int) time.Duration {
	backoff := c.apiConfig.RetryDelay * time.Duration(1<<uint(attempt))
	maxBackoff := 1 * time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	// Add jitter (±20%)
	return time.Duration(float64(backoff) * (0.8 + 0.4*float64(time.Now().UnixNano()%100)/100.0))
}

// GetURL returns the base URL used for API requests
func (c *Client) GetURL() string {
	return c.apiConfig.URL
}

// Close cleans up client resources
func (c *Client) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
}
