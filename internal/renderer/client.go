// Package renderer is the HTTP client for the external artifact renderer
// service, which owns chart/dashboard drawing and data materialization.
package renderer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kestrelhq/kestrel/internal/config"
)

var (
	// ErrScreenshotTimeout is returned when a capture exceeds its soft
	// time limit.
	ErrScreenshotTimeout = errors.New("timeout while taking a screenshot")

	// ErrCSVTimeout is returned when CSV materialization exceeds its soft
	// time limit.
	ErrCSVTimeout = errors.New("timeout while generating csv data")

	// ErrDataTimeout is returned when tabular data materialization exceeds
	// its soft time limit.
	ErrDataTimeout = errors.New("timeout while fetching tabular data")
)

// Table is a materialized tabular result for text notifications.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Service is the renderer contract consumed by the artifact producers.
type Service interface {
	GetScreenshot(ctx context.Context, target, digest string, force bool) ([]byte, error)
	GetCSV(ctx context.Context, chartID string, force bool) ([]byte, error)
	GetRows(ctx context.Context, chartID string, force bool) (*Table, error)
}

// Client calls the renderer service over HTTP with short-lived machine-auth
// tokens.
type Client struct {
	baseURL           string
	secret            []byte
	tokenTTL          time.Duration
	screenshotTimeout time.Duration
	dataTimeout       time.Duration
	httpClient        *http.Client
}

// NewClient creates a renderer client from configuration.
func NewClient(cfg config.RendererConfig) *Client {
	tokenTTL := cfg.AuthTokenTTL
	if tokenTTL == 0 {
		tokenTTL = config.DefaultAuthTokenTTL
	}

	return &Client{
		baseURL:           cfg.BaseURL,
		secret:            []byte(cfg.AuthSecret),
		tokenTTL:          tokenTTL,
		screenshotTimeout: cfg.ScreenshotTimeout,
		dataTimeout:       cfg.DataTimeout,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// GetScreenshot captures the target (a chart or dashboard path) and returns
// the PNG bytes.
func (c *Client) GetScreenshot(ctx context.Context, target, digest string, force bool) ([]byte, error) {
	query := url.Values{
		"url":    {target},
		"digest": {digest},
		"force":  {strconv.FormatBool(force)},
	}

	body, err := c.get(ctx, "/screenshot", query, c.screenshotTimeout, ErrScreenshotTimeout)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("renderer returned an empty screenshot")
	}

	return body, nil
}

// GetCSV materializes a chart's data as CSV bytes.
func (c *Client) GetCSV(ctx context.Context, chartID string, force bool) ([]byte, error) {
	query := url.Values{"force": {strconv.FormatBool(force)}}

	body, err := c.get(ctx, "/chart/"+url.PathEscape(chartID)+"/csv", query, c.dataTimeout, ErrCSVTimeout)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("renderer returned empty csv data")
	}

	return body, nil
}

// GetRows materializes a chart's data as a table for text notifications.
func (c *Client) GetRows(ctx context.Context, chartID string, force bool) (*Table, error) {
	query := url.Values{"force": {strconv.FormatBool(force)}}

	body, err := c.get(ctx, "/chart/"+url.PathEscape(chartID)+"/data", query, c.dataTimeout, ErrDataTimeout)
	if err != nil {
		return nil, err
	}

	var table Table
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, fmt.Errorf("decoding tabular data: %w", err)
	}

	return &table, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, timeout time.Duration, timeoutErr error) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building renderer request: %w", err)
	}

	token, err := c.machineToken()
	if err != nil {
		return nil, fmt.Errorf("signing machine token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, timeoutErr
		}
		return nil, fmt.Errorf("calling renderer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("renderer returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, timeoutErr
		}
		return nil, fmt.Errorf("reading renderer response: %w", err)
	}

	return body, nil
}

// machineToken signs a short-lived token identifying the engine to the
// renderer.
func (c *Client) machineToken() (string, error) {
	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "kestrel",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
	})

	return token.SignedString(c.secret)
}
