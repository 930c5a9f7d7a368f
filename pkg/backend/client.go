package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/psantana5/sentiment-pulse/pkg/models"
	"github.com/psantana5/sentiment-pulse/pkg/retry"
	"github.com/psantana5/sentiment-pulse/pkg/tracing"
)

// maxErrorBody bounds how much of an error response is kept in StatusError
const maxErrorBody = 512

// Client talks to the scraping and analysis backend
type Client struct {
	baseURL     string
	httpClient  *http.Client
	apiKey      string
	retryConfig retry.Config
}

// NewClient creates a new backend client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryConfig: retry.DefaultConfig(),
	}
}

// NewClientWithTLS creates a new backend client with TLS support
func NewClientWithTLS(baseURL string, tlsConfig *tls.Config) *Client {
	c := NewClient(baseURL)
	c.httpClient.Transport = &http.Transport{
		TLSClientConfig: tlsConfig,
	}
	return c
}

// SetAPIKey sets the API key sent as a Bearer token
func (c *Client) SetAPIKey(apiKey string) {
	c.apiKey = apiKey
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// SetRetryConfig sets the retry policy for idempotent calls
func (c *Client) SetRetryConfig(cfg retry.Config) {
	c.retryConfig = cfg
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	tracing.InjectHTTPHeaders(req)
	return req, nil
}

func readErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return strings.TrimSpace(string(body))
}

// Submit asks the backend to start scraping and analyzing a topic.
// Any 2xx status is an acceptance.
func (c *Client) Submit(ctx context.Context, req models.ScrapeRequest) error {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/scrape", req)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send scrape request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: "submit", Code: resp.StatusCode, Body: readErrorBody(resp)}
	}

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// FetchResult queries the result of the job for topic.
// It returns ErrNotReady on 404 and *StatusError on any status other than 200.
func (c *Client) FetchResult(ctx context.Context, topic string) (*models.AnalysisResult, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/results/"+url.PathEscape(topic), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch results: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrNotReady
	default:
		return nil, &StatusError{Op: "fetch results", Code: resp.StatusCode, Body: readErrorBody(resp)}
	}

	var result *models.AnalysisResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &DecodeError{Op: "results", Err: err}
	}
	if result == nil {
		return nil, &DecodeError{Op: "results", Err: errors.New("null result body")}
	}
	return result, nil
}

// History lists previously analyzed topics
func (c *Client) History(ctx context.Context) ([]models.HistoryEntry, error) {
	return retry.DoValue(ctx, c.retryConfig, func(ctx context.Context) ([]models.HistoryEntry, error) {
		httpReq, err := c.newRequest(ctx, http.MethodGet, "/history", nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch history: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &StatusError{Op: "history", Code: resp.StatusCode, Body: readErrorBody(resp)}
		}

		var entries []models.HistoryEntry
		if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
			return nil, &DecodeError{Op: "history", Err: err}
		}
		return entries, nil
	})
}

// DeleteHistory removes a topic from the backend history
func (c *Client) DeleteHistory(ctx context.Context, topic string) error {
	return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
		httpReq, err := c.newRequest(ctx, http.MethodDelete, "/history/"+url.PathEscape(topic), nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("failed to delete history: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusNoContent:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		case http.StatusNotFound:
			return fmt.Errorf("history entry %q: %w", topic, ErrNotFound)
		default:
			return &StatusError{Op: "delete history", Code: resp.StatusCode, Body: readErrorBody(resp)}
		}
	})
}

// Health checks that the backend API is reachable
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: "health", Code: resp.StatusCode, Body: readErrorBody(resp)}
	}
	return nil
}
