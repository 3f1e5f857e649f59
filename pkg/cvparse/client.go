// Package cvparse is the HTTP client for the external CV extraction and
// scoring API. The service is opaque to the importer: one document in,
// structured fields plus a quality score out.
package cvparse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Extraction is the structured result of parsing one CV document
type Extraction struct {
	Name     string  `json:"name"`
	JobTitle string  `json:"job_title"`
	Sector   string  `json:"sector"`
	CVScore  float64 `json:"cv_score"`
}

// APIError is a non-2xx response from the extraction API. The status code is
// what the importer categorizes on.
type APIError struct {
	Code   int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("extraction API error: %s - %s", e.Title, e.Detail)
	}
	return fmt.Sprintf("extraction API error: status code %d", e.Code)
}

// StatusCode returns the HTTP status the API responded with
func (e *APIError) StatusCode() int {
	return e.Code
}

// Client represents a CV extraction API client
type Client struct {
	httpClient    *http.Client
	apiKey        string
	baseURL       string
	requestTicker *time.Ticker
	requestChan   chan struct{}
}

// New creates a new extraction API client with rate limiting
func New(apiKey, baseURL string, requestsPerMinute, timeoutSeconds int) *Client {
	if requestsPerMinute < 2 {
		requestsPerMinute = 2
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 60
	}

	interval := time.Minute / time.Duration(requestsPerMinute-1)

	log.Info().
		Int("requests_per_minute", requestsPerMinute).
		Dur("request_interval", interval).
		Str("base_url", baseURL).
		Msg("Initializing CV extraction API client")

	ticker := time.NewTicker(interval)

	// Buffered channel holding request permissions; one token allows one
	// immediate request
	requestChan := make(chan struct{}, 1)
	requestChan <- struct{}{}

	go func() {
		for range ticker.C {
			select {
			case requestChan <- struct{}{}:
			default:
				// Buffer full, skip this token
			}
		}
	}()

	return &Client{
		httpClient:    &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		apiKey:        apiKey,
		baseURL:       baseURL,
		requestTicker: ticker,
		requestChan:   requestChan,
	}
}

type extractRequest struct {
	FileName string `json:"file_name"`
	Document []byte `json:"document"`
}

// Extract submits one document for parsing and scoring, waiting for a rate
// limit token first
func (c *Client) Extract(ctx context.Context, fileName string, document io.Reader) (*Extraction, error) {
	start := time.Now()

	// Wait for permission to make a request
	select {
	case <-c.requestChan:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	content, err := io.ReadAll(document)
	if err != nil {
		return nil, fmt.Errorf("error reading document: %w", err)
	}

	body, err := json.Marshal(extractRequest{FileName: fileName, Document: content})
	if err != nil {
		return nil, fmt.Errorf("error encoding extract request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/extract", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("file_name", fileName).
			Dur("duration", time.Since(start)).
			Msg("Error executing extraction request")
		return nil, fmt.Errorf("error making extraction request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading extraction response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, respBody)
		log.Error().
			Err(apiErr).
			Str("file_name", fileName).
			Int("status_code", resp.StatusCode).
			Dur("duration", time.Since(start)).
			Msg("Extraction API returned error response")
		return nil, apiErr
	}

	var extraction Extraction
	if err := json.Unmarshal(respBody, &extraction); err != nil {
		return nil, fmt.Errorf("error decoding extraction response: %w", err)
	}

	log.Debug().
		Str("file_name", fileName).
		Str("name", extraction.Name).
		Float64("cv_score", extraction.CVScore).
		Dur("duration", time.Since(start)).
		Msg("Extraction request completed")

	return &extraction, nil
}

// parseAPIError extracts error information from the API response
func parseAPIError(statusCode int, respBody []byte) error {
	var errResp struct {
		Errors []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}

	apiErr := &APIError{Code: statusCode}
	if err := json.Unmarshal(respBody, &errResp); err == nil && len(errResp.Errors) > 0 {
		apiErr.Title = errResp.Errors[0].Title
		apiErr.Detail = errResp.Errors[0].Detail
	}

	return apiErr
}

// Close stops the ticker when the client is no longer needed
func (c *Client) Close() {
	if c.requestTicker != nil {
		log.Info().Msg("Shutting down CV extraction API client")
		c.requestTicker.Stop()
	}
}
