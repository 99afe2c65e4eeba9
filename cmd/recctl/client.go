package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/recd/internal/catalog"
	httpserver "github.com/fyrsmithlabs/recd/internal/http"
	"github.com/fyrsmithlabs/recd/internal/monitor"
)

// apiClient talks to the recd REST API.
type apiClient struct {
	baseURL string
	// short is used for quick calls; batch submission blocks for the whole
	// batch and uses long.
	short *http.Client
	long  *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		short:   &http.Client{Timeout: 10 * time.Second},
		long:    &http.Client{},
	}
}

// stream returns an SSE client sharing the server URL.
func (c *apiClient) stream() *monitor.StreamClient {
	return monitor.NewStreamClient(c.baseURL, nil)
}

func (c *apiClient) health(ctx context.Context) (httpserver.HealthResponse, error) {
	var out httpserver.HealthResponse
	err := c.getJSON(ctx, "/health", &out)
	return out, err
}

func (c *apiClient) models(ctx context.Context) ([]catalog.Availability, error) {
	var out httpserver.ModelsResponse
	if err := c.getJSON(ctx, "/api/v1/models", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.short.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// submission is one batch request.
type submission struct {
	File       string
	Models     []string
	Iterations int
	BatchID    string
}

// submit uploads the CSV and blocks until the server has produced the
// workbook.
func (c *apiClient) submit(ctx context.Context, s submission) (httpserver.BatchResponse, error) {
	var out httpserver.BatchResponse

	content, err := os.ReadFile(s.File)
	if err != nil {
		return out, fmt.Errorf("failed to read file %s: %w", s.File, err)
	}
	models, err := json.Marshal(s.Models)
	if err != nil {
		return out, fmt.Errorf("failed to marshal models: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"models":     string(models),
		"iterations": strconv.Itoa(s.Iterations),
	}
	if s.BatchID != "" {
		fields["batch_id"] = s.BatchID
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return out, fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}
	fw, err := w.CreateFormFile("file", filepath.Base(s.File))
	if err != nil {
		return out, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(content); err != nil {
		return out, fmt.Errorf("failed to write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return out, fmt.Errorf("failed to close form: %w", err)
	}

	url := c.baseURL + "/api/v1/batches"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.long.Do(req)
	if err != nil {
		return out, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

// download fetches a workbook by its server-relative URL.
func (c *apiClient) download(ctx context.Context, path string) ([]byte, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.long.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// responseError turns a non-200 response into an error carrying the server
// message when the body is an ErrorResponse.
func responseError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}
	var e httpserver.ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, e.Message)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
