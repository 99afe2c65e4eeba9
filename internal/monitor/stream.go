package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/fyrsmithlabs/recd/internal/progress"
)

// EventSource yields progress events until io.EOF.
type EventSource interface {
	Next() (progress.Event, error)
}

// StreamClient opens progress streams against a recd server.
type StreamClient struct {
	baseURL string
	client  *http.Client
}

// NewStreamClient creates a client. hc must not carry a Timeout, since
// streams stay open for the length of a batch; nil uses a default client.
func NewStreamClient(baseURL string, hc *http.Client) *StreamClient {
	if hc == nil {
		hc = &http.Client{}
	}
	return &StreamClient{baseURL: strings.TrimRight(baseURL, "/"), client: hc}
}

// Open subscribes to one batch, or to every batch when batchID is empty.
// It returns once the server has accepted the subscription, so events
// published after Open returns are delivered.
func (c *StreamClient) Open(ctx context.Context, batchID string) (*Stream, error) {
	u := c.baseURL + "/api/v1/progress"
	if batchID != "" {
		u += "?batch=" + url.QueryEscape(batchID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to progress stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("progress stream: %s", responseMessage(resp))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Stream{body: resp.Body, scanner: sc}, nil
}

// responseMessage extracts {"message": ...} from an error response.
func responseMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, resp.StatusCode)
	}
	return resp.Status
}

// Stream reads Server-Sent Events from an open progress response.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Next blocks until the next event. It returns io.EOF when the server ends
// the stream.
func (s *Stream) Next() (progress.Event, error) {
	var (
		name string
		data []string
	)
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if len(data) == 0 {
				name = ""
				continue
			}
			var ev progress.Event
			if err := json.Unmarshal([]byte(strings.Join(data, "\n")), &ev); err != nil {
				return progress.Event{}, fmt.Errorf("decode %q event: %w", name, err)
			}
			if ev.Status == "" {
				ev.Status = progress.Status(name)
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	if err := s.scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return progress.Event{}, err
	}
	return progress.Event{}, io.EOF
}

// Close releases the connection.
func (s *Stream) Close() error {
	return s.body.Close()
}
