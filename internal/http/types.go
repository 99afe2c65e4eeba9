package http

import "github.com/fyrsmithlabs/recd/internal/catalog"

// BatchResponse is the response body for POST /api/v1/batches.
type BatchResponse struct {
	Message     string `json:"message"`
	BatchID     string `json:"batch_id"`
	Filename    string `json:"filename"`
	Rows        int    `json:"rows"`
	Failed      int    `json:"failed"`
	DownloadURL string `json:"download_url"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string   `json:"status"`
	Degraded []string `json:"degraded,omitempty"`
}

// ModelsResponse is the response body for GET /api/v1/models.
type ModelsResponse struct {
	Models []catalog.Availability `json:"models"`
}
