package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/noah-isme/coop-approval-api/internal/models"
	appErrors "github.com/noah-isme/coop-approval-api/pkg/errors"
)

// HTTPStatusReader reads approval status from the API gateway's
// GET /approvals/:id endpoint.
type HTTPStatusReader struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPStatusReader builds a reader against the given API base URL.
// token is sent as a bearer credential when non-empty.
func NewHTTPStatusReader(baseURL, token string, client *http.Client) *HTTPStatusReader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPStatusReader{baseURL: baseURL, token: token, client: client}
}

type statusEnvelope struct {
	Data  *models.EnrollmentApproval `json:"data"`
	Error *appErrors.Error           `json:"error"`
}

// Read fetches the current status for one enrollment.
func (r *HTTPStatusReader) Read(ctx context.Context, enrollmentID string) (*models.EnrollmentApproval, error) {
	url := fmt.Sprintf("%s/approvals/%s", r.baseURL, enrollmentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	var envelope statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode status response (%d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if envelope.Error != nil {
			return nil, envelope.Error
		}
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("status response missing body")
	}
	return envelope.Data, nil
}
