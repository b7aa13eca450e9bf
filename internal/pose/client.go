package pose

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// HTTPEstimator sends encoded frames to a pose-estimation service and decodes returned keypoints
type HTTPEstimator struct {
	endpoint    string
	contentType string
	client      *http.Client
}

// NewHTTPEstimator creates estimator posting JPEG frames to endpoint
func NewHTTPEstimator(endpoint string, timeout time.Duration) *HTTPEstimator {
	return &HTTPEstimator{
		endpoint:    endpoint,
		contentType: "image/jpeg",
		client:      &http.Client{Timeout: timeout},
	}
}

// Estimate implements Estimator
func (est *HTTPEstimator) Estimate(ctx context.Context, image []byte) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, est.endpoint, bytes.NewReader(image))
	if err != nil {
		return Frame{}, errors.Wrap(err, "Can't build pose request")
	}
	req.Header.Set("Content-Type", est.contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := est.client.Do(req)
	if err != nil {
		return Frame{}, errors.Wrap(err, "pose service unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLineSize))
	if err != nil {
		return Frame{}, errors.Wrap(err, "Can't read pose response")
	}
	if resp.StatusCode != http.StatusOK {
		return Frame{}, errors.Errorf("pose service returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return DecodePoses(body)
}
