package mint

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const maxResponseSize = 1 << 20

type mintResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// HTTPMinter posts mint requests as JSON to a minting service
type HTTPMinter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPMinter creates minter for endpoint
func NewHTTPMinter(endpoint string, timeout time.Duration) *HTTPMinter {
	return &HTTPMinter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Mint implements Minter
func (m *HTTPMinter) Mint(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(req.withDefaults())
	if err != nil {
		return "", errors.Wrap(err, "Can't encode mint request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "Can't build mint request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "mint service unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", errors.Wrap(err, "Can't read mint response")
	}

	var decoded mintResponse
	decodeErr := json.Unmarshal(body, &decoded)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && decoded.Error != "" {
			return "", errors.Errorf("mint service returned %d: %s", resp.StatusCode, decoded.Error)
		}
		return "", errors.Errorf("mint service returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if decodeErr != nil {
		return "", errors.Wrap(decodeErr, "Can't decode mint response")
	}
	if decoded.Signature == "" {
		return "", errors.New("mint response has no signature")
	}
	return decoded.Signature, nil
}
