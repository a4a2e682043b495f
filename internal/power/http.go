package power

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"breakerd/internal/domain"
)

// HTTPBackend talks to a smart-plug bridge over its REST surface:
// POST {base}/breakers/{id} with {"state":"on"|"off"} and
// GET {base}/breakers/{id} returning {"state":"on"|"off"}.
type HTTPBackend struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTP(baseURL, token string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (b *HTTPBackend) SetState(ctx context.Context, breakerID string, on bool) error {
	state := "off"
	if on {
		state = "on"
	}
	payload, _ := json.Marshal(map[string]string{"state": state})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/breakers/"+url.PathEscape(breakerID), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: bridge returned %s", domain.ErrBackendUnavailable, resp.Status)
	}
	return nil
}

func (b *HTTPBackend) GetState(ctx context.Context, breakerID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		b.baseURL+"/breakers/"+url.PathEscape(breakerID), nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("%w: bridge returned %s", domain.ErrBackendUnavailable, resp.Status)
	}
	var out struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return out.State == "on", nil
}
