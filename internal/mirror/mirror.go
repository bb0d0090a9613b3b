// Package mirror pushes per-user snapshots to a remote document store.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mtt87/math-facts/internal/model"
)

const defaultTimeout = 5 * time.Second

// Client updates the remote document at <endpoint>/<installation>/<user>.json
// with partial-update semantics. Pushes are best-effort: the store never
// waits on them and never retries.
type Client struct {
	endpoint string
	http     *http.Client
}

// New returns a client for the given endpoint. timeout <= 0 uses a default.
func New(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

// Push sends the snapshot as a partial update of the user's remote document.
func (c *Client) Push(ctx context.Context, installationID string, userID int, snap model.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%d.json", c.endpoint, installationID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build mirror request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mirror request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			// Best-effort body close.
			_ = cerr
		}
	}()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		// Drain for connection reuse; the response content is unused.
		_ = err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("mirror responded with status %d", resp.StatusCode)
	}
	return nil
}
