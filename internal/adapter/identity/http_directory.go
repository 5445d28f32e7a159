// Package identity resolves display names from the external user service.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/lmarin/card-trade/internal/port"
)

// HTTPDirectory calls GET {base}/users/{id} with retries. Lookups are only
// used for message templating, so callers are expected to tolerate errors.
type HTTPDirectory struct {
	baseURL string
	client  *retryablehttp.Client
}

func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	client.HTTPClient = &http.Client{
		Transport: cleanhttp.DefaultPooledTransport(),
		Timeout:   5 * time.Second,
	}
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (d *HTTPDirectory) GetDisplayName(ctx context.Context, userID string) (port.Identity, error) {
	endpoint := fmt.Sprintf("%s/users/%s", d.baseURL, url.PathEscape(userID))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return port.Identity{}, fmt.Errorf("build identity request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return port.Identity{}, fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return port.Identity{}, fmt.Errorf("user %s: %w", userID, port.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return port.Identity{}, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	var body struct {
		Name   string `json:"name"`
		Handle string `json:"handle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return port.Identity{}, fmt.Errorf("decode identity response: %w", err)
	}
	return port.Identity{Name: body.Name, Handle: body.Handle}, nil
}
