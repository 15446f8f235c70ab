package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ExportBaseURL returns the export API endpoint for a source region.
func ExportBaseURL(region string) string {
	if strings.ToUpper(region) == "EU" {
		return "https://analytics.eu.amplitude.com/api/2/export"
	}
	return "https://amplitude.com/api/2/export"
}

// ExportClient fetches raw export archives from the source project's
// export API using basic auth.
type ExportClient struct {
	apiKey string
	secret string
	region string
	client *http.Client
}

// NewExportClient builds an ExportClient for the given project credentials.
func NewExportClient(apiKey, secret, region string, timeout time.Duration) *ExportClient {
	return &ExportClient{
		apiKey: apiKey,
		secret: secret,
		region: region,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads the export window [start, end], both in the export API's
// YYYYMMDDTHH form, and returns the raw archive bytes. Any non-200 response
// is fatal for the run.
func (c *ExportClient) Fetch(ctx context.Context, start, end string) ([]byte, error) {
	url := fmt.Sprintf("%s?start=%s&end=%s", ExportBaseURL(c.region), start, end)
	return c.fetchURL(ctx, url)
}

func (c *ExportClient) fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.apiKey, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("export read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 400 {
			snippet = snippet[:400]
		}
		return nil, fmt.Errorf("export failed with status %d: %s", resp.StatusCode, snippet)
	}
	return body, nil
}
