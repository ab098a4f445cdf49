package connectivity

import (
	"context"
	"fmt"
	"net/http"
)

const DefaultProbeURL = "https://clients3.google.com/generate_204"

// HTTPProber issues a HEAD request against a known endpoint. Any response
// below 500 counts as reachable.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func NewHTTPProber(url string) *HTTPProber {
	if url == "" {
		url = DefaultProbeURL
	}
	return &HTTPProber{URL: url, Client: &http.Client{}}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe %s: status %d", p.URL, response.StatusCode)
	}
	return nil
}
