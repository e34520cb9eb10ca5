// Package ckan talks to the STJ open-data portal's CKAN API and downloads
// resource payloads.
package ckan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the STJ open-data portal.
const DefaultBaseURL = "https://dadosabertos.web.stj.jus.br"

const (
	apiTimeout      = 10 * time.Second
	downloadTimeout = 120 * time.Second

	// The portal rejects non-browser user agents.
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Package is a CKAN dataset with its resources.
type Package struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes"`
	Resources []Resource `json:"resources"`
	Groups    []struct {
		Title string `json:"title"`
	} `json:"groups"`
}

// Resource is one downloadable file in a dataset.
type Resource struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	URL    string `json:"url"`
	Format string `json:"format"`
}

type packageShowResponse struct {
	Success bool    `json:"success"`
	Result  Package `json:"result"`
	Error   struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls the CKAN action API.
type Client struct {
	baseURL    string
	api        *http.Client
	downloader *http.Client
}

// NewClient creates a CKAN client. An empty baseURL targets the STJ
// portal.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		api:        &http.Client{Timeout: apiTimeout},
		downloader: &http.Client{Timeout: downloadTimeout},
	}
}

func browserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")
}

// PackageShow fetches a dataset's metadata and resource list by slug.
func (c *Client) PackageShow(ctx context.Context, slug string) (*Package, error) {
	url := fmt.Sprintf("%s/api/3/action/package_show?id=%s", c.baseURL, slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	browserHeaders(req)

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching package %s: %w", slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CKAN API error %d for package %s", resp.StatusCode, slug)
	}

	var out packageShowResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding package %s: %w", slug, err)
	}
	if !out.Success {
		return nil, fmt.Errorf("CKAN package %s: %s", slug, out.Error.Message)
	}
	return &out.Result, nil
}

// Download fetches a resource payload with the long download timeout.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	browserHeaders(req)

	resp, err := c.downloader.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download error %d for %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return data, nil
}
