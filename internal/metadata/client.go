// Package metadata queries the remote service that announces the latest
// artifact for a channel and platform.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
)

const maxBodySize = 1 << 20

// Descriptor is the remote announcement for one artifact version.
type Descriptor struct {
	Version  string
	URL      string
	Checksum string
	DiffURL  string
}

// Client talks to one metadata service.
type Client struct {
	baseURL  string
	platform string
	http     *http.Client
}

// NewClient returns a client for baseURL. Dots in platform are sent as dashes.
func NewClient(baseURL, platform string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		platform: strings.ReplaceAll(platform, ".", "-"),
		http:     httpClient,
	}
}

// LatestURL is the endpoint queried by Latest.
func (c *Client) LatestURL(channel string) string {
	return fmt.Sprintf("%s/v1/%s/%s/", c.baseURL, url.PathEscape(channel), url.PathEscape(c.platform))
}

func (c *Client) changelogURL(version string) string {
	return fmt.Sprintf("%s/v1/changelog/%s/", c.baseURL, url.PathEscape(version))
}

// Latest fetches the current descriptor for channel. Every failure comes back
// as a classified error; callers treat any error as "no update available".
func (c *Client) Latest(ctx context.Context, channel string) (*Descriptor, error) {
	endpoint := c.LatestURL(channel)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return parseDescriptor(body, endpoint)
}

// Changelog returns the markdown summary for version, or "" when the service
// has none.
func (c *Client) Changelog(ctx context.Context, version string) (string, error) {
	endpoint := c.changelogURL(version)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return "", err
	}
	var resp struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.WrapError(err, errors.CategoryMetadata, "malformed changelog response").
			WithContext("url", endpoint).Build()
	}
	return resp.Summary, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "invalid metadata url").
			WithContext("url", endpoint).Build()
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NetworkError("metadata request failed").WithCause(err).
			WithContext("url", endpoint).Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NetworkError(fmt.Sprintf("metadata request returned HTTP %d", resp.StatusCode)).
			WithContext("url", endpoint).
			WithContext("status", resp.StatusCode).Build()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.NetworkError("failed to read metadata response").WithCause(err).
			WithContext("url", endpoint).Build()
	}
	return body, nil
}

// wireDescriptor keeps raw fields so wrong JSON types are reported as
// malformed metadata instead of silently zeroed.
type wireDescriptor struct {
	Version  json.RawMessage `json:"version"`
	URL      json.RawMessage `json:"url"`
	Checksum json.RawMessage `json:"checksum"`
	DiffURL  json.RawMessage `json:"diffUrl"`
}

func parseDescriptor(body []byte, endpoint string) (*Descriptor, error) {
	malformed := func(msg string, cause error) error {
		b := errors.MetadataError(msg).WithContext("url", endpoint)
		if cause != nil {
			b = b.WithCause(cause)
		}
		return b.Build()
	}

	var wire *wireDescriptor
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, malformed("metadata response is not valid JSON", err)
	}
	if wire == nil {
		return nil, malformed("metadata response is null", nil)
	}

	var d Descriptor
	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"version", wire.Version, &d.Version},
		{"url", wire.URL, &d.URL},
		{"checksum", wire.Checksum, &d.Checksum},
		{"diffUrl", wire.DiffURL, &d.DiffURL},
	}
	for _, f := range fields {
		s, err := optionalString(f.raw)
		if err != nil {
			return nil, malformed(fmt.Sprintf("metadata field %q has the wrong type", f.name), err)
		}
		*f.dst = strings.TrimSpace(s)
	}

	if d.URL == "" || d.Checksum == "" {
		return nil, malformed("metadata response is missing url or checksum", nil)
	}
	if d.Version == "" {
		d.Version = strings.ToLower(d.Checksum)
	}
	return &d, nil
}

func optionalString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}
