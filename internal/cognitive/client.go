// Package cognitive talks to the hosted face and emotion recognition
// services over their REST APIs.
package cognitive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	keyHeader = "Ocp-Apim-Subscription-Key"

	defaultTimeout        = 10 * time.Second
	defaultConnectTimeout = 5 * time.Second
	maxResponseBytes      = 4 << 20
)

// newHTTPClient returns a client with explicit dial and overall timeouts.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   defaultConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          50,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}

// client is the transport shared by the face and emotion clients.
type client struct {
	service  string
	endpoint string
	key      string
	http     *http.Client
}

func newClient(service, endpoint, key string, timeout time.Duration) client {
	return client{
		service:  service,
		endpoint: strings.TrimRight(endpoint, "/"),
		key:      key,
		http:     newHTTPClient(timeout),
	}
}

// postImage sends raw JPEG bytes and decodes the JSON response into out.
func (c client) postImage(ctx context.Context, path string, query url.Values, image []byte, out any) error {
	return c.do(ctx, path, query, "application/octet-stream", bytes.NewReader(image), out)
}

// postJSON sends in as JSON and decodes the JSON response into out.
func (c client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	return c.do(ctx, path, nil, "application/json", bytes.NewReader(body), out)
}

func (c client) do(ctx context.Context, path string, query url.Values, contentType string, body io.Reader, out any) error {
	u := c.endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.service, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.key != "" {
		req.Header.Set(keyHeader, c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", c.service, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", c.service, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(c.service, resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.service, err)
	}
	return nil
}
