package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/dsa-tutor/pkg/transcript"
)

// APIError is a non-2xx answer from the relay.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay returned %d", e.StatusCode)
	}
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

// HTTPClient talks to the relay's HTTP API. It never retries.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

var _ Relay = (*HTTPClient)(nil)

type HTTPClientOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPClientOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.http = c
		}
	}
}

func NewHTTPClient(baseURL string, opts ...HTTPClientOption) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: backend url is empty")
	}
	c := &HTTPClient{
		baseURL: baseURL,
		// The relay applies no timeout to generation; neither does the client beyond
		// connection setup.
		http: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 0,
		}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *HTTPClient) BaseURL() string { return c.baseURL }

type sendRequest struct {
	Message string `json:"message"`
}

type sendResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error"`
}

// Send posts text and returns the reply. A 200 without a reply yields "".
func (c *HTTPClient) Send(ctx context.Context, text string) (string, error) {
	var out sendResponse
	if err := c.do(ctx, http.MethodPost, "/", sendRequest{Message: text}, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}

func (c *HTTPClient) Reset(ctx context.Context) error {
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, http.MethodPost, "/reset", nil, &out); err != nil {
		return err
	}
	if !out.OK {
		return errors.New("relay did not acknowledge reset")
	}
	return nil
}

type TranscriptResponse struct {
	Turns  []transcript.Turn `json:"turns" yaml:"turns"`
	Length int               `json:"length" yaml:"length"`
}

func (c *HTTPClient) Transcript(ctx context.Context) (*TranscriptResponse, error) {
	var out TranscriptResponse
	if err := c.do(ctx, http.MethodGet, "/transcript", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil {
			apiErr.Message = e.Error
		}
		return apiErr
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, "decode response")
		}
	}
	return nil
}
