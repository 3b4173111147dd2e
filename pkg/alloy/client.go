package alloy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single call when neither the request nor the
// caller's context sets a tighter deadline. Image generation can take minutes.
const DefaultTimeout = 300 * time.Second

// maxErrorBody caps how much of a non-2xx body is kept on a TransportError.
const maxErrorBody = 4 << 10

// Client is the capability set shared by a single Alloy server and a
// multi-node manager. Anything that accepts a Client works with either.
type Client interface {
	Image(ctx context.Context, req *ImageRequest) (*ImageResponse, error)
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Audio(ctx context.Context, req *AudioRequest) (*AudioResponse, error)
	Models(ctx context.Context) (*ModelsResponse, error)
}

// HTTPClient talks JSON to one Alloy server.
type HTTPClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for baseURL. A zero timeout selects
// DefaultTimeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// WithHTTPClient swaps the underlying *http.Client, e.g. for custom transports.
func (c *HTTPClient) WithHTTPClient(hc *http.Client) *HTTPClient {
	return &HTTPClient{baseURL: c.baseURL, timeout: c.timeout, httpClient: hc}
}

// BaseURL returns the server address with any trailing slash removed.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Image calls POST /image. When req.DecodeImages is set, base64 entries of
// the "images" array are decoded into ImageResponse.Images.
func (c *HTTPClient) Image(ctx context.Context, req *ImageRequest) (*ImageResponse, error) {
	var fields map[string]any
	if err := c.postJSON(ctx, "/image", req.payload(), &fields, req.Timeout); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	resp := &ImageResponse{Fields: fields}
	if !req.DecodeImages {
		return resp, nil
	}
	raw, ok := fields["images"].([]any)
	if !ok {
		return resp, nil
	}
	for i, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, &TransportError{
				Kind:   KindDecode,
				Method: http.MethodPost,
				URL:    c.baseURL + "/image",
				Err:    fmt.Errorf("image %d: %w", i, err),
			}
		}
		resp.Images = append(resp.Images, data)
	}
	return resp, nil
}

// Chat calls POST /chat.
func (c *HTTPClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body := *req
	body.Stream = false
	var out ChatResponse
	if err := c.postJSON(ctx, "/chat", &body, &out, 0); err != nil {
		return nil, err
	}
	return &out, nil
}

// Audio calls POST /audio.
func (c *HTTPClient) Audio(ctx context.Context, req *AudioRequest) (*AudioResponse, error) {
	body := *req
	body.Stream = false
	var out AudioResponse
	if err := c.postJSON(ctx, "/audio", &body, &out, req.Timeout); err != nil {
		return nil, err
	}
	return &out, nil
}

// Models calls GET /models.
func (c *HTTPClient) Models(ctx context.Context) (*ModelsResponse, error) {
	var out ModelsResponse
	if err := c.getJSON(ctx, "/models", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body any, out any, timeout time.Duration) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, reqBody, out, timeout)
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out, 0)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, reqBody []byte, out any, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := c.baseURL + path
	var body io.Reader
	if reqBody != nil {
		body = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, url, err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Kind: classify(err), Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &TransportError{
			Kind:       KindStatus,
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if out == nil {
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Kind: classify(err), Method: method, URL: url, Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &TransportError{Kind: KindDecode, Method: method, URL: url, Err: err}
	}
	return nil
}
