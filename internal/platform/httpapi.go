package platform

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

// SharedHTTPClient returns an HTTP client with connection pooling, shared by
// the REST publishers.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// apiClient performs one REST call and classifies its failure.
type apiClient struct {
	platform string
	http     *http.Client
}

type request struct {
	method  string
	url     string
	json    any        // encoded as the JSON body when set
	form    url.Values // encoded as a form body when set
	headers map[string]string
	bearer  string
	user    string // basic auth
	pass    string
}

// do sends req and decodes a 2xx JSON response into out (when non-nil).
// It returns the response headers for callers that read IDs from them.
func (c *apiClient) do(ctx context.Context, req request, out any) (http.Header, error) {
	var body io.Reader
	contentType := ""
	switch {
	case req.json != nil:
		data, err := json.Marshal(req.json)
		if err != nil {
			return nil, &Error{Platform: c.platform, Kind: KindValidation, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case req.form != nil:
		body = strings.NewReader(req.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, &Error{Platform: c.platform, Kind: KindValidation, Err: err}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}
	if req.user != "" {
		httpReq.SetBasicAuth(req.user, req.pass)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, NetworkError(c.platform, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.Header, NetworkError(c.platform, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.Header, StatusError(c.platform, resp.StatusCode, resp.Header, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.Header, &Error{Platform: c.platform, Kind: KindUnknown, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp.Header, nil
}

func trimBase(base, fallback string) string {
	if base == "" {
		base = fallback
	}
	return strings.TrimRight(base, "/")
}
