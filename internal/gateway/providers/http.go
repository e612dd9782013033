package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxResponseBytes caps how much of an upstream body is buffered.
const maxResponseBytes = 4 << 20

// HTTPClient performs single attempts against one provider. It applies the
// provider's auth scheme and extra headers; it never retries.
type HTTPClient struct {
	cfg               ServiceConfig
	idempotencyHeader string
	httpClient        *http.Client
}

// NewHTTPClient creates a client bound to cfg. The client is rebuilt
// whenever the provider is reconfigured.
func NewHTTPClient(cfg ServiceConfig, idempotencyHeader string) *HTTPClient {
	return &HTTPClient{
		cfg:               cfg,
		idempotencyHeader: idempotencyHeader,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Send performs one attempt bounded by the provider timeout. Non-2xx replies
// come back as *StatusError, missing replies as *TransportError.
func (c *HTTPClient) Send(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		reqBody, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", req.Operation, err)
		}
		body = bytes.NewReader(reqBody)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.url(req), body)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", req.Operation, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.cfg.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.IdempotencyKey != "" && c.idempotencyHeader != "" {
		httpReq.Header.Set(c.idempotencyHeader, req.IdempotencyKey)
	}
	c.authorize(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if len(respBody) > maxResponseBytes {
		return nil, &ResponseTooLargeError{Limit: maxResponseBytes}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: respBody}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

func (c *HTTPClient) url(req *Request) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

func (c *HTTPClient) authorize(r *http.Request) {
	switch c.cfg.AuthKind {
	case AuthBearer:
		r.Header.Set("Authorization", "Bearer "+c.cfg.Credential)
	case AuthBasic:
		r.SetBasicAuth(c.cfg.Username, c.cfg.Credential)
	case AuthCustom:
		r.Header.Set(c.cfg.AuthHeader, c.cfg.Credential)
	}
}
