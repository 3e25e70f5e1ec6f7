package authflow

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Maximum size read from any response body (1MB). Metadata and token
// documents are small; anything larger is rejected.
const maxResponseSize = 1024 * 1024

// RelayRequest is the uniform outbound request shape. Every discovery,
// registration, token, and probe call the engine makes goes through a Relay
// so that transport substitution is explicit and scoped, never a
// process-wide override.
type RelayRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// RelayResponse is the uniform response shape: status, flattened headers,
// body, and the measured round-trip duration. Non-2xx statuses are not
// errors at this layer; callers decide per step.
type RelayResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

// Relay routes outbound OAuth-domain HTTP calls. Implementations must be
// safe for sequential reuse; the engine never issues calls in parallel.
type Relay interface {
	Do(ctx context.Context, req *RelayRequest) (*RelayResponse, error)
}

// HTTPRelay is the default Relay backed by net/http.
//
// There is deliberately no per-call timeout: the flow achieves a time bound
// through its bounded candidate lists, and a debugging session may
// legitimately sit on a slow server. Callers can bound calls via ctx or by
// injecting a client with a timeout.
type HTTPRelay struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPRelay creates a relay using the given HTTP client. A nil client
// gets a default with TLS 1.2+ enforced.
func NewHTTPRelay(client *http.Client, logger *zap.Logger) *HTTPRelay {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRelay{
		client: client,
		logger: logger.Named("relay"),
	}
}

// Do executes the request and normalizes the response. A connection-level
// failure returns a *TransportError; any HTTP status is a success at this
// layer.
func (r *HTTPRelay) Do(ctx context.Context, req *RelayRequest) (*RelayResponse, error) {
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", userAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		r.logger.Warn("request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Error(err))
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	limited := io.LimitReader(resp.Body, maxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	duration := time.Since(start)

	if int64(len(body)) >= maxResponseSize {
		return nil, fmt.Errorf("response from %s exceeds maximum size of %d bytes", req.URL, maxResponseSize)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, values := range resp.Header {
		headers[k] = strings.Join(values, ", ")
	}

	r.logger.Debug("request completed",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration))

	return &RelayResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
		Duration:   duration,
	}, nil
}

// headerValue performs a case-insensitive lookup in a flattened header map.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// isJSONResponse reports whether the response declared a JSON content type.
func isJSONResponse(resp *RelayResponse) bool {
	ct := headerValue(resp.Headers, "Content-Type")
	return strings.Contains(strings.ToLower(ct), "application/json")
}
