package authflow

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// jsonrpcRequest is the JSON-RPC 2.0 envelope for the initialize probe.
type jsonrpcRequest struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int              `json:"id"`
	Method  string           `json:"method"`
	Params  initializeParams `json:"params"`
}

type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    mcp.ClientCapabilities `json:"capabilities"`
	ClientInfo      mcp.Implementation     `json:"clientInfo"`
}

// initializePayload builds the MCP initialize request body. The same body
// is used for the unauthenticated probe and the final authenticated request,
// so the two transactions differ only in the Authorization header.
func (d *Driver) initializePayload() ([]byte, error) {
	req := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  methodInitialize,
		Params: initializeParams{
			ProtocolVersion: string(d.cfg.Variant),
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    d.cfg.ClientName,
				Version: "1.0.0",
			},
		},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode initialize request: %w", err)
	}
	return payload, nil
}

// stepAuthenticatedRequest repeats the initialize request with the access
// token. A 2xx completes the flow. On a 4xx under the legacy variant, older
// servers that only speak the HTTP+SSE transport are probed with a GET
// looking for an SSE endpoint event before the flow gives up.
func (d *Driver) stepAuthenticatedRequest(ctx context.Context, gen uint64, st *FlowState) (bool, error) {
	if !d.setStep(gen, StepAuthenticatedMCPRequest) {
		return false, ErrFlowSuperseded
	}

	payload, err := d.initializePayload()
	if err != nil {
		return false, err
	}

	tokenType := st.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	resp, err := d.call(ctx, gen, StepAuthenticatedMCPRequest, &RelayRequest{
		Method: http.MethodPost,
		URL:    d.cfg.Endpoint,
		Headers: map[string]string{
			"Content-Type":         "application/json",
			"Accept":               "application/json, text/event-stream",
			"MCP-Protocol-Version": string(d.cfg.Variant),
			"Authorization":        fmt.Sprintf("%s %s", tokenType, st.AccessToken),
		},
		Body: payload,
	})
	if err != nil {
		return false, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		d.appendInfo(gen, StepAuthenticatedMCPRequest, "authenticated request accepted",
			map[string]any{"status": resp.StatusCode}, SeverityInfo)

	case resp.StatusCode >= 400 && resp.StatusCode < 500 && d.cfg.Variant == VariantLegacy:
		d.appendInfo(gen, StepAuthenticatedMCPRequest, "POST rejected; trying legacy HTTP+SSE transport",
			map[string]any{"status": resp.StatusCode}, SeverityWarning)
		endpoint, sseErr := d.probeSSETransport(ctx, gen, tokenType, st.AccessToken)
		if sseErr != nil {
			d.markHistoryError(gen, StepAuthenticatedMCPRequest, sseErr.Error())
			return false, fmt.Errorf("authenticated request failed with status %d and SSE fallback failed: %w",
				resp.StatusCode, sseErr)
		}
		d.appendInfo(gen, StepAuthenticatedMCPRequest, "server speaks the legacy HTTP+SSE transport",
			map[string]any{"message_endpoint": endpoint}, SeverityInfo)

	default:
		detail := fmt.Sprintf("authenticated request failed with status %d", resp.StatusCode)
		d.markHistoryError(gen, StepAuthenticatedMCPRequest, detail)
		return false, fmt.Errorf("%s", detail)
	}

	if !d.setStep(gen, StepComplete) {
		return false, ErrFlowSuperseded
	}
	d.appendInfo(gen, StepComplete, "authorization flow complete", nil, SeverityInfo)
	return false, nil
}

// probeSSETransport issues an authenticated GET against the endpoint and
// looks for the transport's opening "endpoint" event. The token being
// accepted on this path is still a successful authentication.
func (d *Driver) probeSSETransport(ctx context.Context, gen uint64, tokenType, accessToken string) (string, error) {
	resp, err := d.call(ctx, gen, StepAuthenticatedMCPRequest, &RelayRequest{
		Method: http.MethodGet,
		URL:    d.cfg.Endpoint,
		Headers: map[string]string{
			"Accept":        "text/event-stream",
			"Authorization": fmt.Sprintf("%s %s", tokenType, accessToken),
		},
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("SSE probe failed with status %d", resp.StatusCode)
	}

	endpoint, ok := parseSSEEndpoint(resp.Body)
	if !ok {
		return "", fmt.Errorf("SSE stream did not announce an endpoint event")
	}
	return endpoint, nil
}

// parseSSEEndpoint scans an event stream for the first "endpoint" event and
// returns its data line.
func parseSSEEndpoint(body []byte) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	inEndpointEvent := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "event:"):
			inEndpointEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:")) == "endpoint"
		case strings.HasPrefix(line, "data:") && inEndpointEvent:
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data != "" {
				return data, true
			}
		case line == "":
			inEndpointEvent = false
		}
	}
	return "", false
}
