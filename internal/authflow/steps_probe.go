package authflow

import (
	"context"
	"net/http"
)

// stepRequestWithoutToken issues the unauthenticated MCP initialize probe.
// A 401 with a WWW-Authenticate challenge is the expected outcome; a 2xx
// means the server allows optional authentication, and the flow proceeds
// with OAuth discovery anyway so the authorization path can be exercised.
func (d *Driver) stepRequestWithoutToken(ctx context.Context, gen uint64) (bool, error) {
	if !d.setStep(gen, StepRequestWithoutToken) {
		return false, ErrFlowSuperseded
	}

	payload, err := d.initializePayload()
	if err != nil {
		return false, err
	}

	resp, err := d.call(ctx, gen, StepRequestWithoutToken, &RelayRequest{
		Method: http.MethodPost,
		URL:    d.cfg.Endpoint,
		Headers: map[string]string{
			"Content-Type":         "application/json",
			"Accept":               "application/json, text/event-stream",
			"MCP-Protocol-Version": string(d.cfg.Variant),
		},
		Body: payload,
	})
	if err != nil {
		// The server is unreachable; nothing downstream can work.
		return false, err
	}

	wwwAuth := headerValue(resp.Headers, "WWW-Authenticate")

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		d.appendInfo(gen, StepRequestWithoutToken, "received 401 Unauthorized",
			map[string]any{"www_authenticate": wwwAuth}, SeverityInfo)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// The server answered without authentication. Treated the same as a
		// 401 so the authorization path can still be debugged; flagged so
		// the behavior is visible.
		d.appendInfo(gen, StepRequestWithoutToken, "server accepted unauthenticated request; proceeding with OAuth discovery anyway",
			map[string]any{"status": resp.StatusCode}, SeverityWarning)
	default:
		d.appendInfo(gen, StepRequestWithoutToken, "unexpected probe status; proceeding with OAuth discovery",
			map[string]any{"status": resp.StatusCode}, SeverityWarning)
	}

	if !d.store.Apply(gen, func(fs *FlowState) {
		fs.WWWAuthenticate = wwwAuth
		fs.CurrentStep = StepReceived401Unauthorized
	}) {
		return false, ErrFlowSuperseded
	}

	return true, nil
}

// stepDiscoveryStart marks the start of authorization server discovery for
// the legacy variant, which has no protected resource metadata: the MCP
// server's own origin is assumed to be the authorization server.
func (d *Driver) stepDiscoveryStart(gen uint64) (bool, error) {
	if !d.setStep(gen, StepDiscoveryStart) {
		return false, ErrFlowSuperseded
	}
	d.appendInfo(gen, StepDiscoveryStart, "starting authorization server discovery",
		map[string]any{"issuer_guess": d.cfg.Endpoint}, SeverityInfo)
	return true, nil
}
