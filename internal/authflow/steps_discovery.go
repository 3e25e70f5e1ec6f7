package authflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// stepRequestResourceMetadata discovers RFC 9728 protected resource
// metadata (current variant only). The resource-metadata URL comes from the
// WWW-Authenticate challenge when present, otherwise the well-known
// path-insertion candidates are probed.
//
// Discovery failure here is recoverable: the flow falls back to treating
// the MCP server itself as the authorization server.
func (d *Driver) stepRequestResourceMetadata(ctx context.Context, gen uint64, st *FlowState) (bool, error) {
	if !d.setStep(gen, StepRequestResourceMetadata) {
		return false, ErrFlowSuperseded
	}

	var candidates []string
	if st.WWWAuthenticate != "" {
		if challenge, err := ParseWWWAuthenticate(st.WWWAuthenticate); err == nil && challenge.ResourceMetadataURL != "" {
			d.appendInfo(gen, StepRequestResourceMetadata, "using resource_metadata URL from WWW-Authenticate challenge",
				map[string]any{"url": challenge.ResourceMetadataURL}, SeverityInfo)
			candidates = []string{challenge.ResourceMetadataURL}
		}
	}
	if len(candidates) == 0 {
		urls, err := BuildResourceMetadataURLs(d.cfg.Endpoint)
		if err != nil {
			return false, err
		}
		candidates = urls
	}

	var (
		metadata    *ProtectedResourceMetadata
		metadataURL string
	)
	for _, candidate := range candidates {
		m, err := d.fetchResourceMetadata(ctx, gen, candidate)
		if err != nil {
			d.logger.Debug("resource metadata candidate failed",
				zap.String("url", candidate), zap.Error(err))
			continue
		}
		metadata = m
		metadataURL = candidate
		break
	}

	if metadata == nil {
		d.recordRecoverableError(gen, StepRequestResourceMetadata, &DiscoveryError{
			Candidates: candidates,
			Reason:     "no protected resource metadata found; assuming the MCP server is its own authorization server",
		})
		if !d.setStep(gen, StepReceivedResourceMetadata) {
			return false, ErrFlowSuperseded
		}
		return true, nil
	}

	d.appendInfo(gen, StepReceivedResourceMetadata, "protected resource metadata discovered",
		map[string]any{
			"url":                   metadataURL,
			"resource":              metadata.Resource,
			"authorization_servers": metadata.AuthorizationServers,
		}, SeverityInfo)

	if !d.store.Apply(gen, func(fs *FlowState) {
		fs.ResourceMetadata = metadata
		fs.ResourceMetadataURL = metadataURL
		fs.CurrentStep = StepReceivedResourceMetadata
	}) {
		return false, ErrFlowSuperseded
	}

	return true, nil
}

// fetchResourceMetadata fetches and validates one protected resource
// metadata candidate.
func (d *Driver) fetchResourceMetadata(ctx context.Context, gen uint64, metadataURL string) (*ProtectedResourceMetadata, error) {
	resp, err := d.call(ctx, gen, StepRequestResourceMetadata, &RelayRequest{
		Method:  http.MethodGet,
		URL:     metadataURL,
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		detail := fmt.Sprintf("metadata request failed with status %d", resp.StatusCode)
		d.markHistoryError(gen, StepRequestResourceMetadata, detail)
		return nil, fmt.Errorf("%s", detail)
	}
	if !isJSONResponse(resp) {
		detail := fmt.Sprintf("unexpected Content-Type: %s", headerValue(resp.Headers, "Content-Type"))
		d.markHistoryError(gen, StepRequestResourceMetadata, detail)
		return nil, fmt.Errorf("%s", detail)
	}

	var metadata ProtectedResourceMetadata
	if err := json.Unmarshal(resp.Body, &metadata); err != nil {
		d.markHistoryError(gen, StepRequestResourceMetadata, "failed to parse metadata JSON")
		return nil, fmt.Errorf("failed to parse metadata JSON: %w", err)
	}
	if err := ValidateProtectedResourceMetadata(&metadata); err != nil {
		d.markHistoryError(gen, StepRequestResourceMetadata, err.Error())
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}

	return &metadata, nil
}

// stepRequestASMetadata discovers authorization server metadata, trying
// each candidate URL in variant order. Total failure synthesizes RFC
// default endpoints under the legacy variant and is fatal under the
// current one. Missing required fields are always fatal, and the current
// variant additionally requires advertised S256 PKCE support.
func (d *Driver) stepRequestASMetadata(ctx context.Context, gen uint64, st *FlowState) (bool, error) {
	if !d.setStep(gen, StepRequestASMetadata) {
		return false, ErrFlowSuperseded
	}

	issuer := d.cfg.Endpoint
	if d.cfg.Variant == VariantCurrent && st.ResourceMetadata != nil {
		selected, err := SelectAuthorizationServer(st.ResourceMetadata, d.cfg.PreferredAuthServer)
		if err != nil {
			return false, &DiscoveryError{Reason: err.Error()}
		}
		issuer = selected
	}

	candidates, err := BuildASMetadataURLs(issuer, d.cfg.Variant)
	if err != nil {
		return false, &DiscoveryError{Reason: "failed to build metadata candidates", Err: err}
	}

	var (
		metadata *AuthorizationServerMetadata
		foundAt  string
		lastErr  error
	)
	for _, candidate := range candidates {
		m, err := d.fetchASMetadata(ctx, gen, candidate)
		if err != nil {
			lastErr = err
			d.logger.Debug("AS metadata candidate failed",
				zap.String("url", candidate), zap.Error(err))
			continue
		}
		metadata = m
		foundAt = candidate
		break
	}

	if metadata == nil {
		if d.cfg.Variant == VariantCurrent {
			return false, &DiscoveryError{
				Candidates: candidates,
				Reason:     "no authorization server metadata found at any discovery endpoint",
				Err:        lastErr,
			}
		}

		// Legacy variant: assume the RFC default endpoint layout.
		synthesized, err := SynthesizeASMetadata(issuer)
		if err != nil {
			return false, &DiscoveryError{Reason: "failed to synthesize default endpoints", Err: err}
		}
		metadata = synthesized
		d.appendInfo(gen, StepRequestASMetadata, "no metadata endpoint responded; synthesized default endpoints",
			map[string]any{
				"issuer":                 metadata.Issuer,
				"authorization_endpoint": metadata.AuthorizationEndpoint,
				"token_endpoint":         metadata.TokenEndpoint,
				"registration_endpoint":  metadata.RegistrationEndpoint,
			}, SeverityWarning)
	}

	if err := ValidateASMetadata(metadata); err != nil {
		return false, &DiscoveryError{Candidates: candidates, Reason: err.Error()}
	}

	if err := ValidatePKCESupport(metadata); err != nil {
		if d.cfg.Variant == VariantCurrent {
			// The current spec requires servers to advertise PKCE; without
			// it the authorization request cannot be trusted.
			return false, err
		}
		d.appendInfo(gen, StepRequestASMetadata, "authorization server does not advertise PKCE support",
			map[string]any{"error": err.Error()}, SeverityWarning)
	}

	if foundAt != "" {
		d.appendInfo(gen, StepReceivedASMetadata, "authorization server metadata discovered",
			map[string]any{
				"url":                    foundAt,
				"issuer":                 metadata.Issuer,
				"authorization_endpoint": metadata.AuthorizationEndpoint,
				"token_endpoint":         metadata.TokenEndpoint,
				"registration_endpoint":  metadata.RegistrationEndpoint,
			}, SeverityInfo)
	}

	if !d.store.Apply(gen, func(fs *FlowState) {
		fs.ASMetadata = metadata
		fs.CurrentStep = StepReceivedASMetadata
	}) {
		return false, ErrFlowSuperseded
	}

	return true, nil
}

// fetchASMetadata fetches and parses one authorization server metadata
// candidate. Any non-200 status or parse failure moves discovery to the
// next candidate.
func (d *Driver) fetchASMetadata(ctx context.Context, gen uint64, metadataURL string) (*AuthorizationServerMetadata, error) {
	resp, err := d.call(ctx, gen, StepRequestASMetadata, &RelayRequest{
		Method:  http.MethodGet,
		URL:     metadataURL,
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		detail := fmt.Sprintf("request failed with status %d", resp.StatusCode)
		d.markHistoryError(gen, StepRequestASMetadata, detail)
		return nil, fmt.Errorf("%s", detail)
	}
	if !isJSONResponse(resp) {
		detail := fmt.Sprintf("unexpected Content-Type: %s", headerValue(resp.Headers, "Content-Type"))
		d.markHistoryError(gen, StepRequestASMetadata, detail)
		return nil, fmt.Errorf("%s", detail)
	}

	var metadata AuthorizationServerMetadata
	if err := json.Unmarshal(resp.Body, &metadata); err != nil {
		d.markHistoryError(gen, StepRequestASMetadata, "failed to parse metadata JSON")
		return nil, fmt.Errorf("failed to parse metadata JSON: %w", err)
	}

	return &metadata, nil
}
