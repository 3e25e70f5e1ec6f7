package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/giantswarm/mcp-authflow/internal/credstore"
	"go.uber.org/zap"
)

// clientRegistrationRequest is the RFC 7591 client metadata document POSTed
// to the registration endpoint.
type clientRegistrationRequest struct {
	ClientName              string   `json:"client_name"`
	ClientURI               string   `json:"client_uri,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	Scope                   string   `json:"scope,omitempty"`
}

// clientRegistrationResponse is the subset of the RFC 7591 response the
// flow consumes.
type clientRegistrationResponse struct {
	ClientID                string `json:"client_id"`
	ClientSecret            string `json:"client_secret,omitempty"`
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`
}

// stepDynamicRegistration registers a new client with the authorization
// server. Registration failure is recoverable: a designated fallback client
// id is substituted so the rest of the flow can still be exercised for
// debugging, with the failure recorded on the state.
func (d *Driver) stepDynamicRegistration(ctx context.Context, gen uint64, st *FlowState) (bool, error) {
	if !d.setStep(gen, StepRequestClientRegistration) {
		return false, ErrFlowSuperseded
	}

	endpoint := st.ASMetadata.RegistrationEndpoint
	if endpoint == "" {
		return d.registrationFallback(gen, &RegistrationError{
			Reason: "authorization server does not advertise a registration endpoint",
		})
	}

	reqBody := clientRegistrationRequest{
		ClientName:              d.cfg.ClientName,
		ClientURI:               d.cfg.ClientURI,
		RedirectURIs:            []string{d.cfg.RedirectURL},
		GrantTypes:              []string{grantTypeAuthorizationCode},
		ResponseTypes:           []string{responseTypeCode},
		TokenEndpointAuthMethod: "none",
		Scope:                   strings.Join(d.effectiveScopes(st), " "),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return false, fmt.Errorf("failed to encode registration request: %w", err)
	}

	resp, err := d.call(ctx, gen, StepRequestClientRegistration, &RelayRequest{
		Method: http.MethodPost,
		URL:    endpoint,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: payload,
	})
	if err != nil {
		return d.registrationFallback(gen, &RegistrationError{Reason: "registration request failed", Err: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		regErr := &RegistrationError{StatusCode: resp.StatusCode, Reason: string(resp.Body)}
		d.markHistoryError(gen, StepRequestClientRegistration, regErr.Error())
		return d.registrationFallback(gen, regErr)
	}

	var reg clientRegistrationResponse
	if err := json.Unmarshal(resp.Body, &reg); err != nil {
		return d.registrationFallback(gen, &RegistrationError{Reason: "failed to parse registration response", Err: err})
	}
	if reg.ClientID == "" {
		return d.registrationFallback(gen, &RegistrationError{Reason: "registration response missing client_id"})
	}

	authMethod := reg.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "none"
	}

	if d.creds != nil {
		if err := d.creds.SetClient(d.cfg.Server.ID, &credstore.ClientRecord{
			ClientID:                reg.ClientID,
			ClientSecret:            reg.ClientSecret,
			TokenEndpointAuthMethod: authMethod,
		}); err != nil {
			d.logger.Warn("failed to persist client credentials", zap.Error(err))
		}
	}

	d.appendInfo(gen, StepReceivedClientCredentials, "client registered",
		map[string]any{
			"client_id":                  reg.ClientID,
			"token_endpoint_auth_method": authMethod,
		}, SeverityInfo)

	if !d.store.Apply(gen, func(fs *FlowState) {
		fs.ClientID = reg.ClientID
		fs.ClientSecret = reg.ClientSecret
		fs.TokenEndpointAuthMethod = authMethod
		fs.CurrentStep = StepReceivedClientCredentials
	}) {
		return false, ErrFlowSuperseded
	}

	return true, nil
}

// registrationFallback records a registration failure and substitutes the
// fallback client id so the flow can continue.
func (d *Driver) registrationFallback(gen uint64, regErr *RegistrationError) (bool, error) {
	d.recordRecoverableError(gen, StepRequestClientRegistration, regErr)
	d.appendInfo(gen, StepReceivedClientCredentials, "using fallback client id after registration failure",
		map[string]any{"client_id": fallbackClientID}, SeverityWarning)

	if !d.store.Apply(gen, func(fs *FlowState) {
		fs.ClientID = fallbackClientID
		fs.ClientSecret = ""
		fs.TokenEndpointAuthMethod = "none"
		fs.CurrentStep = StepReceivedClientCredentials
	}) {
		return false, ErrFlowSuperseded
	}
	return true, nil
}

// stepCIMDPrepare validates the configured client_id metadata URL before
// the document fetch. Purely preparatory: no history entry.
func (d *Driver) stepCIMDPrepare(gen uint64) (bool, error) {
	if !d.setStep(gen, StepCIMDPrepare) {
		return false, ErrFlowSuperseded
	}

	if err := ValidateClientIDURL(d.cfg.ClientIDMetadataURL); err != nil {
		return false, &RegistrationError{Reason: "invalid client_id metadata URL", Err: err}
	}

	st := d.store.Snapshot()
	if !SupportsClientIDMetadata(st.ASMetadata) {
		d.appendInfo(gen, StepCIMDPrepare, "authorization server does not advertise client_id_metadata_document_supported",
			map[string]any{"client_id": d.cfg.ClientIDMetadataURL}, SeverityWarning)
	}

	d.appendInfo(gen, StepCIMDPrepare, "using client_id metadata document",
		map[string]any{"client_id": d.cfg.ClientIDMetadataURL}, SeverityInfo)
	return true, nil
}

// stepCIMDFetch fetches the hosted Client ID Metadata Document and
// validates it against the client_id URL. Validation mismatches are
// recorded but recoverable: the flow proceeds with the URL as client_id
// either way, since the authorization server performs its own fetch.
func (d *Driver) stepCIMDFetch(ctx context.Context, gen uint64) (bool, error) {
	if !d.setStep(gen, StepCIMDFetchRequest) {
		return false, ErrFlowSuperseded
	}

	clientIDURL := d.cfg.ClientIDMetadataURL
	resp, err := d.call(ctx, gen, StepCIMDFetchRequest, &RelayRequest{
		Method:  http.MethodGet,
		URL:     clientIDURL,
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		d.recordRecoverableError(gen, StepCIMDFetchRequest, &RegistrationError{
			Reason: "failed to fetch client metadata document", Err: err,
		})
		return d.cimdAdvance(gen)
	}

	if resp.StatusCode != http.StatusOK {
		regErr := &RegistrationError{StatusCode: resp.StatusCode, Reason: "client metadata document fetch failed"}
		d.markHistoryError(gen, StepCIMDFetchRequest, regErr.Error())
		d.recordRecoverableError(gen, StepCIMDFetchRequest, regErr)
		return d.cimdAdvance(gen)
	}

	var doc ClientMetadataDocument
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		d.recordRecoverableError(gen, StepCIMDFetchRequest, &RegistrationError{
			Reason: "failed to parse client metadata document", Err: err,
		})
		return d.cimdAdvance(gen)
	}

	if err := ValidateClientMetadata(&doc, clientIDURL); err != nil {
		d.markHistoryError(gen, StepCIMDFetchRequest, err.Error())
		d.recordRecoverableError(gen, StepCIMDMetadataResponse, &RegistrationError{
			Reason: "client metadata document validation failed", Err: err,
		})
		return d.cimdAdvance(gen)
	}

	d.appendInfo(gen, StepCIMDMetadataResponse, "client metadata document validated",
		map[string]any{
			"client_id":     doc.ClientID,
			"client_name":   doc.ClientName,
			"redirect_uris": doc.RedirectURIs,
		}, SeverityInfo)

	return d.cimdAdvance(gen)
}

func (d *Driver) cimdAdvance(gen uint64) (bool, error) {
	if !d.setStep(gen, StepCIMDMetadataResponse) {
		return false, ErrFlowSuperseded
	}
	return true, nil
}

// stepCIMDFinalize adopts the client_id metadata URL as the client
// identity. CIMD clients are public: no secret, token endpoint auth "none".
func (d *Driver) stepCIMDFinalize(gen uint64, _ *FlowState) (bool, error) {
	if !d.store.Apply(gen, func(fs *FlowState) {
		fs.ClientID = d.cfg.ClientIDMetadataURL
		fs.ClientSecret = ""
		fs.TokenEndpointAuthMethod = "none"
		fs.CurrentStep = StepReceivedClientCredentials
	}) {
		return false, ErrFlowSuperseded
	}

	d.appendInfo(gen, StepReceivedClientCredentials, "using client_id metadata URL as client identity",
		map[string]any{"client_id": d.cfg.ClientIDMetadataURL}, SeverityInfo)
	return true, nil
}

// stepPreregistered loads previously stored client credentials for this
// server. Their absence is a configuration error requiring user action.
func (d *Driver) stepPreregistered(gen uint64) (bool, error) {
	if d.creds == nil {
		return false, ErrNoStoredCredentials
	}

	rec, err := d.creds.GetClient(d.cfg.Server.ID, d.cfg.Server.Name)
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return false, fmt.Errorf("%w: %s", ErrNoStoredCredentials, d.cfg.Server.ID)
		}
		return false, fmt.Errorf("failed to load client credentials: %w", err)
	}

	authMethod := rec.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "none"
	}

	d.appendInfo(gen, StepReceivedClientCredentials, "loaded pre-registered client credentials",
		map[string]any{
			"client_id":                  rec.ClientID,
			"token_endpoint_auth_method": authMethod,
		}, SeverityInfo)

	if !d.store.Apply(gen, func(fs *FlowState) {
		fs.ClientID = rec.ClientID
		fs.ClientSecret = rec.ClientSecret
		fs.TokenEndpointAuthMethod = authMethod
		fs.CurrentStep = StepReceivedClientCredentials
	}) {
		return false, ErrFlowSuperseded
	}

	return true, nil
}
