package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/giantswarm/mcp-authflow/internal/credstore"
	"go.uber.org/zap"
)

// tokenResponse is the RFC 6749 token endpoint response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// stepTokenExchange exchanges the authorization code for tokens. A failed
// exchange consumes the code (authorization codes are single-use) but keeps
// the verifier and client identity, so the user only has to re-authorize,
// not restart the whole flow.
func (d *Driver) stepTokenExchange(ctx context.Context, gen uint64, st *FlowState) (bool, error) {
	if !d.setStep(gen, StepTokenRequest) {
		return false, ErrFlowSuperseded
	}

	verifier := st.CodeVerifier
	if verifier == "" && d.creds != nil {
		stored, err := d.creds.GetVerifier(d.cfg.Server.ID, d.cfg.Server.Name)
		if err != nil && !errors.Is(err, credstore.ErrNotFound) {
			d.logger.Warn("failed to load stored code verifier", zap.Error(err))
		}
		if stored != "" {
			d.appendInfo(gen, StepTokenRequest, "recovered code verifier from credential store", nil, SeverityInfo)
			verifier = stored
		}
	}
	if verifier == "" {
		return false, &TokenExchangeError{Err: errors.New("no code verifier available for this exchange")}
	}

	form := url.Values{}
	form.Set("grant_type", grantTypeAuthorizationCode)
	form.Set("code", st.AuthorizationCode)
	form.Set("redirect_uri", d.cfg.RedirectURL)
	form.Set("client_id", st.ClientID)
	form.Set("code_verifier", verifier)
	if st.ClientSecret != "" {
		form.Set("client_secret", st.ClientSecret)
	}
	if d.cfg.Variant == VariantCurrent {
		form.Set("resource", d.canonicalResource)
	}

	resp, err := d.call(ctx, gen, StepTokenRequest, &RelayRequest{
		Method: http.MethodPost,
		URL:    st.ASMetadata.TokenEndpoint,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"Accept":       "application/json",
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		d.clearAuthorizationCode(gen)
		return false, &TokenExchangeError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		exchErr := &TokenExchangeError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		d.markHistoryError(gen, StepTokenRequest, exchErr.Error())
		d.clearAuthorizationCode(gen)
		return false, exchErr
	}

	var tok tokenResponse
	if err := json.Unmarshal(resp.Body, &tok); err != nil {
		d.clearAuthorizationCode(gen)
		return false, &TokenExchangeError{StatusCode: resp.StatusCode, Err: err}
	}
	if tok.AccessToken == "" {
		d.clearAuthorizationCode(gen)
		return false, &TokenExchangeError{StatusCode: resp.StatusCode, Err: errors.New("token response missing access_token")}
	}

	if d.creds != nil {
		if err := d.creds.SetTokens(d.cfg.Server.ID, &credstore.TokenRecord{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			TokenType:    tok.TokenType,
			ExpiresIn:    tok.ExpiresIn,
		}); err != nil {
			d.logger.Warn("failed to persist tokens", zap.Error(err))
		}
		// The verifier is single-use alongside the code.
		if err := d.creds.RemoveVerifier(d.cfg.Server.ID); err != nil {
			d.logger.Warn("failed to remove stored code verifier", zap.Error(err))
		}
	}

	d.appendInfo(gen, StepReceivedAccessToken, "access token received",
		map[string]any{
			"token_type": tok.TokenType,
			"expires_in": tok.ExpiresIn,
			"scope":      tok.Scope,
		}, SeverityInfo)

	// Decode the token payload for inspection. Not all servers issue JWTs;
	// an opaque token is fine and just yields no claims.
	if claims, err := InspectAccessToken(tok.AccessToken, d.canonicalResource); err == nil {
		d.appendInfo(gen, StepReceivedAccessToken, "access token claims", claims, SeverityInfo)
	} else {
		d.appendInfo(gen, StepReceivedAccessToken, "access token is not a decodable JWT",
			map[string]any{"error": err.Error()}, SeverityInfo)
	}

	if !d.store.Apply(gen, func(fs *FlowState) {
		fs.AccessToken = tok.AccessToken
		fs.RefreshToken = tok.RefreshToken
		fs.TokenType = tok.TokenType
		fs.ExpiresIn = tok.ExpiresIn
		fs.AuthorizationCode = ""
		fs.CurrentStep = StepReceivedAccessToken
	}) {
		return false, ErrFlowSuperseded
	}

	return true, nil
}

// clearAuthorizationCode drops the consumed code while keeping the verifier
// and client identity, leaving the flow waiting for a fresh code.
func (d *Driver) clearAuthorizationCode(gen uint64) {
	d.store.Apply(gen, func(fs *FlowState) {
		fs.AuthorizationCode = ""
	})
}
