package authflow

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// stepGeneratePKCE generates a fresh verifier, challenge and state for this
// authorization attempt. The verifier is persisted so the token exchange can
// recover it after a restart.
func (d *Driver) stepGeneratePKCE(gen uint64) (bool, error) {
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return false, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	challenge := GenerateCodeChallenge(verifier)

	oauthState, err := GenerateState()
	if err != nil {
		return false, fmt.Errorf("failed to generate state parameter: %w", err)
	}

	if d.creds != nil {
		if err := d.creds.SetVerifier(d.cfg.Server.ID, verifier); err != nil {
			d.logger.Warn("failed to persist code verifier", zap.Error(err))
		}
	}

	d.appendInfo(gen, StepGeneratePKCEParameters, "PKCE parameters generated",
		map[string]any{
			"code_challenge":        challenge,
			"code_challenge_method": pkceMethodS256,
			"state":                 oauthState,
		}, SeverityInfo)

	if !d.store.Apply(gen, func(fs *FlowState) {
		fs.CodeVerifier = verifier
		fs.CodeChallenge = challenge
		fs.ChallengeMethod = pkceMethodS256
		fs.OAuthState = oauthState
		fs.CurrentStep = StepGeneratePKCEParameters
	}) {
		return false, ErrFlowSuperseded
	}

	return true, nil
}

// stepBuildAuthorizationURL assembles the authorization request URL and
// pauses the flow: the user completes the request in a browser and submits
// the resulting code through SubmitAuthorizationCode.
//
// No HTTP call happens here. The flow records the URL rather than opening
// it, so the request is inspectable before the browser is involved.
func (d *Driver) stepBuildAuthorizationURL(gen uint64, st *FlowState) (bool, error) {
	authURL, err := url.Parse(st.ASMetadata.AuthorizationEndpoint)
	if err != nil {
		return false, fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	q := authURL.Query()
	q.Set("response_type", responseTypeCode)
	q.Set("client_id", st.ClientID)
	q.Set("redirect_uri", d.cfg.RedirectURL)
	q.Set("code_challenge", st.CodeChallenge)
	q.Set("code_challenge_method", st.ChallengeMethod)
	q.Set("state", st.OAuthState)
	if d.cfg.Variant == VariantCurrent {
		q.Set("resource", d.canonicalResource)
	}
	if scopes := d.effectiveScopes(st); len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	authURL.RawQuery = q.Encode()

	d.appendInfo(gen, StepAuthorizationRequest, "authorization URL ready; complete the request in a browser",
		map[string]any{"authorization_url": authURL.String()}, SeverityInfo)

	if !d.store.Apply(gen, func(fs *FlowState) {
		fs.AuthorizationURL = authURL.String()
		fs.CurrentStep = StepAuthorizationRequest
	}) {
		return false, ErrFlowSuperseded
	}

	// Pause for the user.
	return false, nil
}
