package authflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Driver orchestrates the authorization flow: it reads the current step
// from the store, performs that step's single unit of work, writes the
// result back, and continues until the flow pauses for user input, stops
// on an error, or completes.
//
// The loop is explicit and single-threaded: there are no timers between
// steps and no parallel discovery attempts. Each step performs at most one
// blocking network call through the injected Relay.
type Driver struct {
	cfg    *Config
	store  *Store
	relay  Relay
	creds  CredentialStore
	logger *zap.Logger

	// canonicalResource is the RFC 8707 canonical form of the endpoint,
	// used for the resource parameter and audience validation.
	canonicalResource string
}

// NewDriver creates a driver for one authorization attempt. creds may be
// nil to disable persistence.
func NewDriver(cfg *Config, relay Relay, creds CredentialStore, logger *zap.Logger) (*Driver, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow configuration: %w", err)
	}
	if relay == nil {
		relay = NewHTTPRelay(nil, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	canonical, err := CanonicalResourceURI(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	return &Driver{
		cfg:               cfg,
		store:             NewStore(cfg.Server),
		relay:             relay,
		creds:             creds,
		logger:            logger.Named("authflow").With(zap.String("server", cfg.Server.ID)),
		canonicalResource: canonical,
	}, nil
}

// Snapshot returns a read-only deep copy of the flow state.
func (d *Driver) Snapshot() FlowState {
	return d.store.Snapshot()
}

// Reset replaces the flow state with a fresh idle state. Any step still in
// flight will find its writes discarded by the store's generation guard.
func (d *Driver) Reset() {
	d.logger.Info("flow reset")
	d.store.Reset()
}

// CanonicalResource returns the canonical resource URI derived from the
// endpoint.
func (d *Driver) CanonicalResource() string {
	return d.canonicalResource
}

// SubmitAuthorizationCode supplies the authorization code the user obtained
// from the browser redirect. The flow must be paused at the authorization
// request step.
func (d *Driver) SubmitAuthorizationCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	gen := d.store.Generation()
	st := d.store.Snapshot()
	// StepTokenRequest is also accepted: a failed exchange consumes the code
	// and leaves the flow there waiting for a fresh one.
	if st.CurrentStep != StepAuthorizationRequest && st.CurrentStep != StepTokenRequest {
		return fmt.Errorf("flow is not waiting for an authorization code (current step: %s)", st.CurrentStep)
	}

	if !d.store.Apply(gen, func(fs *FlowState) {
		fs.AuthorizationCode = code
		fs.CurrentStep = StepReceivedAuthorizationCode
	}) {
		return ErrFlowSuperseded
	}

	d.appendInfo(gen, StepReceivedAuthorizationCode, "authorization code received", nil, SeverityInfo)
	return nil
}

// Proceed advances the flow from its current step. It runs steps back to
// back until one of:
//   - the flow pauses for user input (authorization code) — returns nil
//   - the terminal step is reached — returns nil
//   - a step fails without a safe fallback — the error is recorded in the
//     state and returned
//
// Proceed is the single driving entry point; calling it again after a
// pause resumes the flow.
func (d *Driver) Proceed(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		gen := d.store.Generation()
		st := d.store.Snapshot()

		var (
			cont bool
			err  error
		)

		switch st.CurrentStep {
		case StepIdle:
			cont, err = d.stepRequestWithoutToken(ctx, gen)

		case StepReceived401Unauthorized:
			if d.cfg.Variant == VariantCurrent {
				cont, err = d.stepRequestResourceMetadata(ctx, gen, &st)
			} else {
				cont, err = d.stepDiscoveryStart(gen)
			}

		case StepDiscoveryStart, StepReceivedResourceMetadata:
			cont, err = d.stepRequestASMetadata(ctx, gen, &st)

		case StepReceivedASMetadata:
			switch d.cfg.Registration {
			case RegistrationDynamic:
				cont, err = d.stepDynamicRegistration(ctx, gen, &st)
			case RegistrationCIMD:
				cont, err = d.stepCIMDPrepare(gen)
			case RegistrationPreregistered:
				cont, err = d.stepPreregistered(gen)
			default:
				panic(fmt.Sprintf("authflow: unknown registration mode %q", d.cfg.Registration))
			}

		case StepCIMDPrepare:
			cont, err = d.stepCIMDFetch(ctx, gen)

		case StepCIMDFetchRequest, StepCIMDMetadataResponse:
			cont, err = d.stepCIMDFinalize(gen, &st)

		case StepReceivedClientCredentials:
			cont, err = d.stepGeneratePKCE(gen)

		case StepGeneratePKCEParameters:
			cont, err = d.stepBuildAuthorizationURL(gen, &st)

		case StepAuthorizationRequest:
			// Paused: the user has to complete the authorization request in
			// a browser and submit the resulting code.
			return ErrUserInputRequired

		case StepReceivedAuthorizationCode:
			cont, err = d.stepTokenExchange(ctx, gen, &st)

		case StepTokenRequest:
			// A previous exchange failed and cleared the code; a fresh code
			// has to be submitted before the flow can move again.
			return ErrUserInputRequired

		case StepReceivedAccessToken:
			cont, err = d.stepAuthenticatedRequest(ctx, gen, &st)

		case StepComplete:
			return nil

		case StepRequestWithoutToken, StepRequestResourceMetadata,
			StepRequestASMetadata, StepRequestClientRegistration,
			StepAuthenticatedMCPRequest:
			// Request states are transient within their handler; observing
			// one here means the handler stopped there on an error.
			return nil

		default:
			panic(fmt.Sprintf("authflow: unknown step %q", st.CurrentStep))
		}

		if err != nil {
			d.recordError(gen, d.store.Snapshot().CurrentStep, err)
			return err
		}
		if !cont {
			// A stop without an error is either the terminal step or the
			// pause for the authorization code; the pause is surfaced to
			// this caller, not silently deferred to the next Proceed.
			if d.store.Snapshot().CurrentStep == StepAuthorizationRequest {
				return ErrUserInputRequired
			}
			return nil
		}
	}
}

// recordError stores an error message on the state and in the info log.
func (d *Driver) recordError(gen uint64, step Step, err error) {
	d.logger.Warn("step failed", zap.String("step", string(step)), zap.Error(err))
	d.store.Apply(gen, func(fs *FlowState) {
		fs.Err = err.Error()
	})
	d.store.appendInfo(gen, step, "step failed", map[string]any{"error": err.Error()}, SeverityError)
}

// recordRecoverableError stores an error without stopping the flow.
func (d *Driver) recordRecoverableError(gen uint64, step Step, err error) {
	d.logger.Warn("step failed, continuing with fallback", zap.String("step", string(step)), zap.Error(err))
	d.store.Apply(gen, func(fs *FlowState) {
		fs.Err = err.Error()
	})
	d.store.appendInfo(gen, step, "recoverable failure", map[string]any{"error": err.Error()}, SeverityWarning)
}

func (d *Driver) appendInfo(gen uint64, step Step, label string, payload map[string]any, sev Severity) {
	d.store.appendInfo(gen, step, label, payload, sev)
}

// setStep writes the current step.
func (d *Driver) setStep(gen uint64, step Step) bool {
	return d.store.Apply(gen, func(fs *FlowState) {
		fs.CurrentStep = step
	})
}

// call issues one relay request with history recording: the entry is
// appended before the call and patched exactly once after it resolves.
func (d *Driver) call(ctx context.Context, gen uint64, step Step, req *RelayRequest) (*RelayResponse, error) {
	record := HTTPRequestRecord{
		Method:  req.Method,
		URL:     req.URL,
		Headers: copyStringMap(req.Headers),
		Body:    string(req.Body),
	}
	id, ok := d.store.appendHistory(gen, step, record)
	if !ok {
		return nil, ErrFlowSuperseded
	}

	resp, err := d.relay.Do(ctx, req)
	if err != nil {
		d.store.patchHistory(gen, id, nil, 0, err.Error())
		return nil, err
	}

	d.store.patchHistory(gen, id, &HTTPResponseRecord{
		StatusCode: resp.StatusCode,
		Headers:    copyStringMap(resp.Headers),
		Body:       string(resp.Body),
	}, resp.Duration, "")

	return resp, nil
}

// markHistoryError annotates the most recent history entry for a step with
// an error detail, independent of the top-level error field.
func (d *Driver) markHistoryError(gen uint64, step Step, detail string) {
	d.store.Apply(gen, func(fs *FlowState) {
		for i := len(fs.History) - 1; i >= 0; i-- {
			if fs.History[i].Step == step {
				fs.History[i].Err = detail
				return
			}
		}
	})
}

// effectiveScopes returns the configured scopes, falling back to the
// protected resource's advertised scopes.
func (d *Driver) effectiveScopes(st *FlowState) []string {
	if len(d.cfg.Scopes) > 0 {
		return d.cfg.Scopes
	}
	if st.ResourceMetadata != nil {
		return st.ResourceMetadata.ScopesSupported
	}
	return nil
}

