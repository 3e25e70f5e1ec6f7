package cmd

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/giantswarm/mcp-authflow/internal/authflow"
)

// extractAuthorizationCode accepts either a bare authorization code or a
// full redirect URL and returns the code.
func extractAuthorizationCode(input string) string {
	if input == "" {
		return ""
	}
	if strings.Contains(input, "://") {
		parsed, err := url.Parse(input)
		if err != nil {
			return ""
		}
		return parsed.Query().Get("code")
	}
	return input
}

// printSummary renders the flow outcome, the HTTP history and the info log
// in a human-readable form.
func printSummary(w io.Writer, st *authflow.FlowState) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Flow finished at step: %s\n", st.CurrentStep)
	if st.Err != "" {
		fmt.Fprintf(w, "Last error: %s\n", st.Err)
	}
	if st.ClientID != "" {
		fmt.Fprintf(w, "Client ID: %s\n", st.ClientID)
	}
	if st.AccessToken != "" {
		fmt.Fprintf(w, "Access token: %s (type: %s, expires_in: %d)\n",
			truncate(st.AccessToken, 24), st.TokenType, st.ExpiresIn)
	}

	if len(st.History) > 0 {
		fmt.Fprintf(w, "\nHTTP history (%d transactions):\n", len(st.History))
		for i, entry := range st.History {
			status := "no response"
			if entry.Response != nil {
				status = fmt.Sprintf("%d in %s", entry.Response.StatusCode, entry.Duration)
			}
			fmt.Fprintf(w, "  %2d. [%s] %s %s -> %s\n",
				i+1, entry.Step, entry.Request.Method, entry.Request.URL, status)
			if entry.Err != "" {
				fmt.Fprintf(w, "      error: %s\n", entry.Err)
			}
		}
	}

	if len(st.InfoLog) > 0 {
		fmt.Fprintf(w, "\nFlow log (%d entries):\n", len(st.InfoLog))
		for _, entry := range st.InfoLog {
			fmt.Fprintf(w, "  [%s] %s: %s\n", entry.Severity, entry.Step, entry.Label)
			for k, v := range entry.Payload {
				fmt.Fprintf(w, "      %s: %v\n", k, v)
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// jsonState is the machine-readable dump of the final flow state. Secrets
// are redacted to a prefix; the history keeps full request/response bodies
// since inspecting them is the point of the tool.
type jsonState struct {
	Step            authflow.Step               `json:"step"`
	Error           string                      `json:"error,omitempty"`
	ClientID        string                      `json:"client_id,omitempty"`
	AccessToken     string                      `json:"access_token,omitempty"`
	TokenType       string                      `json:"token_type,omitempty"`
	ExpiresIn       int64                       `json:"expires_in,omitempty"`
	AuthorizationURL string                     `json:"authorization_url,omitempty"`
	History         []authflow.HTTPHistoryEntry `json:"history"`
	InfoLog         []authflow.InfoLogEntry     `json:"info_log"`
}

func stateToJSON(st *authflow.FlowState) *jsonState {
	return &jsonState{
		Step:             st.CurrentStep,
		Error:            st.Err,
		ClientID:         st.ClientID,
		AccessToken:      truncate(st.AccessToken, 24),
		TokenType:        st.TokenType,
		ExpiresIn:        st.ExpiresIn,
		AuthorizationURL: st.AuthorizationURL,
		History:          st.History,
		InfoLog:          st.InfoLog,
	}
}
