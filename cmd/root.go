package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/giantswarm/mcp-authflow/internal/authflow"
	"github.com/giantswarm/mcp-authflow/internal/credstore"
)

var (
	version string

	endpoint            string
	specVersion         string
	registration        string
	clientID            string
	clientSecret        string
	clientIDMetadataURL string
	redirectURL         string
	scopes              []string
	preferredAuthServer string
	clientName          string
	clientURI           string
	serverName          string
	dataDir             string
	noStore             bool
	jsonOutput          bool
	verbose             bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcp-authflow",
	Short: "OAuth authorization flow debugger for MCP servers",
	Long: `mcp-authflow walks the complete OAuth 2.0 authorization-code flow
against a protected MCP (Model Context Protocol) server, step by step,
and records every HTTP transaction along the way.

The flow covers:
- the unauthenticated probe and its 401 challenge
- protected resource metadata discovery (RFC 9728)
- authorization server metadata discovery (RFC 8414 / OIDC)
- client registration (RFC 7591 Dynamic Client Registration,
  Client ID Metadata Documents, or stored credentials)
- PKCE parameter generation (RFC 7636, S256)
- the authorization request (completed by you in a browser)
- the token exchange, including decoded JWT claims and audience checks
- the final authenticated MCP initialize request

Two generations of the MCP authorization spec are supported via
--spec-version: 2025-06-18 (default, strict discovery with resource
indicators) and 2025-03-26 (legacy discovery with root fallback and
synthesized default endpoints).

When the flow pauses at the authorization request, open the printed URL
in a browser, authorize, and paste the code from the redirect back into
the prompt. The full request history is printed at the end; use --json
for a machine-readable dump of the final flow state.`,
	RunE: runAuthFlow,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	rootCmd.Flags().StringVar(&endpoint, "endpoint", "http://localhost:8090/mcp", "MCP endpoint URL")
	rootCmd.Flags().StringVar(&specVersion, "spec-version", string(authflow.VariantCurrent), "MCP authorization spec version (2025-06-18 or 2025-03-26)")
	rootCmd.Flags().StringVar(&registration, "registration", string(authflow.RegistrationDynamic), "Client registration mode: dynamic, cimd, or preregistered")
	rootCmd.Flags().StringVar(&clientID, "client-id", "", "Client ID to store for preregistered mode (with --client-secret if confidential)")
	rootCmd.Flags().StringVar(&clientSecret, "client-secret", "", "Client secret to store for preregistered mode (prefer MCP_AUTHFLOW_CLIENT_SECRET over this flag)")
	rootCmd.Flags().StringVar(&clientIDMetadataURL, "client-id-metadata-url", "", "HTTPS URL hosting the Client ID Metadata Document (required for --registration=cimd)")
	rootCmd.Flags().StringVar(&redirectURL, "redirect-url", "http://localhost:8765/callback", "OAuth redirect URL the authorization server sends the code to")
	rootCmd.Flags().StringSliceVar(&scopes, "scopes", nil, "OAuth scopes to request (default: the protected resource's advertised scopes)")
	rootCmd.Flags().StringVar(&preferredAuthServer, "preferred-auth-server", "", "Preferred authorization server URL when the resource advertises several")
	rootCmd.Flags().StringVar(&clientName, "client-name", "mcp-authflow", "Client name sent in registration requests")
	rootCmd.Flags().StringVar(&clientURI, "client-uri", "", "Client home page URL sent in registration requests")
	rootCmd.Flags().StringVar(&serverName, "server-name", "", "Display name for the target server (default: the endpoint URL)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for the credential database (default: ~/.mcp-authflow)")
	rootCmd.Flags().BoolVar(&noStore, "no-store", false, "Do not persist credentials, tokens or verifiers")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the final flow state as JSON instead of the summary")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	rootCmd.AddCommand(newClearCmd())
}

// newLogger builds the process logger. Console encoding to stderr so the
// flow output on stdout stays clean.
func newLogger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// resolveDataDir returns the credential database directory, creating it if
// needed.
func resolveDataDir() (string, error) {
	dir := dataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to determine home directory: %w", err)
		}
		dir = filepath.Join(home, ".mcp-authflow")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down gracefully...")
		cancel()
	}()
}

// buildFlowConfig creates a flow configuration from CLI flags.
func buildFlowConfig(cmd *cobra.Command, logger *zap.Logger) (*authflow.Config, error) {
	// Client secrets on the command line show up in process listings.
	if clientSecret != "" && cmd.Flags().Changed("client-secret") {
		logger.Warn("client secret passed via CLI flag is visible in process listings; prefer MCP_AUTHFLOW_CLIENT_SECRET")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("MCP_AUTHFLOW_CLIENT_SECRET")
	}

	cfg := &authflow.Config{
		Endpoint: endpoint,
		Server: authflow.ServerIdentity{
			ID:   endpoint,
			Name: serverName,
		},
		Variant:             authflow.ProtocolVariant(specVersion),
		Registration:        authflow.RegistrationMode(registration),
		ClientIDMetadataURL: clientIDMetadataURL,
		RedirectURL:         redirectURL,
		Scopes:              scopes,
		PreferredAuthServer: preferredAuthServer,
		ClientName:          clientName,
		ClientURI:           clientURI,
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow configuration: %w", err)
	}
	return cfg, nil
}

// seedCredentials stores a CLI-provided client identity so preregistered
// mode can find it.
func seedCredentials(store *credstore.Store, cfg *authflow.Config) error {
	if clientID == "" {
		return nil
	}
	if store == nil {
		return fmt.Errorf("--client-id requires the credential store (remove --no-store)")
	}

	authMethod := "none"
	if clientSecret != "" {
		authMethod = "client_secret_post"
	}
	return store.SetClient(cfg.Server.ID, &credstore.ClientRecord{
		ClientID:                clientID,
		ClientSecret:            clientSecret,
		TokenEndpointAuthMethod: authMethod,
	})
}

// promptAuthorizationCode reads the pasted authorization code. Accepts
// either the bare code or the full redirect URL; the latter is parsed for
// its code parameter by the caller.
func promptAuthorizationCode() (string, error) {
	rl, err := readline.New("authorization code> ")
	if err != nil {
		return "", fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			return "", fmt.Errorf("authorization cancelled")
		}
		if err == io.EOF {
			return "", fmt.Errorf("authorization cancelled")
		}
		if err != nil {
			return "", fmt.Errorf("readline error: %w", err)
		}

		code := extractAuthorizationCode(strings.TrimSpace(line))
		if code == "" {
			fmt.Println("Paste the authorization code (or the full redirect URL).")
			continue
		}
		return code, nil
	}
}

func runAuthFlow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	setupSignalHandler(cancel)

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := buildFlowConfig(cmd, logger)
	if err != nil {
		return err
	}

	var creds authflow.CredentialStore
	var store *credstore.Store
	if !noStore {
		dir, err := resolveDataDir()
		if err != nil {
			return err
		}
		store, err = credstore.Open(dir, logger)
		if err != nil {
			return fmt.Errorf("failed to open credential store: %w", err)
		}
		defer func() { _ = store.Close() }()
		creds = store
	}

	if err := seedCredentials(store, cfg); err != nil {
		return fmt.Errorf("failed to store client credentials: %w", err)
	}

	driver, err := authflow.NewDriver(cfg, nil, creds, logger)
	if err != nil {
		return err
	}

	flowErr := driveFlow(ctx, driver)

	st := driver.Snapshot()
	if jsonOutput {
		if err := json.NewEncoder(os.Stdout).Encode(stateToJSON(&st)); err != nil {
			return fmt.Errorf("failed to encode flow state: %w", err)
		}
	} else {
		printSummary(os.Stdout, &st)
	}

	return flowErr
}

// driveFlow runs the flow to completion, handling the pause for the
// authorization code.
func driveFlow(ctx context.Context, driver *authflow.Driver) error {
	for {
		err := driver.Proceed(ctx)
		if err == nil {
			st := driver.Snapshot()
			if st.CurrentStep == authflow.StepComplete {
				return nil
			}
			// The flow stopped on a recorded error without a fatal return.
			if st.Err != "" {
				return errors.New(st.Err)
			}
			return nil
		}
		if !errors.Is(err, authflow.ErrUserInputRequired) {
			return err
		}

		st := driver.Snapshot()
		if st.AuthorizationURL != "" {
			fmt.Println("\nOpen this URL in a browser and authorize:")
			fmt.Printf("\n  %s\n\n", st.AuthorizationURL)
		}

		code, err := promptAuthorizationCode()
		if err != nil {
			return err
		}
		if err := driver.SubmitAuthorizationCode(code); err != nil {
			return err
		}
	}
}
