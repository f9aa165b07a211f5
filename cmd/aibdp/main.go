// Package main is the entry point for the aibdp binary. It serves a site
// behind AIBDP enforcement and offers offline tools for manifest authors.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Hyperpolymath/consent-aware-http/pkg/agent"
	"github.com/Hyperpolymath/consent-aware-http/pkg/config"
	"github.com/Hyperpolymath/consent-aware-http/pkg/logging"
	"github.com/Hyperpolymath/consent-aware-http/pkg/manifest"
	"github.com/Hyperpolymath/consent-aware-http/pkg/policy"
	"github.com/Hyperpolymath/consent-aware-http/pkg/server"
	"github.com/Hyperpolymath/consent-aware-http/pkg/store"
	"github.com/Hyperpolymath/consent-aware-http/pkg/telemetry"
)

// exitCodeRejected is returned by check when the request would get a 430.
const exitCodeRejected = 2

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aibdp",
		Short: "Consent-aware HTTP with AIBDP and HTTP 430",
		Long: `Enforce AI usage boundaries declared in an AIBDP manifest.

Requests from AI agents that violate the manifest are answered with
430 Consent Required. Everything else passes through unchanged.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd(), newCheckCmd(), newValidateCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo site behind AIBDP enforcement",
		Example: `  aibdp serve --manifest .well-known/aibdp.json
  aibdp serve --config aibdp.yaml --log-level debug`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().String("addr", "", "Listen address (overrides config)")
	cmd.Flags().StringP("manifest", "m", "", "Path to the AIBDP manifest (overrides config)")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	cmd.Flags().Bool("enforce-all", false, "Evaluate every request, not only known AI agents")
	return cmd
}

// loadServeConfig loads the configuration file and applies flag overrides.
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("addr") {
		cfg.Server.Address, _ = cmd.Flags().GetString("addr")
	}
	if cmd.Flags().Changed("manifest") {
		cfg.Manifest.Path, _ = cmd.Flags().GetString("manifest")
		cfg.Manifest.RedisURL = ""
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("enforce-all") {
		cfg.Enforcement.EnforceForAll, _ = cmd.Flags().GetBool("enforce-all")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("Failed to shut down telemetry", "error", err)
		}
	}()

	rt, err := server.Build(ctx, cfg, logger, logViolation(logger))
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	logger.Info("Starting aibdp server",
		"addr", cfg.Server.Address,
		"manifest_source", rt.Cache.Source().Name(),
		"enforce_for_all", cfg.Enforcement.EnforceForAll,
	)

	if err := rt.Server.Start(ctx); err != nil {
		return err
	}
	logger.Info("aibdp server stopped")
	return nil
}

func logViolation(logger *slog.Logger) func(*http.Request, *manifest.PolicyEntry, string) {
	return func(r *http.Request, entry *manifest.PolicyEntry, purpose string) {
		status := ""
		if entry != nil {
			status = string(entry.Status)
		}
		logger.Info("HTTP 430 sent",
			"path", r.URL.Path,
			"purpose", purpose,
			"policy_status", status,
			"user_agent", r.UserAgent(),
		)
	}
}

// checkResult is printed by the check command.
type checkResult struct {
	Action     policy.Action         `json:"action"`
	Reason     policy.Reason         `json:"reason"`
	StatusCode int                   `json:"status_code"`
	Agent      string                `json:"agent,omitempty"`
	Purpose    string                `json:"purpose,omitempty"`
	Body       *policy.RejectionBody `json:"body,omitempty"`
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a single request against a manifest",
		Long: `Evaluate a request against a manifest without starting a server.

The decision is printed as JSON. The command exits with status 2 when the
request would be answered with 430 Consent Required.`,
		Example: `  aibdp check --path /article.html --user-agent GPTBot/1.0
  aibdp check --path /blog/post -A "GPTBot/1.0" -H "AI-Purpose: generation"`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}

	cmd.Flags().StringP("manifest", "m", config.DefaultManifestPath, "Path to the AIBDP manifest")
	cmd.Flags().StringP("path", "p", "/", "Request path")
	cmd.Flags().StringP("user-agent", "A", "", "User-Agent header")
	cmd.Flags().StringArrayP("header", "H", nil, `Extra request header, as "Name: value" (repeatable)`)
	cmd.Flags().Bool("enforce-all", false, "Evaluate every request, not only known AI agents")
	return cmd
}

func parseHeaders(userAgent string, raw []string) (http.Header, error) {
	h := http.Header{}
	if userAgent != "" {
		h.Set(agent.HeaderUserAgent, userAgent)
	}
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

func loadManifest(ctx context.Context, path string) (*manifest.Manifest, error) {
	src, err := store.NewFileSource(path)
	if err != nil {
		return nil, err
	}
	raw, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return manifest.Parse(raw)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	manifestPath, _ := flags.GetString("manifest")
	path, _ := flags.GetString("path")
	userAgent, _ := flags.GetString("user-agent")
	rawHeaders, _ := flags.GetStringArray("header")
	enforceAll, _ := flags.GetBool("enforce-all")

	header, err := parseHeaders(userAgent, rawHeaders)
	if err != nil {
		return err
	}

	m, err := loadManifest(cmd.Context(), manifestPath)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	engine := policy.NewEngine(policy.EngineOptions{
		EnforceForAll: enforceAll,
		Logger:        slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)),
	})
	d := engine.Evaluate(cmd.Context(), m, policy.Request{Path: path, Header: header})

	result := checkResult{
		Action:     d.Action,
		Reason:     d.Reason,
		StatusCode: http.StatusOK,
		Agent:      d.Agent,
		Purpose:    d.Purpose,
		Body:       d.Body,
	}
	if d.Rejected() {
		result.StatusCode = d.StatusCode
	}
	if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}

	if d.Rejected() {
		return &exitError{code: exitCodeRejected}
	}
	return nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Check a manifest against the AIBDP schema",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	//nolint:gosec // Manifest path is supplied by the operator
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	if err := manifest.Lint(raw); err != nil {
		return err
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: valid AIBDP %s manifest\n", args[0], m.Version)
	for _, purpose := range m.Purposes() {
		entry, _ := m.Policy(purpose)
		fmt.Fprintf(out, "  %-12s %-11s exceptions=%d\n", purpose, entry.Status, len(entry.Exceptions))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
