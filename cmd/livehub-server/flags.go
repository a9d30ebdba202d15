package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds user supplied flag values prior to translation into server.Config
// so run() can validate and map.
type cliConfig struct {
	listenAddr        string
	logLevel          string
	recordAll         bool
	recordDir         string
	chunkSize         uint
	relayDestinations []string // NEW: Multiple destination URLs for relay
	// Hook configuration (backward compatible - all optional)
	hookScripts     []string // event_type=script_path pairs
	hookWebhooks    []string // event_type=webhook_url pairs
	hookStdioFormat string   // "json", "env", or "" (disabled)
	hookTimeout     string   // timeout duration (e.g. "30s")
	hookConcurrency int      // max concurrent hook executions

	// HTTP front-ends and edge-pull, all optional.
	httpAddr    string   // listen address for HTTP-FLV/HLS/DASH, "" disables
	hlsDir      string   // output dir for HLS segments, "" disables HLS
	dashDir     string   // output dir for DASH segments, "" disables DASH
	edgeOrigins []string // app/stream=rtmp://origin/app/stream pairs for edge-pull
}

// newRootCommand builds the livehub-server cobra command. Flags are bound
// directly to a cliConfig via pflag so validation (PreRunE) and the actual
// server bring-up (RunE, in main.go) share one fully-populated struct.
func newRootCommand() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:   "livehub-server",
		Short: "RTMP ingest/egress server with HLS/DASH packaging and edge-pull",
		Long: `livehub-server accepts RTMP publishers, fans their media out to RTMP
players, HTTP-FLV, HLS and DASH, and can pull a stream from an origin
server on demand when a requested stream isn't locally live.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	root.SetVersionTemplate(version + "\n")

	fs := root.Flags()
	fs.StringVar(&cfg.listenAddr, "listen", ":1935", "TCP listen address (e.g. :1935 or 0.0.0.0:1935)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.recordAll, "record-all", false, "Enable recording of all streams to --record-dir")
	fs.StringVar(&cfg.recordDir, "record-dir", "recordings", "Directory to write FLV recordings")
	fs.UintVar(&cfg.chunkSize, "chunk-size", 4096, "Outbound chunk size (validated only; connections always use 4096)")
	fs.StringArrayVar(&cfg.relayDestinations, "relay-to", nil, "RTMP destination URL (can be specified multiple times)")

	fs.StringArrayVar(&cfg.hookScripts, "hook-script", nil, "Hook script in format event_type=script_path (can be specified multiple times)")
	fs.StringArrayVar(&cfg.hookWebhooks, "hook-webhook", nil, "Hook webhook in format event_type=webhook_url (can be specified multiple times)")
	fs.StringVar(&cfg.hookStdioFormat, "hook-stdio-format", "", "Enable structured stdio output: json|env (empty=disabled)")
	fs.StringVar(&cfg.hookTimeout, "hook-timeout", "30s", "Hook timeout (validated only; hooks run with a fixed 30s timeout)")
	fs.IntVar(&cfg.hookConcurrency, "hook-concurrency", 10, "Maximum concurrent hook executions")

	fs.StringVar(&cfg.httpAddr, "http-listen", "", "HTTP listen address for HTTP-FLV/HLS/DASH playback (empty disables)")
	fs.StringVar(&cfg.hlsDir, "hls-dir", "", "Output directory for HLS segments/playlists (empty disables HLS)")
	fs.StringVar(&cfg.dashDir, "dash-dir", "", "Output directory for DASH segments/manifests (empty disables DASH)")
	fs.StringArrayVar(&cfg.edgeOrigins, "edge-origin", nil, "Edge-pull mapping in format app/stream=rtmp://origin-url (can be specified multiple times)")

	return root
}

func validateConfig(cfg *cliConfig) error {
	if cfg.chunkSize == 0 || cfg.chunkSize > 65536 {
		return errors.New("chunk-size must be between 1 and 65536")
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	if err := validateHookConfig(cfg); err != nil {
		return err
	}

	for _, dest := range cfg.relayDestinations {
		if err := validateRelayDestination(dest); err != nil {
			return fmt.Errorf("invalid relay destination %q: %w", dest, err)
		}
	}

	for _, origin := range cfg.edgeOrigins {
		parts := strings.SplitN(origin, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return fmt.Errorf("invalid edge-origin %q, expected app/stream=rtmp://url", origin)
		}
		if err := validateRelayDestination(parts[1]); err != nil {
			return fmt.Errorf("invalid edge-origin %q: %w", origin, err)
		}
	}

	return nil
}

// validateRelayDestination validates an RTMP URL
func validateRelayDestination(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsedURL.Scheme != "rtmp" {
		return fmt.Errorf("URL must use rtmp:// scheme, got %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}

// validateHookConfig validates hook configuration settings
func validateHookConfig(cfg *cliConfig) error {
	if cfg.hookStdioFormat != "" && cfg.hookStdioFormat != "json" && cfg.hookStdioFormat != "env" {
		return fmt.Errorf("invalid hook-stdio-format %q, must be 'json' or 'env'", cfg.hookStdioFormat)
	}

	if cfg.hookTimeout != "" {
		if _, err := parseTimeDuration(cfg.hookTimeout); err != nil {
			return fmt.Errorf("invalid hook-timeout %q: %w", cfg.hookTimeout, err)
		}
	}

	if cfg.hookConcurrency < 1 || cfg.hookConcurrency > 100 {
		return fmt.Errorf("hook-concurrency must be between 1 and 100, got %d", cfg.hookConcurrency)
	}

	for _, script := range cfg.hookScripts {
		if err := validateHookAssignment("hook-script", script); err != nil {
			return err
		}
	}

	for _, webhook := range cfg.hookWebhooks {
		if err := validateHookAssignment("hook-webhook", webhook); err != nil {
			return err
		}
	}

	return nil
}

// parseTimeDuration parses a duration string (handles common formats)
func parseTimeDuration(s string) (string, error) {
	if len(s) < 2 {
		return "", fmt.Errorf("duration too short")
	}

	suffix := s[len(s)-1:]
	if suffix != "s" && suffix != "m" && suffix != "h" {
		return "", fmt.Errorf("duration must end with s, m, or h")
	}

	return s, nil
}

// validateHookAssignment validates event_type=value format
func validateHookAssignment(flagName, assignment string) error {
	parts := strings.SplitN(assignment, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid %s format %q, expected event_type=value", flagName, assignment)
	}

	eventType, value := parts[0], parts[1]

	if eventType == "" {
		return fmt.Errorf("invalid %s: event type cannot be empty", flagName)
	}

	if value == "" {
		return fmt.Errorf("invalid %s: value cannot be empty", flagName)
	}

	validEventTypes := map[string]bool{
		"connection_accept":  true,
		"connection_close":   true,
		"handshake_complete": true,
		"stream_create":      true,
		"stream_delete":      true,
		"publish_start":      true,
		"publish_stop":       true,
		"play_start":         true,
		"play_stop":          true,
		"codec_detected":     true,
	}

	if !validEventTypes[eventType] {
		return fmt.Errorf("invalid %s: unknown event type %q", flagName, eventType)
	}

	return nil
}
