package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gemx-cli/gemx/internal/agent"
	"github.com/gemx-cli/gemx/internal/auth"
	"github.com/gemx-cli/gemx/internal/config"
	"github.com/gemx-cli/gemx/internal/llm/gemini"
	"github.com/gemx-cli/gemx/internal/mcp"
)

// version is the CLI build version.
const version = "0.1.0"

// defaultBaseURL is the Google generative-language API endpoint.
const defaultBaseURL = "https://generativelanguage.googleapis.com"

// requestTimeout bounds each generation request, including streaming.
const requestTimeout = 5 * time.Minute

// options holds the CLI flags shared by the root command.
type options struct {
	// Model overrides the settings-file model selection.
	Model string
	// NoStream disables incremental output in one-shot mode.
	NoStream bool
	// NoTools skips MCP server startup for this run.
	NoTools bool
	// MaxTurns caps tool-assisted turns per prompt.
	MaxTurns int
	// Version prints the CLI version.
	Version bool
}

// main wires Cobra and executes the CLI.
func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "gemx [prompt]",
		Short: "gemx - Gemini in your terminal, with MCP tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Version {
				fmt.Println(version)
				return nil
			}
			return runRoot(cmd, opts, args)
		},
	}
	rootCmd.Args = cobra.ArbitraryArgs
	rootCmd.SilenceUsage = true

	// Persistent so `gemx chat` honors the same flags as one-shot mode.
	applyFlags(rootCmd.PersistentFlags(), opts)

	rootCmd.AddCommand(loginCommand())
	rootCmd.AddCommand(logoutCommand())
	rootCmd.AddCommand(mcpCommand())
	rootCmd.AddCommand(chatCommand(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gemx: %v\n", err)
		os.Exit(1)
	}
}

// applyFlags defines the root command's flags.
func applyFlags(flags *pflag.FlagSet, opts *options) {
	flags.StringVar(&opts.Model, "model", "", "Model for the current run")
	flags.BoolVar(&opts.NoStream, "no-stream", false, "Print the full response at once")
	flags.BoolVar(&opts.NoTools, "no-tools", false, "Skip MCP server startup")
	flags.IntVar(&opts.MaxTurns, "max-turns", 0, "Maximum tool-assisted turns per prompt")
	flags.BoolVarP(&opts.Version, "version", "v", false, "Output the version number")
}

// runRoot executes one-shot mode: a single prompt read from the arguments.
func runRoot(cmd *cobra.Command, opts *options, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return cmd.Help()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}
	model := config.ResolveModel(opts.Model, settings)

	runner, cleanup, err := buildRunner(ctx, opts, settings)
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.NoStream {
		result, err := runner.Run(ctx, nil, prompt, model)
		if err != nil {
			return err
		}
		reportToolEvents(result.Events)
		fmt.Fprintln(os.Stdout, result.FinalText)
		return nil
	}

	callbacks := &agent.StreamCallbacks{
		OnStreamEvent: func(event gemini.StreamEvent) error {
			if event.Kind == gemini.EventTextDelta {
				fmt.Fprint(os.Stdout, event.Text)
			}
			return nil
		},
		OnToolResult: func(event agent.ToolEvent) error {
			reportToolEvents([]agent.ToolEvent{event})
			return nil
		},
	}

	if _, err := runner.RunStream(ctx, nil, prompt, model, callbacks); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout)
	return nil
}

// reportToolEvents prints tool outcomes to stderr, keeping stdout clean for
// the answer.
func reportToolEvents(events []agent.ToolEvent) {
	for _, event := range events {
		if event.Type != "tool_result" {
			continue
		}
		status := "ok"
		if event.IsError {
			status = "failed"
		}
		fmt.Fprintf(os.Stderr, "[tool %s: %s]\n", event.ToolName, status)
	}
}

// buildRunner assembles the client, auth, and tool registry for a run.
// The returned cleanup shuts down any started MCP sessions.
func buildRunner(ctx context.Context, opts *options, settings *config.Settings) (*agent.Runner, func(), error) {
	client, err := buildClient(settings)
	if err != nil {
		return nil, nil, err
	}

	runner := &agent.Runner{
		Client:   client,
		MaxTurns: opts.MaxTurns,
	}
	cleanup := func() {}

	if !opts.NoTools {
		registry, registryCleanup, err := buildRegistry(ctx)
		if err != nil {
			return nil, nil, err
		}
		if registry != nil {
			runner.Tools = registry
			cleanup = registryCleanup
		}
	}
	return runner, cleanup, nil
}

// buildClient selects API-key or OAuth transport based on settings.
func buildClient(settings *config.Settings) (*gemini.Client, error) {
	if settings.Provider != "" && settings.Provider != "google" {
		return nil, fmt.Errorf("unknown provider %q", settings.Provider)
	}
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	if settings.APIKey != "" {
		return gemini.NewClient(baseURL, settings.APIKey, requestTimeout), nil
	}

	store, err := credentialStore()
	if err != nil {
		return nil, err
	}
	if _, err := store.Load(); err != nil {
		if errors.Is(err, auth.ErrNoCredential) {
			return nil, errors.New("not logged in; run `gemx login` or set GEMX_API_KEY")
		}
		return nil, err
	}
	flow := auth.NewFlow(settings.OAuth.ClientID, settings.OAuth.ClientSecret, settings.OAuth.Scopes)
	guard := auth.NewGuard(store, flow)
	return gemini.NewOAuthClient(baseURL, guard, requestTimeout), nil
}

// credentialStore opens the on-disk token store.
func credentialStore() (*auth.Store, error) {
	path, err := config.CredentialPath()
	if err != nil {
		return nil, err
	}
	return auth.NewStore(path), nil
}

// buildRegistry starts every enabled MCP server and builds the catalog.
// Servers that fail to start are reported and skipped; a duplicate tool
// name is fatal because dispatches would be ambiguous.
func buildRegistry(ctx context.Context) (*mcp.Registry, func(), error) {
	path, err := config.ServersPath()
	if err != nil {
		return nil, nil, err
	}
	file, err := mcp.LoadServers(path)
	if err != nil {
		return nil, nil, err
	}
	enabled := file.Enabled()
	if len(enabled) == 0 {
		return nil, func() {}, nil
	}

	var sessions []*mcp.Session
	for _, server := range enabled {
		session, err := mcp.StartSession(ctx, server)
		if err != nil {
			fmt.Fprintf(os.Stderr, "gemx: mcp server %s unavailable: %v\n", server.Name, err)
			continue
		}
		sessions = append(sessions, session)
	}
	if len(sessions) == 0 {
		return nil, func() {}, nil
	}

	registry := mcp.NewRegistry(sessions...)
	cleanup := func() { registry.Close() }
	if err := registry.Refresh(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	return registry, cleanup, nil
}
