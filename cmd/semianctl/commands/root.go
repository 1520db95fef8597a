package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/semian/config"
	"github.com/jonwraymond/semian/resilience"
	"github.com/jonwraymond/semian/shm"
)

// ConfigEnv names the variable read when --config is not given.
const ConfigEnv = "SEMIAN_CONFIG"

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	jsonOutput bool
	version    string
}

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return NewRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree.
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	g := &globals{version: version}

	rootCmd := &cobra.Command{
		Use:   "semianctl",
		Short: "Inspect and operate semian bulkheads and circuit breakers",
		Long: `semianctl works on the state semian shares between processes on a host.

Every process protecting a resource with the same identifier shares one
bulkhead (a host-wide ticket count) and one circuit breaker. semianctl reads
that state, resets or destroys it, and serves it over an authenticated
admin API.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.configPath == "" {
				g.configPath = os.Getenv(ConfigEnv)
			}
			if g.logLevel != "" {
				level, err := zerolog.ParseLevel(g.logLevel)
				if err != nil {
					return fmt.Errorf("invalid --log-level %q: %w", g.logLevel, err)
				}
				zerolog.SetGlobalLevel(level)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file path (default $"+ConfigEnv+")")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newStatusCommand(g))
	rootCmd.AddCommand(newResetCommand(g))
	rootCmd.AddCommand(newDestroyCommand(g))
	rootCmd.AddCommand(newServeCommand(g))
	rootCmd.AddCommand(newProbeCommand(g))
	rootCmd.AddCommand(newTokenCommand(g))
	rootCmd.AddCommand(newValidateCommand(g))

	return rootCmd
}

// loadConfig loads the configuration and applies --log-level over it.
func (g *globals) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx, g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	return cfg, nil
}

// session is an open store and a registry over it.
type session struct {
	cfg      *config.Config
	store    shm.Store
	registry *resilience.Registry
}

func (g *globals) openSession(ctx context.Context, onStateChange func(string, resilience.State, resilience.State)) (*session, error) {
	cfg, err := g.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	store, err := cfg.Store.Open()
	if err != nil {
		return nil, err
	}
	return &session{
		cfg:   cfg,
		store: store,
		registry: resilience.NewRegistry(resilience.RegistryConfig{
			Store:         store,
			OnStateChange: onStateChange,
		}),
	}, nil
}

func (s *session) Close() error {
	regErr := s.registry.Close()
	if err := s.store.Close(); err != nil {
		return err
	}
	return regErr
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
