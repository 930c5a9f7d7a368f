package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/psantana5/sentiment-pulse/pkg/backend"
	"github.com/psantana5/sentiment-pulse/pkg/config"
	"github.com/psantana5/sentiment-pulse/pkg/logging"
	"github.com/psantana5/sentiment-pulse/pkg/store"
	tlsutil "github.com/psantana5/sentiment-pulse/pkg/tls"
	"github.com/psantana5/sentiment-pulse/pkg/tracing"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time
var Version = "dev"

var (
	cfgFile      string
	outputFormat string

	v   = viper.New()
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Social listening dashboard for the sentiment analysis API",
	Long: `pulse submits topics to the sentiment analysis backend, waits for the
analysis to finish and presents its statistics, charts and narrative, either
in the terminal or as a local web dashboard.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pulse/config.yaml)")
	flags.String("backend", "", "backend API URL (default from config or http://localhost:8000)")
	flags.String("api-key", "", "API key sent as a Bearer token")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.StringVarP(&outputFormat, "output", "o", "table", "output format: table or json")

	v.BindPFlag("backend_url", flags.Lookup("backend"))
	v.BindPFlag("api_key", flags.Lookup("api-key"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

// isJSONOutput returns true if JSON output is requested
func isJSONOutput() bool {
	return strings.EqualFold(outputFormat, "json")
}

func newLogger() (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.File != "" {
		return logging.NewFileLogger(cfg.Log.File, level, cfg.Log.JSON)
	}
	return logging.NewLogger(level, cfg.Log.JSON), nil
}

func newBackendClient() (*backend.Client, error) {
	var client *backend.Client
	if cfg.BackendCA != "" {
		tlsConfig, err := tlsutil.ClientConfig(tlsutil.Files{CA: cfg.BackendCA})
		if err != nil {
			return nil, fmt.Errorf("failed to load backend CA: %w", err)
		}
		client = backend.NewClientWithTLS(cfg.BackendURL, tlsConfig)
	} else {
		client = backend.NewClient(cfg.BackendURL)
	}
	if cfg.APIKey != "" {
		client.SetAPIKey(cfg.APIKey)
	}
	return client, nil
}

func openStore() (store.Store, error) {
	return store.NewStore(store.Config{Type: cfg.History.Type, Path: cfg.History.Path})
}

func newTracer(ctx context.Context, service string) (*tracing.Provider, error) {
	return tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    service,
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Enabled:        cfg.Tracing.Enabled,
	})
}

func printJSON(value interface{}) error {
	output, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
