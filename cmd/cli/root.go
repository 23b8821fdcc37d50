// Package cli provides the command-line interface for mapperctl.
// This package implements the Cobra-based CLI structure with commands for
// submitting and watching scans, browsing results, running the backend and
// scheduling recurring scans.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/mapperctl/internal/config"
	"github.com/anstrom/mapperctl/internal/logging"
)

// Viper keys bound to global flags and MAPPERCTL_* environment variables.
const (
	keyServer  = "server_url"
	keyAPIKey  = "api_key"
	keyVerbose = "verbose"
	keyNoColor = "no_color"
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mapperctl",
	Short: "Network mapper scan controller",
	Long: `mapperctl drives the network mapper through its web backend.

It submits scans, follows them to completion with a progress display,
browses past results and serves the backend itself. Scans can also be
submitted on a schedule.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./mapperctl.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("server", "", "backend base URL (overrides client.base_url)")
	flags.String("api-key", "", "API key sent to the backend (overrides client.api_key)")
	flags.Bool("no-color", false, "disable colored output")

	for key, flag := range map[string]string{
		keyServer:  "server",
		keyAPIKey:  "api-key",
		keyVerbose: "verbose",
		keyNoColor: "no-color",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", flag, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("mapperctl")
	}

	// MAPPERCTL_SERVER_URL, MAPPERCTL_API_KEY, MAPPERCTL_NO_COLOR, ...
	viper.SetEnvPrefix("MAPPERCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	initLogging()
}

// loadConfig loads the config file and applies flag and environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}

	if server := viper.GetString(keyServer); server != "" {
		cfg.Client.BaseURL = server
	}
	if apiKey := viper.GetString(keyAPIKey); apiKey != "" {
		cfg.Client.APIKey = apiKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// noColor reports whether colored output is disabled.
func noColor() bool {
	return viper.GetBool(keyNoColor)
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		fmt.Fprintf(os.Stderr, "Warning: failed to load config for logging: %v\n", err)
		return
	}

	level := logging.LogLevel(cfg.Logging.Level)
	if viper.GetBool(keyVerbose) {
		level = logging.LevelDebug
	}

	logger, err := logging.New(logging.Config{
		Level:     level,
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: level == logging.LevelDebug,
	})
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", level, "format", cfg.Logging.Format)
	}
}
