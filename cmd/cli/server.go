// Package cli provides the command-line interface for mapperctl.
// This file implements the serve command, which runs the backend that
// launches the mapper and serves its results.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/mapperctl/internal/api"
	"github.com/anstrom/mapperctl/internal/config"
	"github.com/anstrom/mapperctl/internal/launcher"
	"github.com/anstrom/mapperctl/internal/logging"
	"github.com/anstrom/mapperctl/internal/metrics"
	"github.com/anstrom/mapperctl/internal/request"
)

// systemMetricsInterval is how often the backend refreshes its uptime gauges.
const systemMetricsInterval = 15 * time.Second

// Serve command flags.
var (
	serveHost      string
	servePort      int
	serveOutputDir string
	serveWorkDir   string
	serveQuiet     bool
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mapper backend",
	Long: `Run the HTTP backend that launches the network mapper and serves results.

The backend accepts scan commands on POST /api/scan, reports whether a scan
is running on GET /api/status and serves finished scans from the output
directory. Authentication is enabled when server.api_key_hashes is set.`,
	Example: `  mapperctl serve
  mapperctl serve --host 0.0.0.0 --port 8080 --output-dir /var/lib/mapper
  MAPPERCTL_CONFIG=/etc/mapperctl.yaml mapperctl serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "override server.listen_addr")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override server.port")
	serveCmd.Flags().StringVar(&serveOutputDir, "output-dir", "", "override server.output_dir")
	serveCmd.Flags().StringVar(&serveWorkDir, "work-dir", "", "override server.work_dir")
	serveCmd.Flags().BoolVar(&serveQuiet, "quiet-mapper", false, "discard the mapper's console output")
}

// applyServeOverrides copies explicitly set serve flags into cfg.
func applyServeOverrides(cmd *cobra.Command, cfg *config.ServerConfig) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.ListenAddr = serveHost
	}
	if flags.Changed("port") {
		cfg.Port = servePort
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = serveOutputDir
	}
	if flags.Changed("work-dir") {
		cfg.WorkDir = serveWorkDir
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeOverrides(cmd, &cfg.Server)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.Default().WithComponent("serve")

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	m := metrics.NewPrometheusMetrics()
	go m.StartPeriodicUpdates(ctx, systemMetricsInterval)

	opts := launcher.Options{
		WorkDir: cfg.Server.WorkDir,
		Output:  os.Stdout,
		Logger:  logging.Default(),
		Metrics: m,
	}
	if serveQuiet {
		opts.Output = nil
	}
	l := launcher.New(request.NewBuilder(cfg.Scanner.Program), opts)

	server := api.New(cfg.Server, l, logging.Default(), m)
	logger.Info("Backend configured",
		"address", server.Address(),
		"program", cfg.Scanner.Program,
		"output_dir", cfg.Server.OutputDir,
		"auth_enabled", cfg.AuthEnabled())
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s (output: %s)\n", server.Address(), cfg.Server.OutputDir)
	fmt.Fprintf(cmd.OutOrStdout(), "API documentation: http://%s%s\n", server.Address(), api.PathDocs)

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Backend stopped with error", "uptime", m.GetUptime().Round(time.Second))
		return err
	}
	logger.Info("Backend stopped", "uptime", m.GetUptime().Round(time.Second))
	return nil
}
