// Package cli provides the command-line interface for mapperctl.
// This file implements the schedule commands for recurring scans.
package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/mapperctl/internal/api"
	"github.com/anstrom/mapperctl/internal/config"
	"github.com/anstrom/mapperctl/internal/lifecycle"
	"github.com/anstrom/mapperctl/internal/logging"
	"github.com/anstrom/mapperctl/internal/metrics"
	"github.com/anstrom/mapperctl/internal/request"
	"github.com/anstrom/mapperctl/internal/scheduler"
)

// defaultConfigFile is written by schedule add when no config file is in use.
const defaultConfigFile = "mapperctl.yaml"

// schedulerStopTimeout bounds waiting for in-flight scheduled submissions.
const schedulerStopTimeout = 10 * time.Second

// metricsShutdownTimeout bounds draining the metrics listener on exit.
const metricsShutdownTimeout = 5 * time.Second

var (
	scheduleName        string
	scheduleCron        string
	scheduleScan        request.ScanConfig
	scheduleMetricsAddr string
)

// scheduleCmd represents the schedule command group
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring scans",
	Long: `Manage scans that are submitted on a cron schedule.

Schedules live in the schedule section of the config file. Run
"mapperctl schedule run" to submit them while the process is running. A
firing that finds a scan already in progress is skipped.`,
	Example: `  mapperctl schedule add --name nightly --cron "0 2 * * *" -n 192.168.1.0/24
  mapperctl schedule list
  mapperctl schedule remove nightly
  mapperctl schedule run --metrics-addr 127.0.0.1:9100`,
}

var scheduleListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List scheduled scans and their next run",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s := scheduler.New(nopSubmitter{}, nil)
		if err := s.Load(cfg.Schedule); err != nil {
			return err
		}
		renderJobs(cmd.OutOrStdout(), s.Jobs())
		return nil
	},
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a scheduled scan to the config file",
	Args:  cobra.NoArgs,
	RunE:  runScheduleAdd,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a scheduled scan from the config file",
	Args:    cobra.ExactArgs(1),
	RunE:    runScheduleRemove,
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit scheduled scans until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runScheduleRun,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleListCmd, scheduleAddCmd, scheduleRemoveCmd, scheduleRunCmd)

	scheduleRunCmd.Flags().StringVar(&scheduleMetricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address (disabled when empty)")

	scheduleAddCmd.Flags().StringVar(&scheduleName, "name", "", "name of the scheduled scan")
	scheduleAddCmd.Flags().StringVar(&scheduleCron, "cron", "", "five-field cron expression or descriptor such as @daily")
	scheduleAddCmd.Flags().AddFlagSet(scanFlagSet(&scheduleScan))
	for _, name := range []string{"name", "cron", "network"} {
		_ = scheduleAddCmd.MarkFlagRequired(name)
	}
}

// nopSubmitter lets schedule list compute next runs without a backend.
type nopSubmitter struct{}

func (nopSubmitter) Submit(context.Context, request.ScanConfig) (*lifecycle.Accepted, error) {
	return nil, nil
}

func runScheduleAdd(cmd *cobra.Command, _ []string) error {
	path := viper.ConfigFileUsed()
	if path == "" {
		path = defaultConfigFile
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	for _, entry := range cfg.Schedule {
		if entry.Name == scheduleName {
			return fmt.Errorf("a scheduled scan named %q already exists", scheduleName)
		}
	}

	entry := config.ScheduleEntry{Name: scheduleName, Cron: scheduleCron, Scan: scheduleScan}
	if _, err := scheduler.New(nopSubmitter{}, nil).AddJob(entry); err != nil {
		return err
	}
	cfg.Schedule = append(cfg.Schedule, entry)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid scheduled scan: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added scheduled scan %q (%s) to %s\n", scheduleName, scheduleCron, path)
	return nil
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	name := args[0]
	path := viper.ConfigFileUsed()
	if path == "" {
		path = defaultConfigFile
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	s := scheduler.New(nopSubmitter{}, nil)
	if err := s.Load(cfg.Schedule); err != nil {
		return err
	}

	removed := false
	for _, job := range s.Jobs() {
		if job.Name != name {
			continue
		}
		if err := s.RemoveJob(job.ID); err != nil {
			return err
		}
		removed = true
	}
	if !removed {
		return fmt.Errorf("no scheduled scan named %q", name)
	}

	remaining := s.Jobs()
	cfg.Schedule = make([]config.ScheduleEntry, 0, len(remaining))
	for _, job := range remaining {
		cfg.Schedule = append(cfg.Schedule, config.ScheduleEntry{Name: job.Name, Cron: job.Cron, Scan: job.Scan})
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed scheduled scan %q from %s\n", name, path)
	return nil
}

func runScheduleRun(cmd *cobra.Command, _ []string) error {
	sess, err := newSession(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if len(sess.cfg.Schedule) == 0 {
		return fmt.Errorf("no scheduled scans configured; add one with \"mapperctl schedule add\"")
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	m := metrics.NewPrometheusMetrics()
	go m.StartPeriodicUpdates(ctx, systemMetricsInterval)
	sess.metrics = m

	ctrl := sess.controller()
	s := scheduler.New(ctrl, sess.logger, scheduler.WithSubmitTimeout(sess.cfg.Client.Timeout))
	if err := s.Load(sess.cfg.Schedule); err != nil {
		return err
	}

	if scheduleMetricsAddr != "" {
		addr, err := serveMetrics(ctx, scheduleMetricsAddr, m, sess.logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Serving metrics on http://%s%s\n", addr, api.PathMetrics)
	}

	if err := s.Start(); err != nil {
		return err
	}
	renderJobs(cmd.OutOrStdout(), s.Jobs())

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "Stopping scheduler...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), schedulerStopTimeout)
	defer stopCancel()
	err = s.Stop(stopCtx)
	ctrl.Stop()
	sess.logger.Info("Scheduler stopped", "uptime", m.GetUptime().Round(time.Second))
	return err
}

// metricsRouter exposes the registry of m on the same path the backend uses.
func metricsRouter(m *metrics.PrometheusMetrics) http.Handler {
	router := mux.NewRouter()
	router.Handle(api.PathMetrics, promhttp.HandlerFor(m.GetRegistry(), promhttp.HandlerOpts{})).
		Methods(http.MethodGet)
	return router
}

// serveMetrics listens on addr and serves metricsRouter(m) until ctx is done.
// It returns the bound address, which differs from addr when the port is 0.
func serveMetrics(ctx context.Context, addr string, m *metrics.PrometheusMetrics, logger *logging.Logger) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           metricsRouter(m),
		ReadHeaderTimeout: metricsShutdownTimeout,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "address", ln.Addr().String())
	return ln.Addr(), nil
}

func renderJobs(out io.Writer, jobs []scheduler.ScheduledJob) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No scheduled scans.")
		return
	}

	table := tablewriter.NewWriter(out)
	table.Header("Name", "Schedule", "Network", "Next Run", "Runs", "Skipped")
	for _, job := range jobs {
		next := "-"
		if !job.NextRun.IsZero() {
			next = job.NextRun.Format(time.DateTime)
		}
		_ = table.Append([]string{
			job.Name,
			job.Cron,
			job.Scan.NetworkRange,
			next,
			strconv.Itoa(job.Runs),
			strconv.Itoa(job.Skipped),
		})
	}
	_ = table.Render()
}
