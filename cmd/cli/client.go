// Package cli provides the command-line interface for mapperctl.
// This file wires the backend client, result store and lifecycle controller
// used by the client-side commands.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/anstrom/mapperctl/internal/apiclient"
	"github.com/anstrom/mapperctl/internal/config"
	"github.com/anstrom/mapperctl/internal/lifecycle"
	"github.com/anstrom/mapperctl/internal/logging"
	"github.com/anstrom/mapperctl/internal/metrics"
	"github.com/anstrom/mapperctl/internal/render"
	"github.com/anstrom/mapperctl/internal/request"
	"github.com/anstrom/mapperctl/internal/results"
)

// session bundles everything a client command talks to the backend through.
type session struct {
	cfg    *config.Config
	client *apiclient.Client
	store  *results.Store
	term   *render.Terminal
	logger *logging.Logger

	// metrics is nil for one-shot commands.
	metrics *metrics.PrometheusMetrics
}

// newSession loads the configuration and connects a terminal renderer to out.
func newSession(out io.Writer) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := logging.Default()
	client := apiclient.New(cfg.Client)
	logger.Debug("Using backend", "base_url", client.BaseURL())
	store := results.NewStore(client, logger)

	term := render.NewTerminal(out, noColor())
	term.ReportURL = store.ReportURL

	return &session{
		cfg:    cfg,
		client: client,
		store:  store,
		term:   term,
		logger: logger,
	}, nil
}

// controller creates a lifecycle controller that renders to the terminal.
func (s *session) controller() *lifecycle.Controller {
	return lifecycle.NewController(s.client, s.store, lifecycle.Options{
		Builder:   request.NewBuilder(s.cfg.Scanner.Program),
		Poller:    s.cfg.Poller,
		Projector: s.term,
		Logger:    s.logger,
		Metrics:   s.metrics,
	})
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
