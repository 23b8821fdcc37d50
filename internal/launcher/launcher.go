// Package launcher starts the network mapper as a child process on behalf of
// the backend and tracks whether a scan is in progress. Only one mapper runs
// at a time.
package launcher

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/anstrom/mapperctl/internal/errors"
	"github.com/anstrom/mapperctl/internal/logging"
	"github.com/anstrom/mapperctl/internal/metrics"
	"github.com/anstrom/mapperctl/internal/request"
)

// Status is the body of GET /api/status. Command keeps the last launched
// command after the scan ends.
type Status struct {
	InProgress bool    `json:"in_progress"`
	Command    *string `json:"command"`
}

// CommandFunc creates the process for an argv.
type CommandFunc func(ctx context.Context, argv []string) *exec.Cmd

// Options configures a Launcher.
type Options struct {
	// Directory the mapper runs in; empty keeps the current directory.
	WorkDir string

	// Destination of the mapper's stdout and stderr; nil discards it.
	Output io.Writer

	Logger  *logging.Logger
	Metrics *metrics.PrometheusMetrics

	// Command overrides process creation.
	Command CommandFunc
}

// Launcher runs one mapper process at a time.
type Launcher struct {
	builder *request.Builder
	workDir string
	output  io.Writer
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics
	newCmd  CommandFunc

	mu         sync.Mutex
	inProgress bool
	command    string
	cancel     context.CancelFunc
	done       chan struct{}
	listeners  []func(Status)
	pending    []Status
	notifying  bool
}

// New creates a launcher that accepts commands built for builder's program.
func New(builder *request.Builder, opts Options) *Launcher {
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscard()
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.Command == nil {
		opts.Command = func(ctx context.Context, argv []string) *exec.Cmd {
			return exec.CommandContext(ctx, argv[0], argv[1:]...)
		}
	}

	return &Launcher{
		builder: builder,
		workDir: opts.WorkDir,
		output:  opts.Output,
		logger:  opts.Logger.WithComponent("launcher"),
		metrics: opts.Metrics,
		newCmd:  opts.Command,
	}
}

// Subscribe registers fn to receive every status change, in order.
// fn runs without the launcher's lock and may call Status.
func (l *Launcher) Subscribe(fn func(Status)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Status returns the current status.
func (l *Launcher) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

func (l *Launcher) statusLocked() Status {
	s := Status{InProgress: l.inProgress}
	if l.command != "" {
		command := l.command
		s.Command = &command
	}
	return s
}

// Launch validates command and starts the mapper with it. The command is
// parsed and rebuilt, so nothing but mapper flags reaches the process.
func (l *Launcher) Launch(command string) error {
	cfg, err := l.builder.Parse(command)
	if err != nil {
		l.metrics.IncrementScansLaunched("invalid")
		l.logger.Warn("Rejected scan command", "command", command, "error", err)
		return err
	}
	req, err := l.builder.Build(cfg)
	if err != nil {
		l.metrics.IncrementScansLaunched("invalid")
		return err
	}

	l.mu.Lock()
	if l.inProgress {
		l.mu.Unlock()
		l.metrics.IncrementScansLaunched("already_running")
		return errors.ErrAlreadyRunning("running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := l.newCmd(ctx, req.Argv())
	cmd.Dir = l.workDir
	cmd.Stdout = l.output
	cmd.Stderr = l.output

	if err := cmd.Start(); err != nil {
		l.mu.Unlock()
		cancel()
		l.metrics.IncrementScansLaunched("failed")
		l.logger.ErrorScan("Failed to start mapper", req.Command(), err)
		return errors.WrapScanError(errors.CodeTransport, "Failed to start mapper", err).
			WithOperation("launch").
			WithContext("command", req.Command())
	}

	done := make(chan struct{})
	l.inProgress = true
	l.command = req.Command()
	l.cancel = cancel
	l.done = done
	l.metrics.IncrementScansLaunched("started")
	l.metrics.SetScanInProgress(true)
	l.logger.InfoScan("Mapper started", req.Command(), "pid", cmd.Process.Pid)
	l.unlockAndNotify()

	go l.wait(cmd, req.Command(), cancel, done)
	return nil
}

func (l *Launcher) wait(cmd *exec.Cmd, command string, cancel context.CancelFunc, done chan struct{}) {
	start := time.Now()
	err := cmd.Wait()
	cancel()

	duration := time.Since(start)
	l.metrics.RecordScanDuration(duration)
	l.metrics.SetScanInProgress(false)
	if err != nil {
		l.logger.ErrorScan("Mapper exited with error", command, err, "duration", duration)
	} else {
		l.logger.InfoScan("Mapper finished", command, "duration", duration)
	}

	l.mu.Lock()
	l.inProgress = false
	l.cancel = nil
	l.done = nil
	l.unlockAndNotify()
	close(done)
}

// Wait blocks until no mapper is running or ctx ends.
func (l *Launcher) Wait(ctx context.Context) error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown kills a running mapper and waits for it to exit.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}

	l.logger.Info("Stopping running mapper")
	cancel()
	return l.Wait(ctx)
}

// unlockAndNotify queues the current status and releases mu. Whichever
// caller finds no delivery in flight drains the queue, dropping mu around
// each listener call, so statuses arrive in the order they happened.
func (l *Launcher) unlockAndNotify() {
	l.pending = append(l.pending, l.statusLocked())
	if l.notifying {
		l.mu.Unlock()
		return
	}

	l.notifying = true
	for len(l.pending) > 0 {
		status := l.pending[0]
		l.pending = l.pending[1:]
		listeners := l.listeners
		l.mu.Unlock()
		for _, fn := range listeners {
			fn(status)
		}
		l.mu.Lock()
	}
	l.notifying = false
	l.mu.Unlock()
}
