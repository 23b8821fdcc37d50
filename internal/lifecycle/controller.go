package lifecycle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/anstrom/mapperctl/internal/apiclient"
	"github.com/anstrom/mapperctl/internal/config"
	"github.com/anstrom/mapperctl/internal/errors"
	"github.com/anstrom/mapperctl/internal/logging"
	"github.com/anstrom/mapperctl/internal/metrics"
	"github.com/anstrom/mapperctl/internal/request"
)

// refreshTimeout bounds the scan list refresh that follows a completed scan.
const refreshTimeout = 30 * time.Second

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	Builder   *request.Builder
	Poller    config.PollerConfig
	Projector Projector
	Logger    *logging.Logger
	Metrics   *metrics.PrometheusMetrics
}

// Controller owns the lifecycle state of one scan session. All state
// mutation happens under mu; projector callbacks run after mu is released
// but in the order the mutations happened.
type Controller struct {
	api       ScanAPI
	store     ResultLister
	builder   *request.Builder
	cfg       config.PollerConfig
	projector Projector
	logger    *logging.Logger
	metrics   *metrics.PrometheusMetrics

	mu         sync.Mutex
	state      State
	outcome    State
	epoch      uint64
	progress   int
	statusText string
	command    string
	startedAt  time.Time
	lastSeq    uint64
	failures   int
	poller     *Poller
	settle     *time.Timer
	idle       chan struct{}

	// idleReached is closed once the Idle transition has been dispatched.
	idleReached chan struct{}

	// queue holds event batches in mutation order. At most one goroutine
	// delivers them at a time, and never with mu held.
	queue       []batch
	dispatching bool
}

// batch is the set of projector events produced by one state mutation.
type batch struct {
	events []func(Projector)
	idle   chan struct{}
}

// NewController creates a controller in the Idle state.
func NewController(api ScanAPI, store ResultLister, opts Options) *Controller {
	defaults := config.Default().Poller
	cfg := opts.Poller
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.ProgressIncrement <= 0 {
		cfg.ProgressIncrement = defaults.ProgressIncrement
	}
	if cfg.ProgressCap <= 0 || cfg.ProgressCap >= 100 {
		cfg.ProgressCap = defaults.ProgressCap
	}
	if cfg.Retry.BackoffMultiplier < 1 {
		cfg.Retry.BackoffMultiplier = 1
	}

	builder := opts.Builder
	if builder == nil {
		builder = request.NewBuilder("")
	}
	projector := opts.Projector
	if projector == nil {
		projector = NopProjector{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}

	idle := make(chan struct{})
	close(idle)

	c := &Controller{
		api:       api,
		store:     store,
		builder:   builder,
		cfg:       cfg,
		projector: projector,
		logger:    logger.WithComponent("lifecycle"),
		metrics:   opts.Metrics,
		state:     Idle,
		outcome:   Idle,
		idle:      idle,
	}
	c.metrics.SetLifecycleState(Idle.String())
	return c
}

// Snapshot returns a copy of the current observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:      c.state,
		Epoch:      c.epoch,
		Progress:   c.progress,
		StatusText: c.statusText,
		Command:    c.command,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastOutcome returns how the most recent accepted scan ended: Completed,
// Failed, or Idle when it is still running or tracking was stopped.
func (c *Controller) LastOutcome() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Submit builds the scan request, sends it to the backend and, once the
// backend accepts it, starts polling. Configuration errors are reported
// before the state check and never reach the backend.
func (c *Controller) Submit(ctx context.Context, cfg request.ScanConfig) (*Accepted, error) {
	req, err := c.builder.Build(cfg)
	if err != nil {
		c.metrics.IncrementSubmissions("invalid")
		return nil, err
	}
	command := req.Command()

	c.mu.Lock()
	if c.state != Idle {
		state := c.state
		c.mu.Unlock()
		c.metrics.IncrementSubmissions("already_running")
		return nil, errors.ErrAlreadyRunning(state.String())
	}
	c.epoch++
	epoch := c.epoch
	c.stopSettleLocked()
	c.setStateLocked(Submitting)
	c.outcome = Idle
	c.progress = 0
	c.statusText = ""
	c.command = command
	c.metrics.SetProgress(0)
	c.unlockAndDispatch(stateEvent(Submitting))

	logger := c.logger.WithEpoch(epoch)
	logger.InfoScan("Submitting scan", command)

	resp, err := c.api.Submit(ctx, command)
	result := "accepted"
	switch {
	case err != nil:
		result = "transport_error"
		if errors.IsCode(err, errors.CodeSubmitRejected) {
			result = "rejected"
		}
	case resp == nil || !resp.Success:
		result = "rejected"
		err = errors.ErrSubmitRejected(command)
	}
	c.metrics.IncrementSubmissions(result)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		logger.Info("Submission superseded by stop", "result", result)
		return nil, errors.NewScanError(errors.CodeCanceled, "Submission canceled")
	}

	if err != nil {
		c.setStateLocked(Idle)
		c.command = ""
		c.unlockAndDispatch(stateEvent(Idle), notifyEvent(err))
		logger.ErrorScan("Scan submission failed", command, err)
		return nil, err
	}

	c.setStateLocked(Running)
	c.startedAt = time.Now()
	c.lastSeq = 0
	c.failures = 0
	c.statusText = "Scan started. Command: " + command
	poller := newPoller(c, epoch)
	c.poller = poller
	text := c.statusText
	c.unlockAndDispatch(stateEvent(Running), progressEvent(0, text))

	logger.InfoScan("Scan accepted", command)
	poller.start()

	return &Accepted{Command: command, Epoch: epoch}, nil
}

// Stop cancels the active poller and any pending settle step and returns
// the controller to Idle. The external scan itself is left running.
// Stopping an idle controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	// A new epoch invalidates every response still in flight.
	c.epoch++
	if !c.state.Terminal() {
		c.outcome = Idle
	}
	poller := c.poller
	c.poller = nil
	c.stopSettleLocked()
	c.setStateLocked(Idle)
	c.progress = 0
	c.statusText = ""
	c.command = ""
	c.metrics.SetProgress(0)
	c.unlockAndDispatch(stateEvent(Idle))

	if poller != nil {
		poller.Stop()
	}
	c.logger.Info("Scan tracking stopped")
}

// WaitIdle blocks until the controller is Idle and the Idle event has been
// delivered, or ctx is done. It must not be called from a projector callback.
func (c *Controller) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyStatus folds one status response into the lifecycle. It returns the
// delay until the next tick and whether the poller should stop.
func (c *Controller) applyStatus(epoch, seq uint64, resp *apiclient.StatusResponse) (time.Duration, bool) {
	c.mu.Lock()
	if epoch != c.epoch || c.state != Running {
		c.mu.Unlock()
		c.metrics.IncrementStaleResponses()
		return 0, true
	}
	if seq <= c.lastSeq {
		c.mu.Unlock()
		c.metrics.IncrementStaleResponses()
		return c.cfg.Interval, false
	}
	c.lastSeq = seq
	c.failures = 0

	if !resp.InProgress {
		c.setStateLocked(Completed)
		c.outcome = Completed
		c.progress = 100
		c.statusText = "Scan completed"
		c.metrics.SetProgress(100)
		c.metrics.IncrementPollTicks("completed")
		c.metrics.RecordScanDuration(time.Since(c.startedAt))
		c.cancelPollerLocked()
		c.scheduleSettleLocked(epoch, true)
		text := c.statusText
		c.unlockAndPost(stateEvent(Completed), progressEvent(100, text))

		c.logger.WithEpoch(epoch).Info("Scan completed")
		return 0, true
	}

	c.progress = min(c.progress+c.cfg.ProgressIncrement, c.cfg.ProgressCap)
	command := resp.Command
	if command == "" {
		command = c.command
	}
	c.statusText = "Scanning... Command: " + command
	progress, text := c.progress, c.statusText
	c.metrics.SetProgress(progress)
	c.metrics.IncrementPollTicks("in_progress")
	c.unlockAndPost(progressEvent(progress, text))

	return c.cfg.Interval, false
}

// applyFailure records a failed status query. Retryable failures are
// retried with exponential backoff; once MaxRetries is exceeded, or the
// error cannot succeed on retry, the scan is Failed.
func (c *Controller) applyFailure(epoch, seq uint64, err error) (time.Duration, bool) {
	c.mu.Lock()
	if epoch != c.epoch || c.state != Running {
		c.mu.Unlock()
		return 0, true
	}
	if seq <= c.lastSeq {
		c.mu.Unlock()
		c.metrics.IncrementStaleResponses()
		return c.cfg.Interval, false
	}
	c.lastSeq = seq
	c.failures++
	c.metrics.IncrementPollTicks("error")

	logger := c.logger.WithEpoch(epoch)
	retry := c.cfg.Retry
	if c.failures > retry.MaxRetries || !errors.IsRetryable(err) {
		attempts := c.failures
		c.setStateLocked(Failed)
		c.outcome = Failed
		c.statusText = "Scan status unavailable"
		c.cancelPollerLocked()
		c.scheduleSettleLocked(epoch, false)
		code := errors.GetCode(err)
		if code == errors.CodeUnknown {
			code = errors.CodeTransport
		}
		failure := errors.WrapScanError(code,
			fmt.Sprintf("Status polling failed after %d attempts", attempts), err).
			WithOperation("status")
		c.unlockAndPost(stateEvent(Failed), notifyEvent(failure))

		logger.WithError(err).Error("Scan tracking failed", "attempts", attempts)
		return 0, true
	}

	delay := backoff(retry, c.failures)
	failures := c.failures
	c.mu.Unlock()

	logger.WithError(err).Warn("Status query failed, retrying", "attempt", failures, "delay", delay)
	return delay, false
}

// finish ends a Completed or Failed scan: it optionally refreshes the scan
// list and returns to Idle. It does nothing if the epoch has moved on.
func (c *Controller) finish(epoch uint64, refresh bool) {
	var events []func(Projector)

	if refresh {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		scans, err := c.store.ListScans(ctx)
		cancel()
		if err != nil {
			events = append(events, notifyEvent(err))
		} else {
			events = append(events, func(p Projector) { p.ScansLoaded(scans) })
		}
	}

	c.mu.Lock()
	if epoch != c.epoch || !c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.settle = nil
	c.setStateLocked(Idle)
	c.progress = 0
	c.command = ""
	c.metrics.SetProgress(0)
	events = append(events, stateEvent(Idle))
	c.unlockAndDispatch(events...)

	c.logger.WithEpoch(epoch).Debug("Returned to idle", "refreshed", refresh)
}

// setStateLocked changes state and maintains the idle channel.
func (c *Controller) setStateLocked(s State) {
	prev := c.state
	c.state = s
	c.metrics.SetLifecycleState(s.String())

	switch {
	case s == Idle && prev != Idle:
		c.idleReached = c.idle
	case s != Idle && prev == Idle:
		c.idle = make(chan struct{})
	}
}

func (c *Controller) cancelPollerLocked() {
	if c.poller != nil {
		c.poller.cancel()
		c.poller = nil
	}
}

func (c *Controller) scheduleSettleLocked(epoch uint64, refresh bool) {
	c.stopSettleLocked()
	c.settle = time.AfterFunc(c.cfg.SettleDelay, func() {
		c.finish(epoch, refresh)
	})
}

func (c *Controller) stopSettleLocked() {
	if c.settle != nil {
		c.settle.Stop()
		c.settle = nil
	}
}

// unlockAndDispatch queues events, releases mu and delivers the queue on
// the calling goroutine. If another goroutine is already delivering, the
// events are left to it and the call returns at once.
func (c *Controller) unlockAndDispatch(events ...func(Projector)) {
	if !c.enqueueLocked(events) {
		c.mu.Unlock()
		return
	}
	c.drainLocked()
}

// unlockAndPost is unlockAndDispatch for the poller goroutine. Delivery
// happens on a separate goroutine so that a callback may stop the poller
// and wait for it.
func (c *Controller) unlockAndPost(events ...func(Projector)) {
	start := c.enqueueLocked(events)
	c.mu.Unlock()
	if start {
		go func() {
			c.mu.Lock()
			c.drainLocked()
		}()
	}
}

// enqueueLocked appends a batch and reports whether the caller must start
// delivering.
func (c *Controller) enqueueLocked(events []func(Projector)) bool {
	c.queue = append(c.queue, batch{events: events, idle: c.idleReached})
	c.idleReached = nil
	if c.dispatching {
		return false
	}
	c.dispatching = true
	return true
}

// drainLocked delivers queued batches in order with mu released between
// them and returns with mu released. WaitIdle callers are released only
// after the Idle event has been delivered.
func (c *Controller) drainLocked() {
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue[0] = batch{}
		c.queue = c.queue[1:]
		c.mu.Unlock()

		for _, event := range next.events {
			event(c.projector)
		}
		if next.idle != nil {
			close(next.idle)
		}

		c.mu.Lock()
	}
	c.queue = nil
	c.dispatching = false
	c.mu.Unlock()
}

func stateEvent(s State) func(Projector) {
	return func(p Projector) { p.StateChanged(s) }
}

func progressEvent(percent int, text string) func(Projector) {
	return func(p Projector) { p.ProgressChanged(percent, text) }
}

func notifyEvent(err error) func(Projector) {
	return func(p Projector) { p.Notify(err) }
}

// backoff returns RetryDelay * BackoffMultiplier^(attempt-1).
func backoff(retry config.RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := math.Pow(retry.BackoffMultiplier, float64(attempt-1))
	return time.Duration(float64(retry.RetryDelay) * factor)
}
