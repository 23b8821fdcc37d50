package lifecycle_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/mapperctl/internal/apiclient"
	"github.com/anstrom/mapperctl/internal/config"
	"github.com/anstrom/mapperctl/internal/errors"
	"github.com/anstrom/mapperctl/internal/lifecycle"
	"github.com/anstrom/mapperctl/internal/lifecycle/mocks"
	"github.com/anstrom/mapperctl/internal/metrics"
	"github.com/anstrom/mapperctl/internal/request"
	"github.com/anstrom/mapperctl/internal/results"
)

// event is one projector callback as seen by recordingProjector.
type event struct {
	kind     string
	state    lifecycle.State
	progress int
	text     string
	scans    []results.ScanSummary
	err      error
	at       time.Time
}

type recordingProjector struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingProjector) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.at = time.Now()
	r.events = append(r.events, e)
}

func (r *recordingProjector) StateChanged(s lifecycle.State) {
	r.add(event{kind: "state", state: s})
}

func (r *recordingProjector) ProgressChanged(percent int, text string) {
	r.add(event{kind: "progress", progress: percent, text: text})
}

func (r *recordingProjector) ScansLoaded(scans []results.ScanSummary) {
	r.add(event{kind: "scans", scans: scans})
}

func (r *recordingProjector) Notify(err error) {
	r.add(event{kind: "notify", err: err})
}

func (r *recordingProjector) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recordingProjector) states() []lifecycle.State {
	var states []lifecycle.State
	for _, e := range r.snapshot() {
		if e.kind == "state" {
			states = append(states, e.state)
		}
	}
	return states
}

func (r *recordingProjector) progress() []int {
	var values []int
	for _, e := range r.snapshot() {
		if e.kind == "progress" {
			values = append(values, e.progress)
		}
	}
	return values
}

func (r *recordingProjector) first(kind string) (event, bool) {
	for _, e := range r.snapshot() {
		if e.kind == kind {
			return e, true
		}
	}
	return event{}, false
}

func fastPoller() config.PollerConfig {
	return config.PollerConfig{
		Interval:          5 * time.Millisecond,
		SettleDelay:       50 * time.Millisecond,
		ProgressIncrement: 5,
		ProgressCap:       95,
		Retry: config.RetryConfig{
			MaxRetries:        2,
			RetryDelay:        5 * time.Millisecond,
			BackoffMultiplier: 2,
		},
	}
}

// slowPoller never ticks within a test run.
func slowPoller() config.PollerConfig {
	cfg := fastPoller()
	cfg.Interval = time.Hour
	cfg.SettleDelay = time.Hour
	return cfg
}

func newController(api lifecycle.ScanAPI, store lifecycle.ResultLister, projector lifecycle.Projector,
	cfg config.PollerConfig) *lifecycle.Controller {
	return lifecycle.NewController(api, store, lifecycle.Options{
		Poller:    cfg,
		Projector: projector,
		Metrics:   metrics.NewPrometheusMetrics(),
	})
}

func waitIdle(t *testing.T, c *lifecycle.Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitIdle(ctx), "controller did not return to idle")
}

func inProgress(command string) *apiclient.StatusResponse {
	return &apiclient.StatusResponse{InProgress: true, Command: command}
}

func TestController_EndToEnd(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockScanAPI(ctrl)
	store := mocks.NewMockResultLister(ctrl)
	projector := &recordingProjector{}

	const command = "python3 network_mapper.py -n 10.0.0.0/24 -t 50 -v"
	summaries := []results.ScanSummary{{ID: "network_scan_20240101_120000", Time: "2024-01-01 12:00:00", Network: "10.0.0.0/24", HostCount: 3}}

	api.EXPECT().Submit(gomock.Any(), command).Return(&apiclient.SubmitResponse{Success: true}, nil)
	gomock.InOrder(
		api.EXPECT().Status(gomock.Any()).Return(inProgress(command), nil).Times(3),
		api.EXPECT().Status(gomock.Any()).Return(&apiclient.StatusResponse{InProgress: false}, nil),
	)
	store.EXPECT().ListScans(gomock.Any()).Return(summaries, nil)

	c := newController(api, store, projector, fastPoller())

	accepted, err := c.Submit(context.Background(), request.ScanConfig{
		NetworkRange: "10.0.0.0/24",
		ThreadCount:  50,
		Verbose:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, command, accepted.Command)
	assert.Equal(t, uint64(1), accepted.Epoch)

	waitIdle(t, c)

	assert.Equal(t, []lifecycle.State{
		lifecycle.Submitting, lifecycle.Running, lifecycle.Completed, lifecycle.Idle,
	}, projector.states())
	assert.Equal(t, []int{0, 5, 10, 15, 100}, projector.progress())

	var texts []string
	for _, e := range projector.snapshot() {
		if e.kind == "progress" && e.progress > 0 && e.progress < 100 {
			texts = append(texts, e.text)
		}
	}
	assert.Equal(t, []string{
		"Scanning... Command: " + command,
		"Scanning... Command: " + command,
		"Scanning... Command: " + command,
	}, texts)

	loaded, ok := projector.first("scans")
	require.True(t, ok, "scan list was not refreshed")
	assert.Equal(t, summaries, loaded.scans)

	completedAt := time.Time{}
	for _, e := range projector.snapshot() {
		if e.kind == "state" && e.state == lifecycle.Completed {
			completedAt = e.at
		}
	}
	assert.GreaterOrEqual(t, loaded.at.Sub(completedAt), 40*time.Millisecond, "refresh ran before the settle delay")

	snap := c.Snapshot()
	assert.Equal(t, lifecycle.Idle, snap.State)
	assert.Zero(t, snap.Progress)
	assert.Equal(t, lifecycle.Completed, c.LastOutcome())
}

func TestController_ProgressIsClampedBeforeCompletion(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockScanAPI(ctrl)
	store := mocks.NewMockResultLister(ctrl)
	projector := &recordingProjector{}

	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&apiclient.SubmitResponse{Success: true}, nil)
	gomock.InOrder(
		api.EXPECT().Status(gomock.Any()).Return(inProgress("cmd"), nil).Times(25),
		api.EXPECT().Status(gomock.Any()).Return(&apiclient.StatusResponse{}, nil),
	)
	store.EXPECT().ListScans(gomock.Any()).Return([]results.ScanSummary{}, nil)

	c := newController(api, store, projector, fastPoller())
	_, err := c.Submit(context.Background(), request.ScanConfig{NetworkRange: "192.168.0.0/16"})
	require.NoError(t, err)
	waitIdle(t, c)

	values := projector.progress()
	require.Len(t, values, 27)
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress regressed at %d", i)
	}
	for _, v := range values[:len(values)-1] {
		assert.LessOrEqual(t, v, 95)
	}
	assert.Equal(t, 95, values[len(values)-2])
	assert.Equal(t, 100, values[len(values)-1])
}

func TestController_InvalidConfigNeverReachesBackend(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockScanAPI(ctrl)
	store := mocks.NewMockResultLister(ctrl)
	projector := mocks.NewMockProjector(ctrl)

	c := newController(api, store, projector, fastPoller())

	for _, cfg := range []request.ScanConfig{
		{},
		{NetworkRange: "   "},
		{NetworkRange: "10.0.0.0/24", ThreadCount: -3},
	} {
		accepted, err := c.Submit(context.Background(), cfg)
		require.Error(t, err)
		assert.Nil(t, accepted)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig), "got %v", err)
		assert.True(t, errors.IsLocal(err))
	}
	assert.Equal(t, lifecycle.Idle, c.State())
}

func TestController_AlreadyRunning(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockScanAPI(ctrl)
	store := mocks.NewMockResultLister(ctrl)
	projector := &recordingProjector{}

	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&apiclient.SubmitResponse{Success: true}, nil).Times(1)

	c := newController(api, store, projector, slowPoller())
	ctx := context.Background()

	_, err := c.Submit(ctx, request.ScanConfig{NetworkRange: "10.0.0.0/24"})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Running, c.State())

	_, err = c.Submit(ctx, request.ScanConfig{NetworkRange: "10.0.1.0/24"})
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyRunning), "got %v", err)

	// Configuration problems are reported ahead of the running check.
	_, err = c.Submit(ctx, request.ScanConfig{})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig), "got %v", err)

	assert.Equal(t, lifecycle.Running, c.State())

	c.Stop()
	c.Stop()
	assert.Equal(t, lifecycle.Idle, c.State())
	assert.Equal(t, []lifecycle.State{lifecycle.Submitting, lifecycle.Running, lifecycle.Idle}, projector.states())
	assert.Equal(t, lifecycle.Idle, c.LastOutcome())
}

// readingProjector reads controller state from inside its callbacks.
type readingProjector struct {
	lifecycle.NopProjector
	ctrl      *lifecycle.Controller
	delay     time.Duration
	stopAfter int

	mu    sync.Mutex
	ticks int
	seen  []lifecycle.State
}

func (p *readingProjector) ProgressChanged(percent int, _ string) {
	if percent == 0 {
		return
	}
	time.Sleep(p.delay)
	snap := p.ctrl.Snapshot()

	p.mu.Lock()
	p.ticks++
	p.seen = append(p.seen, snap.State)
	stop := p.stopAfter > 0 && p.ticks == p.stopAfter
	p.mu.Unlock()

	if stop {
		p.ctrl.Stop()
	}
}

func (p *readingProjector) tickCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks
}

func TestController_ProjectorMayReadState(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockScanAPI(ctrl)
	store := mocks.NewMockResultLister(ctrl)

	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&apiclient.SubmitResponse{Success: true}, nil)
	api.EXPECT().Status(gomock.Any()).Return(inProgress("cmd"), nil).AnyTimes()

	// Callbacks are slower than the poll interval, so the poller keeps
	// producing events while one is being delivered.
	projector := &readingProjector{delay: 20 * time.Millisecond}
	c := newController(api, store, projector, fastPoller())
	projector.ctrl = c

	_, err := c.Submit(context.Background(), request.ScanConfig{NetworkRange: "10.0.0.0/24"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return projector.tickCount() >= 2 }, 2*time.Second, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked while a projector callback read controller state")
	}
	waitIdle(t, c)
	assert.Equal(t, lifecycle.Idle, c.State())
}

func TestController_ProjectorMayStopTracking(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockScanAPI(ctrl)
	store := mocks.NewMockResultLister(ctrl)

	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&apiclient.SubmitResponse{Success: true}, nil)
	api.EXPECT().Status(gomock.Any()).Return(inProgress("cmd"), nil).AnyTimes()

	projector := &readingProjector{stopAfter: 2}
	c := newController(api, store, projector, fastPoller())
	projector.ctrl = c

	_, err := c.Submit(context.Background(), request.ScanConfig{NetworkRange: "10.0.0.0/24"})
	require.NoError(t, err)
	waitIdle(t, c)

	assert.Equal(t, lifecycle.Idle, c.State())
	assert.Equal(t, lifecycle.Idle, c.LastOutcome())

	projector.mu.Lock()
	defer projector.mu.Unlock()
	assert.GreaterOrEqual(t, projector.ticks, 2)
	for _, state := range projector.seen[:2] {
		assert.Equal(t, lifecycle.Running, state)
	}
}

func TestController_SubmitFailuresRevertToIdle(t *testing.T) {
	tests := []struct {
		name     string
		resp     *apiclient.SubmitResponse
		err      error
		wantCode errors.ErrorCode
	}{
		{
			name:     "backend rejects",
			resp:     &apiclient.SubmitResponse{Success: false},
			wantCode: errors.CodeSubmitRejected,
		},
		{
			name:     "transport failure",
			err:      errors.ErrTransport("submit", stderrors.New("connection refused")),
			wantCode: errors.CodeTransport,
		},
		{
			name:     "rejected by status code",
			err:      errors.WrapScanError(errors.CodeSubmitRejected, "Backend rejected the scan request", stderrors.New("400")),
			wantCode: errors.CodeSubmitRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			api := mocks.NewMockScanAPI(ctrl)
			store := mocks.NewMockResultLister(ctrl)
			projector := mocks.NewMockProjector(ctrl)

			api.EXPECT().Submit(gomock.Any(), "python3 network_mapper.py -n 10.0.0.0/24").Return(tt.resp, tt.err)
			gomock.InOrder(
				projector.EXPECT().StateChanged(lifecycle.Submitting),
				projector.EXPECT().StateChanged(lifecycle.Idle),
				projector.EXPECT().Notify(gomock.Any()).Do(func(err error) {
					assert.Equal(t, tt.wantCode, errors.GetCode(err))
				}),
			)

			c := newController(api, store, projector, fastPoller())
			_, err := c.Submit(context.Background(), request.ScanConfig{NetworkRange: "10.0.0.0/24"})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
			assert.Equal(t, lifecycle.Idle, c.State())
		})
	}
}

func TestController_RetriesThenFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockScanAPI(ctrl)
	store := mocks.NewMockResultLister(ctrl)
	projector := &recordingProjector{}

	queryErr := errors.ErrTransport("status", stderrors.New("connection reset"))
	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&apiclient.SubmitResponse{Success: true}, nil)
	api.EXPECT().Status(gomock.Any()).Return(nil, queryErr).Times(3)

	c := newController(api, store, projector, fastPoller())
	_, err := c.Submit(context.Background(), request.ScanConfig{NetworkRange: "10.0.0.0/24"})
	require.NoError(t, err)
	waitIdle(t, c)

	assert.Equal(t, []lifecycle.State{
		lifecycle.Submitting, lifecycle.Running, lifecycle.Failed, lifecycle.Idle,
	}, projector.states())
	assert.NotContains(t, projector.progress(), 100)

	notice, ok := projector.first("notify")
	require.True(t, ok)
	assert.True(t, errors.IsCode(notice.err, errors.CodeTransport))
	assert.Contains(t, notice.err.Error(), "after 3 attempts")

	_, refreshed := projector.first("scans")
	assert.False(t, refreshed, "failed scans must not refresh the list")
	assert.Equal(t, lifecycle.Failed, c.LastOutcome())
}

func TestController_RefusedKeyFailsWithoutRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockScanAPI(ctrl)
	store := mocks.NewMockResultLister(ctrl)
	projector := &recordingProjector{}

	refused := errors.ErrUnauthorized("status", stderrors.New("API error (status 401): invalid API key"))
	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&apiclient.SubmitResponse{Success: true}, nil)
	api.EXPECT().Status(gomock.Any()).Return(nil, refused).Times(1)

	c := newController(api, store, projector, fastPoller())
	_, err := c.Submit(context.Background(), request.ScanConfig{NetworkRange: "10.0.0.0/24"})
	require.NoError(t, err)
	waitIdle(t, c)

	assert.Equal(t, []lifecycle.State{
		lifecycle.Submitting, lifecycle.Running, lifecycle.Failed, lifecycle.Idle,
	}, projector.states())
	notice, ok := projector.first("notify")
	require.True(t, ok)
	assert.True(t, errors.IsCode(notice.err, errors.CodeUnauthorized), "got %v", notice.err)
	assert.Contains(t, notice.err.Error(), "after 1 attempts")
	assert.Equal(t, lifecycle.Failed, c.LastOutcome())
}

func TestController_RecoversFromTransientFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockScanAPI(ctrl)
	store := mocks.NewMockResultLister(ctrl)
	projector := &recordingProjector{}
	timeout := errors.ErrTransport("status", fmt.Errorf("timeout"))

	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&apiclient.SubmitResponse{Success: true}, nil)
	gomock.InOrder(
		api.EXPECT().Status(gomock.Any()).Return(nil, timeout),
		api.EXPECT().Status(gomock.Any()).Return(nil, timeout),
		api.EXPECT().Status(gomock.Any()).Return(inProgress("cmd"), nil),
		api.EXPECT().Status(gomock.Any()).Return(nil, timeout),
		api.EXPECT().Status(gomock.Any()).Return(nil, timeout),
		api.EXPECT().Status(gomock.Any()).Return(&apiclient.StatusResponse{}, nil),
	)
	store.EXPECT().ListScans(gomock.Any()).Return(nil, errors.ErrTransport("list_scans", fmt.Errorf("down")))

	c := newController(api, store, projector, fastPoller())
	_, err := c.Submit(context.Background(), request.ScanConfig{NetworkRange: "10.0.0.0/24"})
	require.NoError(t, err)
	waitIdle(t, c)

	assert.Equal(t, []lifecycle.State{
		lifecycle.Submitting, lifecycle.Running, lifecycle.Completed, lifecycle.Idle,
	}, projector.states())
	assert.Equal(t, []int{0, 5, 100}, projector.progress())

	// A failed refresh is surfaced, not rendered as an empty list.
	notice, ok := projector.first("notify")
	require.True(t, ok)
	assert.True(t, errors.IsCode(notice.err, errors.CodeTransport))
	_, loaded := projector.first("scans")
	assert.False(t, loaded)
}

func TestController_StopDuringSettleSkipsRefresh(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockScanAPI(ctrl)
	store := mocks.NewMockResultLister(ctrl)
	projector := &recordingProjector{}

	cfg := fastPoller()
	cfg.SettleDelay = time.Hour

	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&apiclient.SubmitResponse{Success: true}, nil)
	api.EXPECT().Status(gomock.Any()).Return(&apiclient.StatusResponse{}, nil)

	c := newController(api, store, projector, cfg)
	_, err := c.Submit(context.Background(), request.ScanConfig{NetworkRange: "10.0.0.0/24"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return c.State() == lifecycle.Completed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 100, c.Snapshot().Progress)

	c.Stop()
	assert.Equal(t, lifecycle.Idle, c.State())
	waitIdle(t, c)
}

func TestController_ResubmitAfterCompletion(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockScanAPI(ctrl)
	store := mocks.NewMockResultLister(ctrl)

	api.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(&apiclient.SubmitResponse{Success: true}, nil).Times(2)
	api.EXPECT().Status(gomock.Any()).Return(&apiclient.StatusResponse{}, nil).Times(2)
	store.EXPECT().ListScans(gomock.Any()).Return([]results.ScanSummary{}, nil).Times(2)

	c := newController(api, store, nil, fastPoller())

	first, err := c.Submit(context.Background(), request.ScanConfig{NetworkRange: "10.0.0.0/24"})
	require.NoError(t, err)
	waitIdle(t, c)

	second, err := c.Submit(context.Background(), request.ScanConfig{NetworkRange: "10.0.0.0/24"})
	require.NoError(t, err)
	waitIdle(t, c)

	assert.Greater(t, second.Epoch, first.Epoch)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", lifecycle.Idle.String())
	assert.Equal(t, "submitting", lifecycle.Submitting.String())
	assert.Equal(t, "running", lifecycle.Running.String())
	assert.Equal(t, "completed", lifecycle.Completed.String())
	assert.Equal(t, "failed", lifecycle.Failed.String())
	assert.Equal(t, "unknown", lifecycle.State(42).String())

	assert.True(t, lifecycle.Completed.Terminal())
	assert.True(t, lifecycle.Failed.Terminal())
	assert.False(t, lifecycle.Running.Terminal())
}
