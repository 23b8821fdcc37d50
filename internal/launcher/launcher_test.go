package launcher

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/mapperctl/internal/errors"
	"github.com/anstrom/mapperctl/internal/metrics"
	"github.com/anstrom/mapperctl/internal/request"
)

const (
	helperEnv      = "MAPPERCTL_HELPER_PROCESS"
	blockingRange  = "10.9.9.0/24"
	failingRange   = "10.6.6.0/24"
	finishingRange = "10.0.0.0/24"
)

// TestHelperProcess stands in for the mapper. It is not a real test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for i, arg := range args {
		if arg == request.FlagNetwork && i+1 < len(args) {
			switch args[i+1] {
			case blockingRange:
				time.Sleep(time.Minute)
			case failingRange:
				os.Exit(3)
			}
		}
	}
	os.Exit(0)
}

func helperCommand(ctx context.Context, argv []string) *exec.Cmd {
	args := append([]string{"-test.run=TestHelperProcess", "--"}, argv...)
	cmd := exec.CommandContext(ctx, os.Args[0], args...)
	cmd.Env = append(os.Environ(), helperEnv+"=1")
	return cmd
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func newTestLauncher(t *testing.T, m *metrics.PrometheusMetrics) *Launcher {
	t.Helper()
	l := New(request.NewBuilder(""), Options{Command: helperCommand, Metrics: m})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
	})
	return l
}

func commandFor(t *testing.T, network string) string {
	t.Helper()
	req, err := request.NewBuilder("").Build(request.ScanConfig{NetworkRange: network, ThreadCount: 10})
	require.NoError(t, err)
	return req.Command()
}

func waitIdle(t *testing.T, l *Launcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx))
}

func TestLauncher_InitialStatus(t *testing.T) {
	l := newTestLauncher(t, nil)

	status := l.Status()
	assert.False(t, status.InProgress)
	assert.Nil(t, status.Command)
	assert.NoError(t, l.Wait(context.Background()))
}

func TestLauncher_RunsToCompletion(t *testing.T) {
	m := metrics.NewPrometheusMetrics()
	l := newTestLauncher(t, m)
	rec := &statusRecorder{}
	l.Subscribe(rec.record)

	command := commandFor(t, finishingRange)
	require.NoError(t, l.Launch(command))
	waitIdle(t, l)

	statuses := rec.snapshot()
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].InProgress)
	assert.False(t, statuses[1].InProgress)
	require.NotNil(t, statuses[1].Command)
	assert.Equal(t, command, *statuses[1].Command)

	final := l.Status()
	assert.False(t, final.InProgress)
	require.NotNil(t, final.Command)
	assert.Equal(t, command, *final.Command)

	expected := `
# HELP mapperctl_backend_scans_launched_total Mapper launch attempts by result (started, invalid, already_running, failed)
# TYPE mapperctl_backend_scans_launched_total counter
mapperctl_backend_scans_launched_total{result="started"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.GetRegistry(), strings.NewReader(expected),
		"mapperctl_backend_scans_launched_total"))
}

func TestLauncher_ListenerMayReadStatus(t *testing.T) {
	l := newTestLauncher(t, nil)
	rec := &statusRecorder{}
	l.Subscribe(func(Status) { rec.record(l.Status()) })

	require.NoError(t, l.Launch(commandFor(t, finishingRange)))
	waitIdle(t, l)

	statuses := rec.snapshot()
	require.Len(t, statuses, 2)
	assert.False(t, statuses[1].InProgress)
}

func TestLauncher_RejectsWhileRunning(t *testing.T) {
	l := newTestLauncher(t, nil)

	require.NoError(t, l.Launch(commandFor(t, blockingRange)))
	assert.True(t, l.Status().InProgress)

	err := l.Launch(commandFor(t, finishingRange))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyRunning))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, l.Shutdown(ctx))
	assert.False(t, l.Status().InProgress)

	// Once the first scan is gone a new one is accepted.
	require.NoError(t, l.Launch(commandFor(t, finishingRange)))
	waitIdle(t, l)
}

func TestLauncher_RejectsInvalidCommands(t *testing.T) {
	l := newTestLauncher(t, nil)

	for _, command := range []string{
		"",
		"rm -rf /",
		"python3 network_mapper.py",
		"python3 network_mapper.py -n 10.0.0.0/24 ; reboot",
		"python3 network_mapper.py -n 10.0.0.0/24 -t many",
	} {
		t.Run(command, func(t *testing.T) {
			err := l.Launch(command)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
			assert.False(t, l.Status().InProgress)
		})
	}
}

func TestLauncher_MapperFailureEndsScan(t *testing.T) {
	l := newTestLauncher(t, nil)

	require.NoError(t, l.Launch(commandFor(t, failingRange)))
	waitIdle(t, l)
	assert.False(t, l.Status().InProgress)
}

func TestLauncher_StartFailure(t *testing.T) {
	l := New(request.NewBuilder(""), Options{
		Command: func(ctx context.Context, _ []string) *exec.Cmd {
			return exec.CommandContext(ctx, "/nonexistent/mapper")
		},
	})

	err := l.Launch(commandFor(t, finishingRange))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTransport))
	assert.False(t, l.Status().InProgress)
	assert.Nil(t, l.Status().Command)
}

func TestLauncher_ShutdownWhenIdle(t *testing.T) {
	l := newTestLauncher(t, nil)
	assert.NoError(t, l.Shutdown(context.Background()))
}
