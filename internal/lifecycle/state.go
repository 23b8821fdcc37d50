// Package lifecycle implements the scan lifecycle controller. It submits a
// scan, polls the backend until the scan finishes, and moves through the
// Idle, Submitting, Running, Completed and Failed states while keeping the
// projector informed.
//
// Progress reported while a scan runs is simulated: the controller adds a
// fixed increment per status tick and clamps below 100 until the backend
// reports completion. It is an approximation, not backend telemetry.
package lifecycle

import (
	"context"

	"github.com/anstrom/mapperctl/internal/apiclient"
	"github.com/anstrom/mapperctl/internal/results"
)

// State is the controller's current phase.
type State int

const (
	Idle State = iota
	Submitting
	Running
	Completed
	Failed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a scan.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

//go:generate mockgen -source=state.go -destination=mocks/mock_lifecycle.go -package=mocks

// ScanAPI is the part of the backend API the controller drives.
type ScanAPI interface {
	Submit(ctx context.Context, command string) (*apiclient.SubmitResponse, error)
	Status(ctx context.Context) (*apiclient.StatusResponse, error)
}

// ResultLister refreshes the scan list after a scan completes.
type ResultLister interface {
	ListScans(ctx context.Context) ([]results.ScanSummary, error)
}

// Projector receives every observable change. Callbacks are delivered one
// at a time, in order, without the controller lock held, so they may read
// the controller or call Stop. They must not call WaitIdle.
type Projector interface {
	StateChanged(state State)
	ProgressChanged(percent int, text string)
	ScansLoaded(scans []results.ScanSummary)
	Notify(err error)
}

// Accepted describes a submission the backend started.
type Accepted struct {
	Command string
	Epoch   uint64
}

// Snapshot is a consistent copy of the controller's observable state.
type Snapshot struct {
	State      State
	Epoch      uint64
	Progress   int
	StatusText string
	Command    string
}

// NopProjector discards every event.
type NopProjector struct{}

func (NopProjector) StateChanged(State) {}
func (NopProjector) ProgressChanged(int, string) {}
func (NopProjector) ScansLoaded([]results.ScanSummary) {}
func (NopProjector) Notify(error) {}
