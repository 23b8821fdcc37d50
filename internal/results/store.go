package results

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anstrom/mapperctl/internal/errors"
	"github.com/anstrom/mapperctl/internal/logging"
)

// Fetcher retrieves raw scan records from the backend.
type Fetcher interface {
	ListScans(ctx context.Context) (json.RawMessage, error)
	GetScan(ctx context.Context, id string) (json.RawMessage, error)
	ReportURL(id string) string
}

// Store reads and normalizes scan results. It holds no cached state, so
// every call reflects the backend at the time of the call.
type Store struct {
	fetcher Fetcher
	logger  *logging.Logger
}

// NewStore creates a result store over fetcher.
func NewStore(fetcher Fetcher, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Store{
		fetcher: fetcher,
		logger:  logger.WithComponent("results"),
	}
}

// ListScans returns past scans in backend order. An empty backend list
// yields an empty, non-nil slice; a failed fetch yields an error.
func (s *Store) ListScans(ctx context.Context) ([]ScanSummary, error) {
	body, err := s.fetcher.ListScans(ctx)
	if err != nil {
		s.logger.Warn("Failed to list scans", "error", err)
		return nil, err
	}

	scans, err := DecodeSummaries(body)
	if err != nil {
		s.logger.Warn("Failed to decode scan list", "error", err)
		return nil, errors.ErrTransport("list_scans", err)
	}

	s.logger.Debug("Listed scans", "count", len(scans))
	return scans, nil
}

// GetScanDetail returns the normalized detail record of one scan.
func (s *Store) GetScanDetail(ctx context.Context, id string) (*ScanDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.ErrNotFound(id)
	}

	body, err := s.fetcher.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}

	detail, err := DecodeDetail(id, body)
	if err != nil {
		s.logger.WithScanID(id).Warn("Rejected scan detail", "error", err)
		return nil, err
	}
	return detail, nil
}

// ReportURL returns the link to the static HTML report of a scan.
func (s *Store) ReportURL(id string) string {
	return s.fetcher.ReportURL(id)
}
