// Package archive reads the scan output directory the mapper writes to.
// Every scan lives in its own network_scan_YYYYMMDD_HHMMSS directory holding
// a report.json and a report.html.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anstrom/mapperctl/internal/errors"
	"github.com/anstrom/mapperctl/internal/logging"
	"github.com/anstrom/mapperctl/internal/results"
)

// Report file names inside a scan directory.
const (
	ReportJSON = "report.json"
	ReportHTML = "report.html"
)

// listTimeLayout is how scan times are presented in the scan list.
const listTimeLayout = "2006-01-02 15:04:05"

// Entry is one element of the scan list. Network and VulnerableHosts are
// omitted when the scan has no readable report.
type Entry struct {
	ID              string  `json:"id"`
	Time            string  `json:"time"`
	Network         *string `json:"network,omitempty"`
	Hosts           int     `json:"hosts"`
	VulnerableHosts *int    `json:"vulnerable_hosts,omitempty"`
}

// reportHeader holds the report fields the scan list needs.
type reportHeader struct {
	NetworkRange    *string           `json:"network_range"`
	LiveHosts       []json.RawMessage `json:"live_hosts"`
	VulnerableHosts []json.RawMessage `json:"vulnerable_hosts"`
}

// Archive gives read access to an output directory.
type Archive struct {
	dir    string
	logger *logging.Logger
}

// New creates an archive over dir.
func New(dir string, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Archive{
		dir:    dir,
		logger: logger.WithComponent("archive"),
	}
}

// Dir returns the output directory.
func (a *Archive) Dir() string {
	return a.dir
}

// List returns every scan directory, newest id first. A scan whose report is
// missing or unreadable is still listed with what its name reveals.
func (a *Archive) List() ([]Entry, error) {
	items, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeTransport, "Failed to read output directory", err).
			WithOperation("list_scans").
			WithContext("dir", a.dir)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if !item.IsDir() || !strings.HasPrefix(item.Name(), results.ScanDirPrefix) {
			continue
		}
		entries = append(entries, a.entry(item.Name()))
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID > entries[j].ID
	})
	return entries, nil
}

func (a *Archive) entry(id string) Entry {
	e := Entry{ID: id, Time: strings.TrimPrefix(id, results.ScanDirPrefix)}
	if t, ok := results.ParseScanTime(id); ok {
		e.Time = t.Format(listTimeLayout)
	}

	data, err := os.ReadFile(filepath.Join(a.dir, id, ReportJSON))
	if err != nil {
		if !os.IsNotExist(err) {
			a.logger.Warn("Failed to read scan report", "scan_id", id, "error", err)
		}
		return e
	}

	var header reportHeader
	if err := json.Unmarshal(data, &header); err != nil {
		a.logger.Warn("Failed to parse scan report", "scan_id", id, "error", err)
		return e
	}

	network := results.Unknown
	if header.NetworkRange != nil {
		network = *header.NetworkRange
	}
	vulnerable := len(header.VulnerableHosts)
	e.Network = &network
	e.Hosts = len(header.LiveHosts)
	e.VulnerableHosts = &vulnerable
	return e
}

// Report returns the raw report.json of a scan.
func (a *Archive) Report(id string) (json.RawMessage, error) {
	path, err := a.Path(id, ReportJSON)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrNotFound(id)
		}
		return nil, errors.WrapScanError(errors.CodeTransport, "Failed to read scan report", err).
			WithOperation("get_scan").
			WithContext("scan_id", id)
	}
	if !json.Valid(data) {
		return nil, errors.ErrMalformedData(id, ReportJSON)
	}
	return data, nil
}

// Path resolves a file inside a scan directory. Ids that are not plain
// network_scan_* directory names are reported as not found.
func (a *Archive) Path(id, name string) (string, error) {
	if !ValidID(id) {
		return "", errors.ErrNotFound(id)
	}
	return filepath.Join(a.dir, id, name), nil
}

// ValidID reports whether id names a scan directory without escaping the
// output directory.
func ValidID(id string) bool {
	if !strings.HasPrefix(id, results.ScanDirPrefix) || len(id) == len(results.ScanDirPrefix) {
		return false
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return false
	}
	return filepath.Base(id) == id
}

// Describe summarizes the directory for health checks.
func (a *Archive) Describe() string {
	info, err := os.Stat(a.dir)
	if err != nil {
		return fmt.Sprintf("unavailable: %v", err)
	}
	if !info.IsDir() {
		return "unavailable: not a directory"
	}
	return "ok"
}
