package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/mapperctl/internal/errors"
)

const sampleReport = `{
	"network_range": "10.0.0.0/24",
	"timestamp": "20240101_120000",
	"hosts": {"10.0.0.5": {"os": "Linux", "ports": [22], "services": ["ssh"]}},
	"live_hosts": ["10.0.0.5", "10.0.0.7"],
	"vulnerable_hosts": ["10.0.0.7"]
}`

func writeScan(t *testing.T, dir, id, report string) {
	t.Helper()
	scanDir := filepath.Join(dir, id)
	require.NoError(t, os.MkdirAll(scanDir, 0o750))
	if report != "" {
		require.NoError(t, os.WriteFile(filepath.Join(scanDir, ReportJSON), []byte(report), 0o600))
	}
}

func TestArchive_List(t *testing.T) {
	dir := t.TempDir()
	writeScan(t, dir, "network_scan_20240101_120000", sampleReport)
	writeScan(t, dir, "network_scan_20240301_080000", "")
	writeScan(t, dir, "network_scan_custom", "{not json")
	writeScan(t, dir, "unrelated", sampleReport)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "network_scan_file"), nil, 0o600))

	entries, err := New(dir, nil).List()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	ids := []string{entries[0].ID, entries[1].ID, entries[2].ID}
	assert.Equal(t, []string{
		"network_scan_custom",
		"network_scan_20240301_080000",
		"network_scan_20240101_120000",
	}, ids)

	// Unparseable names keep their raw suffix and no report fields.
	assert.Equal(t, "custom", entries[0].Time)
	assert.Nil(t, entries[0].Network)
	assert.Nil(t, entries[0].VulnerableHosts)

	assert.Equal(t, "2024-03-01 08:00:00", entries[1].Time)
	assert.Zero(t, entries[1].Hosts)
	assert.Nil(t, entries[1].Network)

	full := entries[2]
	assert.Equal(t, "2024-01-01 12:00:00", full.Time)
	require.NotNil(t, full.Network)
	assert.Equal(t, "10.0.0.0/24", *full.Network)
	assert.Equal(t, 2, full.Hosts)
	require.NotNil(t, full.VulnerableHosts)
	assert.Equal(t, 1, *full.VulnerableHosts)
}

func TestArchive_ListEncoding(t *testing.T) {
	dir := t.TempDir()
	writeScan(t, dir, "network_scan_20240101_120000", `{"live_hosts": []}`)
	writeScan(t, dir, "network_scan_20230101_120000", "")

	entries, err := New(dir, nil).List()
	require.NoError(t, err)

	body, err := json.Marshal(entries)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"id": "network_scan_20240101_120000", "time": "2024-01-01 12:00:00", "network": "Unknown", "hosts": 0, "vulnerable_hosts": 0},
		{"id": "network_scan_20230101_120000", "time": "2023-01-01 12:00:00", "hosts": 0}
	]`, string(body))
}

func TestArchive_ListMissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), nil).List()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTransport))
}

func TestArchive_ListEmpty(t *testing.T) {
	entries, err := New(t.TempDir(), nil).List()
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestArchive_Report(t *testing.T) {
	dir := t.TempDir()
	writeScan(t, dir, "network_scan_20240101_120000", sampleReport)
	writeScan(t, dir, "network_scan_20240102_120000", "")
	writeScan(t, dir, "network_scan_20240103_120000", "{broken")
	a := New(dir, nil)

	body, err := a.Report("network_scan_20240101_120000")
	require.NoError(t, err)
	assert.JSONEq(t, sampleReport, string(body))

	tests := []struct {
		name string
		id   string
		code errors.ErrorCode
	}{
		{"no report", "network_scan_20240102_120000", errors.CodeNotFound},
		{"unknown scan", "network_scan_19990101_000000", errors.CodeNotFound},
		{"traversal", "network_scan_/../../etc", errors.CodeNotFound},
		{"parent", "..", errors.CodeNotFound},
		{"broken report", "network_scan_20240103_120000", errors.CodeMalformedData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Report(tt.id)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"network_scan_20240101_120000", true},
		{"network_scan_custom", true},
		{"network_scan_", false},
		{"", false},
		{"report.json", false},
		{"network_scan_..", false},
		{"network_scan_a/b", false},
		{`network_scan_a\b`, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidID(tt.id))
		})
	}
}

func TestArchive_Describe(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "ok", New(dir, nil).Describe())

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	assert.Equal(t, "unavailable: not a directory", New(file, nil).Describe())
	assert.Contains(t, New(filepath.Join(dir, "missing"), nil).Describe(), "unavailable")
}
