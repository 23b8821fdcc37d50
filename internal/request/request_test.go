package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/mapperctl/internal/errors"
)

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder("")

	tests := []struct {
		name     string
		config   ScanConfig
		expected []string
	}{
		{
			name:     "network only",
			config:   ScanConfig{NetworkRange: "192.168.1.0/24"},
			expected: []string{"-n", "192.168.1.0/24"},
		},
		{
			name:     "threads and verbose",
			config:   ScanConfig{NetworkRange: "10.0.0.0/24", ThreadCount: 50, Verbose: true},
			expected: []string{"-n", "10.0.0.0/24", "-t", "50", "-v"},
		},
		{
			name: "every option",
			config: ScanConfig{
				NetworkRange:       "10.0.0.0/8",
				OutputPath:         "out/scan",
				ThreadCount:        4,
				Verbose:            true,
				SkipVulnScan:       true,
				SkipCredCheck:      true,
				SkipFingerprinting: true,
				InstallDeps:        true,
			},
			expected: []string{
				"-n", "10.0.0.0/8", "-o", "out/scan", "-t", "4", "-v",
				"--skip-vuln-scan", "--skip-cred-check", "--skip-fingerprinting", "--install-deps",
			},
		},
		{
			name:     "false flags and zero threads are omitted",
			config:   ScanConfig{NetworkRange: "10.0.0.1", SkipCredCheck: true},
			expected: []string{"-n", "10.0.0.1", "--skip-cred-check"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := b.Build(tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, req.Args)
			assert.Equal(t, DefaultProgram, req.Program)
		})
	}
}

func TestBuilder_BuildIsDeterministic(t *testing.T) {
	b := NewBuilder("")

	// Same values assigned in a different order.
	var first ScanConfig
	first.InstallDeps = true
	first.Verbose = true
	first.ThreadCount = 8
	first.NetworkRange = "172.16.0.0/16"

	var second ScanConfig
	second.NetworkRange = "172.16.0.0/16"
	second.ThreadCount = 8
	second.Verbose = true
	second.InstallDeps = true

	r1, err := b.Build(first)
	require.NoError(t, err)
	r2, err := b.Build(second)
	require.NoError(t, err)
	r3, err := b.Build(first)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, r1.Command(), r3.Command())
	assert.Equal(t, "python3 network_mapper.py -n 172.16.0.0/16 -t 8 -v --install-deps", r1.Command())
}

func TestBuilder_BuildInvalid(t *testing.T) {
	b := NewBuilder("")

	tests := []struct {
		name   string
		config ScanConfig
		field  string
	}{
		{"empty network", ScanConfig{}, "network_range"},
		{"blank network", ScanConfig{NetworkRange: "   "}, "network_range"},
		{"network with spaces", ScanConfig{NetworkRange: "10.0.0.0/24 -o /etc"}, "network_range"},
		{"output with spaces", ScanConfig{NetworkRange: "10.0.0.0/24", OutputPath: "my dir"}, "output_path"},
		{"negative threads", ScanConfig{NetworkRange: "10.0.0.0/24", ThreadCount: -1}, "thread_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(tt.config)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig), "got %v", err)

			var scanErr *errors.ScanError
			require.ErrorAs(t, err, &scanErr)
			assert.Equal(t, tt.field, scanErr.Context["field"])
		})
	}
}

func TestScanRequest_Argv(t *testing.T) {
	b := NewBuilder("  /usr/bin/python3   mapper.py ")
	assert.Equal(t, "/usr/bin/python3 mapper.py", b.Program())

	req, err := b.Build(ScanConfig{NetworkRange: "10.0.0.0/24"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/python3", "mapper.py", "-n", "10.0.0.0/24"}, req.Argv())
	assert.Equal(t, "/usr/bin/python3 mapper.py -n 10.0.0.0/24", req.Command())
}

func TestBuilder_ParseRoundTrip(t *testing.T) {
	b := NewBuilder("")

	configs := []ScanConfig{
		{NetworkRange: "10.0.0.0/24"},
		{NetworkRange: "10.0.0.0/24", ThreadCount: 50, Verbose: true},
		{NetworkRange: "192.168.0.0/16", OutputPath: "network_scan_x", SkipVulnScan: true, InstallDeps: true},
	}

	for _, cfg := range configs {
		req, err := b.Build(cfg)
		require.NoError(t, err)

		parsed, err := b.Parse(req.Command())
		require.NoError(t, err)
		assert.Equal(t, cfg, parsed)
	}
}

func TestBuilder_ParseLongFlags(t *testing.T) {
	b := NewBuilder("")

	cfg, err := b.Parse("python3 network_mapper.py --network 10.1.0.0/16 --threads 12 --verbose --output out")
	require.NoError(t, err)
	assert.Equal(t, ScanConfig{NetworkRange: "10.1.0.0/16", ThreadCount: 12, Verbose: true, OutputPath: "out"}, cfg)
}

func TestBuilder_ParseInvalid(t *testing.T) {
	b := NewBuilder("")

	commands := map[string]string{
		"wrong program":   "rm -rf / -n 10.0.0.0/24",
		"empty":           "",
		"missing network": "python3 network_mapper.py -v",
		"dangling flag":   "python3 network_mapper.py -n",
		"bad threads":     "python3 network_mapper.py -n 10.0.0.0/24 -t many",
		"zero threads":    "python3 network_mapper.py -n 10.0.0.0/24 -t 0",
		"unknown flag":    "python3 network_mapper.py -n 10.0.0.0/24 --web",
	}

	for name, command := range commands {
		t.Run(name, func(t *testing.T) {
			_, err := b.Parse(command)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig), "got %v", err)
		})
	}
}
