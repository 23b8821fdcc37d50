// Package render projects lifecycle events and scan results onto a terminal.
// It never derives data of its own: vulnerability status, service names and
// fingerprints come straight from the normalized result types.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/mapperctl/internal/lifecycle"
	"github.com/anstrom/mapperctl/internal/results"
)

const progressBarWidth = 20

// Terminal renders to a writer. It implements lifecycle.Projector.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer

	// ReportURL resolves a scan id to its report link; nil hides the column.
	ReportURL func(id string) string

	heading *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	muted   *color.Color
}

var _ lifecycle.Projector = (*Terminal)(nil)

// NewTerminal creates a renderer. Colors are disabled when noColor is set.
func NewTerminal(out io.Writer, noColor bool) *Terminal {
	t := &Terminal{
		out:     out,
		heading: color.New(color.FgCyan, color.Bold),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed, color.Bold),
		muted:   color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{t.heading, t.good, t.warn, t.bad, t.muted} {
			c.DisableColor()
		}
	}
	return t
}

// StateChanged prints a line for every lifecycle transition.
func (t *Terminal) StateChanged(state lifecycle.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch state {
	case lifecycle.Submitting:
		t.println(t.muted.Sprint("Submitting scan..."))
	case lifecycle.Running:
		t.println(t.heading.Sprint("Scan running"))
	case lifecycle.Completed:
		t.println(t.good.Sprint("Scan completed"))
	case lifecycle.Failed:
		t.println(t.bad.Sprint("Scan failed"))
	case lifecycle.Idle:
		t.println(t.muted.Sprint("Ready"))
	}
}

// ProgressChanged prints the simulated progress bar and status text.
func (t *Terminal) ProgressChanged(percent int, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(ProgressLine(percent, text))
}

// ScansLoaded prints the refreshed scan list.
func (t *Terminal) ScansLoaded(scans []results.ScanSummary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.renderScans(scans)
}

// Notify prints a non-fatal error.
func (t *Terminal) Notify(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(t.bad.Sprint("Error: ") + err.Error())
}

// Scans prints a table of past scans.
func (t *Terminal) Scans(scans []results.ScanSummary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.renderScans(scans)
}

// Status prints the backend status.
func (t *Terminal) Status(inProgress bool, command string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !inProgress {
		t.println("Status: " + t.good.Sprint("idle"))
		return
	}
	t.println("Status: " + t.warn.Sprint("scan in progress"))
	if command != "" {
		t.println("Command: " + command)
	}
}

// Detail prints one scan: a summary header and a card per host.
func (t *Terminal) Detail(detail *results.ScanDetail) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.println(t.heading.Sprint("Scan Summary"))
	t.println("Network range:    " + detail.NetworkRange)
	t.println("Scan time:        " + formatScanTime(detail))
	t.println("Total hosts:      " + strconv.Itoa(len(detail.LiveHosts)))
	t.println("Vulnerable hosts: " + strconv.Itoa(len(detail.VulnerableHosts)))

	for _, host := range detail.OrderedHosts() {
		info := detail.Hosts[host]
		t.println("")

		title := t.heading.Sprint(host)
		if detail.IsVulnerable(host) {
			title = t.bad.Sprint(host + " [VULNERABLE]")
		}
		t.println(title)
		t.println("Operating System: " + info.DisplayOS())

		entries := info.Entries()
		if len(entries) > 0 {
			table := tablewriter.NewWriter(t.out)
			table.Header("Port", "Service")
			for _, e := range entries {
				_ = table.Append([]string{strconv.Itoa(e.Port), e.String()})
			}
			_ = table.Render()
		} else {
			t.println(t.muted.Sprint("No open ports"))
		}

		if len(info.Vulnerabilities) > 0 {
			t.println(t.bad.Sprint("Vulnerabilities:"))
			for _, v := range info.Vulnerabilities {
				t.println("  - " + v)
			}
		}
	}

	if t.ReportURL != nil {
		t.println("")
		t.println("Full report: " + t.ReportURL(detail.ID))
	}
}

func (t *Terminal) renderScans(scans []results.ScanSummary) {
	if len(scans) == 0 {
		t.println(t.muted.Sprint("No scan results found."))
		return
	}

	table := tablewriter.NewWriter(t.out)
	headers := []any{"ID", "Time", "Network", "Hosts", "Vulnerable"}
	if t.ReportURL != nil {
		headers = append(headers, "Report")
	}
	table.Header(headers...)

	for _, s := range scans {
		row := []string{
			s.ID,
			s.Time,
			s.Network,
			strconv.Itoa(s.HostCount),
			strconv.Itoa(s.VulnerableHostCount),
		}
		if t.ReportURL != nil {
			row = append(row, t.ReportURL(s.ID))
		}
		_ = table.Append(row)
	}
	_ = table.Render()
}

func (t *Terminal) println(line string) {
	_, _ = fmt.Fprintln(t.out, line)
}

// ProgressLine formats a progress bar such as "[#####...............]  25% text".
func ProgressLine(percent int, text string) string {
	percent = max(0, min(percent, 100))
	filled := percent * progressBarWidth / 100
	bar := strings.Repeat("#", filled) + strings.Repeat(".", progressBarWidth-filled)
	line := fmt.Sprintf("[%s] %3d%%", bar, percent)
	if text != "" {
		line += " " + text
	}
	return line
}

func formatScanTime(detail *results.ScanDetail) string {
	if detail.Timestamp <= 0 {
		return results.Unknown
	}
	return detail.ScanTime().Format(time.DateTime)
}
