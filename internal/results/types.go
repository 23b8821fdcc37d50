// Package results fetches the scan list and scan detail records from the
// backend and normalizes them into stable in-memory shapes.
package results

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"
)

// Unknown is the placeholder for absent textual fields.
const Unknown = "Unknown"

// ScanSummary is one entry of the scan list.
type ScanSummary struct {
	ID                  string `json:"id"`
	Time                string `json:"time"`
	Network             string `json:"network"`
	HostCount           int    `json:"hosts"`
	VulnerableHostCount int    `json:"vulnerable_hosts"`
}

// ScanDetail is the full record of a single scan.
type ScanDetail struct {
	ID              string              `json:"id"`
	NetworkRange    string              `json:"network_range"`
	Timestamp       int64               `json:"timestamp"`
	LiveHosts       []string            `json:"live_hosts"`
	VulnerableHosts []string            `json:"vulnerable_hosts"`
	Hosts           map[string]HostInfo `json:"hosts"`

	// HostOrder lists the keys of Hosts in the order the backend sent them.
	HostOrder []string `json:"-"`
}

// HostInfo describes one scanned host.
type HostInfo struct {
	OS              string         `json:"os,omitempty"`
	Ports           []int          `json:"ports"`
	Services        []string       `json:"services"`
	Fingerprints    map[int]string `json:"fingerprints,omitempty"`
	Vulnerabilities []string       `json:"vulnerabilities,omitempty"`
}

// ServiceEntry is a single port line of a host.
type ServiceEntry struct {
	Port        int
	Service     string
	Fingerprint string
}

// String renders the entry the way it is displayed, e.g. "Unknown (nginx)".
func (e ServiceEntry) String() string {
	if e.Fingerprint == "" {
		return e.Service
	}
	return fmt.Sprintf("%s (%s)", e.Service, e.Fingerprint)
}

// Entries pairs every port with its service and fingerprint.
// services[i] describes ports[i]; a missing service is reported as Unknown
// without shifting the entries that follow.
func (h HostInfo) Entries() []ServiceEntry {
	entries := make([]ServiceEntry, 0, len(h.Ports))
	for i, port := range h.Ports {
		service := ""
		if i < len(h.Services) {
			service = h.Services[i]
		}
		if service == "" {
			service = Unknown
		}
		entries = append(entries, ServiceEntry{
			Port:        port,
			Service:     service,
			Fingerprint: h.Fingerprints[port],
		})
	}
	return entries
}

// DisplayOS returns the operating system or Unknown.
func (h HostInfo) DisplayOS() string {
	if strings.TrimSpace(h.OS) == "" {
		return Unknown
	}
	return h.OS
}

// IsVulnerable reports whether host is listed in VulnerableHosts.
// The per-host vulnerability list is deliberately not consulted.
func (d *ScanDetail) IsVulnerable(host string) bool {
	for _, h := range d.VulnerableHosts {
		if h == host {
			return true
		}
	}
	return false
}

// ScanTime returns the scan timestamp as a time value.
func (d *ScanDetail) ScanTime() time.Time {
	return time.Unix(d.Timestamp, 0)
}

// OrderedHosts returns host ids in backend order, falling back to sorted
// order when no ordering was recorded.
func (d *ScanDetail) OrderedHosts() []string {
	if len(d.HostOrder) == len(d.Hosts) {
		return append([]string(nil), d.HostOrder...)
	}
	return d.SortedHosts()
}

// SortedHosts returns host ids with IP addresses in numeric order, followed
// by any non-address ids in lexical order.
func (d *ScanDetail) SortedHosts() []string {
	hosts := make([]string, 0, len(d.Hosts))
	for host := range d.Hosts {
		hosts = append(hosts, host)
	}
	sort.Slice(hosts, func(i, j int) bool {
		a, errA := netip.ParseAddr(hosts[i])
		b, errB := netip.ParseAddr(hosts[j])
		switch {
		case errA == nil && errB == nil:
			return a.Less(b)
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return hosts[i] < hosts[j]
		}
	})
	return hosts
}
