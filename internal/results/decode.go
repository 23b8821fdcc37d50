package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/mapperctl/internal/errors"
)

// mapperTimeLayout is the timestamp format the mapper uses in directory
// names and in report.json.
const mapperTimeLayout = "20060102_150405"

// rawSummary mirrors one element of GET /api/scans with optional fields.
type rawSummary struct {
	ID              string  `json:"id"`
	Time            *string `json:"time"`
	Network         *string `json:"network"`
	Hosts           *int    `json:"hosts"`
	VulnerableHosts *int    `json:"vulnerable_hosts"`
}

// DecodeSummaries normalizes the scan list body. Order is preserved.
func DecodeSummaries(body []byte) ([]ScanSummary, error) {
	var raw []rawSummary
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode scan list: %w", err)
	}

	scans := make([]ScanSummary, 0, len(raw))
	for _, r := range raw {
		s := ScanSummary{
			ID:      r.ID,
			Time:    Unknown,
			Network: Unknown,
		}
		if r.Time != nil && *r.Time != "" {
			s.Time = *r.Time
		}
		if r.Network != nil && *r.Network != "" {
			s.Network = *r.Network
		}
		if r.Hosts != nil {
			s.HostCount = *r.Hosts
		}
		if r.VulnerableHosts != nil {
			s.VulnerableHostCount = *r.VulnerableHosts
		}
		scans = append(scans, s)
	}
	return scans, nil
}

// rawHost mirrors a host entry of report.json.
type rawHost struct {
	OS              *string           `json:"os"`
	Ports           []int             `json:"ports"`
	Services        []*string         `json:"services"`
	Fingerprints    map[string]string `json:"fingerprints"`
	Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
}

// DecodeDetail normalizes a scan detail body. null and {} mean the scan has
// no details and yield NOT_FOUND; any other object must carry network_range,
// hosts, live_hosts and vulnerable_hosts with the right types.
func DecodeDetail(id string, body []byte) (*ScanDetail, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.ErrNotFound(id)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, errors.ErrMalformedData(id, "body")
	}
	if len(fields) == 0 {
		return nil, errors.ErrNotFound(id)
	}

	detail := &ScanDetail{ID: id}

	raw, ok := present(fields, "network_range")
	if !ok || json.Unmarshal(raw, &detail.NetworkRange) != nil {
		return nil, errors.ErrMalformedData(id, "network_range")
	}

	raw, ok = present(fields, "live_hosts")
	if !ok || json.Unmarshal(raw, &detail.LiveHosts) != nil {
		return nil, errors.ErrMalformedData(id, "live_hosts")
	}

	raw, ok = present(fields, "vulnerable_hosts")
	if !ok || json.Unmarshal(raw, &detail.VulnerableHosts) != nil {
		return nil, errors.ErrMalformedData(id, "vulnerable_hosts")
	}

	raw, ok = present(fields, "hosts")
	if !ok {
		return nil, errors.ErrMalformedData(id, "hosts")
	}
	hosts, order, err := decodeHosts(raw)
	if err != nil {
		return nil, errors.ErrMalformedData(id, "hosts").WithContext("reason", err.Error())
	}
	detail.Hosts = hosts
	detail.HostOrder = order

	if raw, ok := present(fields, "timestamp"); ok {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, errors.ErrMalformedData(id, "timestamp")
		}
		detail.Timestamp = ts
	}

	return detail, nil
}

func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

// decodeHosts walks the hosts object token by token so that the backend's
// key order survives.
func decodeHosts(raw json.RawMessage) (map[string]HostInfo, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("hosts is not an object")
	}

	hosts := make(map[string]HostInfo)
	var order []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", keyTok)
		}

		var rh rawHost
		if err := dec.Decode(&rh); err != nil {
			return nil, nil, fmt.Errorf("host %s: %w", key, err)
		}
		info, err := rh.normalize()
		if err != nil {
			return nil, nil, fmt.Errorf("host %s: %w", key, err)
		}

		if _, dup := hosts[key]; !dup {
			order = append(order, key)
		}
		hosts[key] = info
	}
	return hosts, order, nil
}

func (r rawHost) normalize() (HostInfo, error) {
	info := HostInfo{Ports: r.Ports}
	if r.OS != nil {
		info.OS = *r.OS
	}

	if len(r.Services) > 0 {
		info.Services = make([]string, len(r.Services))
		for i, s := range r.Services {
			if s != nil {
				info.Services[i] = *s
			}
		}
	}

	if len(r.Fingerprints) > 0 {
		info.Fingerprints = make(map[int]string, len(r.Fingerprints))
		for key, value := range r.Fingerprints {
			port, err := strconv.Atoi(key)
			if err != nil {
				return HostInfo{}, fmt.Errorf("fingerprint key %q is not a port", key)
			}
			info.Fingerprints[port] = value
		}
	}

	for _, v := range r.Vulnerabilities {
		var text string
		if err := json.Unmarshal(v, &text); err == nil {
			info.Vulnerabilities = append(info.Vulnerabilities, text)
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return HostInfo{}, err
		}
		info.Vulnerabilities = append(info.Vulnerabilities, buf.String())
	}

	return info, nil
}

// parseTimestamp accepts epoch seconds or the mapper's YYYYMMDD_HHMMSS form.
func parseTimestamp(raw json.RawMessage) (int64, error) {
	var number json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return 0, err
	}

	switch v := value.(type) {
	case json.Number:
		number = v
	case string:
		s := strings.TrimSpace(v)
		if t, err := time.ParseInLocation(mapperTimeLayout, s, time.Local); err == nil {
			return t.Unix(), nil
		}
		number = json.Number(s)
	default:
		return 0, fmt.Errorf("unsupported timestamp %v", v)
	}

	if i, err := number.Int64(); err == nil {
		return i, nil
	}
	f, err := number.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// ParseScanTime extracts the time encoded in a network_scan_* directory name.
func ParseScanTime(id string) (time.Time, bool) {
	suffix := strings.TrimPrefix(id, ScanDirPrefix)
	t, err := time.ParseInLocation(mapperTimeLayout, suffix, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ScanDirPrefix prefixes every scan output directory.
const ScanDirPrefix = "network_scan_"
