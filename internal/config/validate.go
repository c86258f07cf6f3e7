package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"grimm.is/flowmeta/internal/addrspace"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/scheduler"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the whole configuration and reports every problem it
// finds. It returns nil or a ValidationErrors.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if v, err := ParseVersion(c.SchemaVersion); err != nil {
		add("schema_version", "%v", err)
	} else if !IsSupportedVersion(v) {
		add("schema_version", "unsupported version %s", v)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}

	if s := c.Syslog; s.Enabled {
		if s.Host == "" {
			add("syslog.host", "required when syslog is enabled")
		}
		if s.Protocol != "udp" && s.Protocol != "tcp" {
			add("syslog.protocol", "must be udp or tcp, got %q", s.Protocol)
		}
		if s.Port < 1 || s.Port > 65535 {
			add("syslog.port", "out of range: %d", s.Port)
		}
		if s.Facility < 0 || s.Facility > 23 {
			add("syslog.facility", "out of range: %d", s.Facility)
		}
	}

	positive := func(field, value string) {
		d, err := time.ParseDuration(value)
		if err != nil {
			add(field, "invalid duration %q", value)
		} else if d <= 0 {
			add(field, "must be positive")
		}
	}
	positive("flow_table.max_age", c.FlowTable.MaxAge)
	positive("flow_table.sweep_interval", c.FlowTable.SweepInterval)
	positive("api.metrics_interval", c.API.MetricsInterval)

	errs = append(errs, c.validateCapture()...)

	if c.API.Enabled && c.API.Listen == "" {
		add("api.listen", "required when the API is enabled")
	}

	if a := c.Archive; a.Enabled {
		if a.Path == "" {
			add("archive.path", "required when the archive is enabled")
		}
		if a.Retain != "" {
			positive("archive.retain", a.Retain)
		}
		if _, err := scheduler.Cron(a.PruneSchedule); err != nil {
			add("archive.prune_schedule", "%v", err)
		}
	}

	if err := c.QoSRuntime().Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			add("qos", "%s", line)
		}
	}

	seen := make(map[netip.Addr]bool)
	for _, id := range c.Identities {
		field := fmt.Sprintf("identity[%q]", id.Address)
		addr, err := addrspace.ParseAddr(id.Address)
		if err != nil {
			add(field, "invalid address")
			continue
		}
		if seen[addr] {
			add(field, "duplicate identity")
		}
		seen[addr] = true
		if id.MAC != "" {
			if _, err := addrspace.ParseMAC(id.MAC); err != nil {
				add(field+".mac", "invalid MAC %q", id.MAC)
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (c *Config) validateCapture() ValidationErrors {
	var errs ValidationErrors
	cp := c.Capture
	switch cp.Mode {
	case CaptureNone:
	case CapturePcap:
		if cp.File == "" {
			errs = append(errs, ValidationError{"capture.file", "required for pcap mode"})
		}
	case CaptureNFQueue:
		if cp.Queue < 0 || cp.Queue > 65535 {
			errs = append(errs, ValidationError{"capture.queue", fmt.Sprintf("out of range: %d", cp.Queue)})
		}
	case CaptureNFLog:
		if cp.Group < 0 || cp.Group > 65535 {
			errs = append(errs, ValidationError{"capture.group", fmt.Sprintf("out of range: %d", cp.Group)})
		}
	case CaptureAFPacket:
		if cp.Interface == "" {
			errs = append(errs, ValidationError{"capture.interface", "required for afpacket mode"})
		}
	default:
		errs = append(errs, ValidationError{"capture.mode", fmt.Sprintf("unknown mode %q", cp.Mode)})
	}
	return errs
}
