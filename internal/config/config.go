package config

import (
	"path/filepath"
	"time"

	"grimm.is/flowmeta/internal/brand"
	"grimm.is/flowmeta/internal/qos"
)

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// Capture modes.
const (
	CaptureNone     = "none"
	CapturePcap     = "pcap"
	CaptureNFQueue  = "nfqueue"
	CaptureNFLog    = "nflog"
	CaptureAFPacket = "afpacket"
)

// Config is the top-level structure for the flowmeta configuration.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`
	// PolicyFile is the YAML classification policy. Empty means no rules:
	// every flow is tracked unclassified.
	PolicyFile string `hcl:"policy_file,optional" json:"policy_file,omitempty"`

	Logging    *LoggingConfig   `hcl:"logging,block" json:"logging"`
	Syslog     *SyslogConfig    `hcl:"syslog,block" json:"syslog"`
	FlowTable  *FlowTableConfig `hcl:"flow_table,block" json:"flow_table"`
	Capture    *CaptureConfig   `hcl:"capture,block" json:"capture"`
	API        *APIConfig       `hcl:"api,block" json:"api"`
	Archive    *ArchiveConfig   `hcl:"archive,block" json:"archive"`
	QoS        *QoSConfig       `hcl:"qos,block" json:"qos"`
	Identities []IdentityConfig `hcl:"identity,block" json:"identities,omitempty"`
}

// LoggingConfig controls local log output.
type LoggingConfig struct {
	Level string `hcl:"level,optional" json:"level"`
	JSON  bool   `hcl:"json,optional" json:"json"`
}

// SyslogConfig configures remote syslog.
type SyslogConfig struct {
	Enabled  bool   `hcl:"enabled,optional" json:"enabled"`
	Host     string `hcl:"host,optional" json:"host"`
	Port     int    `hcl:"port,optional" json:"port"`
	Protocol string `hcl:"protocol,optional" json:"protocol"` // udp or tcp
	Tag      string `hcl:"tag,optional" json:"tag"`
	Facility int    `hcl:"facility,optional" json:"facility"`
}

// FlowTableConfig tunes the flow table and the sources that annotate it.
type FlowTableConfig struct {
	MaxAge          string `hcl:"max_age,optional" json:"max_age"`
	SweepInterval   string `hcl:"sweep_interval,optional" json:"sweep_interval"`
	AugmentIdentity *bool  `hcl:"augment_identity,optional" json:"augment_identity"`
	HarvestDHCP     *bool  `hcl:"harvest_dhcp,optional" json:"harvest_dhcp"`
	HarvestDNS      *bool  `hcl:"harvest_dns,optional" json:"harvest_dns"`
	HarvestARP      *bool  `hcl:"harvest_arp,optional" json:"harvest_arp"`
	HarvestLLDP     *bool  `hcl:"harvest_lldp,optional" json:"harvest_lldp"`
}

// CaptureConfig selects where packets come from.
type CaptureConfig struct {
	Mode      string `hcl:"mode,optional" json:"mode"`
	File      string `hcl:"file,optional" json:"file,omitempty"`
	Interface string `hcl:"interface,optional" json:"interface,omitempty"`
	Queue     int    `hcl:"queue,optional" json:"queue"`
	Group     int    `hcl:"group,optional" json:"group"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Enabled         bool   `hcl:"enabled,optional" json:"enabled"`
	Listen          string `hcl:"listen,optional" json:"listen"`
	MetricsInterval string `hcl:"metrics_interval,optional" json:"metrics_interval"`
}

// ArchiveConfig configures the evicted-flow archive.
type ArchiveConfig struct {
	Enabled bool   `hcl:"enabled,optional" json:"enabled"`
	Path    string `hcl:"path,optional" json:"path"`
	// Retain is how long archived flows are kept; empty keeps them forever.
	Retain string `hcl:"retain,optional" json:"retain,omitempty"`
	// PruneSchedule is a cron expression for the retention job.
	PruneSchedule string `hcl:"prune_schedule,optional" json:"prune_schedule,omitempty"`
}

// QoSConfig describes the egress queues.
type QoSConfig struct {
	Interface string        `hcl:"interface,optional" json:"interface,omitempty"`
	RateMbps  int           `hcl:"rate_mbps,optional" json:"rate_mbps"`
	Queues    []QueueConfig `hcl:"queue,block" json:"queues,omitempty"`
}

// QueueConfig is one egress queue, labelled by the qos_treatment it serves.
type QueueConfig struct {
	Name string `hcl:"name,label" json:"name"`
	ID   int    `hcl:"id" json:"id"`
	Rate string `hcl:"rate,optional" json:"rate,omitempty"`
}

// IdentityConfig seeds the identity store.
type IdentityConfig struct {
	Address  string `hcl:"address,label" json:"address"`
	MAC      string `hcl:"mac,optional" json:"mac,omitempty"`
	Hostname string `hcl:"hostname,optional" json:"hostname,omitempty"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := &Config{SchemaVersion: CurrentSchemaVersion}
	cfg.applyDefaults()
	return cfg
}

func boolPtr(b bool) *bool { return &b }

// applyDefaults fills missing blocks and zero attributes.
func (c *Config) applyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Syslog == nil {
		c.Syslog = &SyslogConfig{}
	}
	if c.Syslog.Port == 0 {
		c.Syslog.Port = 514
	}
	if c.Syslog.Protocol == "" {
		c.Syslog.Protocol = "udp"
	}
	if c.Syslog.Tag == "" {
		c.Syslog.Tag = brand.Name
	}
	if c.Syslog.Facility == 0 {
		c.Syslog.Facility = 1
	}

	if c.FlowTable == nil {
		c.FlowTable = &FlowTableConfig{}
	}
	ft := c.FlowTable
	if ft.MaxAge == "" {
		ft.MaxAge = "30s"
	}
	if ft.SweepInterval == "" {
		ft.SweepInterval = "5s"
	}
	if ft.AugmentIdentity == nil {
		ft.AugmentIdentity = boolPtr(true)
	}
	if ft.HarvestDHCP == nil {
		ft.HarvestDHCP = boolPtr(true)
	}
	if ft.HarvestDNS == nil {
		ft.HarvestDNS = boolPtr(true)
	}
	if ft.HarvestARP == nil {
		ft.HarvestARP = boolPtr(true)
	}
	if ft.HarvestLLDP == nil {
		ft.HarvestLLDP = boolPtr(true)
	}

	if c.Capture == nil {
		c.Capture = &CaptureConfig{}
	}
	if c.Capture.Mode == "" {
		c.Capture.Mode = CaptureNone
	}

	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if c.API.MetricsInterval == "" {
		c.API.MetricsInterval = "15s"
	}

	if c.Archive == nil {
		c.Archive = &ArchiveConfig{}
	}
	if c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(brand.GetStateDir(), brand.ArchiveFileName)
	}
	if c.Archive.PruneSchedule == "" {
		c.Archive.PruneSchedule = "0 3 * * *"
	}

	if c.QoS == nil {
		c.QoS = &QoSConfig{}
	}
}

// MaxAge returns flow_table.max_age. Call after Validate.
func (c *Config) MaxAge() time.Duration {
	d, _ := time.ParseDuration(c.FlowTable.MaxAge)
	return d
}

// SweepInterval returns flow_table.sweep_interval. Call after Validate.
func (c *Config) SweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.FlowTable.SweepInterval)
	return d
}

// MetricsInterval returns api.metrics_interval. Call after Validate.
func (c *Config) MetricsInterval() time.Duration {
	d, _ := time.ParseDuration(c.API.MetricsInterval)
	return d
}

// Retention returns archive.retain, or 0 for keep forever.
func (c *Config) Retention() time.Duration {
	if c.Archive.Retain == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.Archive.Retain)
	return d
}

// QoSRuntime converts the qos block for the qos package.
func (c *Config) QoSRuntime() qos.Config {
	out := qos.Config{Interface: c.QoS.Interface, RateMbps: c.QoS.RateMbps}
	for _, q := range c.QoS.Queues {
		out.Queues = append(out.Queues, qos.Queue{Name: q.Name, ID: q.ID, Rate: q.Rate})
	}
	return out
}
