package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Marshal renders cfg as HCL. Loading the output yields an equivalent
// config; `flowmeta check -print` uses it to show the effective settings.
func Marshal(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("schema_version", cty.StringVal(cfg.SchemaVersion))
	if cfg.PolicyFile != "" {
		body.SetAttributeValue("policy_file", cty.StringVal(cfg.PolicyFile))
	}

	if l := cfg.Logging; l != nil {
		b := section(body, "logging")
		b.SetAttributeValue("level", cty.StringVal(l.Level))
		b.SetAttributeValue("json", cty.BoolVal(l.JSON))
	}

	if s := cfg.Syslog; s != nil {
		b := section(body, "syslog")
		b.SetAttributeValue("enabled", cty.BoolVal(s.Enabled))
		b.SetAttributeValue("host", cty.StringVal(s.Host))
		b.SetAttributeValue("port", cty.NumberIntVal(int64(s.Port)))
		b.SetAttributeValue("protocol", cty.StringVal(s.Protocol))
		b.SetAttributeValue("tag", cty.StringVal(s.Tag))
		b.SetAttributeValue("facility", cty.NumberIntVal(int64(s.Facility)))
	}

	if ft := cfg.FlowTable; ft != nil {
		b := section(body, "flow_table")
		b.SetAttributeValue("max_age", cty.StringVal(ft.MaxAge))
		b.SetAttributeValue("sweep_interval", cty.StringVal(ft.SweepInterval))
		setBoolPtr(b, "augment_identity", ft.AugmentIdentity)
		setBoolPtr(b, "harvest_dhcp", ft.HarvestDHCP)
		setBoolPtr(b, "harvest_dns", ft.HarvestDNS)
		setBoolPtr(b, "harvest_arp", ft.HarvestARP)
		setBoolPtr(b, "harvest_lldp", ft.HarvestLLDP)
	}

	if cp := cfg.Capture; cp != nil {
		b := section(body, "capture")
		b.SetAttributeValue("mode", cty.StringVal(cp.Mode))
		setString(b, "file", cp.File)
		setString(b, "interface", cp.Interface)
		switch cp.Mode {
		case CaptureNFQueue:
			b.SetAttributeValue("queue", cty.NumberIntVal(int64(cp.Queue)))
		case CaptureNFLog:
			b.SetAttributeValue("group", cty.NumberIntVal(int64(cp.Group)))
		}
	}

	if a := cfg.API; a != nil {
		b := section(body, "api")
		b.SetAttributeValue("enabled", cty.BoolVal(a.Enabled))
		b.SetAttributeValue("listen", cty.StringVal(a.Listen))
		b.SetAttributeValue("metrics_interval", cty.StringVal(a.MetricsInterval))
	}

	if a := cfg.Archive; a != nil {
		b := section(body, "archive")
		b.SetAttributeValue("enabled", cty.BoolVal(a.Enabled))
		b.SetAttributeValue("path", cty.StringVal(a.Path))
		setString(b, "retain", a.Retain)
		b.SetAttributeValue("prune_schedule", cty.StringVal(a.PruneSchedule))
	}

	if q := cfg.QoS; q != nil && (q.Interface != "" || len(q.Queues) > 0) {
		b := section(body, "qos")
		setString(b, "interface", q.Interface)
		b.SetAttributeValue("rate_mbps", cty.NumberIntVal(int64(q.RateMbps)))
		for _, queue := range q.Queues {
			qb := b.AppendNewBlock("queue", []string{queue.Name}).Body()
			qb.SetAttributeValue("id", cty.NumberIntVal(int64(queue.ID)))
			setString(qb, "rate", queue.Rate)
		}
	}

	for _, id := range cfg.Identities {
		body.AppendNewline()
		b := body.AppendNewBlock("identity", []string{id.Address}).Body()
		setString(b, "mac", id.MAC)
		setString(b, "hostname", id.Hostname)
	}

	return f.Bytes()
}

func section(body *hclwrite.Body, name string) *hclwrite.Body {
	body.AppendNewline()
	return body.AppendNewBlock(name, nil).Body()
}

func setString(b *hclwrite.Body, name, v string) {
	if v != "" {
		b.SetAttributeValue(name, cty.StringVal(v))
	}
}

func setBoolPtr(b *hclwrite.Body, name string, v *bool) {
	if v != nil {
		b.SetAttributeValue(name, cty.BoolVal(*v))
	}
}
