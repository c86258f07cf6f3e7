// Package config loads flowmeta's HCL configuration.
//
// A minimal file:
//
//	schema_version = "1.0"
//	policy_file    = "/etc/flowmeta/policy.yaml"
//
//	flow_table {
//	  max_age        = "30s"
//	  sweep_interval = "5s"
//	}
//
//	capture {
//	  mode  = "nfqueue"
//	  queue = 0
//	}
//
// Every block is optional; missing blocks and attributes take the values
// from Default. String attributes may reference the process environment
// as env.NAME, e.g. interface = env.FLOWMETA_IFACE.
package config
