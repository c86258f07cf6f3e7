package cmd

import (
	"fmt"
	"slices"

	"grimm.is/flowmeta/internal/addrspace"
	"grimm.is/flowmeta/internal/brand"
	"grimm.is/flowmeta/internal/classify"
	"grimm.is/flowmeta/internal/config"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/qos"
)

// RunCheck validates the configuration file and the policy it names.
// With printConfig the effective configuration, defaults included, is
// written back out as HCL.
func RunCheck(configFile string, printConfig bool) error {
	if configFile == "" {
		return fmt.Errorf("usage: %s check [-print] <config-file>", brand.Name)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Fprintf(Stdout, "Configuration valid!\n")
	fmt.Fprintf(Stdout, "Schema Version: %s\n", cfg.SchemaVersion)
	fmt.Fprintf(Stdout, "Capture: %s\n", cfg.Capture.Mode)
	fmt.Fprintf(Stdout, "Flow max age: %s (sweep every %s)\n", cfg.MaxAge(), cfg.SweepInterval())
	fmt.Fprintf(Stdout, "Queues: %d\n", len(cfg.QoS.Queues))
	fmt.Fprintf(Stdout, "Identities: %d\n", len(cfg.Identities))

	if cfg.PolicyFile != "" {
		logger := logging.Discard()
		p, err := loadPolicy(cfg.PolicyFile, classify.NewStatic(addrspace.New(logger), logger))
		if err != nil {
			return fmt.Errorf("policy invalid: %w", err)
		}
		fmt.Fprintf(Stdout, "Policy: %d rules\n", len(p.Rules))

		known := qos.NewPolicy(cfg.QoSRuntime(), logger).Treatments()
		for i, r := range p.Rules {
			t, ok := r.Actions[qos.TreatmentKey]
			if ok && !slices.Contains(known, t) {
				fmt.Fprintf(Stdout, "Warning: rule %s sets %s %q but no queue serves it; its flows use the default queue\n",
					r.Name(i), qos.TreatmentKey, t)
			}
		}
	}

	if printConfig {
		fmt.Fprintln(Stdout)
		Stdout.Write(config.Marshal(cfg))
	}
	return nil
}
