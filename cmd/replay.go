package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/flowmeta/internal/capture"
	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/config"
	"grimm.is/flowmeta/internal/flowtable"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/metrics"
	"grimm.is/flowmeta/internal/packet"
)

// ReplayResult is what replay prints with -json.
type ReplayResult struct {
	File    string             `json:"file"`
	Stats   map[string]uint64  `json:"stats"`
	Evicted int                `json:"evicted"`
	Flows   []flowtable.Record `json:"flows"`
}

// RunReplay feeds a pcap file through the pipeline once and prints the
// resulting flow table.
func RunReplay(configFile, pcapFile string, asJSON bool) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger, closer, err := setupLogging(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := replay(ctx, cfg, pcapFile, logger)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printFlows(Stdout, res)
	return nil
}

// replay runs the pipeline on the packets of pcapFile. Time is taken from
// the capture, so aging behaves as it would have live.
func replay(ctx context.Context, cfg *config.Config, pcapFile string, logger *logging.Logger) (*ReplayResult, error) {
	if pcapFile == "" {
		pcapFile = cfg.Capture.File
	}
	if pcapFile == "" {
		return nil, errors.New("no capture file given")
	}

	clk := clock.NewMock(time.Time{})
	d, err := newDaemon(cfg, clk, metrics.NewRegistry(prometheus.NewRegistry()), logger)
	if err != nil {
		return nil, err
	}
	defer d.close()

	maxAge, every := cfg.MaxAge(), cfg.SweepInterval()
	var lastSweep time.Time
	evicted := 0
	handle := func(v *packet.View) uint32 {
		if v.Timestamp.After(clk.Now()) {
			clk.Set(v.Timestamp)
		}
		if lastSweep.IsZero() {
			lastSweep = clk.Now()
		}
		if clk.Since(lastSweep) >= every {
			evicted += len(d.service.Sweep(ctx, maxAge))
			lastSweep = clk.Now()
		}
		return d.pipeline.Handle(v)
	}

	src := capture.NewPcapFile(pcapFile, logger)
	if err := src.Run(ctx, handle); err != nil {
		return nil, err
	}
	return &ReplayResult{
		File:    pcapFile,
		Stats:   src.Stats(),
		Evicted: evicted,
		Flows:   d.service.Records(),
	}, nil
}

func printFlows(w io.Writer, res *ReplayResult) {
	fmt.Fprintf(w, "%s: %d packets, %d decode errors, %d flows live, %d evicted\n\n",
		res.File, res.Stats[capture.StatReceived], res.Stats[capture.StatDecodeErrors], len(res.Flows), res.Evicted)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REF\tFLOW\tPACKETS\tDURATION\tRULE\tQUEUE\tIDENTITIES")
	for _, r := range res.Flows {
		rule, queue := "-", 0
		if r.Actions != nil {
			if r.Actions.Rule != "" {
				rule = r.Actions.Rule
			}
			queue = r.Actions.OutQueue
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%d\t%s\n",
			r.Ref, r.Key, r.PacketsToController, r.TimeLast.Sub(r.TimeFirst), rule, queue, identities(r))
	}
	tw.Flush()
}

func identities(r flowtable.Record) string {
	if r.Key.L34 == nil || len(r.Identities) == 0 {
		return "-"
	}
	var parts []string
	for _, addr := range []netip.Addr{r.Key.L34.IPA, r.Key.L34.IPB} {
		id, ok := r.Identities[addr]
		if !ok {
			continue
		}
		name := id.Hostname
		if name == "" {
			name = id.MAC
		}
		parts = append(parts, addr.String()+"="+name)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}
