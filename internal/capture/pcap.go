package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/packet"
)

// PcapFile replays a classic pcap file. Packet timestamps come from the
// file.
type PcapFile struct {
	path   string
	logger *logging.Logger
	stats  counters
}

// NewPcapFile creates a replay source for path.
func NewPcapFile(path string, logger *logging.Logger) *PcapFile {
	if logger == nil {
		logger = logging.Default()
	}
	return &PcapFile{path: path, logger: logger}
}

func (p *PcapFile) Name() string { return "pcap" }

// Stats returns the source's counters.
func (p *PcapFile) Stats() map[string]uint64 { return p.stats.snapshot() }

// Run reads the whole file, or until ctx is cancelled.
func (p *PcapFile) Run(ctx context.Context, h Handler) error {
	f, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("failed to open pcap: %w", err)
	}
	defer f.Close()
	return p.replay(ctx, f, h)
}

func (p *PcapFile) replay(ctx context.Context, r io.Reader, h Handler) error {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to read pcap header: %w", err)
	}

	var l3 bool
	switch lt := reader.LinkType(); lt {
	case layers.LinkTypeEthernet:
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		l3 = true
	default:
		return fmt.Errorf("unsupported pcap link type %s", lt)
	}

	p.logger.Info("replaying pcap", "path", p.path, "link_type", reader.LinkType().String())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.stats.inc(StatReadErrors)
			return fmt.Errorf("failed to read packet: %w", err)
		}
		p.stats.inc(StatReceived)

		var v *packet.View
		if l3 {
			v, err = packet.DecodeL3(data, nil, ci.Timestamp)
		} else {
			v, err = packet.Decode(data, ci.Timestamp)
		}
		if err != nil {
			p.stats.inc(StatDecodeErrors)
			p.logger.Debug("skipping undecodable packet", "error", err)
			continue
		}
		v.Length = ci.Length
		h(v)
	}

	st := p.stats.snapshot()
	p.logger.Info("pcap replay finished", "packets", st[StatReceived], "decode_errors", st[StatDecodeErrors])
	return nil
}
