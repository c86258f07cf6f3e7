package cmd

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"
)

var (
	macClient = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	macRouter = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0xfe}
	t0        = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
)

const testPolicy = `
tc_rules:
  - comment: web
    match_type: any
    conditions:
      - tcp_dst: "80"
    actions:
      qos_treatment: high_priority
`

type frame struct {
	at   time.Duration
	data []byte
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func ipv4(src, dst string, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version: 4, TTL: 64, Protocol: proto,
		SrcIP: net.ParseIP(src).To4(), DstIP: net.ParseIP(dst).To4(),
	}
}

func tcpFrame(t *testing.T, src, dst string, sport, dport uint16) []byte {
	eth := &layers.Ethernet{SrcMAC: macClient, DstMAC: macRouter, EthernetType: layers.EthernetTypeIPv4}
	ip := ipv4(src, dst, layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), ACK: true, Window: 14600}
	tcp.SetNetworkLayerForChecksum(ip)
	return serialize(t, eth, ip, tcp, gopacket.Payload("hello"))
}

func udpFrame(t *testing.T, src, dst string, sport, dport uint16, payload ...gopacket.SerializableLayer) []byte {
	eth := &layers.Ethernet{SrcMAC: macRouter, DstMAC: macClient, EthernetType: layers.EthernetTypeIPv4}
	ip := ipv4(src, dst, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	udp.SetNetworkLayerForChecksum(ip)
	return serialize(t, append([]gopacket.SerializableLayer{eth, ip, udp}, payload...)...)
}

// dnsAnswer is a response from the resolver telling the client that name
// lives at addr.
func dnsAnswer(t *testing.T, name, addr string) []byte {
	dns := &layers.DNS{
		ID: 0x1234, QR: true, OpCode: layers.DNSOpCodeQuery, RD: true, RA: true,
		ResponseCode: layers.DNSResponseCodeNoErr,
		Questions: []layers.DNSQuestion{{
			Name: []byte(name), Type: layers.DNSTypeA, Class: layers.DNSClassIN,
		}},
		Answers: []layers.DNSResourceRecord{{
			Name: []byte(name), Type: layers.DNSTypeA, Class: layers.DNSClassIN, TTL: 300,
			IP: net.ParseIP(addr).To4(),
		}},
	}
	return udpFrame(t, "10.0.0.53", "10.0.0.1", 53, 40000, dns)
}

// arpReply announces that addr is at mac.
func arpReply(t *testing.T, mac net.HardwareAddr, addr string) []byte {
	eth := &layers.Ethernet{SrcMAC: mac, DstMAC: macClient, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPReply,
		SourceHwAddress: mac, SourceProtAddress: net.ParseIP(addr).To4(),
		DstHwAddress: macClient, DstProtAddress: net.ParseIP("10.0.0.1").To4(),
	}
	return serialize(t, eth, arp)
}

func writePcap(t *testing.T, dir string, frames ...frame) string {
	t.Helper()
	path := filepath.Join(dir, "trace.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, fr := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     t0.Add(fr.at),
			CaptureLength: len(fr.data),
			Length:        len(fr.data),
		}
		require.NoError(t, w.WritePacket(ci, fr.data))
	}
	return path
}

// webTrace is a DNS lookup followed by a short HTTP exchange.
func webTrace(t *testing.T) []frame {
	return []frame{
		{0, dnsAnswer(t, "web.example", "10.0.0.2")},
		{time.Second, tcpFrame(t, "10.0.0.1", "10.0.0.2", 40001, 80)},
		{2 * time.Second, tcpFrame(t, "10.0.0.2", "10.0.0.1", 80, 40001)},
		{3 * time.Second, tcpFrame(t, "10.0.0.1", "10.0.0.2", 40001, 80)},
	}
}

// captureStdout points Stdout at w for the rest of the test.
func captureStdout(t *testing.T, w io.Writer) {
	old := Stdout
	Stdout = w
	t.Cleanup(func() { Stdout = old })
}
