package logging

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"grimm.is/flowmeta/internal/brand"
)

// SyslogConfig holds remote syslog configuration.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int    // default 514
	Protocol string // udp or tcp, default udp
	Tag      string
	Facility int // default 1 (user)
}

// DefaultSyslogConfig returns sensible defaults.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Port:     514,
		Protocol: "udp",
		Tag:      brand.Name,
		Facility: 1,
	}
}

// SyslogWriter implements io.Writer and ships each write to a remote
// syslog server as one RFC 3164 message.
type SyslogWriter struct {
	mu       sync.Mutex
	conn     net.Conn
	config   SyslogConfig
	hostname string
	dial     func(network, addr string) (net.Conn, error)
}

// NewSyslogWriter creates a new syslog writer.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	return newSyslogWriter(cfg, func(network, addr string) (net.Conn, error) {
		return net.DialTimeout(network, addr, 5*time.Second)
	})
}

func newSyslogWriter(cfg SyslogConfig, dial func(network, addr string) (net.Conn, error)) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("syslog host is required")
	}
	def := DefaultSyslogConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Protocol == "" {
		cfg.Protocol = def.Protocol
	}
	if cfg.Protocol != "udp" && cfg.Protocol != "tcp" {
		return nil, fmt.Errorf("unsupported syslog protocol %q", cfg.Protocol)
	}
	if cfg.Tag == "" {
		cfg.Tag = def.Tag
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = brand.Name
	}

	w := &SyslogWriter{config: cfg, hostname: hostname, dial: dial}
	conn, err := dial(cfg.Protocol, w.addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog server %s: %w", w.addr(), err)
	}
	w.conn = conn
	return w, nil
}

func (w *SyslogWriter) addr() string {
	return net.JoinHostPort(w.config.Host, fmt.Sprint(w.config.Port))
}

// Write implements io.Writer. Severity is fixed at informational; the
// level is already part of the formatted line.
func (w *SyslogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return 0, fmt.Errorf("syslog connection closed")
	}

	priority := w.config.Facility*8 + 6
	msg := fmt.Sprintf("<%d>%s %s %s: %s", priority, time.Now().Format(time.Stamp), w.hostname, w.config.Tag, p)

	if _, err := w.conn.Write([]byte(msg)); err != nil {
		w.reconnect()
		return 0, err
	}
	return len(p), nil
}

// reconnect drops the current connection and tries once to dial again.
// Errors go to stderr because the logger is the thing that's broken.
func (w *SyslogWriter) reconnect() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	conn, err := w.dial(w.config.Protocol, w.addr())
	if err != nil {
		fmt.Fprintf(os.Stderr, "syslog: reconnect to %s failed: %v\n", w.addr(), err)
		return
	}
	w.conn = conn
}

// Close closes the syslog connection.
func (w *SyslogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

// MultiWriter fans log output out to several writers (console + syslog).
func MultiWriter(writers ...io.Writer) io.Writer {
	return io.MultiWriter(writers...)
}
