package logging

import (
	"errors"
	"net"
	"strings"
	"testing"
)

func TestDefaultSyslogConfig(t *testing.T) {
	cfg := DefaultSyslogConfig()

	if cfg.Enabled {
		t.Error("Default should be disabled")
	}
	if cfg.Port != 514 {
		t.Errorf("Expected port 514, got %d", cfg.Port)
	}
	if cfg.Protocol != "udp" {
		t.Errorf("Expected protocol udp, got %s", cfg.Protocol)
	}
	if cfg.Tag != "flowmeta" {
		t.Errorf("Expected tag flowmeta, got %s", cfg.Tag)
	}
	if cfg.Facility != 1 {
		t.Errorf("Expected facility 1, got %d", cfg.Facility)
	}
}

func TestNewSyslogWriter_Validation(t *testing.T) {
	if _, err := NewSyslogWriter(SyslogConfig{Enabled: true}); err == nil {
		t.Error("Expected error for missing host")
	}
	if _, err := NewSyslogWriter(SyslogConfig{Host: "127.0.0.1", Protocol: "sctp"}); err == nil {
		t.Error("Expected error for unsupported protocol")
	}
}

func TestSyslogWriter_Write(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	var dialed string
	w, err := newSyslogWriter(SyslogConfig{Host: "loghost", Facility: 3}, func(network, addr string) (net.Conn, error) {
		dialed = network + "://" + addr
		return client, nil
	})
	if err != nil {
		t.Fatalf("newSyslogWriter: %v", err)
	}
	defer w.Close()

	if dialed != "udp://loghost:514" {
		t.Errorf("dialed %q, want udp://loghost:514", dialed)
	}

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 512)
		n, _ := server.Read(buf)
		got <- string(buf[:n])
	}()

	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	msg := <-got
	// facility 3 * 8 + informational
	if !strings.HasPrefix(msg, "<30>") {
		t.Errorf("priority prefix wrong: %q", msg)
	}
	if !strings.HasSuffix(msg, "flowmeta: hello") {
		t.Errorf("tag/message wrong: %q", msg)
	}
}

func TestSyslogWriter_DialFailure(t *testing.T) {
	_, err := newSyslogWriter(SyslogConfig{Host: "loghost"}, func(string, string) (net.Conn, error) {
		return nil, errors.New("refused")
	})
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestSyslogWriter_Closed(t *testing.T) {
	client, server := net.Pipe()
	server.Close()
	w, err := newSyslogWriter(SyslogConfig{Host: "loghost"}, func(string, string) (net.Conn, error) {
		return client, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := w.Write([]byte("x")); err == nil {
		t.Error("Write after Close should fail")
	}
}
