package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf, JSON: true})
	if logger == nil {
		t.Fatal("New logger should not be nil")
	}

	t.Run("Levels", func(t *testing.T) {
		for _, emit := range []struct {
			msg string
			fn  func(string, ...any)
		}{
			{"debug msg", logger.Debug},
			{"info msg", logger.Info},
			{"warn msg", logger.Warn},
			{"error msg", logger.Error},
		} {
			buf.Reset()
			emit.fn(emit.msg)
			if !strings.Contains(buf.String(), emit.msg) {
				t.Errorf("%q not logged", emit.msg)
			}
		}
	})

	t.Run("DynamicLevel", func(t *testing.T) {
		logger.SetLevel(LevelError)
		defer logger.SetLevel(LevelDebug)
		if logger.GetLevel() != LevelError {
			t.Error("SetLevel failed")
		}

		buf.Reset()
		logger.Info("should not appear")
		if buf.Len() > 0 {
			t.Error("Logged info message when level was Error")
		}
	})

	t.Run("ChildSharesLevel", func(t *testing.T) {
		child := logger.WithComponent("flowtable")
		logger.SetLevel(LevelWarn)
		defer logger.SetLevel(LevelDebug)
		if child.GetLevel() != LevelWarn {
			t.Errorf("child level = %v, want %v", child.GetLevel(), LevelWarn)
		}
	})

	t.Run("WithComponent", func(t *testing.T) {
		buf.Reset()
		logger.WithComponent("test-comp").Info("msg")
		if !strings.Contains(buf.String(), "test-comp") {
			t.Error("WithComponent missing component field")
		}
	})

	t.Run("WithFields", func(t *testing.T) {
		buf.Reset()
		logger.WithFields(map[string]any{"foo": "bar"}).Info("msg")
		if !strings.Contains(buf.String(), `"foo":"bar"`) {
			t.Errorf("WithFields missing fields: %s", buf.String())
		}
	})

	t.Run("ErrorCode", func(t *testing.T) {
		buf.Reset()
		logger.LogAttrs(context.Background(), LevelError, "bad ethertype", Code("E1000012"))
		var data map[string]any
		if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
			t.Fatalf("Failed to parse JSON log: %v", err)
		}
		if data[KeyErrorCode] != "E1000012" {
			t.Errorf("error_code = %v", data[KeyErrorCode])
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDefaultLogger(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default logger is nil")
	}
	prev := Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	SetDefault(New(cfg))

	WithComponent("comp").Info("comp msg")
	if !strings.Contains(buf.String(), "comp: comp msg") {
		t.Errorf("default logger output = %q", buf.String())
	}
}

func TestConsoleHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf})

	l.WithComponent("AddrSpace").Warn("no match", "value", "10.0.0.1-", "note", "two words")
	line := buf.String()

	for _, want := range []string{
		"flowmeta[",
		"[warn] addrspace: no match",
		"value=10.0.0.1-",
		`note="two words"`,
	} {
		if !strings.Contains(line, want) {
			t.Errorf("console line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "component=") {
		t.Errorf("component should be promoted to the header: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Error("console line should end with newline")
	}
}

func TestConsoleHandlerGroup(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf})
	l.WithGroup("flow").Info("touched", "ref", 7)
	if !strings.Contains(buf.String(), "flow.ref=7") {
		t.Errorf("grouped key missing: %q", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing")
	if l.Enabled(context.Background(), LevelError) {
		t.Error("Discard logger should not enable error level")
	}
}
