package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWithWriterTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo})

	logger.Info("server started", "addr", ":8080")
	logger.Debug("suppressed below the configured level")

	out := buf.String()
	if !strings.Contains(out, "server started") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.Contains(out, "addr=:8080") {
		t.Errorf("output missing attribute: %q", out)
	}
	if strings.Contains(out, "suppressed") {
		t.Errorf("debug line leaked at info level: %q", out)
	}
}

func TestNewWithWriterJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{JSON: true})

	logger.Info("server started", "addr", ":8080")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "server started" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["addr"] != ":8080" {
		t.Errorf("addr = %v", entry["addr"])
	}
}

func TestNewNopDiscardsEverything(t *testing.T) {
	logger := NewNop()

	// Must not panic at any level.
	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")
}
