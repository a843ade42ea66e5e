package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"flow-observer/src/models"
)

func TestNamedLoggerCarriesComponent(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	log := NewLogger(&models.MConfig{LogFormat: "json"}, "root")

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.Named("cvd").Info("flushed %d bars", 3)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not json: %v (%q)", err, buf.String())
	}
	if line["component"] != "cvd" {
		t.Fatalf("expected component cvd, got %v", line["component"])
	}
	if line["message"] != "flushed 3 bars" {
		t.Fatalf("unexpected message: %v", line["message"])
	}
}

func TestWithFieldsAddsFields(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	log := NewLogger(&models.MConfig{LogFormat: "json"}, "heatmap")

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithFields(Fields{"symbol": "BTCUSDT"}).Warning("gap")

	if !strings.Contains(buf.String(), `"symbol":"BTCUSDT"`) {
		t.Fatalf("symbol field missing: %s", buf.String())
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	t.Setenv("LOG_LEVEL", "info")
	log := NewLogger(nil, "test")

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.Debug("hidden")

	if buf.Len() != 0 {
		t.Fatalf("debug line should be suppressed, got %q", buf.String())
	}
	if log.IsDebug() {
		t.Fatalf("IsDebug should be false at info level")
	}
}
