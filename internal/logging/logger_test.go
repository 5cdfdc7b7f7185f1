package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{
			name: "debug level",
			config: &Config{
				Level:  LevelDebug,
				Output: &bytes.Buffer{},
			},
		},
		{
			name: "nil output falls back to stderr",
			config: &Config{
				Level: LevelInfo,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("dropped debug")
	logger.Info("dropped info")
	logger.Warn("kept warn")
	logger.Error("kept error")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("low-level messages leaked through filter: %q", out)
	}
	if !strings.Contains(out, "[WARN] kept warn") {
		t.Errorf("warn message missing from output: %q", out)
	}
	if !strings.Contains(out, "[ERROR] kept error") {
		t.Errorf("error message missing from output: %q", out)
	}
}

func TestKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("task dispatched", "id", 7, "slot", 2)

	out := buf.String()
	if !strings.Contains(out, "id=7") || !strings.Contains(out, "slot=2") {
		t.Errorf("key=value args not formatted: %q", out)
	}
}

func TestFormattedVariants(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Debugf("slot %d freed", 3)
	logger.Errorf("bad frame of %d bytes", 9)

	out := buf.String()
	if !strings.Contains(out, "slot 3 freed") {
		t.Errorf("Debugf output missing: %q", out)
	}
	if !strings.Contains(out, "bad frame of 9 bytes") {
		t.Errorf("Errorf output missing: %q", out)
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelError, Output: &buf})

	logger.Info("before")
	logger.SetLevel(LevelDebug)
	logger.Info("after")

	out := buf.String()
	if strings.Contains(out, "before") {
		t.Errorf("message below level was emitted: %q", out)
	}
	if !strings.Contains(out, "after") {
		t.Errorf("message after SetLevel missing: %q", out)
	}
}
