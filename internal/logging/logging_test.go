package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fry-engine/internal/config"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"info":  zapcore.InfoLevel,
		"":      zapcore.InfoLevel,
		"noise": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("level %q: expected %v, got %v", in, want, got)
		}
	}
}

func TestNewWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	log := New(config.LoggingConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	log.Info("breaker tripped")
	_ = log.Sync()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "breaker tripped") {
		t.Fatalf("expected log line in file, got %q", string(data))
	}
}
