package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"skytour/pkg/config"
)

func TestInit(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "server.log")
	narrationLog := filepath.Join(tempDir, "narration.log")

	cfg := &config.LogConfig{
		Server:    config.LogSettings{Path: serverLog, Level: "DEBUG"},
		Narration: config.LogSettings{Path: narrationLog, Level: "INFO"},
	}

	cleanup, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Debug("debug line reaches file")
	Narration("start", "poi-63", "trigger", "approaching")
	cleanup()

	server, err := os.ReadFile(serverLog)
	if err != nil {
		t.Fatalf("server log missing: %v", err)
	}
	if !strings.Contains(string(server), "debug line reaches file") {
		t.Errorf("server log = %q, want debug line", server)
	}

	narration, err := os.ReadFile(narrationLog)
	if err != nil {
		t.Fatalf("narration log missing: %v", err)
	}
	if !strings.Contains(string(narration), "poi=poi-63") {
		t.Errorf("narration log = %q, want poi attribute", narration)
	}
	if !strings.Contains(LastNarration.LastLine(), "trigger=approaching") {
		t.Errorf("LastNarration = %q", LastNarration.LastLine())
	}
}

func TestRotatePaths(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "server.log")
	if err := os.WriteFile(p, []byte("previous run"), 0o644); err != nil {
		t.Fatal(err)
	}

	rotatePaths(p, "")

	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Errorf("expected %s to be moved away", p)
	}
	old, err := os.ReadFile(p + ".old")
	if err != nil || string(old) != "previous run" {
		t.Errorf("rotated content = %q, err %v", old, err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"trace", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
