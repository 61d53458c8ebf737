package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestWriter_NoPath(t *testing.T) {
	if w := (Config{}).Writer(); w != nil {
		t.Fatalf("expected nil writer without a file path")
	}
}

func TestWriter_Defaults(t *testing.T) {
	cfg := Config{File: FileConfig{Path: filepath.Join(t.TempDir(), "x.log")}}
	w := cfg.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
	_ = w.Close()
}

func TestWriter_Overrides(t *testing.T) {
	cfg := Config{File: FileConfig{Path: "x2", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}
	l := cfg.Writer().(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
}

func TestNewSlogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crthrottle.log")
	cfg := Config{Slog: SlogConfig{Level: LevelDebug}, File: FileConfig{Path: path}}
	log, closer := cfg.NewSlogger()
	log.Debug("renderer paused", "pid", 4000)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(b), "renderer paused") || !strings.Contains(string(b), "pid=4000") {
		t.Fatalf("unexpected log content: %s", b)
	}
}

func TestNewSlogger_StderrCloserIsNoop(t *testing.T) {
	_, closer := Config{}.NewSlogger()
	if closer == nil || closer.Close() != nil {
		t.Fatalf("expected a harmless closer")
	}
}

func TestNewSloggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Format: FormatJSON, Level: LevelWarn, TimeStamps: true}}
	log := cfg.NewSloggerTo(&buf)
	log.Info("hidden")
	log.Warn("signal delivery failed", "pid", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the warning, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "signal delivery failed" || rec["level"] != "WARN" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["time"]; !ok {
		t.Fatalf("expected timestamp")
	}
}

func TestNewSloggerTo_NoTimestamps(t *testing.T) {
	var buf bytes.Buffer
	Config{}.NewSloggerTo(&buf).Info("hello")
	if strings.Contains(buf.String(), "time=") {
		t.Fatalf("timestamps should be dropped: %q", buf.String())
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.With("component", "detector").Error("boom")
	out := buf.String()
	if !strings.Contains(out, "\033[31mERROR\033[0m") {
		t.Fatalf("missing colored level: %q", out)
	}
	if strings.Contains(out, "level=") || strings.Contains(out, "time=") {
		t.Fatalf("level/time attributes should be suppressed: %q", out)
	}
	if !strings.Contains(out, "component=detector") {
		t.Fatalf("derived attrs lost: %q", out)
	}
}

func TestParseLevelAndValidate(t *testing.T) {
	for in, want := range map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warning": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if err := (Config{Slog: SlogConfig{Format: "xml"}}).Validate(); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if err := (Config{Slog: SlogConfig{Format: "JSON", Level: "debug"}}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
