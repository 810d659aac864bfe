package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestFileWriter_NoDir(t *testing.T) {
	cfg := Config{}
	if w := cfg.FileWriter(); w != nil {
		t.Fatalf("expected nil writer when Dir is empty")
	}
}

func TestFileWriter_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir}}
	w := cfg.FileWriter()
	defer closeIf(w)
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
	if l.Filename != filepath.Join(dir, DefaultFilename) {
		t.Fatalf("unexpected filename %s", l.Filename)
	}
}

func TestFileWriter_Overrides(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir, Filename: "x.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}
	w := cfg.FileWriter()
	defer closeIf(w)
	l := w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
}

func TestNewSlogger_TeesIntoFile(t *testing.T) {
	dir := t.TempDir()
	var term bytes.Buffer
	cfg := Config{
		Slog: SlogConfig{Level: LevelDebug, Format: FormatText, Color: true},
		File: FileConfig{Dir: dir},
	}
	log := cfg.NewSloggerTo(&term)
	log.Info("scanner started", "names", "ff7.exe")

	if !strings.Contains(term.String(), "scanner started") {
		t.Fatalf("terminal output missing message: %q", term.String())
	}
	if !strings.Contains(term.String(), "\033[32m") {
		t.Fatalf("expected green level color on terminal: %q", term.String())
	}
	b, err := os.ReadFile(filepath.Join(dir, DefaultFilename))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if strings.Contains(string(b), "\033[") {
		t.Fatalf("file output must not contain ANSI codes: %q", string(b))
	}
	if !strings.Contains(string(b), "names=ff7.exe") {
		t.Fatalf("file output missing attrs: %q", string(b))
	}
}

func TestNewSlogger_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Level: LevelWarn, Format: FormatJSON}}
	log := cfg.NewSloggerTo(&buf)
	log.Info("hidden")
	log.Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("expected json output, got %q", out)
	}
	if strings.Contains(out, `"time"`) {
		t.Fatalf("timestamps disabled but present: %q", out)
	}
}

func TestColorHandlerWithAttrsKeepsColor(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{}, true)
	slog.New(h).With("component", "updater").Error("boom")
	if !strings.Contains(buf.String(), "\033[31m") || !strings.Contains(buf.String(), "component=updater") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
