package logging_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ysasiwat/syncstage/pkg/syncstage/logging"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	return string(content)
}

func mustClose(t *testing.T) {
	t.Helper()
	if err := logging.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

// Tests in this file share the package-level logger state, so none of them
// run in parallel.

func TestInit(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     logging.Config
		wantErr bool
	}{
		{name: "defaults", cfg: logging.Config{Level: "info", Path: filepath.Join(dir, "a.log")}},
		{name: "json format", cfg: logging.Config{Level: "debug", Format: "json", Path: filepath.Join(dir, "b.log")}},
		{name: "component overrides", cfg: logging.Config{
			Path:       filepath.Join(dir, "c.log"),
			Components: map[string]string{"scanner": "debug", "apply": "warn"},
		}},
		{name: "invalid level", cfg: logging.Config{Level: "loud", Path: filepath.Join(dir, "d.log")}, wantErr: true},
		{name: "invalid format", cfg: logging.Config{Format: "xml", Path: filepath.Join(dir, "e.log")}, wantErr: true},
		{name: "invalid component level", cfg: logging.Config{
			Path:       filepath.Join(dir, "f.log"),
			Components: map[string]string{"hasher": "nope"},
		}, wantErr: true},
		{name: "invalid console level", cfg: logging.Config{ConsoleLevel: "nope", Path: filepath.Join(dir, "g.log")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := logging.Init(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				mustClose(t)
			}
		})
	}
}

func TestLoggerBeforeInitIsSilentThenWrites(t *testing.T) {
	logger := logging.Get("early")
	logger.Info("dropped before init")

	logPath := filepath.Join(t.TempDir(), "early.log")
	if err := logging.Init(logging.Config{Level: "info", Path: logPath}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	logger.Info("written after init", "key", "value")
	mustClose(t)

	content := readLog(t, logPath)
	if strings.Contains(content, "dropped before init") {
		t.Error("message logged before Init should be discarded")
	}
	if !strings.Contains(content, "written after init") || !strings.Contains(content, "key=value") {
		t.Errorf("cached logger did not pick up Init, got: %s", content)
	}
}

func TestLogLevels(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "levels.log")
	if err := logging.Init(logging.Config{Level: "warn", Path: logPath}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	logger := logging.Get("levels")
	logger.Debug("debug should not appear")
	logger.Info("info should not appear")
	logger.Warn("warn should appear")
	logger.Error("error should appear")
	mustClose(t)

	content := readLog(t, logPath)
	for _, absent := range []string{"debug should not appear", "info should not appear"} {
		if strings.Contains(content, absent) {
			t.Errorf("%q should be filtered at warn", absent)
		}
	}
	for _, present := range []string{"warn should appear", "error should appear"} {
		if !strings.Contains(content, present) {
			t.Errorf("%q missing", present)
		}
	}
}

func TestComponentLevelOverride(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "component.log")
	err := logging.Init(logging.Config{
		Level:      "error",
		Path:       logPath,
		Components: map[string]string{"verbose": "debug"},
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	logging.Get("normal").Info("normal info should not appear")
	logging.Get("verbose").Info("verbose info should appear")
	mustClose(t)

	content := readLog(t, logPath)
	if strings.Contains(content, "normal info should not appear") {
		t.Error("normal component should log at error only")
	}
	if !strings.Contains(content, "verbose info should appear") {
		t.Error("verbose component should log at debug")
	}
}

func TestWithAddsContext(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "with.log")
	if err := logging.Init(logging.Config{Path: logPath}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	base := logging.Get("apply")
	scoped := base.With("run", "r1")
	scoped.Info("scoped message", "action", "delete")
	base.Info("plain message")
	mustClose(t)

	content := readLog(t, logPath)
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		switch {
		case strings.Contains(line, "scoped message"):
			if !strings.Contains(line, "run=r1") || !strings.Contains(line, "action=delete") {
				t.Errorf("scoped line missing context: %s", line)
			}
		case strings.Contains(line, "plain message"):
			if strings.Contains(line, "run=r1") {
				t.Errorf("With leaked into parent logger: %s", line)
			}
		}
	}
	if scoped.Component() != "apply" {
		t.Errorf("Component() = %q", scoped.Component())
	}
}

func TestJSONFormat(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	if err := logging.Init(logging.Config{Format: "json", Path: logPath}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	logging.Get("hasher").Info("hashed", "bytes", 42)
	mustClose(t)

	var entry map[string]any
	line := strings.TrimSpace(readLog(t, logPath))
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, line)
	}
	if entry["msg"] != "hashed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if prefix, _ := entry["prefix"].(string); !strings.HasPrefix(prefix, "hasher") {
		t.Errorf("prefix = %v", entry["prefix"])
	}
}

func TestConsoleOutput(t *testing.T) {
	var console bytes.Buffer
	err := logging.Init(logging.Config{
		Level:        "debug",
		Path:         filepath.Join(t.TempDir(), "console.log"),
		ConsoleLevel: "warn",
		Console:      &console,
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	logger := logging.Get("cli")
	logger.Info("file only")
	logger.Warn("both")
	mustClose(t)

	out := console.String()
	if strings.Contains(out, "file only") {
		t.Error("info should not reach a warn console")
	}
	if !strings.Contains(out, "both") {
		t.Error("warn should reach the console")
	}
}

func TestCloseSilencesLoggers(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "closed.log")
	if err := logging.Init(logging.Config{Path: logPath}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	logger := logging.Get("closer")
	mustClose(t)
	logger.Error("after close")

	if strings.Contains(readLog(t, logPath), "after close") {
		t.Error("logger wrote after Close")
	}
	if err := logging.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")
	if err := logging.Init(logging.Config{Level: "debug", Path: logPath}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	const goroutines, writes = 10, 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger := logging.Get("worker")
			for j := 0; j < writes; j++ {
				logger.Debug("tick", "worker", id, "n", j)
			}
		}(i)
	}
	wg.Wait()
	mustClose(t)

	lines := strings.Split(strings.TrimSpace(readLog(t, logPath)), "\n")
	if len(lines) != goroutines*writes {
		t.Errorf("expected %d lines, got %d", goroutines*writes, len(lines))
	}
}

func TestDefaultPath(t *testing.T) {
	path := logging.DefaultLogPath()
	if !strings.HasSuffix(path, filepath.Join("syncstage", "syncstage.log")) {
		t.Errorf("DefaultLogPath() = %q", path)
	}
	if cfg := logging.DefaultConfig(); cfg.Path != path || cfg.Level != "info" {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logging.Level
		wantErr bool
	}{
		{"debug", logging.LevelDebug, false},
		{"INFO", logging.LevelInfo, false},
		{"", logging.LevelInfo, false},
		{"warning", logging.LevelWarn, false},
		{"error", logging.LevelError, false},
		{"trace", logging.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := logging.ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if tt.wantErr && !errors.Is(err, logging.ErrInvalidLevel) {
				t.Errorf("error should wrap ErrInvalidLevel: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if got.String() == "unknown" {
				t.Errorf("String() unknown for %v", got)
			}
		})
	}
}
