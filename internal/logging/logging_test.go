package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewWritesOnlyToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "sidenote.log")

	log := New(path, false)
	log.Info("hello from the test", zap.String("key", "value"))
	if err := log.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "hello from the test") {
		t.Errorf("log record missing from file: %s", data)
	}
	if !strings.Contains(string(data), `"key":"value"`) {
		t.Errorf("structured field missing from record: %s", data)
	}
}

func TestDebugLevel(t *testing.T) {
	dir := t.TempDir()

	infoPath := filepath.Join(dir, "info.log")
	info := New(infoPath, false)
	info.Debug("should be filtered")
	_ = info.Sync()
	if data, _ := os.ReadFile(infoPath); strings.Contains(string(data), "should be filtered") {
		t.Error("debug record written at info level")
	}

	debugPath := filepath.Join(dir, "debug.log")
	debug := New(debugPath, true)
	debug.Debug("should be kept")
	_ = debug.Sync()
	data, err := os.ReadFile(debugPath)
	if err != nil {
		t.Fatalf("debug log file not created: %v", err)
	}
	if !strings.Contains(string(data), "should be kept") {
		t.Error("debug record missing at debug level")
	}
}
