package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestFileLoggerWritesThroughRotator(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cetty.log")
	logger := NewFileLogger(file, zapcore.InfoLevel, true)
	logger.Sugar().Infof("event-loop(%d) started", 3)
	logger.Sugar().Debugf("filtered out")
	_ = logger.Sync()

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "event-loop(3) started") {
		t.Errorf("Expected info line in log file, got %q", data)
	}
	if strings.Contains(string(data), "filtered out") {
		t.Errorf("Expected debug line to be filtered, got %q", data)
	}
}

func TestDefaultLoggerIsSet(t *testing.T) {
	if DefaultLogger == nil {
		t.Fatal("Expected DefaultLogger to be initialised")
	}
	DefaultLogger.Debugf("logging %s", "works")
	Cleanup()
}
