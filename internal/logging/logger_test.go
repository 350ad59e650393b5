package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level   string
		wantErr bool
	}{
		{level: ""},
		{level: "debug"},
		{level: "INFO"},
		{level: " warn "},
		{level: "error"},
		{level: "verbose", wantErr: true},
	}

	for _, testCase := range cases {
		logger, err := NewLogger(testCase.level)
		if testCase.wantErr {
			if err == nil {
				t.Fatalf("NewLogger(%q) accepted an unknown level", testCase.level)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NewLogger(%q): %v", testCase.level, err)
		}
		if logger == nil {
			t.Fatalf("NewLogger(%q) returned a nil logger", testCase.level)
		}
	}
}

func TestNewLoggerDebugEnablesDebug(t *testing.T) {
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug logger must enable debug output")
	}

	logger, err = NewLogger("error")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("error logger must not enable info output")
	}
}
