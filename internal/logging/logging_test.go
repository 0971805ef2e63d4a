package logging

import (
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if logger == nil {
				t.Error("NewLogger() returned nil logger")
			}
		})
	}
}

func TestLoggerFieldHelpers(t *testing.T) {
	logger, err := NewDefaultLogger()
	if err != nil {
		t.Fatalf("NewDefaultLogger() error = %v", err)
	}

	derived := logger.WithStreamID("abc123").WithChannelID("bbc-one").WithComponent("checker")
	if derived == nil {
		t.Fatal("field helpers returned nil logger")
	}
	if derived == logger {
		t.Error("field helpers should return a new logger instance")
	}

	// Should not panic
	derived.LogProbeResult("abc123", "working", "", 120)
	derived.LogSweepComplete(10, 7, 1, 2, 0)
}
