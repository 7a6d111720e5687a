package telemetry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.level); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestNewLoggerOutputs(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LoggingConfig
		wantErr bool
	}{
		{"stderr default", LoggingConfig{Level: "info"}, false},
		{"stdout json", LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}, false},
		{"console with caller", LoggingConfig{Level: "info", Format: "console", EnableCaller: true}, false},
		{"unwritable file", LoggingConfig{Output: "/nonexistent-dir/app.log"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLogger(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Output: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("written to file")
}

func TestLoggerContextRoundTrip(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "info"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	ctx := logger.WithContext(context.Background())
	if got := FromContext(ctx); got != logger {
		t.Error("FromContext() did not return the embedded logger")
	}

	// A bare context still yields a usable logger.
	if got := FromContext(context.Background()); got == nil {
		t.Error("FromContext() on empty context = nil")
	}
}
