package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		if buf.Len() == 0 {
			t.Fatal("Info message should be logged at Info level")
		}

		entry := decodeLogLine(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Error("error message")
		if buf.Len() == 0 {
			t.Error("Error message should be logged at Info level")
		}
	})
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("key", "value").Info("message")

	entry := decodeLogLine(t, &buf)
	if entry["key"] != "value" {
		t.Errorf("Expected field 'key' to be 'value', got %v", entry["key"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"key1": "value1",
		"key2": 42,
	}).Info("message")

	entry := decodeLogLine(t, &buf)
	if entry["key1"] != "value1" {
		t.Errorf("Expected field 'key1' to be 'value1', got %v", entry["key1"])
	}
	if entry["key2"] != float64(42) {
		t.Errorf("Expected field 'key2' to be 42, got %v", entry["key2"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("with error", func(t *testing.T) {
		buf.Reset()
		logger.WithError(errors.New("boom")).Error("failed")

		entry := decodeLogLine(t, &buf)
		if entry["error"] != "boom" {
			t.Errorf("Expected error field 'boom', got %v", entry["error"])
		}
	})

	t.Run("nil error is a no-op", func(t *testing.T) {
		buf.Reset()
		logger.WithError(nil).Info("fine")

		entry := decodeLogLine(t, &buf)
		if _, ok := entry["error"]; ok {
			t.Error("Expected no error field for nil error")
		}
	})
}

func TestLogger_WithProvider(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithProvider("corp-okta").Info("login started")

	entry := decodeLogLine(t, &buf)
	if entry["provider"] != "corp-okta" {
		t.Errorf("Expected provider 'corp-okta', got %v", entry["provider"])
	}
}

func TestLogger_Formatted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.Infof("processed %d logins", 3)

	entry := decodeLogLine(t, &buf)
	if entry["msg"] != "processed 3 logins" {
		t.Errorf("Expected formatted message, got %v", entry["msg"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{" Error ", ErrorLevel},
		{"", InfoLevel},
		{"nonsense", InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	t.Run("request ID round trip", func(t *testing.T) {
		ctx := WithRequestID(ctx, "req-1")
		if got := GetRequestID(ctx); got != "req-1" {
			t.Errorf("Expected 'req-1', got %q", got)
		}
	})

	t.Run("account ID round trip", func(t *testing.T) {
		ctx := WithAccountID(ctx, "acct-1")
		if got := GetAccountID(ctx); got != "acct-1" {
			t.Errorf("Expected 'acct-1', got %q", got)
		}
	})

	t.Run("provider round trip", func(t *testing.T) {
		ctx := WithProviderName(ctx, "corp-okta")
		if got := GetProviderName(ctx); got != "corp-okta" {
			t.Errorf("Expected 'corp-okta', got %q", got)
		}
	})

	t.Run("missing values are empty", func(t *testing.T) {
		if GetRequestID(ctx) != "" || GetAccountID(ctx) != "" || GetProviderName(ctx) != "" {
			t.Error("Expected empty values from bare context")
		}
	})
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithAccountID(ctx, "acct-1")
	ctx = WithProviderName(ctx, "corp-okta")

	FromContext(ctx).Info("callback processed")

	entry := decodeLogLine(t, &buf)
	if entry["request_id"] != "req-1" {
		t.Errorf("Expected request_id 'req-1', got %v", entry["request_id"])
	}
	if entry["account_id"] != "acct-1" {
		t.Errorf("Expected account_id 'acct-1', got %v", entry["account_id"])
	}
	if entry["provider"] != "corp-okta" {
		t.Errorf("Expected provider 'corp-okta', got %v", entry["provider"])
	}
}
