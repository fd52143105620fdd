package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{" warning ", WARN, false},
		{"error", ERROR, false},
		{"loud", INFO, true},
	}

	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormatFieldsSorted(t *testing.T) {
	got := formatFields(map[string]interface{}{"b": 2, "a": "x"})
	if got != "{a=x, b=2}" {
		t.Fatalf("formatFields = %q", got)
	}
}

func TestFileLoggingWritesJSONAndRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "findbot.log")
	if err := EnableFileLogging(path, false, 0, 0); err != nil {
		t.Fatalf("EnableFileLogging: %v", err)
	}
	prev := GetLevel()
	SetLevel(INFO)
	t.Cleanup(func() {
		DisableFileLogging()
		SetLevel(prev)
	})

	DebugCF("test", "hidden", nil)
	InfoCF("test", "visible", map[string]interface{}{"chat_id": "42"})
	DisableFileLogging()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), data)
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry.Message != "visible" || entry.Component != "test" || entry.Level != "INFO" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Fields["chat_id"] != "42" {
		t.Fatalf("missing field: %+v", entry.Fields)
	}
}

func TestRotationOnSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rot.log")
	s, err := openFileSink(path, true, 0, 0)
	if err != nil {
		t.Fatalf("openFileSink: %v", err)
	}
	defer s.close()
	s.maxBytes = 8

	s.write([]byte("0123456789\n"))
	s.write([]byte("next\n"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected current + rotated file, got %d", len(entries))
	}
	data, _ := os.ReadFile(path)
	if string(data) != "next\n" {
		t.Fatalf("current file = %q", data)
	}
}
