package logging

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestLoggerWritesToBuffer(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelInfo, io.Discard)

	logger.Info("client connected", map[string]string{"client_id": "client-1"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != LevelInfo || entry.Message != "client connected" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Context["client_id"] != "client-1" {
		t.Fatalf("expected client_id context, got %v", entry.Context)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, io.Discard)

	logger.Info("info", nil)
	logger.Warn("warn", nil)

	entries := buffer.List()
	if len(entries) != 1 || entries[0].Level != LevelWarning {
		t.Fatalf("expected a single warning entry, got %+v", entries)
	}
}

func TestLoggerSetLevelAppliesToChildren(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelWarning, io.Discard)
	child := logger.With(map[string]string{"component": "router"})

	child.Debug("hidden", nil)
	logger.SetLevel(LevelDebug)
	child.Debug("shown", nil)

	entries := buffer.List()
	if len(entries) != 1 || entries[0].Message != "shown" {
		t.Fatalf("expected only the post-change entry, got %+v", entries)
	}
	if entries[0].Context["component"] != "router" {
		t.Fatalf("expected child context, got %v", entries[0].Context)
	}
}

func TestLoggerOutputFormat(t *testing.T) {
	var output bytes.Buffer
	logger := NewLoggerWithOutput(nil, LevelInfo, &output)

	logger.Warn("port in use", map[string]string{"port": "7777", "next_port": "7778"})

	line := output.String()
	for _, want := range []string{`level=warning`, `msg="port in use"`, `next_port="7778" port="7777"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	logger.SetLevel(LevelDebug)
	if logger.Enabled(LevelError) {
		t.Fatalf("expected nil logger to be disabled")
	}
	if logger.With(map[string]string{"a": "b"}) != nil {
		t.Fatalf("expected nil child")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": LevelDebug, " INFO ": LevelInfo, "warn": LevelWarning, "warning": LevelWarning, "error": LevelError}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %q, %v", raw, got, ok)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level to fail")
	}
}

func TestLogBufferSince(t *testing.T) {
	buffer := NewLogBuffer(10)
	logger := NewLoggerWithOutput(buffer, LevelDebug, io.Discard)
	logger.Debug("d", nil)
	logger.Error("e", nil)

	entries := buffer.Since(LevelWarning)
	if len(entries) != 1 || entries[0].Message != "e" {
		t.Fatalf("expected only the error entry, got %+v", entries)
	}
}
