package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"alerteval/internal/config"
)

func TestNewFileSinkWritesJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alerteval.log")
	logger, closeFn, err := New(config.LogConfig{
		File: config.LogSinkConfig{Enabled: true, Level: "info", Format: "json", Path: path, MaxSizeMB: 1},
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("alert event", "signal", "BAD", "alert_id", 42)
	closeFn()

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(body)
	if strings.Contains(text, "hidden") {
		t.Fatalf("debug line must be filtered: %s", text)
	}
	if !strings.Contains(text, `"signal":"BAD"`) || !strings.Contains(text, `"alert_id":42`) {
		t.Fatalf("unexpected log body %s", text)
	}
}

func TestNewRejectsInvalidSinks(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  config.LogConfig
	}{
		{name: "no sinks", cfg: config.LogConfig{}},
		{name: "bad level", cfg: config.LogConfig{Console: config.LogSinkConfig{Enabled: true, Level: "loud", Format: "line"}}},
		{name: "bad console format", cfg: config.LogConfig{Console: config.LogSinkConfig{Enabled: true, Level: "info", Format: "xml"}}},
		{name: "file without path", cfg: config.LogConfig{File: config.LogSinkConfig{Enabled: true, Level: "info", Format: "json"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := New(tc.cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestConsoleLineColorsSignalsAndIdentity(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler, err := consoleHandler(config.LogSinkConfig{Level: "debug", Format: "line"}, &buf)
	if err != nil {
		t.Fatalf("console handler: %v", err)
	}
	slog.New(handler).Info("alert event", "alert", "cpu", "signal", "BAD", "origin", "GOOD", "value", 99)

	out := buf.String()
	if !strings.HasPrefix(out, ansiBlue+"level=INFO") {
		t.Fatalf("line must start with level color: %q", out)
	}
	for _, want := range []string{ansiRed + "BAD" + ansiReset, ansiGreen + "GOOD" + ansiReset, ansiCyan + "cpu" + ansiReset} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("console line must drop time: %q", out)
	}
}

func TestColorWriterPassesForeignLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writer := &colorWriter{dst: &buf}
	if _, err := writer.Write([]byte("plain line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "plain line\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestMultiHandlerFansOutByLevel(t *testing.T) {
	t.Parallel()

	var debugBuf, errorBuf bytes.Buffer
	logger := slog.New(multiHandler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	}).With("service", "alerteval")

	logger.Debug("cycle finished")
	logger.Error("publish failed")

	if !strings.Contains(debugBuf.String(), "cycle finished") || !strings.Contains(debugBuf.String(), "publish failed") {
		t.Fatalf("debug sink must see both lines: %q", debugBuf.String())
	}
	if strings.Contains(errorBuf.String(), "cycle finished") || !strings.Contains(errorBuf.String(), "service=alerteval") {
		t.Fatalf("error sink must only see errors with attrs: %q", errorBuf.String())
	}
}
