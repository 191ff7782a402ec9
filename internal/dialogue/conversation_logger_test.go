package dialogue

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestConversationLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(ConversationLogEvent{
		SessionID:      "sess/1",
		ConversationID: 4,
		Direction:      "inbound",
		Sender:         "participant",
		Step:           "age",
		Content:        "I am 42",
	})

	line := waitForLogLine(t, filepath.Join(dir, "sess_1.ndjson"))
	var got ConversationLogEvent
	if err := sonic.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Content != "I am 42" || got.ConversationID != 4 || got.Step != "age" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestConversationLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	logger.Log(ConversationLogEvent{SessionID: "x"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := NewConversationLogger(ConversationLogConfig{Enabled: true}, nil); err == nil {
		t.Fatal("expected error for missing dir")
	}
}

func TestControllerMirrorsMessagesToConversationLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	c := NewController(&fakeStore{}, WithConversationLogger(logger))
	s := newTestSession()

	c.Handle(context.Background(), s, "My name is Alice", "")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Log after close is dropped silently.
	logger.Log(ConversationLogEvent{SessionID: s.ID})

	data, err := os.ReadFile(filepath.Join(dir, s.ID+".ndjson"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2", len(lines))
	}
	var inbound ConversationLogEvent
	if err := sonic.Unmarshal([]byte(lines[0]), &inbound); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if inbound.Direction != "inbound" || inbound.Step != "name" {
		t.Errorf("unexpected inbound event: %+v", inbound)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
