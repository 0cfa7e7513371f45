package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGameLogFileCreated(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := Game(dir, "Rival Bot!", "abc123")
	if err != nil {
		t.Fatalf("game logger: %v", err)
	}
	logger.Info("state")
	closeFn()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one game log, got %d", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "game_") || !strings.HasSuffix(name, "_Rival_Bot__abc123.log") {
		t.Fatalf("unexpected log name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "state") {
		t.Fatalf("log entry missing from file: %q", string(data))
	}
}

func TestSanitizeName(t *testing.T) {
	if got := sanitizeName("user name/1"); got != "user_name_1" {
		t.Fatalf("sanitize = %q", got)
	}
	if got := sanitizeName(""); got != "unknown" {
		t.Fatalf("sanitize empty = %q", got)
	}
}
