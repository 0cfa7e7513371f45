package stats

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stats.json")
	s := NewFileStore(path)
	ctx := context.Background()

	in := []Entry{entry(1), entry(2)}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 || out[0].GameID != "g0001" || out[1].GameID != "g0002" {
		t.Fatalf("round trip = %+v", out)
	}

	// No stray temp file once the rename lands.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "stats.json"))
	out, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("entries = %d, want 0", len(out))
	}
}

func TestFileStoreShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	s := NewFileStore(path)
	if err := s.Save(context.Background(), []Entry{entry(7)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"games"`) {
		t.Fatalf("document missing games key: %s", data)
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}
