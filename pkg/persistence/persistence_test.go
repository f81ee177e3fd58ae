package persistence

import (
	"os"
	"path/filepath"
	"testing"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	svc := NewJSONFileService(dir)
	store := svc.NewStore("bot1", "state")

	if err := store.Save(payload{Name: "xibot", Count: 3}); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	var got payload
	if err := store.Load(&got); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got.Name != "xibot" || got.Count != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadNotExists(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())
	store := svc.NewStore("bot1", "state")

	var got payload
	if err := store.Load(&got); err != ErrNotExists {
		t.Fatalf("expected ErrNotExists, got %v", err)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	svc := NewJSONFileService(dir)
	store := svc.NewStore("bot1", "state")

	if err := store.Save(payload{Name: "x"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatalf("glob error: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("temp file left behind: %v", matches)
	}
}

func TestKeySanitized(t *testing.T) {
	dir := t.TempDir()
	svc := NewJSONFileService(dir)
	store := svc.NewStore("bot/1", "state:main")

	if err := store.Save(payload{}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single file, got %d", len(entries))
	}
	name := entries[0].Name()
	for _, r := range name {
		if r == '/' || r == ':' {
			t.Fatalf("unsafe char in file name: %s", name)
		}
	}
}

func TestMemoryServiceIsolation(t *testing.T) {
	svc := NewMemoryService()
	s1 := svc.NewStore("bot1", "state")
	s2 := svc.NewStore("bot2", "state")

	if err := s1.Save(payload{Name: "one"}); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	var got payload
	if err := s2.Load(&got); err != ErrNotExists {
		t.Fatalf("bot2 store should be empty, got %v", err)
	}
	if err := s1.Load(&got); err != nil || got.Name != "one" {
		t.Fatalf("bot1 round trip failed: %v %+v", err, got)
	}
}
