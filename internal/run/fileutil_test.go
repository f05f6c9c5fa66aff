package run

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	if err := WriteAtomic(path, []byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("unexpected content: %q", data)
	}

	// Overwrite works and leaves no temp files behind.
	if err := WriteAtomic(path, []byte("world")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestWriteReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.json")
	in := Record{ID: "1-ab", Pipeline: "p", Status: StatusRunning}
	if err := WriteJSON(path, &in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out Record
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ID != "1-ab" || out.Status != StatusRunning {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestReadJSONMissing(t *testing.T) {
	var out Record
	err := ReadJSON(filepath.Join(t.TempDir(), "none.json"), &out)
	if !os.IsNotExist(err) {
		t.Errorf("expected IsNotExist error, got %v", err)
	}
}
