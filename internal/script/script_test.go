package script

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteRoundTrip(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}

	source := "print('hi')\n# second line\n"
	s, err := w.Write(source)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != source {
		t.Errorf("round trip mismatch: got %q, want %q", data, source)
	}

	got, err := w.Read(s.Name())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != source {
		t.Errorf("Read mismatch: got %q, want %q", got, source)
	}
}

func TestWriteNaming(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}

	s, err := w.Write("print(1)")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	name := s.Name()
	if !strings.HasPrefix(name, "script_") || !strings.HasSuffix(name, ".py") {
		t.Errorf("unexpected script name: %s", name)
	}
}

func TestWriteSameSecondNoClobber(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}

	a, err := w.Write("print('a')")
	if err != nil {
		t.Fatalf("Write a: %v", err)
	}
	b, err := w.Write("print('b')")
	if err != nil {
		t.Fatalf("Write b: %v", err)
	}

	if a.Path == b.Path {
		t.Fatalf("second write clobbered first: %s", a.Path)
	}
	got, _ := w.Read(a.Name())
	if got != "print('a')" {
		t.Errorf("first script content changed: %q", got)
	}
}

func TestReadRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWorkspace(filepath.Join(dir, "scripts"))
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}

	for _, name := range []string{"../secret.py", "a/b.py", ".hidden.py"} {
		if _, err := w.Read(name); err == nil {
			t.Errorf("Read(%q) should fail", name)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWorkspace(dir)
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}

	for _, name := range []string{"script_20240101_000000.py", "script_20250101_000000.py", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := w.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Filename != "script_20250101_000000.py" {
		t.Errorf("expected newest first, got %s", entries[0].Filename)
	}
	if entries[0].Timestamp != "20250101_000000" {
		t.Errorf("unexpected timestamp: %s", entries[0].Timestamp)
	}
}
