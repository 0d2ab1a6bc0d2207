package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestProjectDirStripsExtension(t *testing.T) {
	got := ProjectDir("/ws", "/samples/notepad.exe")
	want := filepath.Join("/ws", "projects", "notepad")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestOpenCreatesLayout(t *testing.T) {
	root := t.TempDir()
	p, err := Open(root, "/samples/target.exe", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for _, d := range []string{p.SourceDir, p.BuildDir, p.ReportsDir} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist", d)
		}
	}
}

func TestOpenRefusesNonEmptyWithoutForce(t *testing.T) {
	root := t.TempDir()
	if _, err := Open(root, "/samples/target.exe", false); err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ProjectDir(root, "/samples/target.exe"), "source", "marker.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writing marker: %v", err)
	}
	if _, err := Open(root, "/samples/target.exe", false); err == nil {
		t.Fatal("expected Open to refuse a non-empty project without -force")
	}
	if _, err := Open(root, "/samples/target.exe", true); err != nil {
		t.Fatalf("Open with force should succeed: %v", err)
	}
}

func TestWriteFileAtomicProducesExactContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	if err := WriteFileAtomic(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q want %q", data, "hello")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, found %d entries", len(entries))
	}
}

func TestRootHonorsEnvOverride(t *testing.T) {
	t.Setenv("WORKSPACE", "/tmp/custom-ws")
	if got := Root(); got != "/tmp/custom-ws" {
		t.Fatalf("got %q want /tmp/custom-ws", got)
	}
}
