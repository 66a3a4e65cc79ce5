package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "demo"
entry = "main.rpl"

[vm]
trace-execution = true
gc-stress = true

[cache]
enabled = true
path = "build/cache.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if m.Project.Name != "demo" {
		t.Errorf("Project.Name = %q, want %q", m.Project.Name, "demo")
	}
	if !m.VM.TraceExecution || !m.VM.GCStress {
		t.Errorf("VM flags = %+v, want trace-execution and gc-stress set", m.VM)
	}
	if m.VM.PrintCode || m.VM.GCLog {
		t.Errorf("VM flags = %+v, want print-code and gc-log unset", m.VM)
	}
	if !m.Cache.Enabled {
		t.Error("Cache.Enabled = false, want true")
	}
	if got, want := m.CachePath(), filepath.Join(m.Dir, "build", "cache.db"); got != want {
		t.Errorf("CachePath() = %q, want %q", got, want)
	}
	if got, want := m.EntryPath(), filepath.Join(m.Dir, "main.rpl"); got != want {
		t.Errorf("EntryPath() = %q, want %q", got, want)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "bare"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := m.CachePath(), filepath.Join(m.Dir, ".ripley", "cache.db"); got != want {
		t.Errorf("CachePath() = %q, want %q", got, want)
	}
	if m.EntryPath() != "" {
		t.Errorf("EntryPath() = %q, want empty", m.EntryPath())
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load of empty dir succeeded, want error")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project\nname=")
	if _, err := Load(dir); err == nil {
		t.Error("Load of invalid TOML succeeded, want error")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[project]\nname = \"up\"\n")

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad = nil, want manifest from ancestor")
	}
	if m.Project.Name != "up" {
		t.Errorf("Project.Name = %q, want %q", m.Project.Name, "up")
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m != nil {
		t.Errorf("FindAndLoad = %+v, want nil", m)
	}
}
