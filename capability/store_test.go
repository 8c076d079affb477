package capability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeCapDir(t *testing.T, root, id, summary, binary string) string {
	t.Helper()
	dir := filepath.Join(root, crateDirName, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	doc := metaDoc{ID: id, Summary: summary, Binary: binary}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFileName), data, 0o644); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	// Touch the binary so BinaryPath resolves to something that exists.
	if err := os.WriteFile(filepath.Join(dir, binary), []byte("\x00asm"), 0o644); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	return dir
}

func TestLoad_MissingCratesDirIsEmptyCatalog(t *testing.T) {
	root := t.TempDir()
	cat, err := Load(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat.Len() != 0 {
		t.Errorf("got %d capabilities, want 0", cat.Len())
	}
}

func TestLoad_SkipsDirWithoutMeta(t *testing.T) {
	root := t.TempDir()
	writeCapDir(t, root, "echo", "echoes its input", "echo.wasm")
	if err := os.MkdirAll(filepath.Join(root, crateDirName, "stray"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cat, err := Load(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cat.Len() != 1 {
		t.Fatalf("got %d capabilities, want 1", cat.Len())
	}
	if _, ok := cat.Get("echo"); !ok {
		t.Error("expected echo capability to be loaded")
	}
}

func TestLoad_MalformedMetaIsFatal(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, crateDirName, "broken")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write meta: %v", err)
	}

	if _, err := Load(root); err == nil {
		t.Error("expected error for malformed meta.json")
	}
}

func TestLoad_DuplicateIDIsFatal(t *testing.T) {
	root := t.TempDir()
	writeCapDir(t, root, "echo", "first", "echo.wasm")
	// Second directory declares the same id in its meta.json.
	dir := filepath.Join(root, crateDirName, "echo-2")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	doc := metaDoc{ID: "echo", Summary: "second", Binary: "echo.wasm"}
	data, _ := json.Marshal(doc)
	if err := os.WriteFile(filepath.Join(dir, metaFileName), data, 0o644); err != nil {
		t.Fatalf("write meta: %v", err)
	}

	if _, err := Load(root); err == nil {
		t.Error("expected duplicate id error")
	}
}

func TestScaffoldThenLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeCapDir(t, root, "add", "adds two integers", "add.wasm")

	cat, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cap, ok := cat.Get("add")
	if !ok {
		t.Fatal("expected add capability")
	}
	if cap.Summary != "adds two integers" || cap.Binary != "add.wasm" {
		t.Errorf("got %+v, mismatched fields after round-trip", cap)
	}
	if !cap.IsActive() {
		t.Error("expected newly-loaded capability to default to active")
	}
}

func TestMarkDeprecated_Idempotent(t *testing.T) {
	root := t.TempDir()
	writeCapDir(t, root, "broken", "traps on bad input", "broken.wasm")
	cat, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := cat.MarkDeprecated("broken", "two consecutive execution failures"); err != nil {
		t.Fatalf("first mark deprecated: %v", err)
	}
	if err := cat.MarkDeprecated("broken", "two consecutive execution failures"); err != nil {
		t.Fatalf("second mark deprecated: %v", err)
	}

	cap, _ := cat.Get("broken")
	if cap.Status != StatusDeprecated {
		t.Errorf("got status %q, want %q", cap.Status, StatusDeprecated)
	}

	// Reload from disk to confirm the write was persisted.
	reloaded, err := Load(root)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	rc, _ := reloaded.Get("broken")
	if rc.Status != StatusDeprecated {
		t.Errorf("after reload got status %q, want %q", rc.Status, StatusDeprecated)
	}
}

func TestMarkLegacy_RequiresExistingReplacement(t *testing.T) {
	root := t.TempDir()
	writeCapDir(t, root, "add", "adds two integers", "add.wasm")
	cat, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := cat.MarkLegacy("add", "does-not-exist"); err == nil {
		t.Error("expected error for unknown replacement id")
	}
}

func TestMarkLegacy_PersistsReplacedBy(t *testing.T) {
	root := t.TempDir()
	writeCapDir(t, root, "add", "adds two integers", "add.wasm")
	writeCapDir(t, root, "add_2", "adds two integers, v2", "add_2.wasm")
	cat, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := cat.MarkLegacy("add", "add_2"); err != nil {
		t.Fatalf("mark legacy: %v", err)
	}

	cap, _ := cat.Get("add")
	if cap.Status != StatusLegacy || cap.ReplacedBy != "add_2" {
		t.Errorf("got status=%q replacedBy=%q, want legacy/add_2", cap.Status, cap.ReplacedBy)
	}

	active := cat.Active()
	for _, c := range active {
		if c.ID == "add" {
			t.Error("legacy capability must not appear in Active()")
		}
	}
}

func TestBinaryPath(t *testing.T) {
	root := t.TempDir()
	dir := writeCapDir(t, root, "echo", "echoes its input", "echo.wasm")
	cat, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cap, _ := cat.Get("echo")
	want := filepath.Join(dir, "echo.wasm")
	if got := cat.BinaryPath(cap); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if _, err := os.Stat(cat.BinaryPath(cap)); err != nil {
		t.Errorf("binary path does not exist: %v", err)
	}
}
