package synth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// predictedBinary is the relative path (from the crate directory) where a
// release wasm32-wasip1 build lands, matching the manifest's package name.
func predictedBinary(id string) string {
	return filepath.Join("target", "wasm32-wasip1", "release", id+".wasm")
}

// scaffoldMeta is the on-disk shape written by scaffold and rewritten by
// promote. It mirrors capability's meta.json schema directly since the
// capability package's Capability.dir field is unexported and unavailable
// to this package until catalog.RegisterNew re-reads the file.
type scaffoldMeta struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Binary  string `json:"binary"`
	Status  string `json:"status,omitempty"`
}

// scaffold creates crates/<id>/ under root with a deliberately
// compile-failing crate (so an empty commit cannot accidentally pass
// build), a panicking placeholder test, and a meta.json with
// summary:"TODO". Returns the crate's absolute directory.
func scaffold(root, id string) (string, error) {
	dir := filepath.Join(root, "crates", id)
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		return "", fmt.Errorf("synth: scaffolding %s: %w", id, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "tests"), 0o755); err != nil {
		return "", fmt.Errorf("synth: scaffolding %s: %w", id, err)
	}

	manifest := fmt.Sprintf(`[package]
name = %q
version = "0.1.0"
edition = "2021"

[[bin]]
name = %q
path = "src/main.rs"

[lib]
path = "src/lib.rs"

[dependencies]
serde = { version = "1", features = ["derive"] }
serde_json = "1"
`, id, id)
	if err := writeFile(filepath.Join(dir, "Cargo.toml"), manifest); err != nil {
		return "", err
	}

	libStub := `compile_error!("capability body not yet implemented");
`
	if err := writeFile(filepath.Join(dir, "src", "lib.rs"), libStub); err != nil {
		return "", err
	}

	mainStub := `compile_error!("capability entry point not yet implemented");
`
	if err := writeFile(filepath.Join(dir, "src", "main.rs"), mainStub); err != nil {
		return "", err
	}

	testStub := `#[test]
fn placeholder() {
    panic!("capability has no tests yet");
}
`
	if err := writeFile(filepath.Join(dir, "tests", "integration.rs"), testStub); err != nil {
		return "", err
	}

	meta := scaffoldMeta{ID: id, Summary: "TODO", Binary: predictedBinary(id)}
	if err := writeMetaDoc(dir, meta); err != nil {
		return "", err
	}

	return dir, nil
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("synth: writing %s: %w", path, err)
	}
	return nil
}

// writeMetaDoc marshals meta and writes it to dir/meta.json. Unlike
// capability's writeMeta, this has no live Catalog entry to keep consistent
// (the crate isn't registered until promote succeeds), so a plain write is
// sufficient rather than the write-temp-then-rename dance.
func writeMetaDoc(dir string, meta scaffoldMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("synth: marshaling meta.json for %s: %w", meta.ID, err)
	}
	return writeFile(filepath.Join(dir, "meta.json"), string(data))
}
