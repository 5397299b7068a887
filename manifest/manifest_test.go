package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/artifact"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/transform"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "obfux.toml", `[transforms]
rename = true
flatten = true
verify = true

[rename]
naming = "seeded"
seed = 42
length = 6
preserve = ["main", "config"]

[flatten]
seed = 7

[loader]
mode = "loader"
key = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
iv = "0f0e0d0c0b0a09080706050403020100"
builder = "go"

[ledger]
path = "out/ledger.db"
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.TransformSet() != transform.Rename|transform.Flatten {
		t.Errorf("transforms = %s, want rename+flatten", c.TransformSet())
	}
	if !c.Verify() {
		t.Error("verify should be on")
	}
	if c.Rename.Naming != "seeded" || c.Rename.Seed != 42 || c.Rename.Length != 6 {
		t.Errorf("rename = %+v", c.Rename)
	}
	if len(c.Rename.Preserve) != 2 || c.Rename.Preserve[0] != "main" {
		t.Errorf("preserve = %v", c.Rename.Preserve)
	}
	if c.Flatten.Seed != 7 {
		t.Errorf("flatten seed = %d, want 7", c.Flatten.Seed)
	}
	if c.Loader.Mode != "loader" || c.Loader.Builder != "go" {
		t.Errorf("loader = %+v", c.Loader)
	}
	if c.Dir != dir {
		t.Errorf("dir = %q, want %q", c.Dir, dir)
	}
	lp, err := c.LedgerPath()
	if err != nil || lp != filepath.Join(dir, "out", "ledger.db") {
		t.Errorf("ledger path = %q, %v", lp, err)
	}

	p, err := c.Materials()
	if err != nil {
		t.Fatal(err)
	}
	m, err := p.Material()
	if err != nil {
		t.Fatal(err)
	}
	if m.KeyHex() != c.Loader.Key || m.IVHex() != c.Loader.IV {
		t.Errorf("material = %s/%s", m.KeyHex(), m.IVHex())
	}

	opts := c.TransformOptions([]string{"unhex"})
	if _, ok := opts.Naming.(*transform.SeededNames); !ok {
		t.Errorf("naming = %T, want *transform.SeededNames", opts.Naming)
	}
	if opts.FlattenSeed != 7 || len(opts.Reserved) != 1 {
		t.Errorf("options = %+v", opts)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "obfux.yaml", `transforms:
  rename: true
rename:
  preserve: [solve]
loader:
  mode: readable
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.TransformSet() != transform.Rename {
		t.Errorf("transforms = %s, want rename", c.TransformSet())
	}
	if c.Rename.Naming != "random" || c.Rename.Length != 8 {
		t.Errorf("defaults not applied: %+v", c.Rename)
	}
	p, err := c.Materials()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(artifact.RandomMaterial); !ok {
		t.Errorf("provider = %T, want RandomMaterial", p)
	}
	if lp, _ := c.LedgerPath(); lp != "" {
		t.Errorf("ledger should be disabled, got %q", lp)
	}
	if _, ok := c.TransformOptions(nil).Naming.(transform.RandomNames); !ok {
		t.Error("default naming should be random")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		desc, name, content, want string
	}{
		{"unknown mode", "obfux.toml", "[loader]\nmode = \"packed\"\n", "mode"},
		{"short key", "obfux.toml", "[loader]\nkey = \"abcd\"\niv = \"0f0e0d0c0b0a09080706050403020100\"\n", "key"},
		{"non-hex iv", "obfux.toml", "[loader]\nkey = \"000102030405060708090a0b0c0d0e0f\"\niv = \"zz0e0d0c0b0a09080706050403020100\"\n", "iv"},
		{"key without iv", "obfux.toml", "[loader]\nkey = \"000102030405060708090a0b0c0d0e0f\"\n", "together"},
		{"negative seed", "obfux.toml", "[flatten]\nseed = -1\n", "seed"},
		{"bad length", "obfux.toml", "[rename]\nlength = 1\n", "length"},
		{"bad preserve", "obfux.toml", "[rename]\npreserve = [\"1x\"]\n", "preserve"},
		{"seeded without seed", "obfux.toml", "[rename]\nnaming = \"seeded\"\n", "seed"},
		{"compression is fixed", "obfux.toml", "[loader]\ncompression = 6\n", "compression"},
		{"compression is fixed yaml", "obfux.yaml", "loader:\n  compression: 6\n", "compression"},
		{"unknown toml key", "obfux.toml", "[loader]\nmodee = \"loader\"\n", "modee"},
		{"unknown yaml key", "obfux.yaml", "loader:\n  modee: loader\n", "modee"},
		{"bad builder", "obfux.yaml", "loader:\n  builder: rust\n", "builder"},
		{"syntax", "obfux.toml", "[loader\n", "parse error"},
		{"format", "obfux.json", "{}", "unsupported"},
	}
	for _, tc := range tests {
		dir := t.TempDir()
		path := writeConfig(t, dir, tc.name, tc.content)
		_, err := Load(path)
		if err == nil {
			t.Errorf("%s: expected error", tc.desc)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", tc.desc, err, tc.want)
		}
	}
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "obfux.toml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "cannot read") {
		t.Errorf("error = %v", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, dir, "obfux.yml", "transforms:\n  flatten: true\n")

	// Should find the config when starting from a deep subdirectory
	c, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if c.TransformSet() != transform.Flatten {
		t.Errorf("transforms = %s, want flatten", c.TransformSet())
	}

	// The nearest config wins, and TOML wins over YAML in one directory.
	writeConfig(t, subDir, "obfux.toml", "[transforms]\nrename = true\n")
	writeConfig(t, subDir, "obfux.yaml", "transforms:\n  flatten: true\n")
	c, err = FindAndLoad(subDir)
	if err != nil {
		t.Fatal(err)
	}
	if c.TransformSet() != transform.Rename || filepath.Base(c.Path) != "obfux.toml" {
		t.Errorf("loaded %s with %s", c.Path, c.TransformSet())
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	c, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if c != nil {
		t.Error("expected nil config when no obfux.toml exists")
	}
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if c.TransformSet() != 0 {
		t.Errorf("default enables %s", c.TransformSet())
	}
	if f := c.LoaderFactory("x.ox"); f == nil {
		t.Error("nil loader factory")
	}
}

func TestLedgerEnabledUsesDefaultPath(t *testing.T) {
	t.Setenv("OBFUX_LEDGER", filepath.Join(t.TempDir(), "l.db"))
	c := Default()
	c.Ledger.Enabled = true
	lp, err := c.LedgerPath()
	if err != nil {
		t.Fatal(err)
	}
	if lp != os.Getenv("OBFUX_LEDGER") {
		t.Errorf("ledger path = %q", lp)
	}
}
