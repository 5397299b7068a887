package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const matmul = `# 2x2 matrix product
func matmul(a, b) {
    out = [[0, 0], [0, 0]]
    for i in range(2) {
        for j in range(2) {
            total = 0
            for k in range(2) {
                total += a[i][k] * b[k][j]
            }
            out[i][j] = total
        }
    }
    return out
}
r = matmul([[1, 2], [3, 4]], [[5, 6], [7, 8]])
print(r)
return r
`

const (
	matmulOutput = "[[19, 22], [43, 50]]\n"
	testKey      = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testIV       = "0f0e0d0c0b0a09080706050403020100"
)

// obfux runs the CLI and returns its exit code and output.
func obfux(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := executeWith(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeInput(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "matmul.ox")
	if err := os.WriteFile(path, []byte(matmul), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestObfuscateMissingInput(t *testing.T) {
	dir := t.TempDir()
	code, _, stderr := obfux(t, "obfuscate", "-i", filepath.Join(dir, "nope.ox"), "-o", filepath.Join(dir, "out.ox"), "--var-rename")
	if code != exitMissingInput {
		t.Errorf("exit code = %d, want %d", code, exitMissingInput)
	}
	if !strings.Contains(stderr, "[ERROR] Input file not found") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestObfuscateNoTransform(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir)
	out := filepath.Join(dir, "out.ox")
	code, _, stderr := obfux(t, "obfuscate", "-i", in, "-o", out)
	if code != exitNoTransform {
		t.Errorf("exit code = %d, want %d", code, exitNoTransform)
	}
	if !strings.Contains(stderr, "No transform selected") {
		t.Errorf("stderr = %q", stderr)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output written without a transform")
	}
}

func TestObfuscateReadable(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir)
	out := filepath.Join(dir, "L1", "obf_matmul.ox")
	mapPath := filepath.Join(dir, "L1", "map.json")

	code, stdout, stderr := obfux(t, "obfuscate", "-i", in, "-o", out,
		"--var-rename", "--control-flow-flattening", "--verify",
		"--seed", "11", "--flatten-seed", "5", "--map-output", mapPath)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	if !strings.Contains(stdout, "[SUCCESS] Wrote transformed readable source to: "+out) {
		t.Errorf("stdout = %q", stdout)
	}
	if strings.Contains(stdout, "AES key") {
		t.Error("readable mode must not print a key")
	}

	text, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(text), "total") {
		t.Errorf("variable total survived renaming:\n%s", text)
	}

	var renames map[string]string
	data, err := os.ReadFile(mapPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &renames); err != nil {
		t.Fatal(err)
	}
	if renames["total"] == "" || renames["matmul"] != "" {
		t.Errorf("rename map = %v", renames)
	}

	code, stdout, stderr = obfux(t, "run", out)
	if code != exitOK || stdout != matmulOutput {
		t.Errorf("run: code %d, stdout %q, stderr %q", code, stdout, stderr)
	}

	// Same seeds, same output
	out2 := filepath.Join(dir, "again.ox")
	obfux(t, "obfuscate", "-i", in, "-o", out2, "--var-rename", "--control-flow-flattening", "--seed", "11", "--flatten-seed", "5")
	text2, _ := os.ReadFile(out2)
	if !bytes.Equal(text, text2) {
		t.Error("seeded runs differ")
	}
}

func TestObfuscateLoader(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir)
	out := filepath.Join(dir, "matmul_loader.ox")
	ledgerPath := filepath.Join(dir, "ledger.db")

	code, stdout, stderr := obfux(t, "obfuscate", "-i", in, "-o", out,
		"--var-rename", "--control-flow-flattening", "--loader",
		"--key", testKey, "--iv", testIV, "--ledger", ledgerPath, "--dump-ast")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	for _, want := range []string{
		"[SUCCESS] Wrote encrypted loader to: " + out,
		"[INFO] AES key (hex): " + testKey,
		"[INFO] Ledger entry: ",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
	if !strings.Contains(stderr, "transformed tree") || !strings.Contains(stderr, "FuncDecl") {
		t.Errorf("--dump-ast output missing:\n%s", stderr)
	}

	code, stdout, _ = obfux(t, "run", "--print-result", out)
	if code != exitOK || stdout != matmulOutput+"[[19, 22], [43, 50]]\n" {
		t.Errorf("run loader: code %d, stdout %q", code, stdout)
	}

	code, _, stderr = obfux(t, "run", "--allow", "len", out)
	if code != 70 {
		t.Errorf("restricted loader exit = %d, want 70 (stderr %q)", code, stderr)
	}

	sourceHash := infoValue(t, stdout, "Source hash")

	code, stdout, _ = obfux(t, "ledger", "--path", ledgerPath, "list")
	if code != exitOK || !strings.Contains(stdout, "matmul.ox") || !strings.Contains(stdout, "rename+flatten") {
		t.Errorf("ledger list: code %d\n%s", code, stdout)
	}
	for _, col := range []string{"RENAMES", "SOURCE", sourceHash[:12]} {
		if !strings.Contains(stdout, col) {
			t.Errorf("ledger list missing %q:\n%s", col, stdout)
		}
	}

	code, stdout, _ = obfux(t, "hash", in)
	if code != exitOK || !strings.HasPrefix(stdout, sourceHash) {
		t.Errorf("hash: code %d, stdout %q, want prefix %s", code, stdout, sourceHash)
	}
	code, stdout, _ = obfux(t, "ledger", "--path", ledgerPath, "find", "--source", sourceHash)
	if code != exitOK || !strings.Contains(stdout, "matmul.ox") {
		t.Errorf("ledger find --source: code %d\n%s", code, stdout)
	}
}

// infoValue returns the value of an "[INFO] label: value" line.
func infoValue(t *testing.T, stdout, label string) string {
	t.Helper()
	prefix := "[INFO] " + label + ": "
	for _, line := range strings.Split(stdout, "\n") {
		if v, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(v)
		}
	}
	t.Fatalf("no %q line in:\n%s", prefix, stdout)
	return ""
}

func TestObfuscateUsesConfig(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	in := writeInput(t, src)
	cfg := `[transforms]
flatten = true

[flatten]
seed = 3

[loader]
mode = "loader"
key = "` + testKey + `"
iv = "` + testIV + `"
`
	if err := os.WriteFile(filepath.Join(dir, "obfux.toml"), []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.ox")
	code, stdout, stderr := obfux(t, "obfuscate", "-i", in, "-o", out)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	if !strings.Contains(stdout, "encrypted loader") || !strings.Contains(stdout, testKey) {
		t.Errorf("config mode/key not applied:\n%s", stdout)
	}

	// A flag overrides the config
	code, stdout, _ = obfux(t, "obfuscate", "-i", in, "-o", out, "--loader=false")
	if code != exitOK || !strings.Contains(stdout, "readable source") {
		t.Errorf("--loader=false ignored: code %d\n%s", code, stdout)
	}

	// Turning the only configured transform off leaves none
	code, _, _ = obfux(t, "obfuscate", "-i", in, "-o", out, "--control-flow-flattening=false")
	if code != exitNoTransform {
		t.Errorf("exit code = %d, want %d", code, exitNoTransform)
	}
}

func TestObfuscateBadConfig(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "obfux.yaml"), []byte("loader:\n  mode: zip\n"), 0644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr := obfux(t, "obfuscate", "-i", in, "-o", filepath.Join(dir, "o.ox"), "--var-rename")
	if code != exitFailure || !strings.Contains(stderr, "invalid config") {
		t.Errorf("code %d, stderr %q", code, stderr)
	}
}

func TestObfuscateParseFailure(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "bad.ox")
	if err := os.WriteFile(in, []byte("x = ("), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "o.ox")
	code, _, stderr := obfux(t, "obfuscate", "-i", in, "-o", out, "--var-rename")
	if code != exitFailure || !strings.Contains(stderr, "parse error") {
		t.Errorf("code %d, stderr %q", code, stderr)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("output written after a parse failure")
	}
}

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(src), 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	if code, _, _ := obfux(t, "run", write("exit.ox", "exit(4)")); code != 4 {
		t.Errorf("exit(4) gave %d", code)
	}
	code, _, stderr := obfux(t, "run", write("throw.ox", `throw "bad"`))
	if code != exitFailure || !strings.Contains(stderr, "bad") {
		t.Errorf("throw: code %d, stderr %q", code, stderr)
	}
	if code, _, _ := obfux(t, "run", filepath.Join(dir, "missing.ox")); code != exitMissingInput {
		t.Errorf("missing file gave %d", code)
	}
}

func TestDisasm(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir)
	code, stdout, stderr := obfux(t, "disasm", in)
	if code != exitOK {
		t.Fatalf("code %d, stderr %s", code, stderr)
	}
	if !strings.HasPrefix(stdout, "module ") || !strings.Contains(stdout, "matmul") {
		t.Errorf("disassembly:\n%s", stdout)
	}
}

func TestReadRenameMap(t *testing.T) {
	m, err := readRenameMap("")
	if err != nil || m != nil {
		t.Errorf("empty path = %v, %v", m, err)
	}
	path := filepath.Join(t.TempDir(), "map.json")
	os.WriteFile(path, []byte(`{"total":"k2","out":"z9"}`), 0644)
	m, err = readRenameMap(path)
	if err != nil {
		t.Fatal(err)
	}
	if to, _ := m.Lookup("out"); to != "z9" {
		t.Errorf("Lookup(out) = %q", to)
	}
}
