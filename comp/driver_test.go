package comp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/lutra/bytecode"
	"github.com/chazu/lutra/lisp"
)

func TestMangle(t *testing.T) {
	cases := []struct{ in, want string }{
		{"fact", "native_fact"},
		{"string-lessp", "native_string_lessp"},
		{"1+", "native_1_"},
		{"1-", "native_1_"},
	}
	for _, tc := range cases {
		if got := mangle(tc.in); got != tc.want {
			t.Errorf("mangle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	long := strings.Repeat("x", 3*mangleMax)
	if got := mangle(long); len(got) != len("native_")+mangleMax {
		t.Errorf("long name not capped: %d chars", len(got))
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lutra.toml")
	content := "speed = 3\ndebug = true\ndump-ir = true\ndump-path = \"out.ir\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Speed != 3 || !cfg.Debug || !cfg.DumpIR || cfg.DumpPath != "out.ir" {
		t.Errorf("unexpected config: %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("speed = 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("speed out of range must fail")
	}
}

func TestDefaultDumpPath(t *testing.T) {
	if got := (Config{}).dumpPath(); got != "lutra-ir.out" {
		t.Errorf("default dump path = %q", got)
	}
}

func TestDumpIRWritesListing(t *testing.T) {
	fn := mustAssemble(t, bytecode.NewAssembler(bytecode.ArgSpec{}).
		Constant(lisp.MakeFixnum(42)).
		Return())
	path := filepath.Join(t.TempDir(), "unit.ir")
	cfg := Config{Speed: 2, DumpIR: true, DumpPath: path}
	if _, err := NativeCompile(lisp.NewEnv(), "dump-me", fn, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "native_dump_me") {
		t.Error("dump does not mention the compiled function")
	}
}
