// Lutra native compiler CLI - compiles bytecode function containers
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chazu/lutra/bytecode"
	"github.com/chazu/lutra/comp"
	"github.com/chazu/lutra/lisp"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	configPath := flag.String("config", "", "Path to a lutra.toml configuration file")
	speed := flag.Int("speed", -1, "Override optimization level 0-3")
	dumpIR := flag.Bool("dump-ir", false, "Write the backend IR of each function to the dump file")
	dumpPath := flag.String("dump-path", "", "IR dump file (default lutra-ir.out)")
	call := flag.String("call", "", "After compiling, call this function with the -args integers")
	callArgs := flag.String("args", "", "Comma-separated integer arguments for -call")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lutrac [options] container...\n\n")
		fmt.Fprintf(os.Stderr, "Compiles CBOR function containers to native code and installs them.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lutrac fact.lbc -call fact -args 10\n")
		fmt.Fprintf(os.Stderr, "  lutrac -dump-ir -speed 0 fn.lbc\n")
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := comp.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = comp.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if *speed >= 0 {
		cfg.Speed = *speed
	}
	if *dumpIR {
		cfg.DumpIR = true
	}
	if *dumpPath != "" {
		cfg.DumpPath = *dumpPath
	}

	env := lisp.NewEnv()
	for _, path := range flag.Args() {
		name, err := compileFile(env, path, cfg, *verbose)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", path, err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Printf("Compiled %s from %s\n", name, path)
		}
	}

	if *call != "" {
		args, err := parseCallArgs(*callArgs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		result := env.Funcall(env.Intern(*call), args...)
		fmt.Println(formatValue(result))
	}
}

func compileFile(env *lisp.Env, path string, cfg comp.Config, verbose bool) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	container, err := bytecode.UnmarshalContainer(data)
	if err != nil {
		return "", err
	}
	fn, err := container.Unpack()
	if err != nil {
		return "", err
	}
	if verbose {
		fmt.Printf("%s: %d bytes of code, %d constants, max depth %d\n",
			container.Name, len(fn.Code), len(fn.Constants), fn.MaxDepth)
	}
	if _, err := comp.NativeCompile(env, container.Name, fn, cfg); err != nil {
		return "", err
	}
	return container.Name, nil
}

func parseCallArgs(s string) ([]lisp.Value, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	args := make([]lisp.Value, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %q is not an integer", p)
		}
		args[i] = lisp.MakeFixnum(n)
	}
	return args, nil
}

// formatValue renders a result for the terminal. Just enough of a printer
// for the value kinds the CLI can produce.
func formatValue(v lisp.Value) string {
	switch {
	case v.IsFixnum():
		return strconv.FormatInt(v.Fixnum(), 10)
	case v.IsSymbol():
		return lisp.SymbolName(v)
	case v.IsString():
		return strconv.Quote(lisp.XString(v).S)
	case v.IsCons():
		var parts []string
		for v.IsCons() {
			parts = append(parts, formatValue(lisp.Fcar(v)))
			v = lisp.Fcdr(v)
		}
		if v != lisp.Nil {
			parts = append(parts, ".", formatValue(v))
		}
		return "(" + strings.Join(parts, " ") + ")"
	default:
		return fmt.Sprintf("#<%s %#x>", v.TypeOf(), v.Word())
	}
}
