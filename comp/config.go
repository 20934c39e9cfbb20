// Package comp translates stack-machine bytecode into native-shaped code
// through the ir backend: bytecode offsets become basic blocks, stack slots
// become frame variables, and calls resolve against the runtime in three
// tiers. One compilation runs at a time; the package serializes callers.
package comp

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config controls one compilation.
type Config struct {
	// Speed is the optimization effort, 0-3. At 0 every operation calls
	// into the runtime; 1 and above enable immediate-integer fast paths
	// and direct calls to known functions; 2 and above add self-call
	// elision.
	Speed int `toml:"speed"`

	// Debug keeps block names readable and enables the IR dump.
	Debug bool `toml:"debug"`

	// DumpIR writes the generated IR to DumpPath before compiling.
	DumpIR bool `toml:"dump-ir"`

	// DumpPath is the dump file location. Empty means lutra-ir.out in the
	// working directory.
	DumpPath string `toml:"dump-path"`
}

// DefaultConfig is the compilation setup used when no file overrides it.
func DefaultConfig() Config {
	return Config{Speed: 2}
}

// LoadConfig reads a lutra.toml configuration file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Speed < 0 || c.Speed > 3 {
		return fmt.Errorf("comp: speed %d out of range 0-3", c.Speed)
	}
	return nil
}

func (c Config) dumpPath() string {
	if c.DumpPath != "" {
		return c.DumpPath
	}
	return "lutra-ir.out"
}
