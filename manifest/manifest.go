// Package manifest handles obfux.toml and obfux.yaml project configuration.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/artifact"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/ledger"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/loader"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/transform"
)

// FileNames are the config files looked for in a directory, in order.
var FileNames = []string{"obfux.toml", "obfux.yaml", "obfux.yml"}

// Config represents an obfux project configuration.
type Config struct {
	Transforms Transforms    `toml:"transforms" yaml:"transforms" json:"transforms"`
	Rename     RenameConfig  `toml:"rename" yaml:"rename" json:"rename"`
	Flatten    FlattenConfig `toml:"flatten" yaml:"flatten" json:"flatten"`
	Loader     LoaderConfig  `toml:"loader" yaml:"loader" json:"loader"`
	Ledger     LedgerConfig  `toml:"ledger" yaml:"ledger" json:"ledger"`

	// Path is the file the config was read from (set at load time).
	Path string `toml:"-" yaml:"-" json:"-"`
	// Dir is the directory containing Path.
	Dir string `toml:"-" yaml:"-" json:"-"`
}

// Transforms selects pipeline stages. Nil means not set by the file.
type Transforms struct {
	Rename  *bool `toml:"rename" yaml:"rename" json:"rename,omitempty"`
	Flatten *bool `toml:"flatten" yaml:"flatten" json:"flatten,omitempty"`
	Verify  *bool `toml:"verify" yaml:"verify" json:"verify,omitempty"`
}

// RenameConfig configures identifier generation.
type RenameConfig struct {
	Naming   string   `toml:"naming" yaml:"naming" json:"naming,omitempty"` // random or seeded
	Seed     int64    `toml:"seed" yaml:"seed" json:"seed,omitempty"`
	Length   int      `toml:"length" yaml:"length" json:"length,omitempty"`
	Preserve []string `toml:"preserve" yaml:"preserve" json:"preserve,omitempty"`
}

// FlattenConfig configures label generation. Seed 0 picks a random seed.
type FlattenConfig struct {
	Seed int64 `toml:"seed" yaml:"seed" json:"seed,omitempty"`
}

// LoaderConfig configures output mode and loader generation.
type LoaderConfig struct {
	Mode    string `toml:"mode" yaml:"mode" json:"mode,omitempty"`
	Key     string `toml:"key" yaml:"key" json:"key,omitempty"`
	IV      string `toml:"iv" yaml:"iv" json:"iv,omitempty"`
	Builder string `toml:"builder" yaml:"builder" json:"builder,omitempty"` // ox or go
	Entry   string `toml:"entry" yaml:"entry" json:"entry,omitempty"`
}

// LedgerConfig configures the artifact ledger.
type LedgerConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled" json:"enabled,omitempty"`
	Path    string `toml:"path" yaml:"path" json:"path,omitempty"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{Rename: RenameConfig{Naming: "random", Length: 8}}
}

// Load parses the config file at path. The format follows the extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
		if extra := md.Undecoded(); len(extra) > 0 {
			return nil, fmt.Errorf("%s: unknown key %s", path, extra[0])
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported config format %q", path, ext)
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	c.Dir = filepath.Dir(c.Path)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDir loads the first of FileNames present in dir. It returns nil, nil
// when dir holds none of them.
func LoadDir(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return nil, nil
}

// FindAndLoad walks up from startDir to find a config file, then loads and
// returns it. Returns nil if no config is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		c, err := LoadDir(dir)
		if c != nil || err != nil {
			return c, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks c against the schema and the rules the schema cannot
// express.
func (c *Config) Validate() error {
	if err := check(c); err != nil {
		return fmt.Errorf("invalid config %s: %w", c.Path, err)
	}
	if (c.Loader.Key == "") != (c.Loader.IV == "") {
		return fmt.Errorf("invalid config %s: loader key and iv must be set together", c.Path)
	}
	if c.Rename.Naming == "seeded" && c.Rename.Seed == 0 {
		return fmt.Errorf("invalid config %s: seeded naming needs a non-zero seed", c.Path)
	}
	return nil
}

// TransformSet returns the stages the config enables.
func (c *Config) TransformSet() transform.Set {
	var s transform.Set
	if isTrue(c.Transforms.Rename) {
		s |= transform.Rename
	}
	if isTrue(c.Transforms.Flatten) {
		s |= transform.Flatten
	}
	return s
}

// Verify reports whether flattening should be checked by execution.
func (c *Config) Verify() bool { return isTrue(c.Transforms.Verify) }

func isTrue(b *bool) bool { return b != nil && *b }

// TransformOptions builds the options for transform.DefaultCapabilities.
// reserved lists names the caller needs kept, such as loader builtins.
func (c *Config) TransformOptions(reserved []string) transform.Options {
	opts := transform.Options{
		Preserve:    c.Rename.Preserve,
		Reserved:    reserved,
		FlattenSeed: c.Flatten.Seed,
	}
	length := c.Rename.Length
	if length == 0 {
		length = 8
	}
	if c.Rename.Naming == "seeded" {
		opts.Naming = transform.NewSeededNames(c.Rename.Seed, length)
	} else {
		opts.Naming = transform.RandomNames{Length: length}
	}
	return opts
}

// Materials returns the key source: the configured key and iv when set,
// fresh random material otherwise.
func (c *Config) Materials() (artifact.MaterialProvider, error) {
	if c.Loader.Key == "" {
		return artifact.RandomMaterial{}, nil
	}
	m, err := artifact.StaticMaterialFromHex(c.Loader.Key, c.Loader.IV)
	if err != nil {
		return nil, fmt.Errorf("loader key in %s: %w", c.Path, err)
	}
	return m, nil
}

// LoaderFactory returns the loader builder named by the config.
func (c *Config) LoaderFactory(name string) loader.Factory {
	if c.Loader.Builder == "go" {
		return loader.GoStub(name)
	}
	return loader.Template(name)
}

// LedgerPath resolves the ledger path relative to the config directory.
// It returns "" when the ledger is disabled.
func (c *Config) LedgerPath() (string, error) {
	switch {
	case c.Ledger.Path != "":
		if filepath.IsAbs(c.Ledger.Path) || c.Dir == "" {
			return c.Ledger.Path, nil
		}
		return filepath.Join(c.Dir, c.Ledger.Path), nil
	case c.Ledger.Enabled:
		return ledger.DefaultPath()
	}
	return "", nil
}
