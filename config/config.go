package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/classinject/dispatch"
	clerrors "github.com/wippyai/classinject/errors"
	"github.com/wippyai/classinject/inject"
)

// Format is a run file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", clerrors.InvalidInput(clerrors.PhaseConfig,
		fmt.Sprintf("%s: unknown run file extension, want .toml, .yaml or .yml", path))
}

// Config is a decoded run file.
type Config struct {
	Enable      *bool               `toml:"enable" yaml:"enable"`
	Languages   map[string][]string `toml:"languages" yaml:"languages"`
	Staging     string              `toml:"staging" yaml:"staging"`
	Roots       []string            `toml:"roots" yaml:"roots"`
	Policy      []Policy            `toml:"policy" yaml:"policy"`
	Workers     int                 `toml:"workers" yaml:"workers"`
	UnitTimeout Duration            `toml:"unit_timeout" yaml:"unit_timeout"`

	// Dir is the directory relative paths resolve against.
	Dir string `toml:"-" yaml:"-"`
}

// Policy is one [[policy]] entry.
type Policy struct {
	Name     string `toml:"name" yaml:"name"`
	Class    string `toml:"class" yaml:"class"`
	Method   string `toml:"method" yaml:"method"`
	Point    string `toml:"point" yaml:"point"`
	Call     string `toml:"call" yaml:"call"`
	Fragment string `toml:"fragment" yaml:"fragment"`
	// FragmentFile names a file holding the fragment text.
	FragmentFile string `toml:"fragment_file" yaml:"fragment_file"`
	Offset       int    `toml:"offset" yaml:"offset"`
}

// Load reads a run file, resolves relative paths against its directory and
// applies defaults.
func Load(path string) (*Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, clerrors.NotFound(clerrors.PhaseConfig, "run file", path)
		}
		return nil, clerrors.Wrap(clerrors.PhaseConfig, clerrors.KindIO, err, "read "+path)
	}
	c, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	c.resolve(dir)
	return c, nil
}

// Decode parses run file text and applies defaults. Relative paths stay
// relative to the working directory.
func Decode(data []byte, format Format) (*Config, error) {
	var c Config
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &c); err != nil {
			return nil, clerrors.Wrap(clerrors.PhaseConfig, clerrors.KindInvalidInput, err, "parse toml")
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return nil, clerrors.Wrap(clerrors.PhaseConfig, clerrors.KindInvalidInput, err, "parse yaml")
		}
	default:
		return nil, clerrors.InvalidInput(clerrors.PhaseConfig, fmt.Sprintf("unknown format %q", format))
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) check() error {
	if c.Workers < 0 {
		return clerrors.InvalidInput(clerrors.PhaseConfig, fmt.Sprintf("workers must not be negative, got %d", c.Workers))
	}
	if c.UnitTimeout < 0 {
		return clerrors.InvalidInput(clerrors.PhaseConfig, fmt.Sprintf("unit_timeout must not be negative, got %s", c.UnitTimeout))
	}
	for name, dirs := range c.Languages {
		if len(dirs) == 0 {
			return clerrors.InvalidInput(clerrors.PhaseConfig, fmt.Sprintf("language %q lists no directories", name))
		}
	}
	return nil
}

func (c *Config) resolve(dir string) {
	c.Dir = dir
	for i, r := range c.Roots {
		c.Roots[i] = c.abs(r)
	}
	if c.Staging != "" {
		c.Staging = c.abs(c.Staging)
	}
	for i := range c.Policy {
		if f := c.Policy[i].FragmentFile; f != "" {
			c.Policy[i].FragmentFile = c.abs(f)
		}
	}
}

func (c *Config) abs(p string) string {
	if c.Dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Enabled reports whether injection runs; it defaults to true.
func (c *Config) Enabled() bool {
	return c.Enable == nil || *c.Enable
}

// LanguageTable returns the built-in languages with the run file's entries
// applied. An entry for a known language replaces its directories; an
// unknown name adds a language.
func (c *Config) LanguageTable() []dispatch.Language {
	langs := dispatch.DefaultLanguages()
	names := make([]string, 0, len(c.Languages))
	for name := range c.Languages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		dirs := c.Languages[name]
		replaced := false
		for i := range langs {
			if langs[i].Name == name {
				langs[i].DirSuffixes = dirs
				replaced = true
			}
		}
		if !replaced {
			langs = append(langs, dispatch.Language{Name: name, DirSuffixes: dirs, FileSuffix: dispatch.ClassSuffix})
		}
	}
	return langs
}

// Policies converts the [[policy]] entries.
func (c *Config) Policies() ([]inject.Policy, error) {
	out := make([]inject.Policy, 0, len(c.Policy))
	for i, p := range c.Policy {
		label := p.Name
		if label == "" {
			label = fmt.Sprintf("policy[%d]", i)
		}
		pol, err := p.build(label)
		if err != nil {
			return nil, err
		}
		out = append(out, pol)
	}
	return out, nil
}

func (p Policy) build(label string) (inject.Policy, error) {
	fail := func(err error) (inject.Policy, error) {
		return inject.Policy{}, fmt.Errorf("%s: %w", label, err)
	}
	point, err := inject.ParsePoint(p.Point)
	if err != nil {
		return fail(err)
	}
	src := p.Fragment
	if p.FragmentFile != "" {
		if src != "" {
			return fail(clerrors.InvalidInput(clerrors.PhaseConfig, "fragment and fragment_file are mutually exclusive"))
		}
		data, err := os.ReadFile(p.FragmentFile)
		if err != nil {
			return fail(clerrors.Wrap(clerrors.PhaseConfig, clerrors.KindIO, err, "read fragment file"))
		}
		src = string(data)
	}
	frag, err := inject.ParseFragment(src)
	if err != nil {
		return fail(err)
	}
	pol := inject.Policy{
		Fragment: frag,
		Name:     p.Name,
		Class:    p.Class,
		Method:   p.Method,
		Point:    point,
		Call:     p.Call,
		Offset:   p.Offset,
	}
	if err := pol.Validate(); err != nil {
		return fail(err)
	}
	return pol, nil
}

// Options builds dispatch options from the run file.
func (c *Config) Options() (dispatch.Options, error) {
	policies, err := c.Policies()
	if err != nil {
		return dispatch.Options{}, err
	}
	return dispatch.Options{
		Policies:    policies,
		Workers:     c.Workers,
		Staging:     c.Staging,
		UnitTimeout: time.Duration(c.UnitTimeout),
	}, nil
}
