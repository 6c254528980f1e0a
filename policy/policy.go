// Package policy loads decode policies, an allow-list plus budget limits,
// from TOML or YAML files. Unknown keys are rejected so that a misspelt
// limit never silently leaves a dimension uncapped.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/oy3o/safecodec"
)

var (
	ErrUnknownFormat = errors.New("policy: unknown file format")
	ErrEmptyAllow    = errors.New("policy: allowed_types is empty")
	ErrUnknownKey    = errors.New("policy: unknown key")
)

// Format is a policy file syntax.
type Format uint8

const (
	FormatTOML Format = iota + 1
	FormatYAML
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// fileConfig is the on-disk shape. Zero limits are uncapped.
type fileConfig struct {
	MaxDepth     int      `toml:"max_depth" yaml:"max_depth"`
	MaxFields    int64    `toml:"max_fields" yaml:"max_fields"`
	MaxBytes     int64    `toml:"max_bytes" yaml:"max_bytes"`
	MaxSteps     int64    `toml:"max_steps" yaml:"max_steps"`
	Timeout      string   `toml:"timeout" yaml:"timeout"`
	AllowedTypes []string `toml:"allowed_types" yaml:"allowed_types"`
}

// Policy is a loaded decode context.
type Policy struct {
	Limits safecodec.Limits
	Allow  *safecodec.AllowList
}

// Load reads the policy file at path. Type names are resolved through reg.
func Load(path string, reg *safecodec.Registry) (*Policy, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	p, err := Parse(data, format, reg)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a policy document.
func Parse(data []byte, format Format, reg *safecodec.Registry) (*Policy, error) {
	var raw fileConfig
	switch format {
	case FormatTOML:
		meta, err := toml.Decode(string(data), &raw)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, undecoded[0])
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnknownFormat
	}
	return raw.resolve(reg)
}

func (c *fileConfig) resolve(reg *safecodec.Registry) (*Policy, error) {
	if c.MaxDepth < 0 || c.MaxFields < 0 || c.MaxBytes < 0 || c.MaxSteps < 0 {
		return nil, errors.New("policy: limits must not be negative")
	}
	limits := safecodec.Limits{
		MaxDepth:  c.MaxDepth,
		MaxFields: c.MaxFields,
		MaxBytes:  c.MaxBytes,
		MaxSteps:  c.MaxSteps,
	}
	if s := strings.TrimSpace(c.Timeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("parse timeout: %w", err)
		}
		if d < 0 {
			return nil, errors.New("policy: timeout must not be negative")
		}
		limits.Timeout = d
	}

	if len(c.AllowedTypes) == 0 {
		return nil, ErrEmptyAllow
	}
	ids := make([]safecodec.TypeID, 0, len(c.AllowedTypes))
	for _, name := range c.AllowedTypes {
		id, err := LookupType(reg, strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return &Policy{Limits: limits, Allow: safecodec.NewAllowList(ids...)}, nil
}

// LookupType accepts a registered type name or a numeric TypeID written as
// "#12" or "12".
func LookupType(reg *safecodec.Registry, name string) (safecodec.TypeID, error) {
	if id, ok := reg.LookupName(name); ok {
		return id, nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, "#"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("policy: unknown type %q", name)
	}
	id := safecodec.TypeID(n)
	if _, err := reg.Latest(id); err != nil {
		return 0, fmt.Errorf("policy: type %q: %w", name, err)
	}
	return id, nil
}

// Decode decodes one record of type expected under p.
func (p *Policy) Decode(reg *safecodec.Registry, data []byte, expected safecodec.TypeID) (any, error) {
	return reg.Decode(data, expected, p.Allow, p.Limits)
}
