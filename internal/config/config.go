// Package config loads jsoncrdt configuration files.
//
// Files may be written in CUE, JSON, YAML or TOML; the format follows the
// extension. Whatever the format, the content is unified with an embedded
// CUE schema that supplies defaults and rejects unknown fields and
// out-of-range values, so every loader yields the same Config.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/value"
)

//go:embed schema.cue
var schemaCUE string

// Config is a validated configuration with defaults applied.
type Config struct {
	// Replica is nil when the file leaves it unset.
	Replica   value.Value `json:"-"`
	Database  string      `json:"database"`
	Log       Log         `json:"log"`
	Peer      Peer        `json:"peer"`
	Relay     Relay       `json:"relay"`
	Discovery Discovery   `json:"discovery"`
}

// Log configures the process logger.
type Log struct {
	Level string `json:"level"`
}

// Peer configures a replica process.
type Peer struct {
	Relay    string `json:"relay"`
	Room     string `json:"room"`
	Autosave int    `json:"autosave"`
	HTTP     string `json:"http"`
}

// Relay configures the relay server.
type Relay struct {
	Listen   string `json:"listen"`
	Redis    string `json:"redis"`
	Instance string `json:"instance"`
	Metrics  bool   `json:"metrics"`
}

// Discovery configures mDNS advertisement and browsing.
type Discovery struct {
	Enabled bool   `json:"enabled"`
	Service string `json:"service"`
	Domain  string `json:"domain"`
}

// Default returns the configuration of an empty file.
func Default() Config {
	cfg, err := Parse([]byte("{}"), "default.cue")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults invalid: %v", err))
	}
	return cfg
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := Parse(data, path)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data. name supplies the format through its extension
// (.cue, .json, .yaml, .yml or .toml) and is used in error positions.
func Parse(data []byte, name string) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("schema: %w", err)
	}

	var input cue.Value
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".cue", ".json":
		input = ctx.CompileBytes(data, cue.Filename(name))
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
		input = ctx.Encode(orEmpty(doc))
	case ".toml":
		var doc map[string]any
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return Config{}, fmt.Errorf("parse toml: %w", err)
		}
		input = ctx.Encode(orEmpty(doc))
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}
	if err := input.Err(); err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}

	v := schema.Unify(input)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("validate: %w", err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}

	if rv := v.LookupPath(cue.ParsePath("replica")); rv.Exists() && rv.IsConcrete() {
		raw, err := rv.MarshalJSON()
		if err != nil {
			return Config{}, fmt.Errorf("replica: %w", err)
		}
		id, err := value.Parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("replica: %w", err)
		}
		if err := crdt.ValidateReplicaID(id); err != nil {
			return Config{}, fmt.Errorf("replica: %w", err)
		}
		cfg.Replica = id
	}
	return cfg, nil
}

// JSON renders the configuration with defaults filled in, as accepted by
// Parse.
func (c Config) JSON() ([]byte, error) {
	type alias Config
	out := struct {
		Replica value.Value `json:"replica,omitempty"`
		alias
	}{Replica: c.Replica, alias: alias(c)}
	return json.MarshalIndent(out, "", "  ")
}

func orEmpty(doc map[string]any) map[string]any {
	if doc == nil {
		return map[string]any{}
	}
	return doc
}
