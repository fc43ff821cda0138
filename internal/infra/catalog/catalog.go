// Package catalog loads the badge catalog. The built-in catalog ships as
// embedded YAML; an operator may point at a file that replaces it and is
// reloaded when it changes.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

//go:embed badges.yaml
var builtin []byte

// File is the on-disk shape of a catalog.
type File struct {
	Version int               `yaml:"version"`
	Badges  []domain.BadgeDef `yaml:"badges"`
}

// Default returns the built-in badge definitions.
func Default() []domain.BadgeDef {
	defs, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in badges.yaml is invalid: %v", err))
	}
	return defs
}

// Parse decodes a YAML catalog. Unknown keys are rejected so typos in an
// override file surface instead of silently disabling a badge.
func Parse(data []byte) ([]domain.BadgeDef, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if f.Version != 1 {
		return nil, fmt.Errorf("unsupported catalog version %d", f.Version)
	}
	if len(f.Badges) == 0 {
		return nil, fmt.Errorf("catalog has no badges")
	}
	return f.Badges, nil
}

// Load returns the catalog at path, or the built-in one when path is empty.
func Load(path string) ([]domain.BadgeDef, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Marshal renders definitions in the catalog file format.
func Marshal(defs []domain.BadgeDef) ([]byte, error) {
	return yaml.Marshal(File{Version: 1, Badges: defs})
}
