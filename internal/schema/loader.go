package schema

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// kindDirs maps the optional per-kind subdirectories of a definitions
// directory to the kind their files default to.
var kindDirs = map[string]Kind{
	"collections": KindCollection,
	"globals":     KindGlobal,
	"blocks":      KindBlock,
}

// LoadDefinitions reads all *.yaml and *.yml files from dir and from its
// collections/, globals/ and blocks/ subdirectories, parses each into a
// Definition, computes the SHA256 hash of the raw file bytes, validates the
// whole set and returns it sorted by kind and slug for deterministic
// ordering.
//
// Files in a kind subdirectory may omit "kind". An empty directory returns
// an empty slice with no error. A missing directory returns an error.
// Unsafe slugs are rejected here with a DefinitionError.
func LoadDefinitions(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading definitions directory %q: %w", dir, err)
	}

	var defs []Definition

	for _, entry := range entries {
		if entry.IsDir() {
			kind, ok := kindDirs[entry.Name()]
			if !ok {
				continue
			}
			sub, err := loadDir(filepath.Join(dir, entry.Name()), kind)
			if err != nil {
				return nil, err
			}
			defs = append(defs, sub...)
			continue
		}
		if !isYAML(entry.Name()) {
			continue
		}
		d, err := loadDefinitionFile(filepath.Join(dir, entry.Name()), "")
		if err != nil {
			return nil, fmt.Errorf("loading definition file %q: %w", entry.Name(), err)
		}
		defs = append(defs, d)
	}

	SortDefinitions(defs)

	if err := ValidateDefinitions(defs); err != nil {
		return nil, err
	}
	return defs, nil
}

func loadDir(dir string, kind Kind) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading definitions directory %q: %w", dir, err)
	}

	var defs []Definition
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		d, err := loadDefinitionFile(filepath.Join(dir, entry.Name()), kind)
		if err != nil {
			return nil, fmt.Errorf("loading definition file %q: %w", filepath.Join(filepath.Base(dir), entry.Name()), err)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// loadDefinitionFile reads a single YAML file, parses it into a Definition,
// and computes its SHA256 hash. The decoder uses KnownFields(true) so that
// unknown or misspelled keys cause a parse error instead of being silently
// ignored.
func loadDefinitionFile(path string, defaultKind Kind) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("reading file: %w", err)
	}
	return ParseDefinition(data, defaultKind)
}

// ParseDefinition parses a single YAML definition. defaultKind is used when
// the document does not declare a kind; a declared kind must match it.
func ParseDefinition(data []byte, defaultKind Kind) (Definition, error) {
	var d Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return Definition{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if d.Kind == "" {
		d.Kind = defaultKind
	} else if defaultKind != "" && d.Kind != defaultKind {
		return Definition{}, fmt.Errorf("kind %q does not match directory kind %q", d.Kind, defaultKind)
	}

	d.SourceHash = fmt.Sprintf("%x", sha256.Sum256(data))
	return d, nil
}

// SortDefinitions orders definitions by kind (collection, global, block) and
// then slug.
func SortDefinitions(defs []Definition) {
	rank := func(k Kind) int {
		for i, kk := range Kinds {
			if kk == k {
				return i
			}
		}
		return len(Kinds)
	}
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Kind != defs[j].Kind {
			return rank(defs[i].Kind) < rank(defs[j].Kind)
		}
		return defs[i].Slug < defs[j].Slug
	})
}
