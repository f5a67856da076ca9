package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// File is the on-disk service file format.
// YAML is the canonical format; JSON files parse through the same decoder.
type File struct {
	Defaults Defaults   `json:"defaults" yaml:"defaults"`
	Services []*Service `json:"services" yaml:"services"`
}

// LoadFile loads and validates a service file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	for i, svc := range f.Services {
		if err := svc.Validate(); err != nil {
			return nil, fmt.Errorf("config %s: service %d: %w", path, i, err)
		}
	}
	return &f, nil
}

// LoadDir loads every service file under dir (recursively), merging their
// services in path order. Defaults come from the lexically first file that
// sets them.
func LoadDir(dir string) (*File, error) {
	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, "**/*.{yaml,yml,json}")
	if err != nil {
		return nil, fmt.Errorf("scan config dir %s: %w", dir, err)
	}
	sort.Strings(matches)

	merged := &File{}
	haveDefaults := false
	for _, rel := range matches {
		f, err := LoadFile(filepath.Join(dir, rel))
		if err != nil {
			return nil, err
		}
		if !haveDefaults && (f.Defaults != (Defaults{})) {
			merged.Defaults = f.Defaults
			haveDefaults = true
		}
		merged.Services = append(merged.Services, f.Services...)
	}
	return merged, nil
}
