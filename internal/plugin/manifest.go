package plugin

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/buckleypaul/certbench/internal/errors"
)

// ManifestName is the manifest file at the root of every plugin archive.
const ManifestName = "plugin.yaml"

// Manifest declares the test units bundled in an archive.
type Manifest struct {
	Suite string     `yaml:"suite"`
	Units []UnitSpec `yaml:"units"`
}

// UnitSpec describes one test unit.
type UnitSpec struct {
	Name        string       `yaml:"name"`
	Title       string       `yaml:"title"`
	Description string       `yaml:"description"`
	Exec        string       `yaml:"exec"`
	Setup       bool         `yaml:"setup"`
	Teardown    bool         `yaml:"teardown"`
	Methods     []MethodSpec `yaml:"methods"`
}

// MethodSpec is a unit method. Test is the discovery marker.
type MethodSpec struct {
	Name string `yaml:"name"`
	Test bool   `yaml:"test"`
}

// Tests returns the names of marked methods in declaration order.
func (u UnitSpec) Tests() []string {
	var tests []string
	for _, m := range u.Methods {
		if m.Test && m.Name != "" {
			tests = append(tests, m.Name)
		}
	}
	return tests
}

// ParseManifest decodes and sanity-checks a manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, errors.Wrap(err, errors.KindPluginLoad, "parse manifest")
	}
	seen := make(map[string]bool)
	for i, u := range m.Units {
		name := strings.TrimSpace(u.Name)
		if name == "" {
			return Manifest{}, errors.Errorf(errors.KindPluginLoad, "unit %d has no name", i)
		}
		if strings.ContainsAny(name, `/\`) {
			return Manifest{}, errors.Errorf(errors.KindPluginLoad, "unit name %q contains a path separator", name)
		}
		if seen[name] {
			return Manifest{}, errors.Errorf(errors.KindPluginLoad, "unit %q declared twice", name)
		}
		seen[name] = true
		m.Units[i].Name = name
	}
	return m, nil
}
