// SPDX-License-Identifier: LGPL-3.0-or-later

package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToJSON renders the manifest as indented JSON, for --machine-readable
// consumers.
func ToJSON(m *Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ToYAML renders the manifest as YAML, for human inspection.
func ToYAML(m *Manifest) ([]byte, error) {
	return yaml.Marshal(m)
}

// FromJSON parses and validates a JSON-encoded manifest.
func FromJSON(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest json: %w", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FromYAML parses and validates a YAML-encoded manifest.
func FromYAML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest yaml: %w", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteToFile dispatches on the file extension, like the teacher's
// serializer: .json writes JSON, anything else (.yaml, .yml, or no
// extension) writes YAML.
func WriteToFile(m *Manifest, path string) error {
	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = ToJSON(m)
	} else {
		data, err = ToYAML(m)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFromFile loads and validates a manifest, dispatching on extension the
// same way WriteToFile does.
func ReadFromFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FromJSON(data)
	}
	return FromYAML(data)
}
