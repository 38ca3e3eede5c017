package model

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a .side project. Both the JSON files saved by the IDE and
// hand-written YAML projects are accepted.
func LoadFile(path string) (*Project, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open project: %w", err)
	}
	defer f.Close()

	p, err := Load(f)
	if err != nil {
		return nil, err
	}
	p.Path = path
	return p, nil
}

// Load decodes a project from a reader.
func Load(r io.Reader) (*Project, error) {
	var p Project
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&p); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("decode project: empty document")
		}
		return nil, fmt.Errorf("decode project: %w", err)
	}
	return &p, nil
}
