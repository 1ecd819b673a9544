package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is a catalog file that replaces the built-in defaults:
//
//	projects:
//	  - id: "1"
//	    title: Fortune 500 Digital Transformation
//	    ai_system_instruction: You are a Senior Digital Transformation Consultant.
//	services:
//	  - id: s1
//	    title: Operational Rigor
//	    icon_name: Layers
type Seed struct {
	Projects []Project `yaml:"projects"`
	Services []Service `yaml:"services"`
}

// LoadSeed reads a Seed from the YAML file at path.
func LoadSeed(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open seed %q: %w", path, err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// ParseSeed decodes a Seed from r. Unknown keys and entries without an id
// are rejected; icon names are normalised on decode.
func ParseSeed(r io.Reader) (*Seed, error) {
	var s Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("catalog: decode seed: %w", err)
	}

	var errs []error
	for i, p := range s.Projects {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("projects[%d].id is required", i))
		}
	}
	for i, sv := range s.Services {
		if sv.ID == "" {
			errs = append(errs, fmt.Errorf("services[%d].id is required", i))
		}
		s.Services[i] = sv.normalize()
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("catalog: invalid seed: %w", err)
	}
	return &s, nil
}
