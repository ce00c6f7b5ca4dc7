package taxonomy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	Labels []Entry `yaml:"labels"`
}

// LoadFile reads a YAML label file of the form
//
//	labels:
//	  - id: 0
//	    category: Normal Activity
//	    normal: true
//	  - id: 3
//	    category: DoS
//	    technique: Resource Exhaustion
//	    severity: high
//
// and builds a Taxonomy that replaces the defaults.
func LoadFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: %w", err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("taxonomy: parse %s: %w", path, err)
	}
	return New(f.Labels)
}
