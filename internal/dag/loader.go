package dag

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a pipeline DAG from the given YAML file path.
// The document is checked against the embedded JSON schema before decoding,
// and pipeline-level defaults are applied to stages and steps after.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading DAG file: %w", err)
	}
	return Parse(data)
}

// Parse parses a pipeline DAG from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	if errs, err := CheckSchema(data); err != nil {
		return nil, err
	} else if len(errs) > 0 {
		return nil, &ConfigError{Problems: errs}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing DAG YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults merges pipeline-level defaults into stages and steps that
// don't set their own values.
func applyDefaults(cfg *Config) {
	p := &cfg.Pipeline

	for i := range p.Stages {
		s := &p.Stages[i]

		if s.Policy == "" {
			if p.Defaults.Policy != "" {
				s.Policy = p.Defaults.Policy
			} else {
				s.Policy = PolicyAbort
			}
		}

		for j := range s.Steps {
			st := &s.Steps[j]
			if st.Timeout == "" && p.Defaults.Timeout != "" {
				st.Timeout = p.Defaults.Timeout
			}
			if st.Retries == nil && p.Defaults.Retries > 0 {
				v := p.Defaults.Retries
				st.Retries = &v
			}
		}

		for j := range s.Inputs {
			in := &s.Inputs[j]
			if in.Env == "" {
				in.Env = envName(in.Name)
			}
		}
	}
}

// envName derives an environment variable name from an artifact name.
func envName(artifact string) string {
	out := make([]byte, len(artifact))
	for i := 0; i < len(artifact); i++ {
		c := artifact[i]
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = c - 'a' + 'A'
		case c == '-' || c == '.':
			out[i] = '_'
		default:
			out[i] = c
		}
	}
	return string(out)
}
