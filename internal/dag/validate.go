package dag

import (
	"fmt"
	"strings"
	"time"
)

// Problem represents a single validation issue with a DAG.
type Problem struct {
	Field   string
	Message string
}

func (p Problem) Error() string {
	return fmt.Sprintf("%s: %s", p.Field, p.Message)
}

// ConfigError aggregates validation problems into one error. A DAG that
// produces a ConfigError is rejected before any stage runs.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid DAG: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid DAG: %d problems:\n  %s",
		len(e.Problems), strings.Join(e.Problems, "\n  "))
}

// AsError converts a non-empty problem list into a *ConfigError, or nil.
func AsError(probs []Problem) error {
	if len(probs) == 0 {
		return nil
	}
	msgs := make([]string, len(probs))
	for i, p := range probs {
		msgs[i] = p.Error()
	}
	return &ConfigError{Problems: msgs}
}

// Validate checks a Config for structural and semantic errors: duplicate or
// missing stage names, empty step lists, unknown needs targets, dependency
// cycles, unknown tool references, duplicate artifact names, and inputs no
// predecessor produces. knownTools is the set of resolvable tool names.
// It returns a slice of all problems found (empty if valid).
func Validate(cfg *Config, knownTools map[string]bool) []Problem {
	var probs []Problem
	p := cfg.Pipeline

	if p.Name == "" {
		probs = append(probs, Problem{Field: "pipeline.name", Message: "is required"})
	}
	if len(p.Stages) == 0 {
		probs = append(probs, Problem{Field: "pipeline.stages", Message: "at least one stage is required"})
	}

	stageNames := make(map[string]bool)
	for i, s := range p.Stages {
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)
		if s.Name == "" {
			probs = append(probs, Problem{Field: prefix + ".name", Message: "is required"})
			continue
		}
		if stageNames[s.Name] {
			probs = append(probs, Problem{
				Field:   prefix + ".name",
				Message: fmt.Sprintf("duplicate stage name %q", s.Name),
			})
		}
		stageNames[s.Name] = true
	}

	for i, s := range p.Stages {
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)

		if s.Policy != "" && s.Policy != PolicyAbort && s.Policy != PolicyContinue {
			probs = append(probs, Problem{
				Field:   prefix + ".policy",
				Message: fmt.Sprintf("must be %q or %q, got %q", PolicyAbort, PolicyContinue, s.Policy),
			})
		}

		if len(s.Steps) == 0 {
			probs = append(probs, Problem{Field: prefix + ".steps", Message: "stage must have at least one step"})
		}

		for _, need := range s.Needs {
			if need == s.Name {
				probs = append(probs, Problem{
					Field:   prefix + ".needs",
					Message: fmt.Sprintf("stage %q cannot depend on itself", s.Name),
				})
			} else if !stageNames[need] {
				probs = append(probs, Problem{
					Field:   prefix + ".needs",
					Message: fmt.Sprintf("references undefined stage %q", need),
				})
			}
		}

		for j, st := range s.Steps {
			probs = append(probs, validateStep(st, fmt.Sprintf("%s.steps[%d]", prefix, j), knownTools)...)
		}
	}

	probs = append(probs, validateArtifacts(p)...)
	probs = append(probs, detectCycles(p)...)
	return probs
}

// validateStep checks a single step definition.
func validateStep(st Step, prefix string, knownTools map[string]bool) []Problem {
	var probs []Problem

	switch {
	case st.Command == "" && st.Tool == "":
		probs = append(probs, Problem{Field: prefix, Message: "step must set command or tool"})
	case st.Command != "" && st.Tool != "":
		probs = append(probs, Problem{Field: prefix, Message: "step must set command or tool, not both"})
	}

	if st.Tool != "" && knownTools != nil && !knownTools[st.Tool] {
		probs = append(probs, Problem{
			Field:   prefix + ".tool",
			Message: fmt.Sprintf("references unknown tool %q", st.Tool),
		})
	}
	if st.Command != "" && len(st.Args) > 0 {
		probs = append(probs, Problem{Field: prefix + ".args", Message: "args only apply to tool steps"})
	}

	if st.Timeout != "" {
		d, err := time.ParseDuration(st.Timeout)
		if err != nil {
			probs = append(probs, Problem{
				Field:   prefix + ".timeout",
				Message: fmt.Sprintf("invalid duration %q", st.Timeout),
			})
		} else if d <= 0 {
			probs = append(probs, Problem{
				Field:   prefix + ".timeout",
				Message: "must be positive",
			})
		}
	}

	if st.Retries != nil && *st.Retries < 0 {
		probs = append(probs, Problem{Field: prefix + ".retries", Message: "must not be negative"})
	}

	return probs
}

// validateArtifacts checks output uniqueness across the run and that every
// declared input is produced by some transitive predecessor.
func validateArtifacts(p Pipeline) []Problem {
	var probs []Problem

	producers := make(map[string]string) // artifact name -> stage name
	for i, s := range p.Stages {
		for j, out := range s.Outputs {
			field := fmt.Sprintf("pipeline.stages[%d].outputs[%d]", i, j)
			if out.Name == "index.json" {
				probs = append(probs, Problem{
					Field:   field,
					Message: `artifact name "index.json" is reserved`,
				})
				continue
			}
			if prev, dup := producers[out.Name]; dup {
				probs = append(probs, Problem{
					Field:   field,
					Message: fmt.Sprintf("artifact %q already declared by stage %q", out.Name, prev),
				})
				continue
			}
			producers[out.Name] = s.Name
		}
	}

	ancestors := transitiveNeeds(p)
	for i, s := range p.Stages {
		for j, in := range s.Inputs {
			field := fmt.Sprintf("pipeline.stages[%d].inputs[%d]", i, j)
			producer, ok := producers[in.Name]
			if !ok {
				probs = append(probs, Problem{
					Field:   field,
					Message: fmt.Sprintf("artifact %q is not produced by any stage", in.Name),
				})
				continue
			}
			if !ancestors[s.Name][producer] {
				probs = append(probs, Problem{
					Field:   field,
					Message: fmt.Sprintf("artifact %q is produced by %q, which is not a declared predecessor of %q", in.Name, producer, s.Name),
				})
			}
		}
	}
	return probs
}

// transitiveNeeds computes, for each stage, the set of stages reachable
// through needs edges.
func transitiveNeeds(p Pipeline) map[string]map[string]bool {
	direct := make(map[string][]string, len(p.Stages))
	for _, s := range p.Stages {
		direct[s.Name] = s.Needs
	}

	result := make(map[string]map[string]bool, len(p.Stages))
	var collect func(name string, into map[string]bool, seen map[string]bool)
	collect = func(name string, into map[string]bool, seen map[string]bool) {
		if seen[name] {
			return // cycle; reported separately by detectCycles
		}
		seen[name] = true
		for _, need := range direct[name] {
			into[need] = true
			collect(need, into, seen)
		}
	}
	for _, s := range p.Stages {
		set := make(map[string]bool)
		collect(s.Name, set, make(map[string]bool))
		result[s.Name] = set
	}
	return result
}

// detectCycles runs a DFS three-color walk over the needs graph and reports
// every cycle found.
func detectCycles(p Pipeline) []Problem {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Stages))
	edges := make(map[string][]string, len(p.Stages))
	for _, s := range p.Stages {
		edges[s.Name] = s.Needs
	}

	var probs []Problem
	var path []string
	var visit func(name string)
	visit = func(name string) {
		color[name] = gray
		path = append(path, name)
		for _, need := range edges[name] {
			if _, defined := edges[need]; !defined {
				continue // undefined reference, reported elsewhere
			}
			switch color[need] {
			case white:
				visit(need)
			case gray:
				// Trim the path down to where the cycle starts.
				start := 0
				for i, n := range path {
					if n == need {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), need)
				probs = append(probs, Problem{
					Field:   "pipeline.stages",
					Message: fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")),
				})
			}
		}
		path = path[:len(path)-1]
		color[name] = black
	}

	for _, s := range p.Stages {
		if color[s.Name] == white {
			visit(s.Name)
		}
	}
	return probs
}
