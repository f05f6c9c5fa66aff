package dag

// Config is the top-level structure parsed from a pipeline DAG YAML file.
type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`
}

// Pipeline defines the full workflow: metadata, defaults, tool definitions,
// and the stage graph.
type Pipeline struct {
	Name     string            `yaml:"name"`
	Workdir  string            `yaml:"workdir"`
	Env      map[string]string `yaml:"env"`
	Defaults Defaults          `yaml:"defaults"`
	Tools    map[string]Tool   `yaml:"tools"`
	Stages   []Stage           `yaml:"stages"`
}

// Defaults holds values applied to stages and steps that don't specify their own.
type Defaults struct {
	Timeout string `yaml:"timeout"`
	Retries int    `yaml:"retries"`
	Policy  string `yaml:"policy"`
}

// Tool defines a named invocation adapter: the base argv a step's args are
// appended to.
type Tool struct {
	Argv []string `yaml:"argv"`
}

// Failure policies for stages.
const (
	PolicyAbort    = "abort"
	PolicyContinue = "continue"
)

// Stage defines a named, ordered group of steps sharing one failure policy.
// Needs lists the stages that must succeed before this one starts.
type Stage struct {
	Name    string   `yaml:"name"`
	Policy  string   `yaml:"policy"`
	Needs   []string `yaml:"needs"`
	Steps   []Step   `yaml:"steps"`
	Outputs []Output `yaml:"outputs"`
	Inputs  []Input  `yaml:"inputs"`
}

// Step defines a single external command invocation. Exactly one of Command
// (a shell script) or Tool (a registered tool name, with Args) must be set.
// Side effects are not sandboxed: steps that push images or apply manifests
// must be written idempotently since retries re-execute them.
//
// Retries is a pointer so an explicit "retries: 0" is distinguishable from
// the field being absent; only absent picks up defaults.retries.
type Step struct {
	Name            string            `yaml:"name"`
	Command         string            `yaml:"command"`
	Tool            string            `yaml:"tool"`
	Args            []string          `yaml:"args"`
	Env             map[string]string `yaml:"env"`
	Timeout         string            `yaml:"timeout"`
	Retries         *int              `yaml:"retries"`
	ContinueOnError bool              `yaml:"continue_on_error"`
}

// RetryCount returns the effective retry count, zero when unset.
func (st *Step) RetryCount() int {
	if st.Retries == nil {
		return 0
	}
	return *st.Retries
}

// Output declares an artifact a stage publishes after it succeeds. The value
// is read from File, relative to the run workdir.
type Output struct {
	Name   string `yaml:"name"`
	File   string `yaml:"file"`
	Retain bool   `yaml:"retain"`
}

// Input declares an artifact a stage consumes. The artifact's content is
// exported into the step environment under Env (derived from Name if empty:
// upper-cased, dashes to underscores).
type Input struct {
	Name string `yaml:"name"`
	Env  string `yaml:"env"`
}

// ToolNames returns the names of all tools declared in the pipeline, sorted
// order not guaranteed.
func (p *Pipeline) ToolNames() []string {
	names := make([]string, 0, len(p.Tools))
	for name := range p.Tools {
		names = append(names, name)
	}
	return names
}

// Stage returns the stage with the given name, or nil.
func (p *Pipeline) Stage(name string) *Stage {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return &p.Stages[i]
		}
	}
	return nil
}
