package cli

import (
	"fmt"
	"strings"

	"github.com/jholloway/pipewright/internal/dag"
	"github.com/jholloway/pipewright/internal/events"
	"github.com/jholloway/pipewright/internal/tools"
)

// buildRegistry creates the tool registry: builtins plus the DAG's tools:
// entries, which may override builtins.
func buildRegistry(cfg *dag.Config) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	for name, t := range cfg.Pipeline.Tools {
		if err := reg.Register(name, t.Argv); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}
	return reg, nil
}

// openEventLog opens the default audit log and applies migrations.
func openEventLog() (*events.Log, error) {
	path, err := events.DefaultPath()
	if err != nil {
		return nil, err
	}
	log, err := events.Open(path)
	if err != nil {
		return nil, err
	}
	if err := log.Migrate(); err != nil {
		log.Close()
		return nil, err
	}
	return log, nil
}

// parseEnvFlags converts repeated --env KEY=VALUE flags into a map.
func parseEnvFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(flags))
	for _, kv := range flags {
		idx := strings.Index(kv, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("invalid --env %q: want KEY=VALUE", kv)
		}
		env[kv[:idx]] = kv[idx+1:]
	}
	return env, nil
}
