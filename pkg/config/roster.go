package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Agent describes one roster entry. Names are fixed role names — agents are
// never created or destroyed by the core, only their signals and heartbeat
// files are.
type Agent struct {
	Name string `yaml:"name"`

	// Contributor marks agents whose development-complete signal gates the
	// wave's worktree sync; the roster order of contributors is the merge
	// order into trunk.
	Contributor bool `yaml:"contributor,omitempty"`

	// RestartTarget and RestartCommand drive the watchdog's optional
	// auto-restart: the tmux pane to respawn and the command to run in it.
	RestartTarget  string `yaml:"restart_target,omitempty"`
	RestartCommand string `yaml:"restart_command,omitempty"`
}

// Roster is the decoded agents.yaml: the full fixed set of agent roles plus
// the distinguished QA and fix-agent roles.
type Roster struct {
	Agents   []Agent `yaml:"agents"`
	QAAgent  string  `yaml:"qa_agent"`
	FixAgent string  `yaml:"fix_agent"`
}

// Contributors returns the contributor role names in roster (= merge) order.
func (r Roster) Contributors() []string {
	var out []string
	for _, a := range r.Agents {
		if a.Contributor {
			out = append(out, a.Name)
		}
	}
	return out
}

// Names returns every roster agent name in order.
func (r Roster) Names() []string {
	out := make([]string, 0, len(r.Agents))
	for _, a := range r.Agents {
		out = append(out, a.Name)
	}
	return out
}

// Lookup returns the roster entry for name.
func (r Roster) Lookup(name string) (Agent, bool) {
	for _, a := range r.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return Agent{}, false
}

// Validate checks the roster invariants: at least one contributor, distinct
// names, and QA/fix roles that resolve to roster entries.
func (r Roster) Validate() error {
	if len(r.Agents) == 0 {
		return fmt.Errorf("roster has no agents")
	}
	seen := make(map[string]bool, len(r.Agents))
	for _, a := range r.Agents {
		if a.Name == "" {
			return fmt.Errorf("roster entry with empty name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[a.Name] = true
	}
	if len(r.Contributors()) == 0 {
		return fmt.Errorf("roster has no contributor agents")
	}
	if r.QAAgent == "" || !seen[r.QAAgent] {
		return fmt.Errorf("qa_agent %q is not a roster agent", r.QAAgent)
	}
	if r.FixAgent == "" || !seen[r.FixAgent] {
		return fmt.Errorf("fix_agent %q is not a roster agent", r.FixAgent)
	}
	return nil
}

// LoadRoster reads and validates agents.yaml from path. Unlike settings,
// the roster has no usable default: a missing roster is a configuration
// error.
func LoadRoster(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("read roster %s: %w", path, err)
	}

	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Roster{}, fmt.Errorf("parse roster %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return Roster{}, fmt.Errorf("roster %s: %w", path, err)
	}
	return r, nil
}

// DefaultRosterYAML is the scaffold written by "tide init".
const DefaultRosterYAML = `# tide agent roster; contributor order is merge order
agents:
  - name: coordinator
  - name: frontend-1
    contributor: true
  - name: backend-1
    contributor: true
  - name: qa
  - name: fix-agent
qa_agent: qa
fix_agent: fix-agent
`
