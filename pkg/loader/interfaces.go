// Package loader parses YAML test flow definitions.
package loader

import "github.com/tcmartin/flowconsole/pkg/models"

// Terminal edge targets
const (
	TargetSuccess = "SUCCESS"
	TargetFailure = "FAILURE"
)

// YAMLLoader parses YAML flow definitions into validated flows
type YAMLLoader interface {
	// Parse converts a YAML string into a flow definition
	Parse(yamlContent string) (*FlowDefinition, error)

	// Validate checks if a YAML string describes a runnable flow
	Validate(yamlContent string) error

	// LoadFile reads and parses a flow file
	LoadFile(path string) (*FlowDefinition, error)
}

// FlowDefinition represents a parsed test flow
type FlowDefinition struct {
	// Metadata about the flow
	Metadata FlowMetadata `yaml:"metadata" json:"metadata"`

	// Variables seed the values available to block params
	Variables map[string]interface{} `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Start is the first block; inferred when there is a single unreferenced block
	Start string `yaml:"start,omitempty" json:"start,omitempty"`

	// Blocks in the flow keyed by block ID
	Blocks map[string]*BlockDefinition `yaml:"blocks" json:"blocks"`
}

// FlowMetadata contains information about the flow
type FlowMetadata struct {
	// Name of the flow
	Name string `yaml:"name" json:"name"`

	// Description of the flow
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Version of the flow
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// BlockDefinition is one executable step
type BlockDefinition struct {
	// ID is filled from the map key
	ID string `yaml:"-" json:"id"`

	Label   string                 `yaml:"label,omitempty" json:"label,omitempty"`
	Kind    models.JobKind         `yaml:"kind" json:"kind"`
	Command string                 `yaml:"command" json:"command"`
	Params  map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`

	// TreeID scopes navigation blocks
	TreeID string `yaml:"tree_id,omitempty" json:"tree_id,omitempty"`

	Outputs []models.BlockOutput `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Next    NextEdges            `yaml:"next,omitempty" json:"next,omitempty"`
}

// NextEdges names the block to run after each outcome.
// An empty Success edge ends the flow successfully; an empty Failure edge
// ends it as a failure.
type NextEdges struct {
	Success string `yaml:"success,omitempty" json:"success,omitempty"`
	Failure string `yaml:"failure,omitempty" json:"failure,omitempty"`
}

// Order returns block IDs in traversal order from Start along success edges,
// followed by any remaining blocks in sorted order
func (f *FlowDefinition) Order() []string {
	seen := make(map[string]bool, len(f.Blocks))
	order := make([]string, 0, len(f.Blocks))
	for id := f.Start; id != "" && !isTerminal(id) && !seen[id]; {
		block, ok := f.Blocks[id]
		if !ok {
			break
		}
		seen[id] = true
		order = append(order, id)
		id = block.Next.Success
	}
	for _, id := range sortedKeys(f.Blocks) {
		if !seen[id] {
			order = append(order, id)
		}
	}
	return order
}

func isTerminal(target string) bool {
	return target == TargetSuccess || target == TargetFailure
}
