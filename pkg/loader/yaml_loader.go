package loader

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"

	"github.com/tcmartin/flowconsole/pkg/utils"
)

// DefaultYAMLLoader implements the YAMLLoader interface
type DefaultYAMLLoader struct{}

// NewYAMLLoader creates a new YAML loader
func NewYAMLLoader() YAMLLoader {
	return &DefaultYAMLLoader{}
}

// Parse converts a YAML string into a validated flow definition
func (l *DefaultYAMLLoader) Parse(yamlContent string) (*FlowDefinition, error) {
	flowDef, err := decode(yamlContent)
	if err != nil {
		return nil, err
	}
	if err := validate(flowDef); err != nil {
		return nil, err
	}
	return flowDef, nil
}

// Validate checks if a YAML string describes a runnable flow
func (l *DefaultYAMLLoader) Validate(yamlContent string) error {
	_, err := l.Parse(yamlContent)
	return err
}

// LoadFile reads and parses a flow file
func (l *DefaultYAMLLoader) LoadFile(path string) (*FlowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	return l.Parse(string(data))
}

func decode(yamlContent string) (*FlowDefinition, error) {
	var flowDef FlowDefinition
	if err := yaml.Unmarshal([]byte(yamlContent), &flowDef); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if vars, ok := utils.NormalizeYAMLValue(flowDef.Variables).(map[string]interface{}); ok {
		flowDef.Variables = vars
	}
	for id, block := range flowDef.Blocks {
		if block == nil {
			return nil, fmt.Errorf("block '%s' is empty", id)
		}
		block.ID = id
		if params, ok := utils.NormalizeYAMLValue(block.Params).(map[string]interface{}); ok {
			block.Params = params
		}
		for i := range block.Outputs {
			block.Outputs[i].Value = utils.NormalizeYAMLValue(block.Outputs[i].Value)
		}
	}
	return &flowDef, nil
}

func validate(flowDef *FlowDefinition) error {
	if flowDef.Metadata.Name == "" {
		return fmt.Errorf("flow name is required")
	}

	if len(flowDef.Blocks) == 0 {
		return fmt.Errorf("flow must have at least one block")
	}

	for _, id := range sortedKeys(flowDef.Blocks) {
		block := flowDef.Blocks[id]
		if !block.Kind.Valid() {
			return fmt.Errorf("unknown block kind '%s' in block '%s'", block.Kind, id)
		}
		if block.Command == "" {
			return fmt.Errorf("block '%s' has no command", id)
		}
		for outcome, target := range map[string]string{"success": block.Next.Success, "failure": block.Next.Failure} {
			if target == "" || isTerminal(target) {
				continue
			}
			if _, exists := flowDef.Blocks[target]; !exists {
				return fmt.Errorf("block '%s' references non-existent block '%s' on %s", id, target, outcome)
			}
		}
	}

	if flowDef.Start == "" {
		start, err := findStartBlock(flowDef)
		if err != nil {
			return err
		}
		flowDef.Start = start
	} else if _, exists := flowDef.Blocks[flowDef.Start]; !exists {
		return fmt.Errorf("start block '%s' does not exist", flowDef.Start)
	}

	return nil
}

func findStartBlock(flowDef *FlowDefinition) (string, error) {
	referenced := make(map[string]bool)
	for _, block := range flowDef.Blocks {
		referenced[block.Next.Success] = true
		referenced[block.Next.Failure] = true
	}

	var start string
	for _, id := range sortedKeys(flowDef.Blocks) {
		if !referenced[id] {
			if start != "" {
				return "", fmt.Errorf("multiple start blocks found: '%s' and '%s'", start, id)
			}
			start = id
		}
	}

	if start == "" {
		return "", fmt.Errorf("no start block found")
	}
	return start, nil
}

func sortedKeys(blocks map[string]*BlockDefinition) []string {
	keys := make([]string, 0, len(blocks))
	for id := range blocks {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}
