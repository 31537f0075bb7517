package blocks

import "github.com/tcmartin/flowconsole/pkg/models"

// ApplyOutputs maps result.OutputData onto the declared outputs.
// Outputs missing from the result keep their previous value. The returned
// slice is a copy; outputs is not modified.
func ApplyOutputs(outputs []models.BlockOutput, result *models.ExecutionResult) []models.BlockOutput {
	updated := make([]models.BlockOutput, len(outputs))
	copy(updated, outputs)
	if result == nil || !result.Success {
		return updated
	}

	for i := range updated {
		if value, ok := result.OutputData[updated[i].Name]; ok {
			updated[i].Value = value
		}
	}
	return updated
}

// OutputValues returns the outputs as a name to value map
func OutputValues(outputs []models.BlockOutput) map[string]interface{} {
	values := make(map[string]interface{}, len(outputs))
	for _, o := range outputs {
		values[o.Name] = o.Value
	}
	return values
}
