package execution

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tcmartin/flowconsole/pkg/models"
)

// RemoteResult is a kind-specific host result that knows how to normalize itself
type RemoteResult interface {
	Kind() models.JobKind
	Normalize() models.ExecutionResult
}

type standardResult models.StandardResult
type actionResult models.ActionResult
type verificationResult models.VerificationResult
type navigationResult models.NavigationResult

// DecodeResult decodes a raw host result into the variant for kind
func DecodeResult(kind models.JobKind, raw json.RawMessage) (RemoteResult, error) {
	var target RemoteResult
	switch kind {
	case models.KindStandard:
		target = &standardResult{}
	case models.KindAction:
		target = &actionResult{}
	case models.KindVerification:
		target = &verificationResult{}
	case models.KindNavigation:
		target = &navigationResult{}
	default:
		return nil, fmt.Errorf("unknown job kind: %q", kind)
	}

	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("missing %s result", kind)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", kind, err)
	}
	return target, nil
}

// Normalize decodes and normalizes a raw host result in one step
func Normalize(kind models.JobKind, raw json.RawMessage) (models.ExecutionResult, error) {
	result, err := DecodeResult(kind, raw)
	if err != nil {
		return models.ExecutionResult{}, err
	}
	return result.Normalize(), nil
}

func (r *standardResult) Kind() models.JobKind { return models.KindStandard }

// Normalize treats the block as successful when every command exited with 0.
// The output of the last command becomes outputData.result.
func (r *standardResult) Normalize() models.ExecutionResult {
	out := models.ExecutionResult{
		Success:    len(r.Results) > 0,
		OutputData: map[string]interface{}{},
		Logs:       r.Logs,
	}
	if len(r.Results) == 0 {
		out.Error = "no command results reported"
		return out
	}

	for _, cmd := range r.Results {
		if cmd.ResultSuccess != 0 {
			out.Success = false
			if out.Error == "" {
				out.Error = cmd.Error
				if out.Error == "" {
					out.Error = fmt.Sprintf("%s exited with code %d", cmd.Command, cmd.ResultSuccess)
				}
			}
		}
	}
	out.OutputData["result"] = r.Results[len(r.Results)-1].ResultOutput
	return out
}

func (r *actionResult) Kind() models.JobKind { return models.KindAction }

func (r *actionResult) Normalize() models.ExecutionResult {
	out := models.ExecutionResult{
		Success:    r.Success,
		Error:      r.Error,
		Message:    r.Message,
		OutputData: copyMap(r.OutputData),
		Logs:       r.ExecutionLogs,
	}
	if out.Message == "" && r.TotalCount > 0 {
		out.Message = fmt.Sprintf("%d/%d actions passed", r.PassedCount, r.TotalCount)
	}
	if !out.Success && out.Error == "" {
		var failed []string
		for _, step := range r.Results {
			if !step.Success {
				failed = append(failed, step.Command)
			}
		}
		if len(failed) > 0 {
			out.Error = "failed actions: " + strings.Join(failed, ", ")
		}
	}
	return out
}

func (r *verificationResult) Kind() models.JobKind { return models.KindVerification }

// Normalize requires the envelope and every individual check to pass
func (r *verificationResult) Normalize() models.ExecutionResult {
	out := models.ExecutionResult{
		Success:    r.Success,
		Error:      r.Error,
		Message:    r.Message,
		OutputData: copyMap(r.OutputData),
		Logs:       r.ExecutionLogs,
	}
	for _, check := range r.Results {
		if !check.Success {
			out.Success = false
			if out.Error == "" {
				out.Error = check.Message
			}
		}
		for k, v := range check.Details {
			if _, exists := out.OutputData[k]; !exists {
				out.OutputData[k] = v
			}
		}
	}
	return out
}

func (r *navigationResult) Kind() models.JobKind { return models.KindNavigation }

func (r *navigationResult) Normalize() models.ExecutionResult {
	out := models.ExecutionResult{
		Success: r.Success,
		Error:   r.Error,
		Message: r.Message,
		OutputData: map[string]interface{}{
			"path_length":          r.PathLength,
			"transitions_executed": r.TransitionsExecuted,
		},
		Logs: r.ExecutionLogs,
	}
	if r.FinalPositionNodeID != "" {
		out.OutputData["final_node_id"] = r.FinalPositionNodeID
	}
	return out
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
