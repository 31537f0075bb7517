package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tcmartin/flowconsole/pkg/models"
)

// DeviceRegistry maps action commands and verification types to handlers
type DeviceRegistry struct {
	mu            sync.RWMutex
	actions       map[string]DeviceHandler
	verifications map[string]DeviceHandler
}

// NewDeviceRegistry creates an empty registry
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		actions:       make(map[string]DeviceHandler),
		verifications: make(map[string]DeviceHandler),
	}
}

// RegisterAction registers the handler of an action command
func (d *DeviceRegistry) RegisterAction(command string, handler DeviceHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions[command] = handler
}

// RegisterVerification registers the handler of a verification type
func (d *DeviceRegistry) RegisterVerification(verificationType string, handler DeviceHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verifications[verificationType] = handler
}

// Action returns the handler of an action command
func (d *DeviceRegistry) Action(command string) (DeviceHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.actions[command]
	return h, ok
}

// Verification returns the handler of a verification type
func (d *DeviceRegistry) Verification(verificationType string) (DeviceHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.verifications[verificationType]
	return h, ok
}

// Actions lists the registered action commands
func (d *DeviceRegistry) Actions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.actions))
	for name := range d.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSimulatedDevice returns a registry whose handlers succeed without a real
// device. A step fails when its params carry simulate_failure: true; a
// verification reports the entries of params.extract as details.
func NewSimulatedDevice() *DeviceRegistry {
	d := NewDeviceRegistry()
	for _, cmd := range []string{"tap", "swipe", "press_key", "input_text", "launch_app", "close_app", "go_back", "go_home"} {
		d.RegisterAction(cmd, simulatedAction(cmd))
	}
	for _, vt := range []string{"image", "text", "audio", "video", "adb"} {
		d.RegisterVerification(vt, simulatedVerification(vt))
	}
	return d
}

func simulatedFailure(params map[string]interface{}) error {
	if fail, _ := params["simulate_failure"].(bool); fail {
		msg, _ := params["failure_message"].(string)
		if msg == "" {
			msg = "simulated failure"
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func simulatedAction(command string) DeviceHandler {
	return func(ctx context.Context, deviceID string, params map[string]interface{}) (map[string]interface{}, error) {
		if err := simulatedFailure(params); err != nil {
			return nil, err
		}
		return map[string]interface{}{"last_action": command}, nil
	}
}

func simulatedVerification(verificationType string) DeviceHandler {
	return func(ctx context.Context, deviceID string, params map[string]interface{}) (map[string]interface{}, error) {
		if err := simulatedFailure(params); err != nil {
			return nil, err
		}
		details := map[string]interface{}{"matched": true}
		if extract, ok := params["extract"].(map[string]interface{}); ok {
			for k, v := range extract {
				details[k] = v
			}
		}
		return details, nil
	}
}

// runActionSteps runs actions in order and stops at the first failure.
// It returns the step results and the merged details of passing steps.
func (r *Executor) runActionSteps(ctx context.Context, deviceID, scope string, actions []models.Action, exec *execution) ([]models.ActionStepResult, map[string]interface{}, error) {
	results := make([]models.ActionStepResult, 0, len(actions))
	output := make(map[string]interface{})

	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		step := models.ActionStepResult{Command: action.Command}
		handler, ok := r.devices.Action(action.Command)
		if !ok {
			step.Message = fmt.Sprintf("unknown action %q", action.Command)
		} else if details, err := handler(ctx, deviceID, action.Params); err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			step.Message = err.Error()
		} else {
			step.Success = true
			step.Message = "ok"
			for k, v := range details {
				output[k] = v
			}
		}

		level := "info"
		if !step.Success {
			level = "error"
		}
		exec.log(r.clock, level, scope, fmt.Sprintf("%s: %s", action.Command, step.Message))

		results = append(results, step)
		if !step.Success {
			break
		}
	}
	return results, output, nil
}

// runAction runs job.Command, or params.actions when present. When a step
// fails and params.retry_actions is set, the retry actions decide the outcome.
func (r *Executor) runAction(ctx context.Context, job models.ExecutionJob, exec *execution) (*models.ActionResult, error) {
	actions := []models.Action{{Command: job.Command, Params: job.Params}}
	if raw, ok := job.Params["actions"]; ok {
		parsed, err := parseActions(raw)
		if err != nil {
			return nil, err
		}
		actions = parsed
	}

	steps, output, err := r.runActionSteps(ctx, job.DeviceID, "action", actions, exec)
	if err != nil {
		return nil, err
	}

	result := &models.ActionResult{
		TotalCount: len(actions),
		Results:    steps,
		OutputData: output,
	}
	for _, s := range steps {
		if s.Success {
			result.PassedCount++
		}
	}
	result.Success = result.PassedCount == result.TotalCount

	if !result.Success {
		if raw, ok := job.Params["retry_actions"]; ok {
			retries, err := parseActions(raw)
			if err != nil {
				return nil, err
			}
			exec.log(r.clock, "warning", "action", "running retry actions")
			retrySteps, retryOutput, err := r.runActionSteps(ctx, job.DeviceID, "retry", retries, exec)
			if err != nil {
				return nil, err
			}
			result.Results = append(result.Results, retrySteps...)
			if passed(retrySteps) == len(retries) {
				result.Success = true
				for k, v := range retryOutput {
					result.OutputData[k] = v
				}
			}
		}
	}

	result.Message = fmt.Sprintf("%d/%d actions passed", result.PassedCount, result.TotalCount)
	result.ExecutionLogs = exec.text()
	return result, nil
}

func passed(steps []models.ActionStepResult) int {
	n := 0
	for _, s := range steps {
		if s.Success {
			n++
		}
	}
	return n
}

// runVerification runs job.Command as a verification type, or every entry of
// params.verifications. All checks run; each must pass.
func (r *Executor) runVerification(ctx context.Context, job models.ExecutionJob, exec *execution) (*models.VerificationResult, error) {
	checks := []models.Action{{Command: job.Command, Params: job.Params}}
	if raw, ok := job.Params["verifications"]; ok {
		parsed, err := parseActions(raw)
		if err != nil {
			return nil, err
		}
		checks = parsed
	}

	result := &models.VerificationResult{
		Success:    true,
		Results:    make([]models.VerificationCheckResult, 0, len(checks)),
		OutputData: map[string]interface{}{},
	}

	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry := models.VerificationCheckResult{VerificationType: check.Command}
		handler, ok := r.devices.Verification(check.Command)
		if !ok {
			entry.Message = fmt.Sprintf("unknown verification type %q", check.Command)
		} else if details, err := handler(ctx, job.DeviceID, check.Params); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			entry.Message = err.Error()
		} else {
			entry.Success = true
			entry.Message = "verified"
			entry.Details = details
		}

		if !entry.Success {
			result.Success = false
			exec.log(r.clock, "error", "verification", fmt.Sprintf("%s: %s", check.Command, entry.Message))
		} else {
			exec.log(r.clock, "info", "verification", fmt.Sprintf("%s: %s", check.Command, entry.Message))
		}
		result.Results = append(result.Results, entry)
	}

	ok := 0
	for _, c := range result.Results {
		if c.Success {
			ok++
		}
	}
	result.Message = fmt.Sprintf("%d/%d verifications passed", ok, len(result.Results))
	result.ExecutionLogs = exec.text()
	return result, nil
}
